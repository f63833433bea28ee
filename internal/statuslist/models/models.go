package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Purpose describes what a set bit means for credentials on a list.
type Purpose string

const (
	PurposeRevocation Purpose = "revocation"
	PurposeSuspension Purpose = "suspension"
)

// IsValid reports whether the purpose is a known value.
func (p Purpose) IsValid() bool {
	return p == PurposeRevocation || p == PurposeSuspension
}

// DefaultSize is the bit capacity of newly created lists. Power-of-two so the
// bitstring packs into whole bytes.
const DefaultSize = 131072

// StatusList tracks per-index credential status for one issuer and purpose.
// EncodedList holds the compressed bitstring as persisted; services operate
// on the decompressed form and recompress on write-through.
type StatusList struct {
	ID          string
	IssuerID    string
	OwnerID     string
	Purpose     Purpose
	Size        int
	LastIndex   int
	EncodedList string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Full reports whether the list has no free indices left.
func (l *StatusList) Full() bool {
	return l.LastIndex >= l.Size
}

// EntryRef is the immutable reference embedded in an issued credential.
// It points into a status list without owning it.
type EntryRef struct {
	StatusListID string `json:"statusListId"`
	Index        int    `json:"index"`
}

// NewStatusList creates an empty list for the issuer and purpose with all
// bits clear and no indices allocated.
func NewStatusList(issuerID, ownerID string, purpose Purpose, size int, now time.Time) (*StatusList, error) {
	if size <= 0 || size%8 != 0 {
		return nil, fmt.Errorf("status list size must be a positive multiple of 8, got %d", size)
	}
	encoded, err := NewBitstring(size).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode empty bitstring: %w", err)
	}
	return &StatusList{
		ID:          fmt.Sprintf("status_%s", uuid.New().String()),
		IssuerID:    issuerID,
		OwnerID:     ownerID,
		Purpose:     purpose,
		Size:        size,
		LastIndex:   0,
		EncodedList: encoded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
