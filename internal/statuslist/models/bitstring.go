package models

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// Bitstring is the decompressed in-memory form of a status list. Index i maps
// to byte i/8, bit i%8 LSB-first within the byte, matching the W3C Bitstring
// Status List convention so published lists are directly consumable by
// third-party verifiers.
type Bitstring struct {
	bits []byte
	size int
}

// NewBitstring returns an all-zero bitstring of the given bit capacity.
// Size must be a multiple of 8.
func NewBitstring(size int) *Bitstring {
	return &Bitstring{bits: make([]byte, size/8), size: size}
}

// DecodeBitstring decompresses a published encoding back into a Bitstring.
// The decompressed payload must hold exactly size bits.
func DecodeBitstring(encoded string, size int) (*Bitstring, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress bitstring: %w", err)
	}
	if len(raw)*8 != size {
		return nil, fmt.Errorf("bitstring holds %d bits, list declares %d", len(raw)*8, size)
	}
	return &Bitstring{bits: raw, size: size}, nil
}

// Size returns the bit capacity.
func (b *Bitstring) Size() int {
	return b.size
}

// Set sets or clears the bit at index.
func (b *Bitstring) Set(index int, value bool) error {
	if index < 0 || index >= b.size {
		return fmt.Errorf("index %d out of range [0,%d)", index, b.size)
	}
	mask := byte(1) << (index % 8)
	if value {
		b.bits[index/8] |= mask
	} else {
		b.bits[index/8] &^= mask
	}
	return nil
}

// Get returns the bit at index.
func (b *Bitstring) Get(index int) (bool, error) {
	if index < 0 || index >= b.size {
		return false, fmt.Errorf("index %d out of range [0,%d)", index, b.size)
	}
	return b.bits[index/8]&(byte(1)<<(index%8)) != 0, nil
}

// Encode gzip-compresses the bitstring and base64url-encodes it for
// persistence and publication.
func (b *Bitstring) Encode() (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b.bits); err != nil {
		return "", fmt.Errorf("compress bitstring: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("close gzip stream: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}
