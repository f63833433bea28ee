package models

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// BitstringSuite covers the encode/decode contract that external verifiers
// depend on: LSB-first packing, exact size round-trips, idempotent flips.
type BitstringSuite struct {
	suite.Suite
}

func TestBitstringSuite(t *testing.T) {
	suite.Run(t, new(BitstringSuite))
}

func (s *BitstringSuite) TestNewBitstringIsAllClear() {
	b := NewBitstring(64)
	for i := 0; i < 64; i++ {
		set, err := b.Get(i)
		s.Require().NoError(err)
		s.False(set)
	}
}

func (s *BitstringSuite) TestSetGetRoundTrip() {
	b := NewBitstring(16)
	s.Require().NoError(b.Set(0, true))
	s.Require().NoError(b.Set(9, true))

	got, err := b.Get(0)
	s.Require().NoError(err)
	s.True(got)

	got, err = b.Get(9)
	s.Require().NoError(err)
	s.True(got)

	got, err = b.Get(1)
	s.Require().NoError(err)
	s.False(got)
}

func (s *BitstringSuite) TestLSBFirstPacking() {
	// Index 0 is the least significant bit of byte 0, index 10 is bit 2 of byte 1.
	b := NewBitstring(16)
	s.Require().NoError(b.Set(0, true))
	s.Require().NoError(b.Set(10, true))
	s.Equal(byte(0x01), b.bits[0])
	s.Equal(byte(0x04), b.bits[1])
}

func (s *BitstringSuite) TestSetIsIdempotent() {
	b := NewBitstring(8)
	s.Require().NoError(b.Set(3, true))
	s.Require().NoError(b.Set(3, true))
	got, err := b.Get(3)
	s.Require().NoError(err)
	s.True(got)

	s.Require().NoError(b.Set(3, false))
	s.Require().NoError(b.Set(3, false))
	got, err = b.Get(3)
	s.Require().NoError(err)
	s.False(got)
}

func (s *BitstringSuite) TestOutOfRange() {
	b := NewBitstring(8)
	s.Error(b.Set(8, true))
	s.Error(b.Set(-1, true))
	_, err := b.Get(8)
	s.Error(err)
}

func (s *BitstringSuite) TestEncodeDecodeRoundTrip() {
	b := NewBitstring(128)
	s.Require().NoError(b.Set(5, true))
	s.Require().NoError(b.Set(127, true))

	encoded, err := b.Encode()
	s.Require().NoError(err)

	decoded, err := DecodeBitstring(encoded, 128)
	s.Require().NoError(err)
	s.Equal(128, decoded.Size())

	got, err := decoded.Get(5)
	s.Require().NoError(err)
	s.True(got)

	got, err = decoded.Get(127)
	s.Require().NoError(err)
	s.True(got)

	got, err = decoded.Get(6)
	s.Require().NoError(err)
	s.False(got)
}

func (s *BitstringSuite) TestDecodeRejectsSizeMismatch() {
	encoded, err := NewBitstring(64).Encode()
	s.Require().NoError(err)

	_, err = DecodeBitstring(encoded, 128)
	s.Error(err)
}

func (s *BitstringSuite) TestDecodeRejectsGarbage() {
	_, err := DecodeBitstring("not-base64url!!!", 64)
	s.Error(err)

	// Valid base64url but not a gzip stream.
	_, err = DecodeBitstring("AAAA", 64)
	s.Error(err)
}

func (s *BitstringSuite) TestNewStatusListValidatesSize() {
	_, err := NewStatusList("did:web:issuer", "owner-1", PurposeRevocation, 10, testNow())
	s.Error(err)

	list, err := NewStatusList("did:web:issuer", "owner-1", PurposeRevocation, 16, testNow())
	s.Require().NoError(err)
	s.Equal(0, list.LastIndex)
	s.False(list.Full())

	decoded, err := DecodeBitstring(list.EncodedList, 16)
	s.Require().NoError(err)
	for i := 0; i < 16; i++ {
		set, err := decoded.Get(i)
		s.Require().NoError(err)
		s.False(set)
	}
}
