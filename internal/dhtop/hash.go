package dhtop

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainHeader = "dhtstate/header/v1"
	DomainEntry  = "dhtstate/entry/v1"
	DomainOp     = "dhtstate/op/v1"
)

// HashSize is the length of every content address.
const HashSize = blake2b.Size256

// Hash is a 32-byte content address.
type Hash [HashSize]byte

// hashWithDomain computes BLAKE2b-256 with domain separation.
// Format: BLAKE2b-256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) Hash {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// HashFromBytes copies a raw 32-byte digest.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns the hash as a fresh slice.
func (h Hash) Bytes() []byte {
	return append([]byte(nil), h[:]...)
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the hash as lowercase hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *Hash) UnmarshalText(text []byte) error {
	return decodeFixedHex(h[:], text, "hash")
}

func decodeFixedHex(dst, text []byte, what string) error {
	if hex.DecodedLen(len(text)) != len(dst) {
		return fmt.Errorf("%s must be %d hex characters, got %d", what, 2*len(dst), len(text))
	}
	if _, err := hex.Decode(dst, text); err != nil {
		return fmt.Errorf("invalid %s: %w", what, err)
	}
	return nil
}
