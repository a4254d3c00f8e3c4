package dhtop

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"
)

// AgentKey is an agent's ed25519 public key. It doubles as the address of
// the agent's chain.
type AgentKey [ed25519.PublicKeySize]byte

// AgentKeyFromPublic converts an ed25519 public key.
func AgentKeyFromPublic(pub ed25519.PublicKey) (AgentKey, error) {
	var a AgentKey
	if len(pub) != ed25519.PublicKeySize {
		return a, fmt.Errorf("agent key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	copy(a[:], pub)
	return a, nil
}

// ParseAgentKey decodes a hex-encoded agent key.
func ParseAgentKey(s string) (AgentKey, error) {
	var a AgentKey
	err := a.UnmarshalText([]byte(s))
	return a, err
}

// PublicKey returns the key in crypto/ed25519 form.
func (a AgentKey) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(append([]byte(nil), a[:]...))
}

// Hash returns the agent key as an address. Agent activity is indexed
// under it.
func (a AgentKey) Hash() Hash {
	return Hash(a)
}

func (a AgentKey) String() string {
	return hex.EncodeToString(a[:])
}

func (a AgentKey) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AgentKey) UnmarshalText(text []byte) error {
	return decodeFixedHex(a[:], text, "agent key")
}

// Signature is an ed25519 signature over a header's canonical bytes.
type Signature [ed25519.SignatureSize]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	return decodeFixedHex(s[:], text, "signature")
}

// Timestamp is a wall-clock instant in microseconds since the Unix epoch.
type Timestamp int64

// TimestampOf converts t, truncating to microseconds.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time returns the timestamp as a UTC time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}
