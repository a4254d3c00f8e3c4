package dhtop

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func testKey(t *testing.T, seed byte) (AgentKey, ed25519.PrivateKey) {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	agent, err := AgentKeyFromPublic(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	return agent, priv
}

func fill(b byte) *Hash {
	var h Hash
	for i := range h {
		h[i] = b
	}
	return &h
}

func dnaHeader(author AgentKey) Header {
	return Header{
		Type:      HeaderDna,
		Author:    author,
		Timestamp: 1700000000000000,
		DnaHash:   fill(0x02),
	}
}

func createHeader(author AgentKey, seq uint32, entry Entry) Header {
	return Header{
		Type:       HeaderCreate,
		Author:     author,
		Timestamp:  Timestamp(1700000000000000 + int64(seq)),
		Seq:        seq,
		PrevHeader: fill(byte(seq)),
		EntryType:  entry.Kind,
		EntryHash:  ptr(entry.MustHash()),
	}
}

func ptr[T any](v T) *T {
	return &v
}
