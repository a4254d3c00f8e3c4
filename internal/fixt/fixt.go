package fixt

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/roach88/dhtstate/internal/dhtop"
	"golang.org/x/crypto/blake2b"
)

// BaseTimestamp is the timestamp of the first header built by this package.
const BaseTimestamp dhtop.Timestamp = 1_700_000_000_000_000

// Author is a deterministic test agent.
type Author struct {
	Key  dhtop.AgentKey
	Priv ed25519.PrivateKey
}

// NewAuthor derives an author from seed. Equal seeds give equal authors.
func NewAuthor(seed uint8) Author {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed + 1}, ed25519.SeedSize))
	key, err := dhtop.AgentKeyFromPublic(priv.Public().(ed25519.PublicKey))
	if err != nil {
		panic(err)
	}
	return Author{Key: key, Priv: priv}
}

// Sign signs h with the author's key.
func (a Author) Sign(h dhtop.Header) dhtop.Signature {
	sig, err := dhtop.SignHeader(a.Priv, h)
	if err != nil {
		panic(err)
	}
	return sig
}

// Hash derives a stable placeholder address from label.
func Hash(label string) dhtop.Hash {
	return dhtop.Hash(blake2b.Sum256([]byte(label)))
}

func (a Author) header(typ dhtop.HeaderType, seq uint32) dhtop.Header {
	prev := Hash(fmt.Sprintf("%s/prev/%d", a.Key, seq))
	return dhtop.Header{
		Type:       typ,
		Author:     a.Key,
		Timestamp:  BaseTimestamp + dhtop.Timestamp(seq),
		Seq:        seq,
		PrevHeader: &prev,
	}
}

// CreateHeader builds a create header at seq referencing entry.
func (a Author) CreateHeader(seq uint32, entry dhtop.Entry) dhtop.Header {
	h := a.header(dhtop.HeaderCreate, seq)
	entryHash := entry.MustHash()
	h.EntryType = entry.Kind
	h.EntryHash = &entryHash
	return h
}

// LinkHeader builds a create-link header at seq.
func (a Author) LinkHeader(seq uint32, base, target dhtop.Hash) dhtop.Header {
	h := a.header(dhtop.HeaderCreateLink, seq)
	h.BaseAddress = &base
	h.TargetAddress = &target
	return h
}

// Op signs h and wraps it as an op of the given kind.
func (a Author) Op(kind dhtop.OpKind, h dhtop.Header, entry *dhtop.Entry) dhtop.DhtOp {
	return dhtop.DhtOp{Kind: kind, Signature: a.Sign(h), Header: h, Entry: entry}
}

// Payload returns the app entry used for seq and variant.
func Payload(seq uint32, variant uint8) dhtop.Entry {
	return dhtop.NewAppEntry([]byte(fmt.Sprintf("entry-%d-%d", seq, variant)))
}

// ActivityOp is a register-agent-activity op for a create header at seq.
func ActivityOp(a Author, seq uint32) dhtop.DhtOp {
	return ForkedActivityOp(a, seq, 0)
}

// ForkedActivityOp is like ActivityOp but the header differs per variant,
// producing distinct headers at the same seq.
func ForkedActivityOp(a Author, seq uint32, variant uint8) dhtop.DhtOp {
	return a.Op(dhtop.OpRegisterAgentActivity, a.CreateHeader(seq, Payload(seq, variant)), nil)
}

// StoreEntryOp is a store-entry op carrying the entry for seq.
func StoreEntryOp(a Author, seq uint32) dhtop.DhtOp {
	entry := Payload(seq, 0)
	return a.Op(dhtop.OpStoreEntry, a.CreateHeader(seq, entry), &entry)
}

// StoreElementOp is a store-element op carrying header and entry for seq.
func StoreElementOp(a Author, seq uint32) dhtop.DhtOp {
	entry := Payload(seq, 0)
	return a.Op(dhtop.OpStoreElement, a.CreateHeader(seq, entry), &entry)
}

// AddLinkOp is a register-add-link op for a link from base at seq.
func AddLinkOp(a Author, seq uint32, base dhtop.Hash) dhtop.DhtOp {
	target := Hash(fmt.Sprintf("target/%d", seq))
	return a.Op(dhtop.OpRegisterAddLink, a.LinkHeader(seq, base, target), nil)
}

// Counterfeit returns op with a corrupted signature.
func Counterfeit(op dhtop.DhtOp) dhtop.DhtOp {
	op.Signature[0] ^= 0xff
	return op
}

// Impersonate returns op claiming other as author while keeping the
// original signature.
func Impersonate(op dhtop.DhtOp, other Author) dhtop.DhtOp {
	op.Header.Author = other.Key
	return op
}
