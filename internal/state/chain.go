package state

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
)

// GenesisLen is the number of records genesis writes: the dna header, the
// agent validation package and the agent key entry.
const GenesisLen = 3

// ErrChainFork is returned when a header does not extend the current head.
var ErrChainFork = errors.New("header does not extend chain head")

// ChainHead identifies the latest record of a source chain.
type ChainHead struct {
	Hash dhtop.Hash
	Seq  uint32
}

// SourceChain is the local agent's append-only chain. Elements live in
// the element vault; a sequence index maps header_seq to header hash.
type SourceChain struct {
	elements *ElementBuf
	sequence *kv.Buffer[dhtop.Hash]
}

// NewSourceChain creates a chain buffer over the vault partitions.
func NewSourceChain(r kv.Reader) *SourceChain {
	return &SourceChain{
		elements: NewElementVault(r),
		sequence: kv.NewJSONBuffer[dhtop.Hash](r, PartChainSequence),
	}
}

// Elements exposes the vault buffer the chain writes to.
func (c *SourceChain) Elements() *ElementBuf {
	return c.elements
}

func seqKey(seq uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, seq)
}

// ChainHead returns the latest record, or false for an empty chain.
func (c *SourceChain) ChainHead(ctx context.Context) (ChainHead, bool, error) {
	for item, err := range c.sequence.Iterate(ctx, kv.Reverse) {
		if err != nil {
			return ChainHead{}, false, err
		}
		return ChainHead{Hash: item.Value, Seq: binary.BigEndian.Uint32(item.Key)}, true, nil
	}
	return ChainHead{}, false, nil
}

// PersistedHead returns the head as stored in r, ignoring records staged
// on c. Passing the Writer of an open transaction reads that
// transaction's view.
func (c *SourceChain) PersistedHead(ctx context.Context, r kv.Reader) (ChainHead, bool, error) {
	return NewSourceChain(r).ChainHead(ctx)
}

// Len returns the number of records on the chain.
func (c *SourceChain) Len(ctx context.Context) (uint32, error) {
	head, ok, err := c.ChainHead(ctx)
	if err != nil || !ok {
		return 0, err
	}
	return head.Seq + 1, nil
}

// Put appends a signed header, and its entry if any. The header must sit
// directly after the current head.
func (c *SourceChain) Put(ctx context.Context, sh SignedHeader, entry *dhtop.Entry) (dhtop.Hash, error) {
	if err := sh.Header.Validate(); err != nil {
		return dhtop.Hash{}, err
	}
	head, ok, err := c.ChainHead(ctx)
	if err != nil {
		return dhtop.Hash{}, err
	}
	switch {
	case !ok && sh.Header.Seq != 0:
		return dhtop.Hash{}, fmt.Errorf("%w: empty chain, got seq %d", ErrChainFork, sh.Header.Seq)
	case ok && (sh.Header.Seq != head.Seq+1 || *sh.Header.PrevHeader != head.Hash):
		return dhtop.Hash{}, fmt.Errorf("%w: head is %d, got seq %d", ErrChainFork, head.Seq, sh.Header.Seq)
	}

	hash, err := c.elements.PutElement(sh, entry)
	if err != nil {
		return dhtop.Hash{}, err
	}
	if err := c.sequence.Put(seqKey(sh.Header.Seq), hash); err != nil {
		return dhtop.Hash{}, err
	}
	return hash, nil
}

// Append authors a new record on top of the head: it fills in author,
// sequence and previous-header link, signs with priv and puts it.
func (c *SourceChain) Append(ctx context.Context, priv ed25519.PrivateKey, h dhtop.Header, entry *dhtop.Entry) (dhtop.Hash, error) {
	author, err := dhtop.AgentKeyFromPublic(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return dhtop.Hash{}, err
	}
	h.Author = author

	head, ok, err := c.ChainHead(ctx)
	if err != nil {
		return dhtop.Hash{}, err
	}
	if ok {
		prev := head.Hash
		h.Seq = head.Seq + 1
		h.PrevHeader = &prev
	} else {
		h.Seq = 0
		h.PrevHeader = nil
	}

	sig, err := dhtop.SignHeader(priv, h)
	if err != nil {
		return dhtop.Hash{}, err
	}
	return c.Put(ctx, SignedHeader{Header: h, Signature: sig}, entry)
}

// IterBack yields elements from the head down to the dna header.
func (c *SourceChain) IterBack(ctx context.Context) iter.Seq2[Element, error] {
	return func(yield func(Element, error) bool) {
		for item, err := range c.sequence.Iterate(ctx, kv.Reverse) {
			if err != nil {
				yield(Element{}, err)
				return
			}
			el, ok, err := c.elements.GetElement(ctx, item.Value)
			if err == nil && !ok {
				err = fmt.Errorf("chain record %d: header %s missing", binary.BigEndian.Uint32(item.Key), item.Value)
			}
			if err != nil {
				yield(Element{}, err)
				return
			}
			if !yield(el, nil) {
				return
			}
		}
	}
}

// FlushToTxn writes the elements, then the sequence index.
func (c *SourceChain) FlushToTxn(ctx context.Context, w kv.Writer) error {
	return FlushInOrder(ctx, w, c.elements, c.sequence)
}
