package state

import (
	"context"
	"fmt"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
)

// SignedHeader is a header together with its author's signature.
type SignedHeader struct {
	Header    dhtop.Header    `json:"header"`
	Signature dhtop.Signature `json:"signature"`
}

// Element is a signed header and, when the header references one and it is
// held locally, its entry.
type Element struct {
	SignedHeader
	Entry *dhtop.Entry `json:"entry,omitempty"`
}

// ElementBuf stores headers and entries in two content-addressed
// partitions.
type ElementBuf struct {
	headers *kv.Buffer[SignedHeader]
	entries *kv.Buffer[dhtop.Entry]
}

// NewElementVault creates a buffer over the authored/integrated element
// partitions.
func NewElementVault(r kv.Reader) *ElementBuf {
	return newElementBuf(r, PartElementVaultHeaders, PartElementVaultEntries)
}

// NewElementPending creates a buffer over the partitions holding elements
// of ops that are not yet validated.
func NewElementPending(r kv.Reader) *ElementBuf {
	return newElementBuf(r, PartElementPendingHeaders, PartElementPendingEntries)
}

func newElementBuf(r kv.Reader, headers, entries kv.Partition) *ElementBuf {
	return &ElementBuf{
		headers: kv.NewJSONBuffer[SignedHeader](r, headers),
		entries: kv.NewJSONBuffer[dhtop.Entry](r, entries),
	}
}

// PutElement stages the header and, if given, the entry. It returns the
// header hash.
func (b *ElementBuf) PutElement(sh SignedHeader, entry *dhtop.Entry) (dhtop.Hash, error) {
	headerHash, err := sh.Header.Hash()
	if err != nil {
		return dhtop.Hash{}, err
	}
	if entry != nil {
		entryHash, err := entry.Hash()
		if err != nil {
			return dhtop.Hash{}, err
		}
		if err := b.entries.Put(entryHash.Bytes(), *entry); err != nil {
			return dhtop.Hash{}, err
		}
	}
	if err := b.headers.Put(headerHash.Bytes(), sh); err != nil {
		return dhtop.Hash{}, err
	}
	return headerHash, nil
}

// GetHeader looks up a signed header by hash.
func (b *ElementBuf) GetHeader(ctx context.Context, hash dhtop.Hash) (SignedHeader, bool, error) {
	return b.headers.Get(ctx, hash.Bytes())
}

// ContainsHeader reports whether a header is visible.
func (b *ElementBuf) ContainsHeader(ctx context.Context, hash dhtop.Hash) (bool, error) {
	return b.headers.Contains(ctx, hash.Bytes())
}

// GetEntry looks up an entry by hash.
func (b *ElementBuf) GetEntry(ctx context.Context, hash dhtop.Hash) (dhtop.Entry, bool, error) {
	return b.entries.Get(ctx, hash.Bytes())
}

// GetElement looks up a header and attaches its entry when held.
func (b *ElementBuf) GetElement(ctx context.Context, headerHash dhtop.Hash) (Element, bool, error) {
	sh, ok, err := b.GetHeader(ctx, headerHash)
	if err != nil || !ok {
		return Element{}, false, err
	}
	el := Element{SignedHeader: sh}
	if sh.Header.EntryHash != nil {
		entry, ok, err := b.GetEntry(ctx, *sh.Header.EntryHash)
		if err != nil {
			return Element{}, false, fmt.Errorf("element %s: %w", headerHash, err)
		}
		if ok {
			el.Entry = &entry
		}
	}
	return el, true, nil
}

// FlushToTxn writes headers, then entries.
func (b *ElementBuf) FlushToTxn(ctx context.Context, w kv.Writer) error {
	return FlushInOrder(ctx, w, b.headers, b.entries)
}
