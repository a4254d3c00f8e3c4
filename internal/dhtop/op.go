package dhtop

import "fmt"

// OpKind names the DHT operation derived from a header.
type OpKind string

const (
	OpStoreElement               OpKind = "store_element"
	OpStoreEntry                 OpKind = "store_entry"
	OpRegisterAgentActivity      OpKind = "register_agent_activity"
	OpRegisterUpdatedBy          OpKind = "register_updated_by"
	OpRegisterDeletedBy          OpKind = "register_deleted_by"
	OpRegisterDeletedEntryHeader OpKind = "register_deleted_entry_header"
	OpRegisterAddLink            OpKind = "register_add_link"
	OpRegisterRemoveLink         OpKind = "register_remove_link"
)

// allowedHeaders lists the header types each op kind may carry.
// A nil list accepts every type.
var allowedHeaders = map[OpKind][]HeaderType{
	OpStoreElement:               nil,
	OpStoreEntry:                 {HeaderCreate, HeaderUpdate},
	OpRegisterAgentActivity:      nil,
	OpRegisterUpdatedBy:          {HeaderUpdate},
	OpRegisterDeletedBy:          {HeaderDelete},
	OpRegisterDeletedEntryHeader: {HeaderDelete},
	OpRegisterAddLink:            {HeaderCreateLink},
	OpRegisterRemoveLink:         {HeaderDeleteLink},
}

// DhtOp is a signed unit of replicated chain state.
type DhtOp struct {
	Kind      OpKind    `json:"kind"`
	Signature Signature `json:"signature"`
	Header    Header    `json:"header"`
	Entry     *Entry    `json:"entry,omitempty"`
}

// OpLight is the metadata-only projection of a DhtOp.
type OpLight struct {
	Kind       OpKind `json:"kind"`
	HeaderHash Hash   `json:"header_hash"`
	EntryHash  *Hash  `json:"entry_hash,omitempty"`
	Basis      Hash   `json:"basis"`
}

// Validate checks the op's structure: a known kind, a well-formed header
// of a type the kind accepts, and an entry consistent with the header.
// Signatures are not checked here.
func (op DhtOp) Validate() error {
	allowed, ok := allowedHeaders[op.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown op kind %q", ErrMalformed, op.Kind)
	}
	if err := op.Header.Validate(); err != nil {
		return err
	}
	if allowed != nil && !containsType(allowed, op.Header.Type) {
		return fmt.Errorf("%w: %s op with %s header", ErrMalformed, op.Kind, op.Header.Type)
	}

	if op.Kind == OpStoreEntry && op.Entry == nil {
		return fmt.Errorf("%w: store_entry op without entry", ErrMalformed)
	}
	if op.Entry != nil {
		if !op.Header.HasEntry() {
			return fmt.Errorf("%w: entry attached to %s header", ErrMalformed, op.Header.Type)
		}
		entryHash, err := op.Entry.Hash()
		if err != nil {
			return err
		}
		if entryHash != *op.Header.EntryHash {
			return fmt.Errorf("%w: entry does not match header entry_hash", ErrMalformed)
		}
		if op.Entry.Kind != op.Header.EntryType {
			return fmt.Errorf("%w: entry kind %s does not match header entry_type %s",
				ErrMalformed, op.Entry.Kind, op.Header.EntryType)
		}
	}
	return nil
}

func containsType(types []HeaderType, t HeaderType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Hash computes the op's content address from its kind and header. The
// entry is already bound through the header's entry_hash.
func (op DhtOp) Hash() (Hash, error) {
	canonical, err := MarshalCanonical(struct {
		Kind   OpKind `json:"kind"`
		Header Header `json:"header"`
	}{op.Kind, op.Header})
	if err != nil {
		return Hash{}, fmt.Errorf("op hash: %w", err)
	}
	return hashWithDomain(DomainOp, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func (op DhtOp) MustHash() Hash {
	h, err := op.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

// Basis returns the address the op is indexed under. The op must be valid.
func (op DhtOp) Basis() (Hash, error) {
	h := op.Header
	switch op.Kind {
	case OpStoreElement:
		return h.Hash()
	case OpStoreEntry:
		return *h.EntryHash, nil
	case OpRegisterAgentActivity:
		return h.Author.Hash(), nil
	case OpRegisterUpdatedBy:
		return *h.OriginalEntry, nil
	case OpRegisterDeletedBy:
		return *h.DeletesHeader, nil
	case OpRegisterDeletedEntryHeader:
		return *h.DeletesEntry, nil
	case OpRegisterAddLink, OpRegisterRemoveLink:
		return *h.BaseAddress, nil
	default:
		return Hash{}, fmt.Errorf("%w: unknown op kind %q", ErrMalformed, op.Kind)
	}
}

// Light computes the metadata-only projection. The op must be valid.
func (op DhtOp) Light() (OpLight, error) {
	headerHash, err := op.Header.Hash()
	if err != nil {
		return OpLight{}, err
	}
	basis, err := op.Basis()
	if err != nil {
		return OpLight{}, err
	}
	light := OpLight{Kind: op.Kind, HeaderHash: headerHash, Basis: basis}
	if op.Header.EntryHash != nil {
		entryHash := *op.Header.EntryHash
		light.EntryHash = &entryHash
	}
	return light, nil
}
