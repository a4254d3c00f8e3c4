package dhtop

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// ErrMalformed is returned for records that fail structural checks.
var ErrMalformed = errors.New("malformed record")

// HeaderType discriminates the header variants.
type HeaderType string

const (
	HeaderDna                HeaderType = "dna"
	HeaderAgentValidationPkg HeaderType = "agent_validation_pkg"
	HeaderInitZomesComplete  HeaderType = "init_zomes_complete"
	HeaderCreate             HeaderType = "create"
	HeaderUpdate             HeaderType = "update"
	HeaderDelete             HeaderType = "delete"
	HeaderCreateLink         HeaderType = "create_link"
	HeaderDeleteLink         HeaderType = "delete_link"
)

// Header is one record of an agent's source chain. Fields beyond the common
// prefix are populated according to Type.
type Header struct {
	Type      HeaderType `json:"type"`
	Author    AgentKey   `json:"author"`
	Timestamp Timestamp  `json:"timestamp"`
	Seq       uint32     `json:"header_seq"`

	// PrevHeader links to the previous record; nil only for HeaderDna.
	PrevHeader *Hash `json:"prev_header,omitempty"`

	// HeaderDna
	DnaHash *Hash `json:"dna_hash,omitempty"`

	// HeaderCreate, HeaderUpdate
	EntryType EntryKind `json:"entry_type,omitempty"`
	EntryHash *Hash     `json:"entry_hash,omitempty"`

	// HeaderUpdate
	OriginalHeader *Hash `json:"original_header_address,omitempty"`
	OriginalEntry  *Hash `json:"original_entry_address,omitempty"`

	// HeaderDelete
	DeletesHeader *Hash `json:"deletes_address,omitempty"`
	DeletesEntry  *Hash `json:"deletes_entry_address,omitempty"`

	// HeaderCreateLink, HeaderDeleteLink
	BaseAddress   *Hash  `json:"base_address,omitempty"`
	TargetAddress *Hash  `json:"target_address,omitempty"`
	Tag           []byte `json:"tag,omitempty"`
	LinkAddHeader *Hash  `json:"link_add_address,omitempty"`
}

// Validate checks that the fields required by the header's type are present.
func (h Header) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s header without %s", ErrMalformed, h.Type, field)
	}

	if h.Type == HeaderDna {
		if h.Seq != 0 || h.PrevHeader != nil {
			return fmt.Errorf("%w: dna header must start the chain", ErrMalformed)
		}
		if h.DnaHash == nil {
			return missing("dna_hash")
		}
		return nil
	}
	if h.Seq == 0 {
		return fmt.Errorf("%w: %s header at sequence 0", ErrMalformed, h.Type)
	}
	if h.PrevHeader == nil {
		return missing("prev_header")
	}

	switch h.Type {
	case HeaderAgentValidationPkg, HeaderInitZomesComplete:
	case HeaderCreate:
		if h.EntryHash == nil || h.EntryType == "" {
			return missing("entry")
		}
	case HeaderUpdate:
		if h.EntryHash == nil || h.EntryType == "" {
			return missing("entry")
		}
		if h.OriginalHeader == nil || h.OriginalEntry == nil {
			return missing("original address")
		}
	case HeaderDelete:
		if h.DeletesHeader == nil || h.DeletesEntry == nil {
			return missing("deletes address")
		}
	case HeaderCreateLink:
		if h.BaseAddress == nil || h.TargetAddress == nil {
			return missing("link addresses")
		}
	case HeaderDeleteLink:
		if h.BaseAddress == nil || h.LinkAddHeader == nil {
			return missing("link_add_address")
		}
	default:
		return fmt.Errorf("%w: unknown header type %q", ErrMalformed, h.Type)
	}
	return nil
}

// HasEntry reports whether the header references an entry.
func (h Header) HasEntry() bool {
	return h.Type == HeaderCreate || h.Type == HeaderUpdate
}

// SigningBytes returns the canonical encoding that authors sign.
func (h Header) SigningBytes() ([]byte, error) {
	canonical, err := MarshalCanonical(h)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	return canonical, nil
}

// Hash computes the header's content address.
func (h Header) Hash() (Hash, error) {
	canonical, err := h.SigningBytes()
	if err != nil {
		return Hash{}, err
	}
	return hashWithDomain(DomainHeader, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func (h Header) MustHash() Hash {
	hash, err := h.Hash()
	if err != nil {
		panic(err)
	}
	return hash
}

// SignHeader signs h with the author's private key.
func SignHeader(priv ed25519.PrivateKey, h Header) (Signature, error) {
	var sig Signature
	data, err := h.SigningBytes()
	if err != nil {
		return sig, err
	}
	copy(sig[:], ed25519.Sign(priv, data))
	return sig, nil
}
