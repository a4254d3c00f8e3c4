package dhtop

import "fmt"

// EntryKind tags the payload of an Entry.
type EntryKind string

const (
	EntryApp      EntryKind = "app"
	EntryAgent    EntryKind = "agent"
	EntryCapGrant EntryKind = "cap_grant"
	EntryCapClaim EntryKind = "cap_claim"
)

// Entry is the optional payload referenced by a Create or Update header.
type Entry struct {
	Kind EntryKind `json:"kind"`

	// App holds the serialized payload for every kind except EntryAgent.
	App []byte `json:"app,omitempty"`

	// Agent is set for EntryAgent only.
	Agent *AgentKey `json:"agent,omitempty"`
}

// NewAppEntry wraps an application payload.
func NewAppEntry(payload []byte) Entry {
	return Entry{Kind: EntryApp, App: payload}
}

// NewAgentEntry wraps an agent key.
func NewAgentEntry(agent AgentKey) Entry {
	return Entry{Kind: EntryAgent, Agent: &agent}
}

// Validate checks the entry's shape.
func (e Entry) Validate() error {
	switch e.Kind {
	case EntryAgent:
		if e.Agent == nil {
			return fmt.Errorf("%w: agent entry without agent key", ErrMalformed)
		}
	case EntryApp, EntryCapGrant, EntryCapClaim:
		if e.Agent != nil {
			return fmt.Errorf("%w: %s entry carries an agent key", ErrMalformed, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown entry kind %q", ErrMalformed, e.Kind)
	}
	return nil
}

// Hash computes the entry's content address. An agent entry is addressed
// by the agent key itself.
func (e Entry) Hash() (Hash, error) {
	if err := e.Validate(); err != nil {
		return Hash{}, err
	}
	if e.Kind == EntryAgent {
		return e.Agent.Hash(), nil
	}
	canonical, err := MarshalCanonical(e)
	if err != nil {
		return Hash{}, fmt.Errorf("entry hash: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func (e Entry) MustHash() Hash {
	h, err := e.Hash()
	if err != nil {
		panic(err)
	}
	return h
}
