// Package ribosome executes zome functions on behalf of the local agent.
//
// A Ribosome receives a HostContext for the duration of one call. Anything
// the function writes goes to the context's source chain buffer; the caller
// decides whether to commit it.
package ribosome

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/state"
)

// ErrZomeFunctionNotFound is returned for unknown zome or function names.
var ErrZomeFunctionNotFound = errors.New("zome function not found")

// ZomeInvocation names a function and its input.
type ZomeInvocation struct {
	Zome       string
	Function   string
	Payload    []byte
	Provenance dhtop.AgentKey
}

func (inv ZomeInvocation) String() string {
	return inv.Zome + "/" + inv.Function
}

// ZomeResult is a function's output.
type ZomeResult struct {
	Output []byte
}

// HostContext is what a running zome function may touch.
type HostContext struct {
	Chain *state.SourceChain
	Agent ed25519.PrivateKey
	Now   func() time.Time
}

// CommitEntry appends a create header for entry to the chain.
func (h HostContext) CommitEntry(ctx context.Context, entry dhtop.Entry) (dhtop.Hash, error) {
	entryHash, err := entry.Hash()
	if err != nil {
		return dhtop.Hash{}, err
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	header := dhtop.Header{
		Type:      dhtop.HeaderCreate,
		Timestamp: dhtop.TimestampOf(now()),
		EntryType: entry.Kind,
		EntryHash: &entryHash,
	}
	hash, err := h.Chain.Append(ctx, h.Agent, header, &entry)
	if err != nil {
		return dhtop.Hash{}, fmt.Errorf("commit entry: %w", err)
	}
	return hash, nil
}

// Ribosome runs zome functions. Implementations are selected when the
// cell is built: WasmRibosome for compiled zomes, MockRibosome in tests.
type Ribosome interface {
	CallZomeFunction(ctx context.Context, host HostContext, inv ZomeInvocation) (ZomeResult, error)
}

var (
	_ Ribosome = (*MockRibosome)(nil)
	_ Ribosome = (*WasmRibosome)(nil)
)
