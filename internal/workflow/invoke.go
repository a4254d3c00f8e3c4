package workflow

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"slices"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/queue"
	"github.com/roach88/dhtstate/internal/ribosome"
	"github.com/roach88/dhtstate/internal/state"
)

// initZomesLen is the chain length at which zome initialization has
// written its completion record.
const initZomesLen = state.GenesisLen + 1

// InvokeZomeWorkspace holds the source chain a zome call writes to. It
// commits only if the persisted head has not moved since the call began.
type InvokeZomeWorkspace struct {
	Chain *state.SourceChain

	start   state.ChainHead
	started bool
}

var _ state.Workspace = (*InvokeZomeWorkspace)(nil)

// NewInvokeZomeWorkspace creates a fresh chain buffer over r and records
// its current head.
func NewInvokeZomeWorkspace(ctx context.Context, r kv.Reader) (*InvokeZomeWorkspace, error) {
	chain := state.NewSourceChain(r)
	head, ok, err := chain.ChainHead(ctx)
	if err != nil {
		return nil, err
	}
	return &InvokeZomeWorkspace{Chain: chain, start: head, started: ok}, nil
}

// FlushToTxn writes the chain records staged since the workspace was
// created. It fails with state.ErrChainFork if another call committed to
// the chain in the meantime.
func (ws *InvokeZomeWorkspace) FlushToTxn(ctx context.Context, w kv.Writer) error {
	head, ok, err := ws.Chain.PersistedHead(ctx, w)
	if err != nil {
		return err
	}
	if ok != ws.started || head != ws.start {
		return fmt.Errorf("%w: head moved to %d during zome call", state.ErrChainFork, head.Seq)
	}
	return ws.Chain.FlushToTxn(ctx, w)
}

// InvokeTriggers are the consumers woken by a zome call.
type InvokeTriggers struct {
	// InitializeZomes is fired while the chain has no zome initialization
	// record.
	InitializeZomes queue.TriggerSender

	// ProduceDhtOps is fired after a call committed new records.
	ProduceDhtOps queue.TriggerSender
}

// InvokeZomeResult is the output of a zome call and the records it
// committed, oldest first.
type InvokeZomeResult struct {
	Output  []byte
	Headers []dhtop.Hash
}

// Invoker runs zome calls for one agent.
type Invoker struct {
	settings
	env      kv.Env
	ribosome ribosome.Ribosome
	agent    ed25519.PrivateKey
	triggers InvokeTriggers
}

// NewInvoker creates an invoker that runs zome functions on rb as agent.
func NewInvoker(env kv.Env, rb ribosome.Ribosome, agent ed25519.PrivateKey, triggers InvokeTriggers, opts ...Option) *Invoker {
	return &Invoker{
		settings: newSettings(opts),
		env:      env,
		ribosome: rb,
		agent:    agent,
		triggers: triggers,
	}
}

// InvokeZome calls inv against a fresh chain workspace. Records the
// function appended are checked and committed atomically; if the call or
// any check fails nothing is committed.
func (iv *Invoker) InvokeZome(ctx context.Context, inv ribosome.ZomeInvocation) (InvokeZomeResult, error) {
	callID := iv.ids.Generate()
	ws, err := NewInvokeZomeWorkspace(ctx, iv.env)
	if err != nil {
		return InvokeZomeResult{}, fmt.Errorf("invoke %s: %w", inv, err)
	}
	n, err := ws.Chain.Len(ctx)
	if err != nil {
		return InvokeZomeResult{}, fmt.Errorf("invoke %s: %w", inv, err)
	}
	if n < state.GenesisLen {
		return InvokeZomeResult{}, fmt.Errorf("invoke %s: %w (%d records)", inv, ErrGenesisIncomplete, n)
	}
	needsInit := n < initZomesLen

	host := ribosome.HostContext{Chain: ws.Chain, Agent: iv.agent, Now: iv.now}
	res, err := iv.ribosome.CallZomeFunction(ctx, host, inv)
	if err != nil {
		return InvokeZomeResult{}, fmt.Errorf("invoke %s: %w", inv, err)
	}

	added, err := iv.appended(ctx, ws)
	if err != nil {
		return InvokeZomeResult{}, fmt.Errorf("invoke %s: %w", inv, err)
	}
	if len(added) > 0 {
		if err := state.Commit(ctx, iv.env, ws); err != nil {
			return InvokeZomeResult{}, fmt.Errorf("invoke %s: commit: %w", inv, err)
		}
		iv.triggers.ProduceDhtOps.Trigger()
	}
	if needsInit {
		iv.triggers.InitializeZomes.Trigger()
	}

	iv.logger.Debug("zome call complete",
		"call_id", callID,
		"zome", inv.Zome,
		"function", inv.Function,
		"committed", len(added),
	)
	return InvokeZomeResult{Output: res.Output, Headers: added}, nil
}

// appended walks back from the new head to the head the call started on,
// checks every record on the way and returns their hashes oldest first.
func (iv *Invoker) appended(ctx context.Context, ws *InvokeZomeWorkspace) ([]dhtop.Hash, error) {
	head, _, err := ws.Chain.ChainHead(ctx)
	if err != nil {
		return nil, err
	}
	if head == ws.start {
		return nil, nil
	}

	author, err := dhtop.AgentKeyFromPublic(iv.agent.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	var added []dhtop.Hash
	for el, err := range ws.Chain.IterBack(ctx) {
		if err != nil {
			return nil, err
		}
		hash, err := el.Header.Hash()
		if err != nil {
			return nil, err
		}
		if hash == ws.start.Hash {
			break
		}
		if err := checkRecord(el, author); err != nil {
			return nil, fmt.Errorf("record %d: %w", el.Header.Seq, err)
		}
		added = append(added, hash)
	}
	slices.Reverse(added)
	return added, nil
}

// checkRecord is the local sys check on a freshly authored record.
func checkRecord(el state.Element, author dhtop.AgentKey) error {
	if err := el.Header.Validate(); err != nil {
		return err
	}
	if el.Header.Author != author {
		return fmt.Errorf("%w: authored by %s", dhtop.ErrMalformed, el.Header.Author)
	}
	if el.Header.HasEntry() {
		if el.Entry == nil {
			return fmt.Errorf("%w: entry %s missing", dhtop.ErrMalformed, el.Header.EntryHash)
		}
		entryHash, err := el.Entry.Hash()
		if err != nil {
			return err
		}
		if entryHash != *el.Header.EntryHash {
			return fmt.Errorf("%w: entry hash mismatch", dhtop.ErrMalformed)
		}
	}
	return nil
}
