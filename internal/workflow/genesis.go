package workflow

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/state"
)

// Genesis writes the first state.GenesisLen records of the agent's chain:
// the dna header, the agent validation package and the agent key entry.
// It fails with ErrChainExists if the chain already has records.
func Genesis(ctx context.Context, env kv.Env, agent ed25519.PrivateKey, dnaHash dhtop.Hash, opts ...Option) error {
	s := newSettings(opts)
	chain := state.NewSourceChain(env)
	n, err := chain.Len(ctx)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("genesis: %w (%d records)", ErrChainExists, n)
	}

	key, err := dhtop.AgentKeyFromPublic(agent.Public().(ed25519.PublicKey))
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	agentEntry := dhtop.NewAgentEntry(key)
	agentHash, err := agentEntry.Hash()
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	ts := dhtop.TimestampOf(s.now())
	records := []struct {
		header dhtop.Header
		entry  *dhtop.Entry
	}{
		{header: dhtop.Header{Type: dhtop.HeaderDna, Timestamp: ts, DnaHash: &dnaHash}},
		{header: dhtop.Header{Type: dhtop.HeaderAgentValidationPkg, Timestamp: ts}},
		{header: dhtop.Header{
			Type:      dhtop.HeaderCreate,
			Timestamp: ts,
			EntryType: dhtop.EntryAgent,
			EntryHash: &agentHash,
		}, entry: &agentEntry},
	}
	for _, r := range records {
		if _, err := chain.Append(ctx, agent, r.header, r.entry); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}

	// Another writer may have run genesis since Len was read.
	err = env.WithWriter(ctx, func(w kv.Writer) error {
		if _, ok, err := chain.PersistedHead(ctx, w); err != nil || ok {
			if err == nil {
				err = ErrChainExists
			}
			return err
		}
		return chain.FlushToTxn(ctx, w)
	})
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	s.logger.Info("genesis complete", "agent", key, "dna", dnaHash)
	return nil
}
