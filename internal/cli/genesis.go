package cli

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/state"
	"github.com/roach88/dhtstate/internal/workflow"
)

// GenesisOptions holds flags for the genesis command.
type GenesisOptions struct {
	*RootOptions
	Database string
	DnaHash  string
}

// GenesisResult is printed after a successful genesis.
type GenesisResult struct {
	Agent    dhtop.AgentKey `json:"agent"`
	DnaHash  dhtop.Hash     `json:"dna_hash"`
	ChainLen uint32         `json:"chain_len"`
}

func (r GenesisResult) String() string {
	return fmt.Sprintf("Genesis complete for agent %s (dna %s, %d records)", r.Agent, r.DnaHash, r.ChainLen)
}

// NewGenesisCommand creates the genesis command.
func NewGenesisCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenesisOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Write the genesis records of the configured agent",
		Long: `Write the dna, agent validation package and agent key records that
start the configured agent's source chain.

The agent is derived from agent_seed (DHTSTATE_AGENT_SEED).

Exit codes:
  0 - Genesis records committed
  1 - The chain already has records
  2 - Command error (bad dna hash, missing agent seed, etc.)

Examples:
  dhtstate genesis --db ./cell.db --dna 1f0c...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenesis(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.DnaHash, "dna", "", "hex hash of the DNA (required)")
	_ = cmd.MarkFlagRequired("dna")

	return cmd
}

func runGenesis(ctx context.Context, opts *GenesisOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	dna, err := dhtop.ParseHash(opts.DnaHash)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid --dna", err)
	}

	s, err := opts.openSession(cmd, opts.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	agent, err := s.cfg.AgentKey()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "no agent configured", err)
	}

	err = workflow.Genesis(ctx, s.env, agent, dna, workflow.WithLogger(s.log))
	if errors.Is(err, workflow.ErrChainExists) {
		return f.Fail(ExitFailure, ErrCodeRejected, "chain already initialized", err)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "genesis failed", err)
	}

	n, err := state.NewSourceChain(s.env).Len(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to read chain", err)
	}
	key, err := dhtop.AgentKeyFromPublic(agent.Public().(ed25519.PublicKey))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid agent key", err)
	}
	return f.Success(GenesisResult{Agent: key, DnaHash: dna, ChainLen: n})
}
