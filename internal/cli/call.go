package cli

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/queue"
	"github.com/roach88/dhtstate/internal/ribosome"
	"github.com/roach88/dhtstate/internal/workflow"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Database string
	Zomes    []string // name=path.wasm
	Function string   // zome/function
	Payload  string
}

// CallResult is printed after a zome call.
type CallResult struct {
	Zome     string       `json:"zome"`
	Function string       `json:"function"`
	Output   string       `json:"output"`
	Headers  []dhtop.Hash `json:"headers"`
}

func (r CallResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s returned %q", r.Zome, r.Function, r.Output)
	if len(r.Headers) == 0 {
		b.WriteString("\nNo records committed")
	}
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "\n  committed %s", h)
	}
	return b.String()
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call a zome function as the configured agent",
		Long: `Load WebAssembly zomes, call one function on the configured agent's
source chain and commit whatever it appended.

The chain must have completed genesis.

Exit codes:
  0 - Call succeeded
  1 - The call failed or its records were refused
  2 - Command error (unreadable zome, bad flags, etc.)

Examples:
  dhtstate call --db ./cell.db --zome posts=./posts.wasm --fn posts/create --payload hello
  dhtstate call --zome a=a.wasm --zome b=b.wasm --fn b/count --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringArrayVar(&opts.Zomes, "zome", nil, "zome to load as name=path.wasm (repeatable, required)")
	cmd.Flags().StringVar(&opts.Function, "fn", "", "function to call as zome/function (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "raw payload passed to the function")
	_ = cmd.MarkFlagRequired("zome")
	_ = cmd.MarkFlagRequired("fn")

	return cmd
}

func runCall(ctx context.Context, opts *CallOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	zome, function, ok := strings.Cut(opts.Function, "/")
	if !ok || zome == "" || function == "" {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid --fn", fmt.Errorf("%q is not zome/function", opts.Function))
	}
	zomes, err := readZomes(opts.Zomes)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid --zome", err)
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
	provenance, err := dhtop.AgentKeyFromPublic(agent.Public().(ed25519.PublicKey))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid agent key", err)
	}

	rb, err := ribosome.NewWasmRibosome(ctx, zomes, s.cfg.WasmConfig())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "failed to load zomes", err)
	}
	defer rb.Close(ctx)

	// Nothing consumes the triggers in a one-shot process; produced ops are
	// picked up by the next long-running cell.
	initTx, _ := queue.NewTrigger()
	publishTx, _ := queue.NewTrigger()
	invoker := workflow.NewInvoker(s.env, rb, agent, workflow.InvokeTriggers{
		InitializeZomes: initTx,
		ProduceDhtOps:   publishTx,
	}, workflow.WithLogger(s.log))

	res, err := invoker.InvokeZome(ctx, ribosome.ZomeInvocation{
		Zome:       zome,
		Function:   function,
		Payload:    []byte(opts.Payload),
		Provenance: provenance,
	})
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeRejected, "zome call failed", err)
	}

	headers := res.Headers
	if headers == nil {
		headers = []dhtop.Hash{}
	}
	return f.Success(CallResult{
		Zome:     zome,
		Function: function,
		Output:   string(res.Output),
		Headers:  headers,
	})
}

// readZomes loads each name=path pair.
func readZomes(specs []string) (map[string][]byte, error) {
	zomes := make(map[string][]byte, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("%q is not name=path", spec)
		}
		if _, dup := zomes[name]; dup {
			return nil, fmt.Errorf("zome %q given twice", name)
		}
		bin, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read zome %q: %w", name, err)
		}
		zomes[name] = bin
	}
	return zomes, nil
}
