package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/state"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Limbo    bool
}

// PartitionCount is the number of records held by one partition.
type PartitionCount struct {
	Partition kv.Partition `json:"partition"`
	Records   int          `json:"records"`
}

// LimboRecord is one op waiting in validation limbo.
type LimboRecord struct {
	Hash      dhtop.Hash                  `json:"hash"`
	Kind      dhtop.OpKind                `json:"kind"`
	Basis     dhtop.Hash                  `json:"basis"`
	Status    state.ValidationLimboStatus `json:"status"`
	NumTries  uint32                      `json:"num_tries"`
	TimeAdded time.Time                   `json:"time_added"`
	FromAgent *dhtop.AgentKey             `json:"from_agent,omitempty"`
}

// InspectResult summarizes the database.
type InspectResult struct {
	ChainLen   uint32           `json:"chain_len"`
	ChainHead  *dhtop.Hash      `json:"chain_head,omitempty"`
	Partitions []PartitionCount `json:"partitions"`
	Limbo      []LimboRecord    `json:"validation_limbo,omitempty"`
}

func (r InspectResult) String() string {
	var b strings.Builder
	if r.ChainHead == nil {
		b.WriteString("Source chain: empty\n")
	} else {
		fmt.Fprintf(&b, "Source chain: %d records, head %s\n", r.ChainLen, r.ChainHead)
	}
	b.WriteString("Partitions:\n")
	for _, p := range r.Partitions {
		fmt.Fprintf(&b, "  %-24s %d\n", p.Partition, p.Records)
	}
	if len(r.Limbo) > 0 {
		b.WriteString("Validation limbo:\n")
		for _, rec := range r.Limbo {
			fmt.Fprintf(&b, "  %s %-30s %-13s tries=%d basis=%s\n",
				rec.Hash, rec.Kind, rec.Status, rec.NumTries, rec.Basis)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what the database holds",
		Long: `Print the source chain length, the record count of every partition and,
with --limbo, each op waiting in validation limbo.

Examples:
  dhtstate inspect --db ./cell.db
  dhtstate inspect --db ./cell.db --limbo --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().BoolVar(&opts.Limbo, "limbo", false, "list validation limbo records")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := opts.openSession(cmd, opts.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := Inspect(ctx, s.env, opts.Limbo)
	if err != nil {
		return s.format.Fail(ExitCommandError, ErrCodeStorage, "failed to read database", err)
	}
	return s.format.Success(result)
}

// Inspect reads the summary from r. withLimbo adds the validation limbo
// listing.
func Inspect(ctx context.Context, r kv.Reader, withLimbo bool) (InspectResult, error) {
	var result InspectResult

	head, ok, err := state.NewSourceChain(r).ChainHead(ctx)
	if err != nil {
		return result, err
	}
	if ok {
		result.ChainLen = head.Seq + 1
		result.ChainHead = &head.Hash
	}

	for _, p := range state.Partitions() {
		n := 0
		for _, err := range r.Scan(ctx, p, nil, kv.Forward) {
			if err != nil {
				return result, fmt.Errorf("count %s: %w", p, err)
			}
			n++
		}
		result.Partitions = append(result.Partitions, PartitionCount{Partition: p, Records: n})
	}

	if !withLimbo {
		return result, nil
	}
	for rec, err := range state.NewValidationLimboStore(r).Iterate(ctx) {
		if err != nil {
			return result, err
		}
		v := rec.Value
		result.Limbo = append(result.Limbo, LimboRecord{
			Hash:      rec.Hash,
			Kind:      v.Op.Kind,
			Basis:     v.Basis,
			Status:    v.Status,
			NumTries:  v.NumTries,
			TimeAdded: v.TimeAdded,
			FromAgent: v.FromAgent,
		})
	}
	return result, nil
}
