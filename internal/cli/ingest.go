package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/queue"
	"github.com/roach88/dhtstate/internal/workflow"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
	File     string
	From     string
}

// OpsFile is the on-disk form of an incoming batch. Ops use the same
// field names as their JSON encoding; JSON files are accepted as well.
type OpsFile struct {
	From string `yaml:"from"`
	Ops  []any  `yaml:"ops"`
}

// IngestResult is printed after a batch is processed.
type IngestResult struct {
	BatchID   string `json:"batch_id,omitempty"`
	Total     int    `json:"total"`
	Staged    int    `json:"staged"`
	Duplicate int    `json:"duplicate"`
	Rejected  int    `json:"rejected"`
}

func (r IngestResult) String() string {
	if r.Staged == 0 {
		return fmt.Sprintf("Nothing staged: %d ops, %d duplicate, %d rejected", r.Total, r.Duplicate, r.Rejected)
	}
	return fmt.Sprintf("Batch %s: %d ops, %d staged for validation, %d duplicate, %d rejected",
		r.BatchID, r.Total, r.Staged, r.Duplicate, r.Rejected)
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Stage a batch of incoming DHT ops for validation",
		Long: `Read a batch of DHT ops from a YAML or JSON file and stage the new,
correctly signed ones into validation limbo in one transaction.

Ops already held anywhere in the pipeline are skipped. Ops that do not
decode, or whose hash or signature does not check out, are dropped and
counted as rejected.

Exit codes:
  0 - Batch processed (see the counts for what was staged)
  2 - Command error (unreadable file, database error, etc.)

Examples:
  dhtstate ingest --db ./cell.db --file ops.yaml
  dhtstate ingest --file ops.json --from 5e1f... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "YAML or JSON file holding the ops (required)")
	cmd.Flags().StringVar(&opts.From, "from", "", "hex key of the agent that sent the batch (overrides the file)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runIngest(ctx context.Context, opts *IngestOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	batch, err := LoadOpsFile(opts.File)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "failed to load ops", err)
	}
	fromHex := batch.From
	if opts.From != "" {
		fromHex = opts.From
	}
	var from *dhtop.AgentKey
	if fromHex != "" {
		key, err := dhtop.ParseAgentKey(fromHex)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeInput, "invalid sender", err)
		}
		from = &key
	}

	ops, bad := batch.DhtOps()
	// Ops that do not decode or hash are dropped like any other malformed op.
	rejected := len(bad)
	for _, err := range bad {
		f.VerboseLog("%v", err)
	}
	in := make([]workflow.IncomingOp, 0, len(ops))
	for _, op := range ops {
		inc, err := workflow.NewIncomingOp(op)
		if err != nil {
			f.VerboseLog("op %s: %v", op.Kind, err)
			rejected++
			continue
		}
		in = append(in, inc)
	}

	s, err := opts.openSession(cmd, opts.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	// The validation consumer runs in the cell process, not here.
	trigger, _ := queue.NewTrigger()
	report, err := workflow.NewIngestor(s.env, trigger, workflow.WithLogger(s.log)).Ingest(ctx, in, from)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "ingest failed", err)
	}

	return f.Success(IngestResult{
		BatchID:   report.BatchID,
		Total:     len(batch.Ops),
		Staged:    report.Staged,
		Duplicate: report.Duplicate,
		Rejected:  report.Rejected + rejected,
	})
}

// LoadOpsFile reads and parses an ops file. Unknown top-level keys are an
// error.
func LoadOpsFile(path string) (*OpsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ops file: %w", err)
	}

	var file OpsFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &file, nil
}

// DhtOps converts the generic YAML ops into typed ops by way of their JSON
// encoding, rejecting unknown fields. Each op decodes independently: the
// ones that fail are left out and reported in bad, one error per op.
func (f *OpsFile) DhtOps() (ops []dhtop.DhtOp, bad []error) {
	ops = make([]dhtop.DhtOp, 0, len(f.Ops))
	for i, raw := range f.Ops {
		op, err := decodeOp(raw)
		if err != nil {
			bad = append(bad, fmt.Errorf("op %d: %w", i, err))
			continue
		}
		ops = append(ops, op)
	}
	return ops, bad
}

func decodeOp(raw any) (dhtop.DhtOp, error) {
	var op dhtop.DhtOp
	data, err := json.Marshal(raw)
	if err != nil {
		return op, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err = dec.Decode(&op)
	return op, err
}
