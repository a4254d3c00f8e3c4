package workflow

import (
	"context"
	"fmt"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/queue"
	"github.com/roach88/dhtstate/internal/state"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/roach88/dhtstate/internal/workflow"

// Outcome is what ingestion decided for one op.
type Outcome int

const (
	// OutcomeStaged means the op was written to validation limbo.
	OutcomeStaged Outcome = iota
	// OutcomeDuplicate means the op was already known and skipped.
	OutcomeDuplicate
	// OutcomeRejected means the op failed the counterfeit gate and was
	// dropped.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStaged:
		return "staged"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Report counts the outcomes of one committed batch.
type Report struct {
	BatchID   string
	Staged    int
	Duplicate int
	Rejected  int
}

func (r *Report) add(o Outcome) {
	switch o {
	case OutcomeStaged:
		r.Staged++
	case OutcomeDuplicate:
		r.Duplicate++
	case OutcomeRejected:
		r.Rejected++
	}
}

// Ingestor stages incoming ops into validation limbo and wakes the
// validation consumer.
//
// Thread-safety: every call builds its own workspace, so an Ingestor may
// be used from many goroutines. The Env serializes the commits.
type Ingestor struct {
	settings
	env      kv.Env
	trigger  queue.TriggerSender
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewIngestor creates an ingestor that commits to env and fires trigger
// after every batch that staged at least one op.
func NewIngestor(env kv.Env, trigger queue.TriggerSender, opts ...Option) *Ingestor {
	g := &Ingestor{
		settings: newSettings(opts),
		env:      env,
		trigger:  trigger,
		tracer:   otel.Tracer(instrumentationName),
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter("dhtstate.incoming_ops",
		metric.WithDescription("Incoming DHT ops by ingestion outcome"),
		metric.WithUnit("{op}"),
	)
	if err != nil {
		g.logger.Warn("incoming ops counter unavailable", "error", err)
		counter = noop.Int64Counter{}
	}
	g.outcomes = counter
	return g
}

// IncomingDhtOps ingests one batch with a fresh Ingestor.
func IncomingDhtOps(ctx context.Context, env kv.Env, trigger queue.TriggerSender, ops []IncomingOp, from *dhtop.AgentKey, opts ...Option) error {
	_, err := NewIngestor(env, trigger, opts...).Ingest(ctx, ops, from)
	return err
}

// Ingest runs each op through dedup, the counterfeit gate and staging,
// then commits the batch once.
//
// Duplicates and rejections are absorbed: they are logged and counted but
// never returned. Only a storage error fails the call, and then nothing
// from the batch is stored and the trigger does not fire. A batch that
// stages nothing commits nothing and does not fire the trigger.
func (g *Ingestor) Ingest(ctx context.Context, ops []IncomingOp, from *dhtop.AgentKey) (Report, error) {
	report := Report{BatchID: g.ids.Generate()}
	ctx, span := g.tracer.Start(ctx, "workflow.incoming_dht_ops", trace.WithAttributes(
		attribute.String("dhtstate.batch_id", report.BatchID),
		attribute.Int("dhtstate.batch_size", len(ops)),
	))
	defer span.End()

	fail := func(err error) (Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{BatchID: report.BatchID}, err
	}

	ws := NewIncomingDhtOpsWorkspace(g.env)
	for _, in := range ops {
		outcome, err := g.admit(ctx, ws, in, from)
		if err != nil {
			return fail(fmt.Errorf("incoming dht ops: %w", err))
		}
		report.add(outcome)
	}

	if report.Staged == 0 {
		g.logger.Debug("incoming dht ops: nothing to stage",
			"batch_id", report.BatchID,
			"duplicate", report.Duplicate,
			"rejected", report.Rejected,
		)
		g.record(ctx, report)
		return report, nil
	}

	if err := state.Commit(ctx, g.env, ws); err != nil {
		return fail(fmt.Errorf("incoming dht ops: commit: %w", err))
	}
	g.trigger.Trigger()

	g.record(ctx, report)
	g.logger.Debug("incoming dht ops committed",
		"batch_id", report.BatchID,
		"staged", report.Staged,
		"duplicate", report.Duplicate,
		"rejected", report.Rejected,
	)
	return report, nil
}

func (g *Ingestor) admit(ctx context.Context, ws *IncomingDhtOpsWorkspace, in IncomingOp, from *dhtop.AgentKey) (Outcome, error) {
	exists, err := ws.OpExists(ctx, in.Hash)
	if err != nil {
		return 0, err
	}
	if exists {
		g.logger.Debug("skipping known op", "op", in.Hash, "kind", in.Op.Kind)
		return OutcomeDuplicate, nil
	}

	if err := ShouldKeep(ctx, g.verifier, in); err != nil {
		g.logger.Warn("dropping op because it failed counterfeit checks",
			"op", in.Hash,
			"kind", in.Op.Kind,
			"author", in.Op.Header.Author,
			"reason", RejectReasonOf(err),
			"error", err,
		)
		return OutcomeRejected, nil
	}

	if err := ws.AddToPending(ctx, in, from, g.now()); err != nil {
		return 0, err
	}
	return OutcomeStaged, nil
}

func (g *Ingestor) record(ctx context.Context, r Report) {
	for outcome, n := range map[Outcome]int{
		OutcomeStaged:    r.Staged,
		OutcomeDuplicate: r.Duplicate,
		OutcomeRejected:  r.Rejected,
	} {
		if n > 0 {
			g.outcomes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome.String())))
		}
	}
}
