package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/state"
)

// IncomingOp is an op received from a peer together with the hash the peer
// claims for it.
type IncomingOp struct {
	Hash dhtop.Hash
	Op   dhtop.DhtOp
}

// NewIncomingOp pairs op with its computed hash.
func NewIncomingOp(op dhtop.DhtOp) (IncomingOp, error) {
	hash, err := op.Hash()
	if err != nil {
		return IncomingOp{}, err
	}
	return IncomingOp{Hash: hash, Op: op}, nil
}

// IncomingDhtOpsWorkspace holds the buffers one ingestion batch writes to,
// plus the downstream stores it reads for dedup.
type IncomingDhtOpsWorkspace struct {
	ValidationLimbo  *state.ValidationLimboStore
	IntegrationLimbo *state.IntegrationLimboStore
	IntegratedDhtOps *state.IntegratedDhtOpsStore
	ElementPending   *state.ElementBuf
	MetaPending      *state.MetadataBuf
	MetaVault        *state.MetadataBuf
}

var _ state.Workspace = (*IncomingDhtOpsWorkspace)(nil)

// NewIncomingDhtOpsWorkspace creates fresh buffers over r.
func NewIncomingDhtOpsWorkspace(r kv.Reader) *IncomingDhtOpsWorkspace {
	return &IncomingDhtOpsWorkspace{
		ValidationLimbo:  state.NewValidationLimboStore(r),
		IntegrationLimbo: state.NewIntegrationLimboStore(r),
		IntegratedDhtOps: state.NewIntegratedDhtOpsStore(r),
		ElementPending:   state.NewElementPending(r),
		MetaPending:      state.NewMetadataBuf(r, state.MetaPending),
		MetaVault:        state.NewMetadataBuf(r, state.MetaVault),
	}
}

// OpExists reports whether hash is integrated, in integration limbo or in
// validation limbo. Ops staged earlier in the same batch count.
func (ws *IncomingDhtOpsWorkspace) OpExists(ctx context.Context, hash dhtop.Hash) (bool, error) {
	return anyContains(ctx, hash,
		ws.IntegratedDhtOps.Contains,
		ws.IntegrationLimbo.Contains,
		ws.ValidationLimbo.Contains,
	)
}

func anyContains(ctx context.Context, hash dhtop.Hash, checks ...func(context.Context, dhtop.Hash) (bool, error)) (bool, error) {
	for _, contains := range checks {
		ok, err := contains(ctx, hash)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// AddToPending stages an op that passed the counterfeit gate: its element
// into pending element storage, its light form into pending metadata, the
// author's activity if it records chain activity, and a pending validation
// limbo record.
func (ws *IncomingDhtOpsWorkspace) AddToPending(ctx context.Context, in IncomingOp, from *dhtop.AgentKey, now time.Time) error {
	light, err := in.Op.Light()
	if err != nil {
		return fmt.Errorf("add %s to pending: %w", in.Hash, err)
	}

	if in.Op.Kind == dhtop.OpRegisterAgentActivity {
		h := in.Op.Header
		if _, err := ws.MetaVault.RegisterActivityObserved(ctx, h.Author, h.Seq, light.HeaderHash); err != nil {
			return fmt.Errorf("register activity %s: %w", h.Author, err)
		}
	}

	sh := state.SignedHeader{Header: in.Op.Header, Signature: in.Op.Signature}
	if _, err := ws.ElementPending.PutElement(sh, in.Op.Entry); err != nil {
		return fmt.Errorf("add %s to pending: %w", in.Hash, err)
	}
	if err := ws.MetaPending.RegisterOp(light); err != nil {
		return fmt.Errorf("add %s to pending: %w", in.Hash, err)
	}
	if err := ws.ValidationLimbo.Put(in.Hash, state.NewValidationLimboValue(light, now, from)); err != nil {
		return fmt.Errorf("add %s to pending: %w", in.Hash, err)
	}
	return nil
}

// FlushToTxn flushes validation limbo, pending elements, pending metadata
// and vault metadata, in that order.
//
// Before flushing it re-runs dedup against w: a staged limbo record whose
// hash another batch committed since OpExists ran is dropped, and staged
// activity is merged with whatever w holds now. Element and metadata
// writes are content-addressed and stay as they are.
func (ws *IncomingDhtOpsWorkspace) FlushToTxn(ctx context.Context, w kv.Writer) error {
	committed := NewIncomingDhtOpsWorkspace(w)
	for _, hash := range ws.ValidationLimbo.Staged() {
		exists, err := committed.OpExists(ctx, hash)
		if err != nil {
			return fmt.Errorf("recheck %s: %w", hash, err)
		}
		if exists {
			ws.ValidationLimbo.Discard(hash)
		}
	}
	if err := ws.MetaVault.ReconcileActivity(ctx, w); err != nil {
		return fmt.Errorf("reconcile activity: %w", err)
	}

	return state.FlushInOrder(ctx, w,
		ws.ValidationLimbo,
		ws.ElementPending,
		ws.MetaPending,
		ws.MetaVault,
	)
}
