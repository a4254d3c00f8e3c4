package state

import (
	"bytes"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/fixt"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ValidationLimboStatus
		want     bool
	}{
		{LimboPending, LimboAwaitingDeps, true},
		{LimboPending, LimboValid, true},
		{LimboPending, LimboInvalid, true},
		{LimboAwaitingDeps, LimboPending, true},
		{LimboAwaitingDeps, LimboValid, true},
		{LimboAwaitingDeps, LimboInvalid, true},
		{LimboPending, LimboPending, false},
		{LimboValid, LimboPending, false},
		{LimboValid, LimboInvalid, false},
		{LimboInvalid, LimboAwaitingDeps, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
	assert.True(t, LimboValid.IsTerminal())
	assert.False(t, LimboAwaitingDeps.IsTerminal())
}

func TestNewValidationLimboValue(t *testing.T) {
	a := fixt.NewAuthor(0)
	from := fixt.NewAuthor(1).Key
	light, err := fixt.StoreEntryOp(a, 1).Light()
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	v := NewValidationLimboValue(light, now, &from)
	assert.Equal(t, LimboPending, v.Status)
	assert.Equal(t, light.Basis, v.Basis)
	assert.True(t, v.TimeAdded.Equal(now))
	assert.Equal(t, time.UTC, v.TimeAdded.Location())
	assert.Nil(t, v.LastTry)
	assert.Zero(t, v.NumTries)
	require.NotNil(t, v.FromAgent)
	assert.Equal(t, from, *v.FromAgent)

	assert.Nil(t, NewValidationLimboValue(light, now, nil).FromAgent)
}

func TestValidationLimboValue_RetryBookkeeping(t *testing.T) {
	light, err := fixt.ActivityOp(fixt.NewAuthor(0), 1).Light()
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	v := NewValidationLimboValue(light, start, nil)
	require.NoError(t, v.Transition(LimboAwaitingDeps))
	v.RecordTry(start.Add(time.Minute))
	v.RecordTry(start.Add(2 * time.Minute))
	require.NoError(t, v.Transition(LimboPending))

	assert.Equal(t, uint32(2), v.NumTries)
	require.NotNil(t, v.LastTry)
	assert.True(t, v.LastTry.Equal(start.Add(2*time.Minute)))

	require.NoError(t, v.Transition(LimboValid))
	assert.ErrorIs(t, v.Transition(LimboPending), ErrInvalidTransition)
}

func TestPromoteToIntegrationLimbo(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	op := fixt.StoreEntryOp(fixt.NewAuthor(0), 1)
	hash := op.MustHash()
	light, err := op.Light()
	require.NoError(t, err)

	vl := NewValidationLimboStore(env)
	require.NoError(t, vl.Put(hash, NewValidationLimboValue(light, time.Now(), nil)))
	require.NoError(t, Commit(ctx, env, vl))

	// Not yet validated
	vl, il := NewValidationLimboStore(env), NewIntegrationLimboStore(env)
	assert.ErrorIs(t, PromoteToIntegrationLimbo(ctx, vl, il, hash), ErrInvalidTransition)

	v, ok, err := vl.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, v.Transition(LimboValid))
	require.NoError(t, vl.Put(hash, v))
	require.NoError(t, PromoteToIntegrationLimbo(ctx, vl, il, hash))
	require.NoError(t, Commit(ctx, env, wsFunc(func(ctx context.Context, w kv.Writer) error {
		return FlushInOrder(ctx, w, vl, il)
	})))

	inVL, err := NewValidationLimboStore(env).Contains(ctx, hash)
	require.NoError(t, err)
	assert.False(t, inVL)

	got, ok, err := NewIntegrationLimboStore(env).Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, IntegrationValid, got.ValidationStatus)
	assert.Equal(t, light, got.Op)

	assert.ErrorIs(t, PromoteToIntegrationLimbo(ctx, NewValidationLimboStore(env), NewIntegrationLimboStore(env), hash), ErrNotInLimbo)
}

func TestOpStore_StagedAndIterate(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)

	store := NewIntegratedDhtOpsStore(env)
	var want []dhtop.Hash
	for seq := uint32(1); seq <= 3; seq++ {
		op := fixt.ActivityOp(a, seq)
		light, err := op.Light()
		require.NoError(t, err)
		require.NoError(t, store.Put(op.MustHash(), IntegratedDhtOpsValue{
			ValidationStatus: IntegrationValid,
			Op:               light,
			WhenIntegrated:   time.Unix(int64(seq), 0).UTC(),
		}))
		want = append(want, op.MustHash())
	}
	slices.SortFunc(want, func(x, y dhtop.Hash) int { return bytes.Compare(x[:], y[:]) })
	assert.Equal(t, want, store.Staged())

	store.Discard(want[0])
	var got []dhtop.Hash
	for rec, err := range store.Iterate(ctx) {
		require.NoError(t, err)
		got = append(got, rec.Hash)
	}
	assert.Equal(t, want[1:], got)
}
