package state

import (
	"context"
	"testing"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/fixt"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingWorkspace stages into the element and metadata buffers.
type pendingWorkspace struct {
	elements *ElementBuf
	meta     *MetadataBuf
}

func (ws *pendingWorkspace) FlushToTxn(ctx context.Context, w kv.Writer) error {
	return FlushInOrder(ctx, w, ws.elements, ws.meta)
}

func TestCommit_MetadataFailureLeavesNoElements(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)
	a := fixt.NewAuthor(0)

	ws := &pendingWorkspace{
		elements: NewElementPending(env),
		meta:     NewMetadataBuf(env, MetaPending),
	}
	var headers []dhtop.Hash
	for _, seq := range []uint32{1, 2} {
		dht := fixt.StoreEntryOp(a, seq)
		hash, err := ws.elements.PutElement(SignedHeader{Header: dht.Header, Signature: dht.Signature}, dht.Entry)
		require.NoError(t, err)
		light, err := dht.Light()
		require.NoError(t, err)
		require.NoError(t, ws.meta.RegisterOp(light))
		headers = append(headers, hash)
	}

	err := Commit(ctx, failingEnv{Env: env, failOn: PartMetaPendingOps}, ws)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.True(t, kv.IsStorageError(err))

	fresh := NewElementPending(env)
	for _, h := range headers {
		ok, err := fresh.ContainsHeader(ctx, h)
		require.NoError(t, err)
		assert.False(t, ok, "element write must roll back with the metadata failure")
	}
}

func TestCommit_Twice(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)

	vl := NewValidationLimboStore(env)
	require.NoError(t, Commit(ctx, env, vl))
	assert.ErrorIs(t, Commit(ctx, env, vl), kv.ErrFlushed)
}

func TestFlushInOrder_StopsAtFirstError(t *testing.T) {
	ctx := context.Background()
	var calls []string
	mk := func(name string, err error) Flusher {
		return wsFunc(func(context.Context, kv.Writer) error {
			calls = append(calls, name)
			return err
		})
	}

	err := FlushInOrder(ctx, nil, mk("a", nil), mk("b", errInjected), mk("c", nil))
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, []string{"a", "b"}, calls)
}
