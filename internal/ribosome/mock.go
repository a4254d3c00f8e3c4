package ribosome

import (
	"context"
	"fmt"
	"sync"
)

// ZomeFn is a zome function implemented in Go.
type ZomeFn func(ctx context.Context, host HostContext, payload []byte) ([]byte, error)

// MockRibosome dispatches invocations to registered Go functions and
// records every call.
type MockRibosome struct {
	mu    sync.Mutex
	funcs map[string]ZomeFn
	calls []ZomeInvocation
}

// NewMockRibosome creates an empty mock.
func NewMockRibosome() *MockRibosome {
	return &MockRibosome{funcs: make(map[string]ZomeFn)}
}

// Register installs fn as zome/function.
func (m *MockRibosome) Register(zome, function string, fn ZomeFn) *MockRibosome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[zome+"/"+function] = fn
	return m
}

// Calls returns the invocations received so far.
func (m *MockRibosome) Calls() []ZomeInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ZomeInvocation(nil), m.calls...)
}

func (m *MockRibosome) CallZomeFunction(ctx context.Context, host HostContext, inv ZomeInvocation) (ZomeResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, inv)
	fn, ok := m.funcs[inv.String()]
	m.mu.Unlock()

	if !ok {
		return ZomeResult{}, fmt.Errorf("%w: %s", ErrZomeFunctionNotFound, inv)
	}
	out, err := fn(ctx, host, inv.Payload)
	if err != nil {
		return ZomeResult{}, fmt.Errorf("zome %s: %w", inv, err)
	}
	return ZomeResult{Output: out}, nil
}
