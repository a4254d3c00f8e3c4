package ribosome

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Guest ABI.
//
// A zome module exports its linear memory, an allocator
//
//	alloc(size u32) -> ptr u32
//
// and one function per zome function
//
//	fn(ptr u32, len u32) -> u64   // (out_ptr << 32) | out_len
//
// It may import from the "dhtstate" host module
//
//	commit_entry(ptr u32, len u32) -> u32   // 0 on success
const (
	hostModule  = "dhtstate"
	allocExport = "alloc"
)

// WasmConfig bounds guest execution.
type WasmConfig struct {
	// MemoryLimitPages caps guest memory in 64KiB pages. Zero keeps the
	// wazero default.
	MemoryLimitPages uint32

	// CallTimeout bounds one zome call. Zero means no limit.
	CallTimeout time.Duration
}

// WasmRibosome runs zomes compiled to WebAssembly with wazero. Modules are
// compiled once at construction and instantiated fresh for every call.
//
// Guests get no filesystem, network, clock or randomness.
type WasmRibosome struct {
	runtime wazero.Runtime
	zomes   map[string]wazero.CompiledModule
	cfg     WasmConfig
	logger  *slog.Logger
}

type hostKey struct{}

// NewWasmRibosome compiles every zome. zomes maps zome name to module
// bytes.
func NewWasmRibosome(ctx context.Context, zomes map[string][]byte, cfg WasmConfig) (*WasmRibosome, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	rb := &WasmRibosome{
		runtime: r,
		zomes:   make(map[string]wazero.CompiledModule, len(zomes)),
		cfg:     cfg,
		logger:  slog.Default(),
	}

	wasi_snapshot_preview1.MustInstantiate(ctx, r)
	_, err := r.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(rb.commitEntry).Export("commit_entry").
		Instantiate(ctx)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasm: host module: %w", err)
	}

	for name, bin := range zomes {
		compiled, err := r.CompileModule(ctx, bin)
		if err != nil {
			_ = r.Close(ctx)
			return nil, fmt.Errorf("wasm: compile zome %q: %w", name, err)
		}
		rb.zomes[name] = compiled
	}
	return rb, nil
}

// CallZomeFunction instantiates the zome, copies the payload into guest
// memory, calls the function and copies its output back.
func (rb *WasmRibosome) CallZomeFunction(ctx context.Context, host HostContext, inv ZomeInvocation) (ZomeResult, error) {
	compiled, ok := rb.zomes[inv.Zome]
	if !ok {
		return ZomeResult{}, fmt.Errorf("%w: %s", ErrZomeFunctionNotFound, inv)
	}
	exports := compiled.ExportedFunctions()
	if _, ok := exports[inv.Function]; !ok {
		return ZomeResult{}, fmt.Errorf("%w: %s", ErrZomeFunctionNotFound, inv)
	}
	if _, ok := exports[allocExport]; !ok {
		return ZomeResult{}, fmt.Errorf("wasm: zome %q does not export %s", inv.Zome, allocExport)
	}

	if rb.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rb.cfg.CallTimeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, hostKey{}, host)

	// Anonymous instances may run concurrently.
	mod, err := rb.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize"))
	if err != nil {
		return ZomeResult{}, fmt.Errorf("wasm: instantiate %s: %w", inv, err)
	}
	defer func() { _ = mod.Close(ctx) }()

	ptr, err := writeGuest(ctx, mod, inv.Payload)
	if err != nil {
		return ZomeResult{}, fmt.Errorf("wasm: %s: %w", inv, err)
	}
	res, err := mod.ExportedFunction(inv.Function).Call(ctx, uint64(ptr), uint64(len(inv.Payload)))
	if err != nil {
		if ctx.Err() != nil {
			return ZomeResult{}, fmt.Errorf("wasm: %s timed out: %w", inv, ctx.Err())
		}
		return ZomeResult{}, fmt.Errorf("wasm: %s: %w", inv, err)
	}
	if len(res) != 1 {
		return ZomeResult{}, fmt.Errorf("wasm: %s returned %d values, want 1", inv, len(res))
	}

	outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
	out, ok := mod.Memory().Read(outPtr, outLen)
	if !ok {
		return ZomeResult{}, fmt.Errorf("wasm: %s output out of bounds", inv)
	}
	return ZomeResult{Output: append([]byte(nil), out...)}, nil
}

func writeGuest(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	res, err := mod.ExportedFunction(allocExport).Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("alloc: %w", err)
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("alloc returned %d values", len(res))
	}
	ptr := uint32(res[0])
	if mod.Memory() == nil || !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("payload out of bounds")
	}
	return ptr, nil
}

// commitEntry backs the guest's commit_entry import.
func (rb *WasmRibosome) commitEntry(ctx context.Context, m api.Module, ptr, size uint32) uint32 {
	host, ok := ctx.Value(hostKey{}).(HostContext)
	if !ok || host.Chain == nil {
		rb.logger.Warn("commit_entry called outside a zome call")
		return 1
	}
	payload, ok := m.Memory().Read(ptr, size)
	if !ok {
		return 1
	}
	if _, err := host.CommitEntry(ctx, dhtop.NewAppEntry(append([]byte(nil), payload...))); err != nil {
		rb.logger.Warn("commit_entry failed", "error", err)
		return 1
	}
	return 0
}

// Close releases the runtime and every compiled zome.
func (rb *WasmRibosome) Close(ctx context.Context) error {
	return rb.runtime.Close(ctx)
}
