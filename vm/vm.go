package vm

import (
	"context"
	"fmt"
	"os"
)

// VM is the top-level bytecode interpreter: the operand/frame stack, the
// inline-cache table, the output-ignore side-structure, the profiler, and
// the host services it calls out to.
type VM struct {
	Config Config

	stack   *Stack
	ignore  *outputIgnoreStack
	caches  map[cacheKey]*inlineCache
	globals *globalTable
	persist *persistentStore

	Evaluator Evaluator
	Debug     DebugHooks
	Signals   SignalSource

	Profiler *Profiler

	// pendingNargout holds an EXT_NARGOUT override for the next CALL, or -1
	// when no override is pending.
	pendingNargout int

	// debugEnabled gates the BeforeInstruction hook check in the dispatch
	// loop's hot path so a nil Debug costs one branch, not a call.
	debugEnabled bool

	// TraceWriter, when non-nil, receives one line per dispatched
	// instruction, gated behind -v the way the teacher's CLI gates
	// fmt.Fprintf diagnostics on a verbose flag rather than a logging
	// library.
	TraceWriter *os.File
}

// New constructs a VM with cfg's profiler and stack tuning applied.
// cfg.Specialize.MegamorphicThreshold is not consulted: inline caches use the
// megamorphicThreshold constant. The persistent-variable store stays nil
// until EnablePersistence is called.
func New(cfg Config, ev Evaluator) *VM {
	vm := &VM{
		Config:  cfg,
		stack:   NewStack(),
		ignore:  newOutputIgnoreStack(),
		caches:  make(map[cacheKey]*inlineCache),
		globals: newGlobalTable(),
		Evaluator: ev,
		Signals: noopSignalSource{},
		Profiler: NewProfiler(),
		pendingNargout: -1,
	}
	if cfg.Stack.InitialCapacity > 0 {
		vm.stack.values = make([]Value, cfg.Stack.InitialCapacity)
	}
	if cfg.Profiler.Enabled {
		vm.Profiler.Enable()
	}
	if cfg.Profiler.SampleInterval > 0 {
		vm.Profiler.SampleInterval = cfg.Profiler.SampleInterval
	}
	if cfg.Profiler.HotThreshold > 0 {
		vm.Profiler.HotThreshold = cfg.Profiler.HotThreshold
	}
	return vm
}

// EnablePersistence wires a sqlite-backed persistent-variable store using
// codec to marshal Values. Call before running any chunk that uses
// `persistent` declarations.
func (vm *VM) EnablePersistence(dbPath string, codec ValueCodec) error {
	if vm.Config.Persistence.SQLitePath == "" {
		vm.Config.Persistence.SQLitePath = dbPath
	}
	store, err := openPersistentStore(dbPath, codec)
	if err != nil {
		return err
	}
	vm.persist = store
	return nil
}

// SetDebugHooks installs h and enables the BeforeInstruction checkpoint in
// the dispatch loop.
func (vm *VM) SetDebugHooks(h DebugHooks) {
	vm.Debug = h
	vm.debugEnabled = h != nil
}

// Run executes chunk's entry function to completion, returning up to
// nargout results. It is the VM-internal-error-safe entry point: an
// uncaught VMError becomes a returned Go error rather than a panic: only
// programmer-error invariant violations (stack underflow from malformed
// bytecode, etc.) propagate as panics, matching spec §9's "no host
// exceptions for VM-internal control flow" while still surfacing
// impossible states loudly.
func (vm *VM) Run(ctx context.Context, chunk *Chunk, args []Value, nargout int) (results []Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ve, ok := r.(*VMError); ok {
				err = ve
				return
			}
			panic(r)
		}
	}()
	return vm.call(ctx, chunk.Entry, args, nargout)
}

// trace writes a formatted line to TraceWriter if tracing is enabled.
func (vm *VM) trace(format string, args ...interface{}) {
	if vm.TraceWriter == nil {
		return
	}
	fmt.Fprintf(vm.TraceWriter, format+"\n", args...)
}

func openPersistentStore(path string, codec ValueCodec) (*persistentStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	return newPersistentStore(db, codec)
}
