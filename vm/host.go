package vm

import "context"

// Evaluator is the host service the VM calls into for anything outside its
// own capability set: non-bytecode function calls (builtins still
// implemented in the tree-walking evaluator), symbol lookup fallback, and
// the handful of operations spec §6.2 assigns to "tree evaluator" rather
// than the VM itself.
type Evaluator interface {
	// CallNonBytecode invokes a function that has no compiled Chunk (a
	// builtin, or a user function bytecode-compilation was disabled for),
	// returning up to nargout result Values.
	CallNonBytecode(ctx context.Context, name string, args []Value, nargout int) ([]Value, error)

	// LookupFunction resolves name to a callable Function, or reports
	// false if it is not bytecode-compiled (the FN_LOOKUP branch of the
	// four-way dispatch classification falls back to CallNonBytecode).
	LookupFunction(name string) (*Function, bool)

	// ResolveIdentifier reports whether name resolves to a host value. The
	// dispatch loop does not call it: reading an unbound slot raises an
	// IDUndefined error directly.
	ResolveIdentifier(name string) (Value, bool)
}

// DebugHooks lets a host debugger observe VM execution without the VM
// depending on any concrete debugger implementation (spec §1: the
// debugger is an external collaborator). A nil DebugHooks disables all hook
// points.
type DebugHooks interface {
	// BeforeInstruction is called before decoding the instruction at ip in
	// fn, whenever the VM's debug-enable flag is set. Its pause result is
	// accepted but ignored: the dispatch loop continues immediately.
	BeforeInstruction(fn *Function, ip int) (pause bool)

	// OnError is called when a VMError is about to propagate through the
	// unwind machinery, before any handler search happens.
	OnError(err *VMError, fn *Function, ip int)

	// OnCall and OnReturn mirror the profiler's shadow-stack hooks for a
	// debugger's own call-stack view. The VM's call path does not invoke
	// them; only BeforeInstruction and OnError are called.
	OnCall(fn *Function, args []Value)
	OnReturn(fn *Function, results []Value)
}

// SignalSource lets the host deliver asynchronous interrupts (Ctrl-C,
// SIGINT-equivalent) into the dispatch loop without the VM importing an OS
// signal package directly.
type SignalSource interface {
	// Pending reports whether an interrupt is waiting to be delivered. The
	// dispatch loop polls this before every instruction, translating a true
	// result into an InterruptExc VMError.
	Pending() bool

	// Clear acknowledges a delivered interrupt.
	Clear()
}

// noopSignalSource is the default SignalSource when a host does not wire
// one in, so the dispatch loop's polling has something to call.
type noopSignalSource struct{}

func (noopSignalSource) Pending() bool { return false }
func (noopSignalSource) Clear()        {}
