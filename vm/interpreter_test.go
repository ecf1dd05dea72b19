package vm

import (
	"context"
	"testing"
)

type stubEvaluator struct {
	functions map[string]*Function
	builtins  map[string]func(args []Value) ([]Value, error)
}

func newStubEvaluator() *stubEvaluator {
	return &stubEvaluator{functions: map[string]*Function{}, builtins: map[string]func(args []Value) ([]Value, error){}}
}

func (e *stubEvaluator) CallNonBytecode(ctx context.Context, name string, args []Value, nargout int) ([]Value, error) {
	fn, ok := e.builtins[name]
	if !ok {
		return nil, newError(IDUndefined, "'%s' undefined", name)
	}
	return fn(args)
}

func (e *stubEvaluator) LookupFunction(name string) (*Function, bool) {
	fn, ok := e.functions[name]
	return fn, ok
}

func (e *stubEvaluator) ResolveIdentifier(name string) (Value, bool) { return Undefined, false }

// buildAddOneFunction assembles: function r = f(x); r = x + 1; end
func buildAddOneFunction() *Function {
	b := NewBytecodeBuilder()
	b.EmitSlot(OpPushSlotNargout1, 0) // push x
	b.Emit(OpPushDbl1)
	b.Emit(OpAdd)
	b.EmitSlot(OpAssignN, 1) // store into local 1 (the return slot)
	b.EmitSlot(OpPushSlotNargout1, 1)
	b.Emit(OpRet)

	return &Function{
		Name:   "addone",
		Layout: FrameLayout{NumArgs: 1, NumLocals: 2, NumReturns: 1},
		Code:   b.Bytes(),
		Names:  []string{"x", "r"},
	}
}

func TestInterpreterRunsScalarArithmeticAndSpecializes(t *testing.T) {
	fn := buildAddOneFunction()
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	chunk := NewChunk(fn)

	for i := 0; i < 3; i++ {
		results, err := vm.Run(context.Background(), chunk, []Value{NewScalarDouble(float64(i))}, 1)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		if len(results) != 1 {
			t.Fatalf("run %d: got %d results, want 1", i, len(results))
		}
		got, ok := results[0].DoubleValue()
		if !ok || got != float64(i)+1 {
			t.Errorf("run %d: result = %v, want %v", i, results[0], float64(i)+1)
		}
	}

	// After repeated monomorphic hits, ADD at the call site should have
	// self-rewritten to ADD_DBL (spec §4.3 inline-cache specialization).
	r := NewBytecodeReader(fn.Code)
	r.ReadOpcode() // PUSH_SLOT_NARGOUT1
	r.ReadSlot(false)
	r.ReadOpcode() // PUSH_DBL_1
	addIP := r.Position()
	if fn.Code[addIP] != byte(OpAddDbl) {
		t.Errorf("opcode at ADD site = %#x, want ADD_DBL after monomorphic warmup", fn.Code[addIP])
	}
}

func TestInterpreterDeoptimizesOnTypeMismatch(t *testing.T) {
	fn := buildAddOneFunction()
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	chunk := NewChunk(fn)

	if _, err := vm.Run(context.Background(), chunk, []Value{NewScalarDouble(1)}, 1); err != nil {
		t.Fatalf("warmup run failed: %v", err)
	}

	// Second call with a non-scalar-double argument should still produce a
	// type error through the generic path rather than corrupting the stack,
	// since matrixLiteral.BinaryOp only handles elementwise ops against
	// another matrixLiteral of equal size, not a bare scalar rhs mismatch
	// here triggers the "nonconformant" error.
	m := newMatrixLiteral(1, 2, []Value{NewScalarDouble(1), NewScalarDouble(2)})
	_, err := vm.Run(context.Background(), chunk, []Value{m}, 1)
	if err == nil {
		t.Fatal("expected an error mixing a 2-element matrix into the scalar add site")
	}
}

func TestOutputIgnoreMaskSkipsTildePositions(t *testing.T) {
	mask := newIgnoreMask(2)
	mask.set(0)
	stack := newOutputIgnoreStack()
	stack.Push(mask)

	if stack.ShouldBind(0) {
		t.Error("position 0 was marked ignored, ShouldBind should be false")
	}
	if !stack.ShouldBind(1) {
		t.Error("position 1 was not marked ignored, ShouldBind should be true")
	}
	stack.Pop()
	if !stack.ShouldBind(0) {
		t.Error("after Pop, no mask is active, every position should bind")
	}
}

// buildSumLoopFunction assembles: function r = sumall(v); r = 0; for x = v; r = r + x; end; end
func buildSumLoopFunction() *Function {
	b := NewBytecodeBuilder()
	b.Emit(OpPushDbl0)
	b.EmitSlot(OpAssignN, 1) // r = 0

	b.EmitSlot(OpPushSlotNargout1, 0) // push v (the collection FOR_SETUP iterates)
	b.Emit(OpForSetup)

	forCondPos := b.Len()
	b.Emit(OpForCond)
	b.EmitRaw(2) // bind loop var into slot 2 (x)
	relOperandPos := b.Len()
	b.EmitRaw(0)
	b.EmitRaw(0) // placeholder rel, patched below

	b.EmitSlot(OpPushSlotNargout1, 1) // push r
	b.EmitSlot(OpPushSlotNargout1, 2) // push x
	b.Emit(OpAdd)
	b.EmitSlot(OpAssignN, 1) // r = r + x

	backJumpOperandPos := b.Len() + 1
	b.Emit(OpJmp)
	b.EmitRaw(0)
	b.EmitRaw(0) // placeholder, patched below

	loopEndPos := b.Len()
	b.EmitSlot(OpPushSlotNargout1, 1) // push r
	b.Emit(OpRet)

	code := b.Bytes()
	exitRel := int16(loopEndPos - (relOperandPos + 2))
	code[relOperandPos] = byte(uint16(exitRel))
	code[relOperandPos+1] = byte(uint16(exitRel) >> 8)
	backRel := int16(forCondPos - (backJumpOperandPos + 2))
	code[backJumpOperandPos] = byte(uint16(backRel))
	code[backJumpOperandPos+1] = byte(uint16(backRel) >> 8)

	return &Function{
		Name:   "sumall",
		Layout: FrameLayout{NumArgs: 1, NumLocals: 3, NumReturns: 1},
		Code:   code,
		Names:  []string{"v", "r", "x"},
	}
}

func TestForLoopSumsMatrixElements(t *testing.T) {
	fn := buildSumLoopFunction()
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	chunk := NewChunk(fn)

	v := newMatrixLiteral(1, 3, []Value{NewScalarDouble(1), NewScalarDouble(2), NewScalarDouble(3)})
	results, err := vm.Run(context.Background(), chunk, []Value{v}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := results[0].DoubleValue()
	if !ok || got != 6 {
		t.Errorf("sumall([1 2 3]) = %v, want 6", results[0])
	}
}

func TestForLoopOverEmptyMatrixNeverBindsLoopVar(t *testing.T) {
	fn := buildSumLoopFunction()
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	chunk := NewChunk(fn)

	empty := newMatrixLiteral(1, 0, nil)
	results, err := vm.Run(context.Background(), chunk, []Value{empty}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := results[0].DoubleValue()
	if !ok || got != 0 {
		t.Errorf("sumall([]) = %v, want 0 (loop body never executes)", results[0])
	}
}

// buildCountLoopFunction assembles: function r = countall(v); r = 0; for x = v; r = r + 1; end; end
// It ignores the bound loop value and only counts iterations, isolating
// FOR_SETUP/FOR_COND's column-count arithmetic from BinaryOp's own type
// dispatch (which the column-shaped loop value would otherwise exercise).
func buildCountLoopFunction() *Function {
	b := NewBytecodeBuilder()
	b.Emit(OpPushDbl0)
	b.EmitSlot(OpAssignN, 1) // r = 0

	b.EmitSlot(OpPushSlotNargout1, 0) // push v
	b.Emit(OpForSetup)

	forCondPos := b.Len()
	b.Emit(OpForCond)
	b.EmitRaw(2) // bind loop var into slot 2 (x, unused)
	relOperandPos := b.Len()
	b.EmitRaw(0)
	b.EmitRaw(0)

	b.EmitSlot(OpPushSlotNargout1, 1) // push r
	b.Emit(OpPushDbl1)
	b.Emit(OpAdd)
	b.EmitSlot(OpAssignN, 1) // r = r + 1

	backJumpOperandPos := b.Len() + 1
	b.Emit(OpJmp)
	b.EmitRaw(0)
	b.EmitRaw(0)

	loopEndPos := b.Len()
	b.EmitSlot(OpPushSlotNargout1, 1)
	b.Emit(OpRet)

	code := b.Bytes()
	exitRel := int16(loopEndPos - (relOperandPos + 2))
	code[relOperandPos] = byte(uint16(exitRel))
	code[relOperandPos+1] = byte(uint16(exitRel) >> 8)
	backRel := int16(forCondPos - (backJumpOperandPos + 2))
	code[backJumpOperandPos] = byte(uint16(backRel))
	code[backJumpOperandPos+1] = byte(uint16(backRel) >> 8)

	return &Function{
		Name:   "countall",
		Layout: FrameLayout{NumArgs: 1, NumLocals: 3, NumReturns: 1},
		Code:   code,
		Names:  []string{"v", "r", "x"},
	}
}

func runCountLoop(t *testing.T, v Value) float64 {
	t.Helper()
	fn := buildCountLoopFunction()
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	results, err := vm.Run(context.Background(), NewChunk(fn), []Value{v}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := results[0].DoubleValue()
	if !ok {
		t.Fatalf("countall result %v is not numeric", results[0])
	}
	return got
}

func TestForLoopCountsColumnsNotElementsForMultiRowMatrix(t *testing.T) {
	// 2x2 matrix: 4 elements but only 2 columns. Column-wise iteration must
	// run twice, not four times.
	m := newMatrixLiteral(2, 2, []Value{
		NewScalarDouble(1), NewScalarDouble(2),
		NewScalarDouble(3), NewScalarDouble(4),
	})
	if got := runCountLoop(t, m); got != 2 {
		t.Errorf("countall(2x2 matrix) = %v, want 2 (column count, not element count)", got)
	}
}

func TestForLoopOverCellIteratesPerColumn(t *testing.T) {
	c := newCellLiteral(2, 2, []Value{
		NewScalarDouble(1), NewScalarDouble(2),
		NewScalarDouble(3), NewScalarDouble(4),
	})
	if got := runCountLoop(t, c); got != 2 {
		t.Errorf("countall(2x2 cell) = %v, want 2 (column count)", got)
	}
}

func TestForLoopOverZeroRowCellNeverIterates(t *testing.T) {
	c := newCellLiteral(0, 3, nil)
	if got := runCountLoop(t, c); got != 0 {
		t.Errorf("countall(0x3 cell) = %v, want 0 iterations despite a nonzero column count", got)
	}
}

func TestForColumnAtExtractsWholeColumnFromMultiRowMatrix(t *testing.T) {
	m := newMatrixLiteral(2, 2, []Value{
		NewScalarDouble(1), NewScalarDouble(2),
		NewScalarDouble(3), NewScalarDouble(4),
	})
	col := forColumnAt(m, 0).(*matrixLiteral)
	if col.rows != 2 || col.cols != 1 {
		t.Fatalf("column shape = %dx%d, want 2x1", col.rows, col.cols)
	}
	first, _ := col.elems[0].DoubleValue()
	second, _ := col.elems[1].DoubleValue()
	if first != 1 || second != 3 {
		t.Errorf("column 0 = [%v %v], want [1 3]", first, second)
	}
}

// buildStructForLoopFunction assembles: function [vals, keys] = walk(s);
// vals = {}; keys = {}; for [v, k] = s; vals{end+1} = v; keys{end+1} = k; end
// simplified to appending via APPEND_CELL each iteration.
func buildStructForLoopFunction() *Function {
	b := NewBytecodeBuilder()
	b.EmitByte(OpPushCell, 0) // nRows=0
	b.EmitRaw(0)              // nCols=0 -> empty cell literal
	b.EmitSlot(OpAssignN, 1)  // vals = {}
	b.EmitByte(OpPushCell, 0)
	b.EmitRaw(0)
	b.EmitSlot(OpAssignN, 2) // keys = {}

	b.EmitSlot(OpPushSlotNargout1, 0) // push s
	b.Emit(OpForComplexSetup)

	setupCondPos := b.Len()
	b.Emit(OpForComplexCond)
	b.EmitRaw(3) // val slot
	b.EmitRaw(4) // key slot
	relOperandPos := b.Len()
	b.EmitRaw(0)
	b.EmitRaw(0)

	b.EmitSlot(OpPushSlotNargout1, 1) // push vals
	b.EmitSlot(OpPushSlotNargout1, 3) // push v
	b.EmitByte(OpAppendCell, 1)
	b.EmitSlot(OpAssignN, 1) // vals = append(vals, v)

	b.EmitSlot(OpPushSlotNargout1, 2) // push keys
	b.EmitSlot(OpPushSlotNargout1, 4) // push k
	b.EmitByte(OpAppendCell, 1)
	b.EmitSlot(OpAssignN, 2) // keys = append(keys, k)

	backJumpOperandPos := b.Len() + 1
	b.Emit(OpJmp)
	b.EmitRaw(0)
	b.EmitRaw(0)

	loopEndPos := b.Len()
	b.EmitSlot(OpPushSlotNargout1, 1) // push vals
	b.EmitSlot(OpPushSlotNargout1, 2) // push keys
	b.Emit(OpRet)

	code := b.Bytes()
	exitRel := int16(loopEndPos - (relOperandPos + 2))
	code[relOperandPos] = byte(uint16(exitRel))
	code[relOperandPos+1] = byte(uint16(exitRel) >> 8)
	backRel := int16(setupCondPos - (backJumpOperandPos + 2))
	code[backJumpOperandPos] = byte(uint16(backRel))
	code[backJumpOperandPos+1] = byte(uint16(backRel) >> 8)

	return &Function{
		Name:   "walk",
		Layout: FrameLayout{NumArgs: 1, NumLocals: 5, NumReturns: 2},
		Code:   code,
		Names:  []string{"s", "vals", "keys", "v", "k"},
	}
}

func TestForComplexLoopBindsFieldValuesAndNames(t *testing.T) {
	fn := buildStructForLoopFunction()
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)

	s := newStructLiteral()
	s.set("a", NewScalarDouble(10))
	s.set("b", NewScalarDouble(20))

	results, err := vm.Run(context.Background(), NewChunk(fn), []Value{s}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vals := results[0].(*cellLiteral)
	keys := results[1].(*cellLiteral)
	if len(vals.elems) != 2 || len(keys.elems) != 2 {
		t.Fatalf("got %d values and %d keys, want 2 and 2", len(vals.elems), len(keys.elems))
	}
	v0, _ := vals.elems[0].DoubleValue()
	v1, _ := vals.elems[1].DoubleValue()
	if v0 != 10 || v1 != 20 {
		t.Errorf("values = [%v %v], want [10 20] in field insertion order", v0, v1)
	}
	k0, _ := fieldName(keys.elems[0])
	k1, _ := fieldName(keys.elems[1])
	if k0 != "a" || k1 != "b" {
		t.Errorf("keys = [%v %v], want [a b]", k0, k1)
	}
}

func TestForComplexSetupOnUndefinedIteratesZeroTimes(t *testing.T) {
	fn := buildStructForLoopFunction()
	// PUSH_SLOT_NARGOUT1 raises an undefined-identifier error for an unbound
	// slot, so feed FOR_COMPLEX_SETUP its undefined operand with PUSH_NIL
	// instead (padded with NOP to keep every jump offset unchanged).
	const pushSOffset = 10 // after two 3-byte PUSH_CELL + 2-byte ASSIGNN pairs
	fn.Code[pushSOffset] = byte(OpPushNil)
	fn.Code[pushSOffset+1] = byte(OpNOP)
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)

	results, err := vm.Run(context.Background(), NewChunk(fn), []Value{Undefined}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vals := results[0].(*cellLiteral)
	keys := results[1].(*cellLiteral)
	if len(vals.elems) != 0 || len(keys.elems) != 0 {
		t.Errorf("expected zero iterations over an undefined struct, got %d/%d", len(vals.elems), len(keys.elems))
	}
}

func TestForComplexSetupOnNonStructErrors(t *testing.T) {
	fn := buildStructForLoopFunction()
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)

	_, err := vm.Run(context.Background(), NewChunk(fn), []Value{NewScalarDouble(5)}, 2)
	if err == nil {
		t.Fatal("expected an error iterating for [v, k] = 5 (not a structure)")
	}
}

func TestCallPacksTrailingArgsIntoVarargin(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitSlot(OpPushSlotNargout1, 0) // push varargin cell
	b.Emit(OpRet)

	fn := &Function{
		Name:     "vtest",
		Layout:   FrameLayout{NumArgs: 1, NumLocals: 1, NumReturns: 1},
		IsVararg: true,
		Code:     b.Bytes(),
		Names:    []string{"varargin"},
	}
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	results, err := vm.call(context.Background(), fn,
		[]Value{NewScalarDouble(1), NewScalarDouble(2), NewScalarDouble(3)}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cell, ok := results[0].(*cellLiteral)
	if !ok {
		t.Fatalf("varargin local = %T, want *cellLiteral", results[0])
	}
	if len(cell.elems) != 3 {
		t.Fatalf("packed varargin has %d elements, want 3", len(cell.elems))
	}
	v, _ := cell.elems[2].DoubleValue()
	if v != 3 {
		t.Errorf("varargin{3} = %v, want 3", v)
	}
}

func TestExecReturnUnpacksVarargoutToRequestedCount(t *testing.T) {
	fn := &Function{Name: "vouttest", IsVarargOut: true}
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	frame := &Frame{Function: fn, Nargout: 2}
	vm.stack.Push(newCellLiteral(1, 3, []Value{NewScalarDouble(1), NewScalarDouble(2), NewScalarDouble(3)}))

	results := vm.execReturn(frame)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (nargout honored, trailing varargout element dropped)", len(results))
	}
	got, _ := results[1].DoubleValue()
	if got != 2 {
		t.Errorf("results[1] = %v, want 2", got)
	}
}

func TestSubassignChainedAutoVivifiesNestedStructs(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpPushDbl2) // rhs = 2
	b.Emit(OpSubassignChained)
	b.EmitRaw(0) // slot = 0 ("a")
	b.EmitRaw(2) // nchained = 2
	b.EmitRaw('.')
	b.EmitRaw(0)
	b.EmitRaw(0) // level0: field "b" (name index 0)
	b.EmitRaw('.')
	b.EmitRaw(1)
	b.EmitRaw(0) // level1: field "c" (name index 1)
	b.Emit(OpPOP)                      // discard the chained-assignment's echoed rhs
	b.EmitSlot(OpPushSlotNargout1, 0) // push the struct itself
	b.Emit(OpRet)

	fn := &Function{
		Name:   "chaintest",
		Layout: FrameLayout{NumArgs: 0, NumLocals: 1, NumReturns: 1},
		Code:   b.Bytes(),
		Names:  []string{"b", "c"},
	}
	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	results, err := vm.Run(context.Background(), NewChunk(fn), nil, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, ok := results[0].(*structLiteral)
	if !ok {
		t.Fatalf("a = %T, want *structLiteral", results[0])
	}
	bv, ok := a.get("b")
	if !ok {
		t.Fatal("a.b was never created")
	}
	bs, ok := bv.(*structLiteral)
	if !ok {
		t.Fatalf("a.b = %T, want *structLiteral", bv)
	}
	cv, ok := bs.get("c")
	if !ok {
		t.Fatal("a.b.c was never created")
	}
	got, ok := cv.DoubleValue()
	if !ok || got != 2 {
		t.Errorf("a.b.c = %v, want 2", cv)
	}
}

func TestCallDispatchesToBytecodeFunction(t *testing.T) {
	callee := buildAddOneFunction()
	ev := newStubEvaluator()
	ev.functions["addone"] = callee

	caller := &Function{
		Name:   "caller",
		Layout: FrameLayout{NumArgs: 0, NumLocals: 1, NumReturns: 1},
		Names:  []string{"addone", "out"},
	}
	b := NewBytecodeBuilder()
	b.Emit(OpPushDbl2)
	b.EmitUint16(OpCall, 0) // name index 0 = "addone"
	b.EmitRaw(1)            // nargs
	b.EmitRaw(1)             // nargout
	b.EmitSlot(OpAssignN, 0)
	b.EmitSlot(OpPushSlotNargout1, 0)
	b.Emit(OpRet)
	caller.Code = b.Bytes()

	vm := New(DefaultConfig(), ev)
	chunk := NewChunk(caller)
	results, err := vm.Run(context.Background(), chunk, nil, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := results[0].DoubleValue()
	if got != 3 {
		t.Errorf("caller(2) via addone = %v, want 3", got)
	}
}
