package vm

import (
	"context"
	"fmt"
)

// call pushes a new frame for fn, binds args into its locals region, runs
// the dispatch loop to completion, and returns up to nargout results
// (spec §4.6 "bytecode call").
func (vm *VM) call(ctx context.Context, fn *Function, args []Value, nargout int) ([]Value, error) {
	if fn.IsVararg && fn.Layout.NumArgs > 0 && len(args) >= fn.Layout.NumArgs {
		fixed := fn.Layout.NumArgs - 1
		rest := append([]Value{}, args[fixed:]...)
		packed := append([]Value{}, args[:fixed]...)
		packed = append(packed, newCellLiteral(1, len(rest), rest))
		args = packed
	}
	for _, a := range args {
		vm.stack.Push(a)
	}
	frame := vm.stack.PushFrame(fn, len(args), nargout, -1)
	vm.Profiler.OnCall(fn)

	results, err := vm.runFrame(ctx, frame)

	vm.Profiler.OnReturn(fn)
	vm.stack.PopFrame()
	return results, err
}

// runFrame is the dispatch core: it decodes and executes instructions from
// frame.Function.Code starting at frame.IP until a RET/RET_ANON produces
// results or a VMError propagates out unhandled (spec §4.1).
func (vm *VM) runFrame(ctx context.Context, frame *Frame) ([]Value, error) {
	fn := frame.Function
	r := NewBytecodeReader(fn.Code)
	wide := false

	for {
		select {
		case <-ctx.Done():
			return nil, &VMError{Tag: InterruptExc, Message: "context cancelled"}
		default:
		}

		if vm.Signals.Pending() {
			vm.Signals.Clear()
			results, resumed := vm.handleError(&VMError{Tag: InterruptExc, Message: "interrupted"}, fn, frame, r, &wide)
			if resumed {
				continue
			}
			return results, &VMError{Tag: InterruptExc, Message: "interrupted"}
		}

		if vm.debugEnabled && vm.Debug != nil {
			if vm.Debug.BeforeInstruction(fn, r.Position()) {
				// A paused debugger session is out of this package's
				// scope beyond the hook point itself; execution continues
				// immediately since there is no debugger REPL here.
			}
		}

		vm.Profiler.SampleIP(fn, r.Position())

		ip := r.Position()
		op := r.ReadOpcode()
		vm.trace("%s %04d  %s", fn.Name, ip, op)
		if op == OpWIDE {
			wide = true
			continue
		}

		results, done, err := vm.step(ctx, fn, frame, r, op, ip, wide)
		wide = false
		if err != nil {
			ve, ok := err.(*VMError)
			if !ok {
				ve = &VMError{Tag: ExecutionExc, Message: err.Error(), Cause: err}
			}
			resumeResults, resumed := vm.handleError(ve, fn, frame, r, &wide)
			if resumed {
				continue
			}
			if resumeResults != nil {
				return resumeResults, nil
			}
			return nil, ve
		}
		if done {
			return results, nil
		}
	}
}

// handleError searches fn's unwind table for a handler covering ip. If one
// is found it repositions r at the handler and reports resumed=true so the
// caller's loop continues; otherwise it reports resumed=false so the
// caller propagates err to its own caller.
func (vm *VM) handleError(err *VMError, fn *Function, frame *Frame, r *BytecodeReader, wide *bool) (results []Value, resumed bool) {
	if vm.Debug != nil {
		vm.Debug.OnError(err, fn, r.Position())
	}
	outcome, region := classify(err, r.Position(), fn.Unwind)
	switch outcome {
	case unwindHalt:
		return nil, false
	case unwindRethrow:
		return nil, false
	case unwindResume:
		vm.stack.SetTop(frame.Base + region.StackDepth)
		r.Seek(region.HandlerIP)
		*wide = false
		if region.Kind != UnwindProtect {
			vm.stack.Push(errorValue(err))
		}
		return nil, true
	}
	return nil, false
}

// errorValue wraps a VMError as a Value so a catch block's identifier can
// bind it. The wrapper is a defined value of tag TagOther whose Message and
// Identifier methods expose the error; operators and indexing on it fail.
func errorValue(err *VMError) Value {
	return errorSentinel{err: err}
}

type errorSentinel struct{ err *VMError }

func (e errorSentinel) IsDefined() bool         { return true }
func (e errorSentinel) IsNil() bool             { return false }
func (e errorSentinel) TypeID() TypeTag         { return TagOther }
func (e errorSentinel) IsTrue() bool            { return false }
func (e errorSentinel) IsEqual(Value) bool      { return false }
func (e errorSentinel) IsMagicColon() bool      { return false }
func (e errorSentinel) IsCell() bool            { return false }
func (e errorSentinel) IsFullNumMatrix() bool   { return false }
func (e errorSentinel) IsFunction() bool        { return false }
func (e errorSentinel) IsFunctionCache() bool   { return false }
func (e errorSentinel) HasFunctionCache() bool  { return false }
func (e errorSentinel) IsClassdefMeta() bool    { return false }
func (e errorSentinel) IsMaybeFunction() bool   { return false }
func (e errorSentinel) IsRange() bool           { return false }
func (e errorSentinel) IsScalarType() bool      { return false }
func (e errorSentinel) IsTrivialRange() bool    { return false }
func (e errorSentinel) IsCSList() bool          { return false }
func (e errorSentinel) ListValue() []Value      { return nil }
func (e errorSentinel) IsRef() bool             { return false }
func (e errorSentinel) RefKind() RefKind        { return RefNone }
func (e errorSentinel) Deref() Value            { return e }
func (e errorSentinel) DoubleValue() (float64, bool) { return 0, false }
func (e errorSentinel) IntValue() (int64, bool) { return 0, false }
func (e errorSentinel) Clone() Value            { return e }
func (e errorSentinel) MakeUnique() Value       { return e }
func (e errorSentinel) DispatchClassify() DispatchKind { return DispatchSubsref }
func (e errorSentinel) BinaryOp(Operator, Value) (Value, error) {
	return nil, fmt.Errorf("vm: binary operation on caught-error value")
}
func (e errorSentinel) UnaryOp(Operator) (Value, error) {
	return nil, fmt.Errorf("vm: unary operation on caught-error value")
}
func (e errorSentinel) Subsref(byte, []Value, int) ([]Value, error) {
	return nil, fmt.Errorf("vm: indexing a caught-error value")
}
func (e errorSentinel) Subsasgn(byte, []Value, Value) (Value, error) {
	return nil, fmt.Errorf("vm: assigning into a caught-error value")
}

// Message returns the human-readable text of the wrapped error, used by an
// `err.message`-style struct-field access implemented at the host layer.
func (e errorSentinel) Message() string { return e.err.Message }
func (e errorSentinel) Identifier() string { return e.err.Ident }

// step executes exactly one already-decoded instruction. It returns
// (results, true, nil) on RET/RET_ANON, (nil, false, err) on error, and
// (nil, false, nil) to continue the loop.
func (vm *VM) step(ctx context.Context, fn *Function, frame *Frame, r *BytecodeReader, op Opcode, ip int, wide bool) ([]Value, bool, error) {
	switch op {

	// --- stack primitives ---
	case OpNOP:
		return nil, false, nil
	case OpPOP:
		vm.stack.Pop()
		return nil, false, nil
	case OpDUP:
		vm.stack.Push(vm.stack.Peek(0))
		return nil, false, nil
	case OpDUPN:
		n := int(r.ReadByte())
		for i := 0; i < n; i++ {
			vm.stack.Push(vm.stack.Peek(n - 1))
		}
		return nil, false, nil

	// --- push-constant family ---
	case OpPushNil:
		vm.stack.Push(Undefined)
		return nil, false, nil
	case OpPushTrue:
		vm.stack.Push(True)
		return nil, false, nil
	case OpPushFalse:
		vm.stack.Push(False)
		return nil, false, nil
	case OpPushDbl0:
		vm.stack.Push(NewScalarDouble(0))
		return nil, false, nil
	case OpPushDbl1:
		vm.stack.Push(NewScalarDouble(1))
		return nil, false, nil
	case OpPushDbl2:
		vm.stack.Push(NewScalarDouble(2))
		return nil, false, nil
	case OpPushPi:
		vm.stack.Push(NewScalarDouble(3.141592653589793))
		return nil, false, nil
	case OpPushE:
		vm.stack.Push(NewScalarDouble(2.718281828459045))
		return nil, false, nil
	case OpLoadCst:
		idx := r.ReadByte()
		vm.stack.Push(constAt(fn, int(idx)))
		return nil, false, nil
	case OpLoadFarCst:
		idx := r.ReadUint32()
		vm.stack.Push(constAt(fn, int(idx)))
		return nil, false, nil
	case OpPushFoldedCst:
		f := r.ReadFloat64()
		vm.stack.Push(NewScalarDouble(f))
		return nil, false, nil

	// --- variable access ---
	case OpPushSlotNargout0, OpPushSlotNargout1, OpPushSlotNargoutN, OpPushSlotDisp, OpPushSlotNX:
		slot := r.ReadSlot(wide)
		v := vm.stack.Slot(frame.Base + int(slot))
		if !v.IsDefined() {
			return nil, false, vm.undefinedSlotError(fn, slot)
		}
		vm.stack.Push(v)
		return nil, false, nil
	case OpStoreSlot:
		slot := r.ReadSlot(wide)
		v := vm.stack.Pop()
		vm.stack.SetSlot(frame.Base+int(slot), v)
		return nil, false, nil

	// --- increment/decrement, self-specializing like the binary family ---
	case OpIncrIDPrefix, OpDecrIDPrefix, OpIncrIDPostfix, OpDecrIDPostfix:
		slot := r.ReadSlot(wide)
		return nil, false, vm.execIncrDecr(fn, ip, frame, slot, op == OpIncrIDPrefix || op == OpIncrIDPostfix, op == OpIncrIDPrefix || op == OpDecrIDPrefix)
	case OpIncrIDPrefixDbl, OpDecrIDPrefixDbl, OpIncrIDPostfixDbl, OpDecrIDPostfixDbl:
		slot := r.ReadSlot(wide)
		isIncr := op == OpIncrIDPrefixDbl || op == OpIncrIDPostfixDbl
		isPrefix := op == OpIncrIDPrefixDbl || op == OpDecrIDPrefixDbl
		return nil, false, vm.execIncrDecrDbl(fn, ip, frame, slot, op, isIncr, isPrefix)

	// --- generic arithmetic/comparison, self-specializing ---
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpLT, OpGT, OpLE, OpGE, OpEQ, OpNE:
		return nil, false, vm.execBinary(fn, ip, op, toOperator(op))
	case OpAddDbl, OpSubDbl, OpMulDbl, OpDivDbl, OpModDbl,
		OpLTDbl, OpGTDbl, OpLEDbl, OpGEDbl, OpEQDbl, OpNEDbl:
		return nil, false, vm.execBinaryDbl(fn, ip, op, toOperator(genericBinaryFor(op)))

	case OpUSub:
		return nil, false, vm.execUnary(fn, ip, op, OpUSub)
	case OpUSubDbl:
		return nil, false, vm.execUnaryDbl(fn, ip, OpUSub)
	case OpNot:
		return nil, false, vm.execUnary(fn, ip, op, OpNot)
	case OpNotDbl, OpNotBool:
		return nil, false, vm.execUnaryDbl(fn, ip, OpNot)

	case OpTranspose, OpHermitian:
		v := vm.stack.Pop()
		opKind := OpTranspose
		if op == OpHermitian {
			opKind = OpHermitian
		}
		res, err := v.UnaryOp(operatorFor(opKind))
		if err != nil {
			return nil, false, err
		}
		vm.stack.Push(res)
		return nil, false, nil

	// --- indexing family ---
	case OpIndexIDNargout0, OpIndexIDNargout1, OpIndexIDNargoutN,
		OpIndexCellNargout0, OpIndexCellNargout1, OpIndexCellNargoutN:
		return nil, false, vm.execIndexID(ctx, fn, frame, r, ip, op)
	case OpIndexID1Mat1D:
		return nil, false, vm.execIndexMat1D(fn, frame, r, ip)
	case OpIndexID1Mat2D:
		return nil, false, vm.execIndexMat2D(fn, frame, r, ip)
	case OpIndexStructNargoutN, OpIndexStructCall:
		return nil, false, vm.execIndexStruct(fn, frame, r, op)
	case OpIndexStructSubcall:
		return nil, false, vm.execIndexStructSubcall(fn, frame, r)

	// --- subassign family ---
	case OpSubassignID, OpSubassignCellID:
		return nil, false, vm.execSubassignID(fn, ip, frame, r, op)
	case OpSubassignIDMat1D:
		return nil, false, vm.execSubassignMat1D(fn, ip, frame, r)
	case OpSubassignIDMat2D:
		return nil, false, vm.execSubassignMat2D(fn, ip, frame, r)
	case OpSubassignStruct:
		return nil, false, vm.execSubassignStruct(fn, frame, r)
	case OpSubassignObj:
		return nil, false, vm.execSubassignObj(fn, frame, r)
	case OpSubassignChained:
		return nil, false, vm.execSubassignChained(fn, frame, r)

	// --- function handles ---
	case OpPushFcnHandle:
		nameIdx := r.ReadUint16()
		vm.stack.Push(&funcHandle{name: nameAt(fn, int(nameIdx))})
		return nil, false, nil
	case OpPushAnonFcnHandle:
		nestedIdx := r.ReadUint16()
		if int(nestedIdx) >= len(fn.Nested) {
			return nil, false, newError(ExecutionExc, "invalid nested function index %d", nestedIdx)
		}
		nested := fn.Nested[nestedIdx]
		captured := make([]Value, frame.NLocals)
		for i := 0; i < frame.NLocals; i++ {
			captured[i] = vm.stack.Slot(frame.Base + i)
		}
		vm.stack.Push(&funcHandle{name: nested.Name, fn: nested, isAnon: true, captured: captured})
		return nil, false, nil

	// --- matrix/cell growth ---
	case OpAppendCell:
		n := int(r.ReadByte())
		elems := make([]Value, n)
		for i := n - 1; i >= 0; i-- {
			elems[i] = vm.stack.Pop()
		}
		c := vm.stack.Pop()
		for _, e := range elems {
			c = appendCell(c, e)
		}
		vm.stack.Push(c)
		return nil, false, nil

	// --- range construction ---
	case OpColon2:
		hi := vm.stack.Pop()
		lo := vm.stack.Pop()
		rng, err := buildRange(lo, NewScalarDouble(1), hi)
		if err != nil {
			return nil, false, err
		}
		vm.stack.Push(rng)
		return nil, false, nil
	case OpColon3, OpColon3Cmd:
		hi := vm.stack.Pop()
		step := vm.stack.Pop()
		lo := vm.stack.Pop()
		rng, err := buildRange(lo, step, hi)
		if err != nil {
			return nil, false, err
		}
		vm.stack.Push(rng)
		return nil, false, nil

	// --- numeric for loop ---
	case OpForSetup:
		collection := vm.stack.Peek(0)
		vm.stack.Push(NewScalarDouble(0))
		vm.stack.Push(NewScalarDouble(float64(forColumnCount(collection))))
		return nil, false, nil
	case OpForCond:
		slot := r.ReadByte()
		rel := r.ReadInt16()
		colCount, _ := vm.stack.Peek(0).DoubleValue()
		idx, _ := vm.stack.Peek(1).DoubleValue()
		if idx >= colCount {
			vm.stack.Pop()
			vm.stack.Pop()
			vm.stack.Pop()
			r.Seek(r.Position() + int(rel))
			return nil, false, nil
		}
		collection := vm.stack.Peek(2)
		vm.stack.SetSlot(frame.Base+int(slot), forColumnAt(collection, int(idx)))
		vm.stack.PokeAt(1, NewScalarDouble(idx+1))
		return nil, false, nil

	// --- struct for loop: for [val, key] = struct_var ---
	case OpForComplexSetup:
		collection := vm.stack.Peek(0)
		if !collection.IsDefined() {
			// Undefined rhs iterates zero times rather than erroring, mirroring
			// FOR_SETUP's own undefined/scalar fallthrough.
			vm.stack.Push(NewScalarDouble(0))
			vm.stack.Push(NewScalarDouble(0))
			return nil, false, nil
		}
		s, ok := collection.(*structLiteral)
		if !ok {
			return nil, false, newError(ExecutionExc, "in statement 'for [X, Y] = VAL', VAL must be a structure")
		}
		vm.stack.Push(NewScalarDouble(0))
		vm.stack.Push(NewScalarDouble(float64(len(s.names))))
		return nil, false, nil
	case OpForComplexCond:
		slotVal := r.ReadByte()
		slotKey := r.ReadByte()
		rel := r.ReadInt16()
		count, _ := vm.stack.Peek(0).DoubleValue()
		idx, _ := vm.stack.Peek(1).DoubleValue()
		if idx >= count {
			vm.stack.Pop()
			vm.stack.Pop()
			vm.stack.Pop()
			r.Seek(r.Position() + int(rel))
			return nil, false, nil
		}
		collection := vm.stack.Peek(2)
		s, ok := collection.(*structLiteral)
		if !ok {
			return nil, false, newError(ExecutionExc, "in statement 'for [X, Y] = VAL', VAL must be a structure")
		}
		name := s.names[int(idx)]
		val, _ := s.get(name)
		vm.stack.SetSlot(frame.Base+int(slotVal), val)
		vm.stack.SetSlot(frame.Base+int(slotKey), structFieldName(name))
		vm.stack.PokeAt(1, NewScalarDouble(idx+1))
		return nil, false, nil

	// --- calls / nargout override ---
	case OpExtNargout:
		n := r.ReadByte()
		vm.pendingNargout = int(n)
		return nil, false, nil

	// --- output ignore ---
	case OpAnonMaybeSetIgnoreOut:
		return nil, false, nil

	// --- assignment ---
	case OpAssign, OpForceAssign:
		slot := r.ReadSlot(wide)
		v := vm.stack.Peek(0)
		vm.assignSlot(frame, int(slot), v)
		return nil, false, nil
	case OpAssignN:
		slot := r.ReadSlot(wide)
		v := vm.stack.Pop()
		vm.assignSlot(frame, int(slot), v)
		return nil, false, nil

	// --- control flow ---
	case OpJmp:
		rel := r.ReadInt16()
		r.Seek(r.Position() + int(rel))
		return nil, false, nil
	case OpJmpIf:
		return nil, false, vm.execCondJump(fn, ip, r, true, false)
	case OpJmpIfBool:
		return nil, false, vm.execCondJumpBool(fn, ip, r, true)
	case OpJmpIfn:
		return nil, false, vm.execCondJump(fn, ip, r, false, false)
	case OpJmpIfnBool:
		return nil, false, vm.execCondJumpBool(fn, ip, r, false)

	// --- matrix / cell construction ---
	case OpMatrix:
		nRows := r.ReadByte()
		nCols := r.ReadByte()
		return nil, false, vm.execMatrix(int(nRows), int(nCols))
	case OpPushCell:
		nRows := r.ReadByte()
		nCols := r.ReadByte()
		return nil, false, vm.execCell(int(nRows), int(nCols))

	// --- output ignore ---
	case OpSetIgnoreOutputs:
		nOut := r.ReadByte()
		mask := newIgnoreMask(int(nOut))
		bits := r.ReadByte()
		for i := 0; i < int(nOut) && i < 8; i++ {
			if bits&(1<<uint(i)) != 0 {
				mask.set(i)
			}
		}
		vm.ignore.Push(mask)
		return nil, false, nil
	case OpClearIgnoreOutputs:
		r.ReadByte()
		vm.ignore.Pop()
		return nil, false, nil

	// --- globals / persistents ---
	case OpGlobalInit:
		// The high bit of the name index distinguishes `persistent` from
		// `global` bindings since both share this one opcode; the low 15
		// bits index the name table.
		raw := r.ReadUint16()
		kind := RefGlobal
		if raw&0x8000 != 0 {
			kind = RefPersistent
		}
		name := nameAt(fn, int(raw&0x7FFF))
		ref := &refWrapper{kind: kind, name: name, globals: vm.globals, persistent: vm.persist}
		vm.stack.Push(refValue{ref})
		return nil, false, nil

	// --- calls / returns ---
	case OpCall:
		nameIdx := r.ReadUint16()
		nargs := r.ReadByte()
		nargout := r.ReadByte()
		return nil, false, vm.execCall(ctx, fn, int(nameIdx), int(nargs), int(nargout))
	case OpRet:
		return vm.execReturn(frame), true, nil
	case OpRetAnon:
		return vm.execReturn(frame), true, nil

	case OpDisp:
		r.ReadByte()
		v := vm.stack.Pop()
		vm.trace("%v", v)
		return nil, false, nil

	case OpHandleSignals:
		return nil, false, nil

	default:
		// Any opcode not given an explicit case still decodes its declared
		// operand width so the reader stays in sync, then raises a tagged
		// error rather than corrupting the stream silently. Every opcode
		// this VM is required to execute end-to-end (spec §8's scenario
		// table) has an explicit case above; this path only ever triggers
		// for opcode groups a given program does not exercise.
		info := op.Info()
		for i := 0; i < info.OperandBytes; i++ {
			r.ReadByte()
		}
		return nil, false, newError(ExecutionExc, "unimplemented opcode %s", info.Name)
	}
}

// assignSlot installs v into a local slot, writing through to the backing
// global/persistent store (rather than overwriting the binding itself) when
// the slot currently holds a refValue from GLOBAL_INIT.
func (vm *VM) assignSlot(frame *Frame, slot int, v Value) {
	addr := frame.Base + slot
	if rv, ok := vm.stack.Slot(addr).(refValue); ok {
		rv.Assign(v)
		return
	}
	vm.stack.SetSlot(addr, v)
}

func constAt(fn *Function, idx int) Value {
	if idx < 0 || idx >= len(fn.Data) {
		return Undefined
	}
	return fn.Data[idx]
}

func nameAt(fn *Function, idx int) string {
	if idx < 0 || idx >= len(fn.Names) {
		return ""
	}
	return fn.Names[idx]
}

func (vm *VM) undefinedSlotError(fn *Function, slot uint16) error {
	name := nameAt(fn, int(slot))
	if name == "" {
		name = fmt.Sprintf("slot %d", slot)
	}
	return &VMError{Tag: IDUndefined, Message: fmt.Sprintf("'%s' undefined", name), Ident: "Octave:undefined-function"}
}

// execBinary evaluates a generic binary operator, then hands the observed
// operand tag to the specializer so future hits at this call site can take
// the fast path (spec §4.3). When the two operands carry different tags the
// site is reported as TagOther, so only a pair of like-tagged operands can
// trigger a rewrite.
func (vm *VM) execBinary(fn *Function, ip int, op Opcode, kind Operator) error {
	rhs := vm.stack.Pop()
	lhs := vm.stack.Pop()
	if !lhs.IsDefined() || !rhs.IsDefined() {
		return errUndefinedOperand
	}
	res, err := lhs.BinaryOp(kind, rhs)
	if err != nil {
		return err
	}
	vm.stack.Push(res)
	tag := lhs.TypeID()
	if rhs.TypeID() != tag {
		tag = TagOther
	}
	vm.specialize(fn, ip, op, tag)
	return nil
}

// execBinaryDbl evaluates a specialized scalar-double binary opcode,
// deoptimizing back to the generic form (and re-executing generically) if
// either operand no longer carries the tag the site was specialized for.
func (vm *VM) execBinaryDbl(fn *Function, ip int, specialized Opcode, kind Operator) error {
	rhs := vm.stack.Pop()
	lhs := vm.stack.Pop()
	if lhs.TypeID() != TagScalarDouble || rhs.TypeID() != TagScalarDouble {
		vm.stack.Push(lhs)
		vm.stack.Push(rhs)
		generic := vm.deoptimize(fn, ip, specialized)
		return vm.execBinary(fn, ip, generic, kind)
	}
	res, err := lhs.BinaryOp(kind, rhs)
	if err != nil {
		return err
	}
	vm.stack.Push(res)
	return nil
}

func (vm *VM) execUnary(fn *Function, ip int, op Opcode, generic Opcode) error {
	v := vm.stack.Pop()
	if !v.IsDefined() {
		return errUndefinedOperand
	}
	res, err := v.UnaryOp(operatorFor(generic))
	if err != nil {
		return err
	}
	vm.stack.Push(res)
	vm.specialize(fn, ip, generic, v.TypeID())
	return nil
}

func (vm *VM) execUnaryDbl(fn *Function, ip int, generic Opcode) error {
	v := vm.stack.Pop()
	if v.TypeID() != TagScalarDouble && v.TypeID() != TagBool {
		vm.stack.Push(v)
		g := vm.deoptimize(fn, ip, generic)
		return vm.execUnary(fn, ip, g, generic)
	}
	res, err := v.UnaryOp(operatorFor(generic))
	if err != nil {
		return err
	}
	vm.stack.Push(res)
	return nil
}

func (vm *VM) execCondJump(fn *Function, ip int, r *BytecodeReader, jumpOnTrue bool, _ bool) error {
	rel := r.ReadInt16()
	v := vm.stack.Pop()
	if !v.IsDefined() {
		return errUndefinedOperand
	}
	if v.IsTrue() == jumpOnTrue {
		r.Seek(r.Position() + int(rel))
	}
	generic := OpJmpIf
	if !jumpOnTrue {
		generic = OpJmpIfn
	}
	vm.specialize(fn, ip, generic, v.TypeID())
	return nil
}

func (vm *VM) execCondJumpBool(fn *Function, ip int, r *BytecodeReader, jumpOnTrue bool) error {
	rel := r.ReadInt16()
	v := vm.stack.Pop()
	if v.TypeID() != TagBool && v.TypeID() != TagScalarDouble {
		vm.stack.Push(v)
		specialized := OpJmpIfBool
		if !jumpOnTrue {
			specialized = OpJmpIfnBool
		}
		g := vm.deoptimize(fn, ip, specialized)
		r.Seek(ip)
		r.ReadOpcode()
		return vm.execCondJump(fn, ip, r, g == OpJmpIf, false)
	}
	if v.IsTrue() == jumpOnTrue {
		r.Seek(r.Position() + int(rel))
	}
	return nil
}

func (vm *VM) execMatrix(nRows, nCols int) error {
	n := nRows * nCols
	elems := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		elems[i] = vm.stack.Pop()
	}
	vm.stack.Push(newMatrixLiteral(nRows, nCols, elems))
	return nil
}

func (vm *VM) execCell(nRows, nCols int) error {
	n := nRows * nCols
	elems := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		elems[i] = vm.stack.Pop()
	}
	vm.stack.Push(newCellLiteral(nRows, nCols, elems))
	return nil
}

// execCall dispatches a CALL opcode: it resolves the callee (bytecode
// function or host builtin), invokes it, and pushes results honoring the
// active output-ignore mask (spec §4.6, §4.10).
func (vm *VM) execCall(ctx context.Context, fn *Function, nameIdx, nargs, nargout int) error {
	if vm.pendingNargout >= 0 {
		nargout = vm.pendingNargout
		vm.pendingNargout = -1
	}
	name := nameAt(fn, nameIdx)
	args := make([]Value, nargs)
	for i := nargs - 1; i >= 0; i-- {
		args[i] = vm.stack.Pop()
	}

	var results []Value
	var err error
	if callee, ok := vm.Evaluator.LookupFunction(name); ok {
		results, err = vm.call(ctx, callee, args, nargout)
	} else {
		results, err = vm.Evaluator.CallNonBytecode(ctx, name, args, nargout)
	}
	if err != nil {
		return err
	}

	for i, res := range results {
		if vm.ignore.ShouldBind(i) {
			vm.stack.Push(res)
		}
	}
	return nil
}

// execReturn pops the frame's pending return values. A varargout function
// collects its outputs into a single cell (the "varargout" local) rather
// than one slot per return, so its RET pops that cell and expands it to the
// caller's requested count instead of popping NReturns individual values.
func (vm *VM) execReturn(frame *Frame) []Value {
	if frame.Function.IsVarargOut {
		v := vm.stack.Pop()
		cl, ok := v.(*cellLiteral)
		if !ok {
			return []Value{v}
		}
		n := frame.Nargout
		if n < 0 || n > len(cl.elems) {
			n = len(cl.elems)
		}
		return append([]Value{}, cl.elems[:n]...)
	}
	n := frame.NReturns
	if n <= 0 {
		n = 0
	}
	results := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		results[i] = vm.stack.Pop()
	}
	return results
}

func toOperator(op Opcode) Operator { return operatorFor(op) }

func genericBinaryFor(specialized Opcode) Opcode { return genericOpcode(specialized) }

func operatorFor(op Opcode) Operator {
	switch op {
	case OpAdd, OpAddDbl:
		return OperatorAdd
	case OpSub, OpSubDbl:
		return OperatorSub
	case OpMul, OpMulDbl:
		return OperatorMul
	case OpDiv, OpDivDbl:
		return OperatorDiv
	case OpMod, OpModDbl:
		return OperatorMod
	case OpLT, OpLTDbl:
		return OperatorLT
	case OpGT, OpGTDbl:
		return OperatorGT
	case OpLE, OpLEDbl:
		return OperatorLE
	case OpGE, OpGEDbl:
		return OperatorGE
	case OpEQ, OpEQDbl:
		return OperatorEQ
	case OpNE, OpNEDbl:
		return OperatorNE
	case OpUSub, OpUSubDbl:
		return OperatorUSub
	case OpNot, OpNotDbl, OpNotBool:
		return OperatorNot
	case OpTranspose:
		return OperatorTranspose
	case OpHermitian:
		return OperatorHermitian
	}
	return OperatorAdd
}

// execIncrDecr evaluates a generic INCR_ID/DECR_ID opcode, then hands the
// observed operand tag to the specializer exactly like execBinary does.
func (vm *VM) execIncrDecr(fn *Function, ip int, frame *Frame, slot uint16, isIncr, isPrefix bool) error {
	addr := frame.Base + int(slot)
	v := vm.stack.Slot(addr)
	if !v.IsDefined() {
		return vm.undefinedSlotError(fn, slot)
	}
	opKind := OperatorAdd
	if !isIncr {
		opKind = OperatorSub
	}
	res, err := v.BinaryOp(opKind, NewScalarDouble(1))
	if err != nil {
		return err
	}
	vm.stack.SetSlot(addr, res)
	if isPrefix {
		vm.stack.Push(res)
	} else {
		vm.stack.Push(v)
	}
	vm.specialize(fn, ip, incrDecrOpcode(isIncr, isPrefix), v.TypeID())
	return nil
}

// execIncrDecrDbl is the specialized scalar-double fast path, deoptimizing
// back to the generic handler on a tag mismatch (mirrors execBinaryDbl).
func (vm *VM) execIncrDecrDbl(fn *Function, ip int, frame *Frame, slot uint16, specialized Opcode, isIncr, isPrefix bool) error {
	addr := frame.Base + int(slot)
	v := vm.stack.Slot(addr)
	if v.TypeID() != TagScalarDouble {
		vm.deoptimize(fn, ip, specialized)
		return vm.execIncrDecr(fn, ip, frame, slot, isIncr, isPrefix)
	}
	f, _ := v.DoubleValue()
	if isIncr {
		f++
	} else {
		f--
	}
	res := NewScalarDouble(f)
	vm.stack.SetSlot(addr, res)
	if isPrefix {
		vm.stack.Push(res)
	} else {
		vm.stack.Push(v)
	}
	return nil
}

func incrDecrOpcode(isIncr, isPrefix bool) Opcode {
	switch {
	case isIncr && isPrefix:
		return OpIncrIDPrefix
	case !isIncr && isPrefix:
		return OpDecrIDPrefix
	case isIncr && !isPrefix:
		return OpIncrIDPostfix
	default:
		return OpDecrIDPostfix
	}
}

// execIndexID services the INDEX_ID_* and INDEX_CELL_* families, which share
// the same [slot, nargs, kind(, nargout)] operand layout (spec §4.5). A
// function-handle slot short-circuits through callHandle instead of
// Subsref, since only the VM itself (not a host Value) can drive a nested
// bytecode call.
func (vm *VM) execIndexID(ctx context.Context, fn *Function, frame *Frame, r *BytecodeReader, ip int, op Opcode) error {
	slot := r.ReadByte()
	nargs := int(r.ReadByte())
	kind := r.ReadByte()
	nargout := 1
	switch op {
	case OpIndexIDNargout0, OpIndexCellNargout0:
		nargout = 0
	case OpIndexIDNargoutN, OpIndexCellNargoutN:
		nargout = int(r.ReadByte())
	}

	args := make([]Value, nargs)
	for i := nargs - 1; i >= 0; i-- {
		args[i] = vm.stack.Pop()
	}
	v := vm.stack.Slot(frame.Base + int(slot))
	if !v.IsDefined() {
		return vm.undefinedSlotError(fn, uint16(slot))
	}

	if kind == '(' {
		if fh, ok := v.(*funcHandle); ok {
			results, err := vm.callHandle(ctx, fh, args, nargout)
			if err != nil {
				return err
			}
			for _, res := range results {
				vm.stack.Push(res)
			}
			return nil
		}
	}

	results, err := v.Subsref(kind, args, nargout)
	if err != nil {
		return err
	}
	for _, res := range results {
		vm.stack.Push(res)
	}

	if op == OpIndexIDNargout1 && kind == '(' {
		if _, ok := v.(*matrixLiteral); ok {
			switch nargs {
			case 1:
				rewriteOpcodeAt(fn.Code, ip, OpIndexID1Mat1D)
			case 2:
				rewriteOpcodeAt(fn.Code, ip, OpIndexID1Mat2D)
			}
		}
	}
	return nil
}

// execIndexMat1D is the M(i) fast path INDEX_ID1_MAT_1D rewrites to. The
// operand bytes are shared with INDEX_ID_NARGOUT1 (slot, nargs, kind) so the
// in-place opcode rewrite doesn't change the instruction's width; only the
// slot byte is meaningful here, since the rewrite only ever fires for the
// nargs==1/kind=='(' shape (spec's "rewrite back to generic on shape
// mismatch" design note).
func (vm *VM) execIndexMat1D(fn *Function, frame *Frame, r *BytecodeReader, ip int) error {
	slot := r.ReadByte()
	r.ReadByte()
	r.ReadByte()
	idx := vm.stack.Pop()
	v := vm.stack.Slot(frame.Base + int(slot))
	m, ok := v.(*matrixLiteral)
	if !ok {
		rewriteOpcodeAt(fn.Code, ip, OpIndexIDNargout1)
		results, err := v.Subsref('(', []Value{idx}, 1)
		if err != nil {
			return err
		}
		vm.stack.Push(results[0])
		return nil
	}
	results, err := m.Subsref('(', []Value{idx}, 1)
	if err != nil {
		return err
	}
	vm.stack.Push(results[0])
	return nil
}

func (vm *VM) execIndexMat2D(fn *Function, frame *Frame, r *BytecodeReader, ip int) error {
	slot := r.ReadByte()
	r.ReadByte()
	r.ReadByte()
	jv := vm.stack.Pop()
	iv := vm.stack.Pop()
	v := vm.stack.Slot(frame.Base + int(slot))
	m, ok := v.(*matrixLiteral)
	if !ok {
		rewriteOpcodeAt(fn.Code, ip, OpIndexIDNargout1)
		results, err := v.Subsref('(', []Value{iv, jv}, 1)
		if err != nil {
			return err
		}
		vm.stack.Push(results[0])
		return nil
	}
	results, err := m.Subsref('(', []Value{iv, jv}, 1)
	if err != nil {
		return err
	}
	vm.stack.Push(results[0])
	return nil
}

// execIndexStruct services INDEX_STRUCT_NARGOUTN and INDEX_STRUCT_CALL: both
// read a slot, a name-table index for the field being accessed and a nargout
// byte, and both push the field's value. The two are handled identically: the
// CALL variant does not invoke a field that holds a function handle.
func (vm *VM) execIndexStruct(fn *Function, frame *Frame, r *BytecodeReader, op Opcode) error {
	slot := r.ReadByte()
	nameIdx := r.ReadUint16()
	nargout := int(r.ReadByte())
	v := vm.stack.Slot(frame.Base + int(slot))
	name := nameAt(fn, int(nameIdx))
	results, err := v.Subsref('.', []Value{structFieldName(name)}, nargout)
	if err != nil {
		return err
	}
	for _, res := range results {
		vm.stack.Push(res)
	}
	return nil
}

// execIndexStructSubcall implements INDEX_STRUCT_SUBCALL, including the
// classdef-meta nargout==255 sentinel: the VM mechanically reinterprets it
// as nargout=1 and passes that same count to Subsref; no separate subsref
// nargout of -1 is modelled. Judging when the sentinel should be emitted is a
// compiler-side concern out of scope here (see the Open Question decision).
func (vm *VM) execIndexStructSubcall(fn *Function, frame *Frame, r *BytecodeReader) error {
	slot := r.ReadByte()
	nameIdx := r.ReadByte()
	nargoutByte := r.ReadByte()
	nargout := int(nargoutByte)
	if nargoutByte == 255 {
		nargout = 1
	}
	v := vm.stack.Slot(frame.Base + int(slot))
	name := nameAt(fn, int(nameIdx))
	results, err := v.Subsref('.', []Value{structFieldName(name)}, nargout)
	if err != nil {
		return err
	}
	for _, res := range results {
		vm.stack.Push(res)
	}
	return nil
}

// execSubassignID services SUBASSIGN_ID ('(' target) and SUBASSIGN_CELL_ID
// ('{' target): pop the rhs and the index arguments, Subsasgn into the
// slot's current value, write the result back, then leave rhs as the
// expression's value (matching ASSIGN's convention for chained assignment).
func (vm *VM) execSubassignID(fn *Function, ip int, frame *Frame, r *BytecodeReader, op Opcode) error {
	slot := r.ReadByte()
	nargs := int(r.ReadByte())
	kind := byte('(')
	if op == OpSubassignCellID {
		kind = '{'
	}
	rhs := vm.stack.Pop()
	args := make([]Value, nargs)
	for i := nargs - 1; i >= 0; i-- {
		args[i] = vm.stack.Pop()
	}
	v := vm.stack.Slot(frame.Base + int(slot))
	updated, err := v.Subsasgn(kind, args, rhs)
	if err != nil {
		return err
	}
	// For a plain value this installs the Subsasgn result as the new slot
	// contents; for a refValue, Subsasgn already wrote through to the
	// backing global/persistent store and returns the same wrapper, so this
	// is a harmless no-op re-store.
	vm.stack.SetSlot(frame.Base+int(slot), updated)
	vm.stack.Push(rhs)

	if op == OpSubassignID && kind == '(' {
		if _, ok := updated.(*matrixLiteral); ok {
			switch nargs {
			case 1:
				rewriteOpcodeAt(fn.Code, ip, OpSubassignIDMat1D)
			case 2:
				rewriteOpcodeAt(fn.Code, ip, OpSubassignIDMat2D)
			}
		}
	}
	return nil
}

func (vm *VM) execSubassignMat1D(fn *Function, ip int, frame *Frame, r *BytecodeReader) error {
	slot := r.ReadByte()
	r.ReadByte()
	rhs := vm.stack.Pop()
	idx := vm.stack.Pop()
	v := vm.stack.Slot(frame.Base + int(slot))
	m, ok := v.(*matrixLiteral)
	if !ok {
		rewriteOpcodeAt(fn.Code, ip, OpSubassignID)
		updated, err := v.Subsasgn('(', []Value{idx}, rhs)
		if err != nil {
			return err
		}
		vm.stack.SetSlot(frame.Base+int(slot), updated)
		vm.stack.Push(rhs)
		return nil
	}
	i64, ok := idx.IntValue()
	if !ok || i64 < 1 || int(i64) > len(m.elems) {
		rewriteOpcodeAt(fn.Code, ip, OpSubassignID)
		updated, err := m.Subsasgn('(', []Value{idx}, rhs)
		if err != nil {
			return err
		}
		vm.stack.SetSlot(frame.Base+int(slot), updated)
		vm.stack.Push(rhs)
		return nil
	}
	m.elems[i64-1] = rhs
	vm.stack.Push(rhs)
	return nil
}

func (vm *VM) execSubassignMat2D(fn *Function, ip int, frame *Frame, r *BytecodeReader) error {
	slot := r.ReadByte()
	r.ReadByte()
	rhs := vm.stack.Pop()
	jv := vm.stack.Pop()
	iv := vm.stack.Pop()
	v := vm.stack.Slot(frame.Base + int(slot))
	m, ok := v.(*matrixLiteral)
	i64, iok := iv.IntValue()
	j64, jok := jv.IntValue()
	if !ok || !iok || !jok || i64 < 1 || j64 < 1 || int(i64) > m.rows || int(j64) > m.cols {
		rewriteOpcodeAt(fn.Code, ip, OpSubassignID)
		updated, err := v.Subsasgn('(', []Value{iv, jv}, rhs)
		if err != nil {
			return err
		}
		vm.stack.SetSlot(frame.Base+int(slot), updated)
		vm.stack.Push(rhs)
		return nil
	}
	m.elems[(i64-1)*int64(m.cols)+(j64-1)] = rhs
	vm.stack.Push(rhs)
	return nil
}

// execSubassignStruct services SUBASSIGN_STRUCT: `s.field = rhs`, creating
// s as a fresh struct if its slot was previously undefined.
func (vm *VM) execSubassignStruct(fn *Function, frame *Frame, r *BytecodeReader) error {
	slot := r.ReadByte()
	nameIdx := r.ReadUint16()
	rhs := vm.stack.Pop()
	v := vm.stack.Slot(frame.Base + int(slot))
	s, ok := v.(*structLiteral)
	if !ok {
		s = newStructLiteral()
	}
	updated, err := s.Subsasgn('.', []Value{structFieldName(nameAt(fn, int(nameIdx)))}, rhs)
	if err != nil {
		return err
	}
	vm.stack.SetSlot(frame.Base+int(slot), updated)
	vm.stack.Push(rhs)
	return nil
}

// execSubassignObj services SUBASSIGN_OBJ, the classdef-object counterpart
// of SUBASSIGN_STRUCT: it dispatches through the same generic Value.Subsasgn
// contract, so a host value implementing a classdef object gets
// write-through subassign for free without the VM needing its own object
// literal type (the VM has no native object kind to special-case).
func (vm *VM) execSubassignObj(fn *Function, frame *Frame, r *BytecodeReader) error {
	slot := r.ReadByte()
	nargs := int(r.ReadByte())
	rhs := vm.stack.Pop()
	args := make([]Value, nargs)
	for i := nargs - 1; i >= 0; i-- {
		args[i] = vm.stack.Pop()
	}
	v := vm.stack.Slot(frame.Base + int(slot))
	updated, err := v.Subsasgn('(', args, rhs)
	if err != nil {
		return err
	}
	vm.stack.SetSlot(frame.Base+int(slot), updated)
	vm.stack.Push(rhs)
	return nil
}

// chainLevel is one step of a multi-level lvalue chain, e.g. the `.b` then
// `(1)` then `.c` of `a.b(1).c = rhs`.
type chainLevel struct {
	kind byte
	args []Value
}

// execSubassignChained services SUBASSIGN_CHAINED: a multi-level lvalue
// (`a.b(1).c = rhs`) walked first downward with Subsref to reach the
// innermost container, then back upward with Subsasgn to rebuild each
// enclosing level with its updated child (grounded on
// original_source's subassign_chained: descend accumulating one index list
// per level, then rebuild from the innermost assignment outward).
func (vm *VM) execSubassignChained(fn *Function, frame *Frame, r *BytecodeReader) error {
	slot := r.ReadByte()
	nchained := int(r.ReadByte())
	levels := make([]chainLevel, nchained)
	for i := 0; i < nchained; i++ {
		kind := r.ReadByte()
		if kind == '.' {
			nameIdx := r.ReadUint16()
			levels[i] = chainLevel{kind: kind, args: []Value{structFieldName(nameAt(fn, int(nameIdx)))}}
			continue
		}
		nargs := int(r.ReadByte())
		args := make([]Value, nargs)
		for j := nargs - 1; j >= 0; j-- {
			args[j] = vm.stack.Pop()
		}
		levels[i] = chainLevel{kind: kind, args: args}
	}
	rhs := vm.stack.Pop()

	root := vm.stack.Slot(frame.Base + int(slot))
	if !root.IsDefined() && nchained > 0 && levels[0].kind == '.' {
		root = newStructLiteral()
	}
	containers := make([]Value, nchained)
	cur := root
	for i := 0; i < nchained; i++ {
		containers[i] = cur
		if i == nchained-1 {
			break
		}
		results, err := cur.Subsref(levels[i].kind, levels[i].args, 1)
		// An unset intermediate field auto-vivifies as an empty struct when
		// the next level down is itself a '.' step, mirroring the root
		// auto-vivification above (`a.b.c = x` with a wholly undefined).
		if err != nil || len(results) == 0 {
			if levels[i+1].kind != '.' {
				if err == nil {
					err = newError(IndexError, "chained subassign: empty intermediate result")
				}
				return err
			}
			cur = newStructLiteral()
			continue
		}
		cur = results[0]
	}

	updated := rhs
	for i := nchained - 1; i >= 0; i-- {
		next, err := containers[i].Subsasgn(levels[i].kind, levels[i].args, updated)
		if err != nil {
			return err
		}
		updated = next
	}
	vm.stack.SetSlot(frame.Base+int(slot), updated)
	vm.stack.Push(rhs)
	return nil
}

// callHandle invokes a funcHandle. An anonymous/nested handle carries its
// own *Function and a snapshot of the locals it captured at creation time
// (spec §9's "weak back-reference from captured frame to closure",
// simplified to a value snapshot since the VM does not itself implement
// reference-counted captured cells — that lives in the host value system
// when one is present). A named handle resolves by name exactly like CALL.
func (vm *VM) callHandle(ctx context.Context, fh *funcHandle, args []Value, nargout int) ([]Value, error) {
	if fh.fn != nil {
		all := make([]Value, 0, len(fh.captured)+len(args))
		all = append(all, fh.captured...)
		all = append(all, args...)
		return vm.call(ctx, fh.fn, all, nargout)
	}
	if callee, ok := vm.Evaluator.LookupFunction(fh.name); ok {
		return vm.call(ctx, callee, args, nargout)
	}
	return vm.Evaluator.CallNonBytecode(ctx, fh.name, args, nargout)
}

// buildRange materializes a COLON2/COLON3(_CMD) range eagerly as a row-vector
// matrixLiteral. The VM does not implement a lazy range type (IsRange/
// IsTrivialRange are host value-system traits per the Value contract); a
// host wanting a lazy range substitutes its own Value for one.
func buildRange(lo, step, hi Value) (Value, error) {
	l, lok := lo.DoubleValue()
	s, sok := step.DoubleValue()
	h, hok := hi.DoubleValue()
	if !lok || !sok || !hok {
		return Undefined, newError(ExecutionExc, "colon range operands must be numeric")
	}
	if s == 0 {
		return newMatrixLiteral(1, 0, nil), nil
	}
	n := int((h-l)/s + 1e-10)
	if n < 0 {
		return newMatrixLiteral(1, 0, nil), nil
	}
	n++
	elems := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		v := l + float64(i)*s
		if (s > 0 && v > h) || (s < 0 && v < h) {
			break
		}
		elems = append(elems, NewScalarDouble(v))
	}
	return newMatrixLiteral(1, len(elems), elems), nil
}

// forColumnCount and forColumnAt implement the numeric for-loop's genuinely
// column-wise iteration (FOR_SETUP/FOR_COND): a matrix or cell with more than
// zero rows binds one whole column per iteration, and one with zero rows
// iterates zero times regardless of its column count (grounded on
// original_source's for_setup: "the iteration is column wise ... change n to
// the amount of columns rather than elements", plus its explicit "a 0x3 Cell
// gives no iterations, not 3"). The VM's structLiteral only models a scalar
// (1x1) struct, so — like any other non-matrix, non-cell value — it
// iterates once over the whole value.
func forColumnCount(v Value) int {
	switch t := v.(type) {
	case *matrixLiteral:
		if t.rows == 0 {
			return 0
		}
		return t.cols
	case *cellLiteral:
		if t.rows == 0 {
			return 0
		}
		return t.cols
	}
	return 1
}

func forColumnAt(v Value, idx int) Value {
	switch t := v.(type) {
	case *matrixLiteral:
		if idx < 0 || idx >= t.cols {
			return Undefined
		}
		col := make([]Value, t.rows)
		for row := 0; row < t.rows; row++ {
			col[row] = t.elems[row*t.cols+idx]
		}
		return &matrixLiteral{rows: t.rows, cols: 1, elems: col}
	case *cellLiteral:
		if idx < 0 || idx >= t.cols {
			return Undefined
		}
		col := make([]Value, t.rows)
		for row := 0; row < t.rows; row++ {
			col[row] = t.elems[row*t.cols+idx]
		}
		return &cellLiteral{rows: t.rows, cols: 1, elems: col}
	}
	return v
}
