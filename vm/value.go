package vm

import "math"

// TypeTag is the small integer type-id the VM uses as an inline-cache key.
// The value system assigns tags; the VM treats them as opaque except for
// recognizing its own reserved fast-path tags below.
type TypeTag uint16

// Reserved fast-path tags. A host value system is free to use any TypeTag
// values it likes for its own kinds, but MUST report these reserved tags
// for values that satisfy the corresponding fast-path contract, since the
// specializer (vm/specialize.go) keys its rewriting decisions on them.
const (
	TagUndefined    TypeTag = 0
	TagScalarDouble TypeTag = 1 // hot path: float64 scalar
	TagBool         TypeTag = 2 // hot path: boolean scalar
	TagComplexScalar TypeTag = 3
	TagMatrix       TypeTag = 4 // dense 1-D/2-D double matrix
	TagCell         TypeTag = 5
	TagStruct       TypeTag = 6
	TagFuncHandle   TypeTag = 7
	TagCSList       TypeTag = 8 // never stored in a slot, see invariant 4
	TagRefWrapper   TypeTag = 9
	TagOther        TypeTag = 1000 // opaque trait object, first non-reserved id
)

// RefKind distinguishes the two reference-wrapper variants of §4.9.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefGlobal
	RefPersistent
)

// DispatchKind is the four-way classification §4.5 requires from the value
// system when an indexed value is about to be called or looked up.
type DispatchKind uint8

const (
	DispatchSubsref DispatchKind = iota
	DispatchFnLookup
	DispatchCall
	DispatchNestedHandle
)

// Operator enumerates the binary/unary operators the VM's generic handlers
// dispatch to the host value system, and that the specializer may fold into
// a direct scalar-double call.
type Operator uint8

const (
	OperatorAdd Operator = iota
	OperatorSub
	OperatorMul
	OperatorDiv
	OperatorMod
	OperatorLT
	OperatorGT
	OperatorLE
	OperatorGE
	OperatorEQ
	OperatorNE
	OperatorUSub
	OperatorNot
	OperatorTranspose
	OperatorHermitian
)

// Value is the contract the VM consumes from the external value system
// (spec §3, §6.2). The VM never inspects a Value's internals beyond this
// capability set; everything else — reference counting, per-type operator
// tables, storage layout — is the host's responsibility.
type Value interface {
	IsDefined() bool
	IsNil() bool
	TypeID() TypeTag

	IsTrue() bool
	IsEqual(other Value) bool
	IsMagicColon() bool

	IsCell() bool
	IsFullNumMatrix() bool
	IsFunction() bool
	IsFunctionCache() bool
	HasFunctionCache() bool
	IsClassdefMeta() bool
	IsMaybeFunction() bool
	IsRange() bool
	IsScalarType() bool
	IsTrivialRange() bool

	IsCSList() bool
	ListValue() []Value

	IsRef() bool
	RefKind() RefKind
	Deref() Value

	DoubleValue() (float64, bool)
	IntValue() (int64, bool)

	// Clone returns an independent copy; MakeUnique returns a value the
	// caller may mutate in place (the VM-native kinds return a clone, or the
	// value itself when it is immutable or a reference wrapper).
	Clone() Value
	MakeUnique() Value

	// BinaryOp and UnaryOp perform the host's typed operator dispatch. err
	// is non-nil (and wraps an *VMError) on a type error.
	BinaryOp(op Operator, rhs Value) (Value, error)
	UnaryOp(op Operator) (Value, error)

	// Subsref/Subsasgn implement single-level ( { . indexing for the
	// classification DispatchClassify returns.
	DispatchClassify() DispatchKind
	Subsref(kind byte, args []Value, nargout int) ([]Value, error)
	Subsasgn(kind byte, args []Value, rhs Value) (Value, error)
}

// Undefined is the zero Value: a placeholder sentinel the VM substitutes
// for destroyed slots (invariant 2) before any handler reads them again.
type undefinedValue struct{}

func (undefinedValue) IsDefined() bool                                       { return false }
func (undefinedValue) IsNil() bool                                           { return true }
func (undefinedValue) TypeID() TypeTag                                       { return TagUndefined }
func (undefinedValue) IsTrue() bool                                          { return false }
func (undefinedValue) IsEqual(Value) bool                                    { return false }
func (undefinedValue) IsMagicColon() bool                                    { return false }
func (undefinedValue) IsCell() bool                                          { return false }
func (undefinedValue) IsFullNumMatrix() bool                                 { return false }
func (undefinedValue) IsFunction() bool                                      { return false }
func (undefinedValue) IsFunctionCache() bool                                 { return false }
func (undefinedValue) HasFunctionCache() bool                                { return false }
func (undefinedValue) IsClassdefMeta() bool                                  { return false }
func (undefinedValue) IsMaybeFunction() bool                                 { return false }
func (undefinedValue) IsRange() bool                                        { return false }
func (undefinedValue) IsScalarType() bool                                   { return false }
func (undefinedValue) IsTrivialRange() bool                                 { return false }
func (undefinedValue) IsCSList() bool                                       { return false }
func (undefinedValue) ListValue() []Value                                   { return nil }
func (undefinedValue) IsRef() bool                                          { return false }
func (undefinedValue) RefKind() RefKind                                     { return RefNone }
func (v undefinedValue) Deref() Value                                       { return v }
func (undefinedValue) DoubleValue() (float64, bool)                         { return 0, false }
func (undefinedValue) IntValue() (int64, bool)                              { return 0, false }
func (v undefinedValue) Clone() Value                                       { return v }
func (v undefinedValue) MakeUnique() Value                                  { return v }
func (undefinedValue) BinaryOp(Operator, Value) (Value, error)              { return Undefined, errUndefinedOperand }
func (undefinedValue) UnaryOp(Operator) (Value, error)                      { return Undefined, errUndefinedOperand }
func (undefinedValue) DispatchClassify() DispatchKind                       { return DispatchFnLookup }
func (undefinedValue) Subsref(byte, []Value, int) ([]Value, error)          { return nil, errUndefinedOperand }
func (undefinedValue) Subsasgn(byte, []Value, Value) (Value, error)         { return Undefined, errUndefinedOperand }

// Undefined is the canonical undefined/nil value (spec §3 "construct as
// undefined" capability and the destroyed-slot sentinel of invariant 2).
var Undefined Value = undefinedValue{}

var errUndefinedOperand = &VMError{Tag: RHSUndefined, Message: "operand is undefined"}

// scalarDouble is the VM's own concrete fast-path Value kind: the hot-path
// tagged representation Design Notes (§9) calls for, used whenever code
// produces a bare float64 result (arithmetic, scalar literals) without
// going back through the host value system. Hosts may also implement
// Value for float64 scalars themselves; the specializer recognizes either,
// since it keys on TypeID() == TagScalarDouble, not on the concrete type.
type scalarDouble float64

// NewScalarDouble wraps a float64 as a VM-native fast-path Value.
func NewScalarDouble(f float64) Value { return scalarDouble(f) }

func (d scalarDouble) IsDefined() bool         { return true }
func (d scalarDouble) IsNil() bool             { return false }
func (d scalarDouble) TypeID() TypeTag         { return TagScalarDouble }
func (d scalarDouble) IsTrue() bool            { return float64(d) != 0 && !math.IsNaN(float64(d)) }
func (d scalarDouble) IsEqual(o Value) bool {
	if f, ok := o.DoubleValue(); ok {
		return float64(d) == f
	}
	return false
}
func (scalarDouble) IsMagicColon() bool     { return false }
func (scalarDouble) IsCell() bool           { return false }
func (scalarDouble) IsFullNumMatrix() bool  { return false }
func (scalarDouble) IsFunction() bool       { return false }
func (scalarDouble) IsFunctionCache() bool  { return false }
func (scalarDouble) HasFunctionCache() bool { return false }
func (scalarDouble) IsClassdefMeta() bool   { return false }
func (scalarDouble) IsMaybeFunction() bool  { return false }
func (scalarDouble) IsRange() bool          { return false }
func (scalarDouble) IsScalarType() bool     { return true }
func (scalarDouble) IsTrivialRange() bool   { return false }
func (scalarDouble) IsCSList() bool         { return false }
func (scalarDouble) ListValue() []Value     { return nil }
func (scalarDouble) IsRef() bool            { return false }
func (scalarDouble) RefKind() RefKind       { return RefNone }
func (d scalarDouble) Deref() Value         { return d }
func (d scalarDouble) DoubleValue() (float64, bool) { return float64(d), true }
func (d scalarDouble) IntValue() (int64, bool) {
	f := float64(d)
	if f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
func (d scalarDouble) Clone() Value      { return d }
func (d scalarDouble) MakeUnique() Value { return d }

func (d scalarDouble) BinaryOp(op Operator, rhs Value) (Value, error) {
	r, ok := rhs.DoubleValue()
	if !ok {
		return Undefined, &VMError{Tag: ExecutionExc, Message: "binary operator on non-numeric operand"}
	}
	l := float64(d)
	switch op {
	case OperatorAdd:
		return scalarDouble(l + r), nil
	case OperatorSub:
		return scalarDouble(l - r), nil
	case OperatorMul:
		return scalarDouble(l * r), nil
	case OperatorDiv:
		return scalarDouble(l / r), nil
	case OperatorMod:
		return scalarDouble(math.Mod(l, r)), nil
	case OperatorLT:
		return boolValue(l < r), nil
	case OperatorGT:
		return boolValue(l > r), nil
	case OperatorLE:
		return boolValue(l <= r), nil
	case OperatorGE:
		return boolValue(l >= r), nil
	case OperatorEQ:
		return boolValue(l == r), nil
	case OperatorNE:
		return boolValue(l != r), nil
	default:
		return Undefined, &VMError{Tag: ExecutionExc, Message: "unsupported binary operator for scalar double"}
	}
}

func (d scalarDouble) UnaryOp(op Operator) (Value, error) {
	switch op {
	case OperatorUSub:
		return scalarDouble(-float64(d)), nil
	case OperatorNot:
		return boolValue(!d.IsTrue()), nil
	default:
		return Undefined, &VMError{Tag: ExecutionExc, Message: "unsupported unary operator for scalar double"}
	}
}

func (scalarDouble) DispatchClassify() DispatchKind { return DispatchSubsref }
func (d scalarDouble) Subsref(kind byte, args []Value, nargout int) ([]Value, error) {
	if kind == '(' && len(args) == 0 {
		return []Value{d}, nil
	}
	return nil, &VMError{Tag: IndexError, Message: "scalar double does not support this indexing"}
}
func (scalarDouble) Subsasgn(byte, []Value, Value) (Value, error) {
	return Undefined, &VMError{Tag: ExecutionExc, Message: "cannot subsasgn into a scalar double"}
}

// boolValue is the VM-native tagged boolean fast-path Value.
type boolValue bool

func (b boolValue) IsDefined() bool { return true }
func (boolValue) IsNil() bool       { return false }
func (boolValue) TypeID() TypeTag   { return TagBool }
func (b boolValue) IsTrue() bool    { return bool(b) }
func (b boolValue) IsEqual(o Value) bool {
	if ob, ok := o.(boolValue); ok {
		return b == ob
	}
	return false
}
func (boolValue) IsMagicColon() bool     { return false }
func (boolValue) IsCell() bool           { return false }
func (boolValue) IsFullNumMatrix() bool  { return false }
func (boolValue) IsFunction() bool       { return false }
func (boolValue) IsFunctionCache() bool  { return false }
func (boolValue) HasFunctionCache() bool { return false }
func (boolValue) IsClassdefMeta() bool   { return false }
func (boolValue) IsMaybeFunction() bool  { return false }
func (boolValue) IsRange() bool          { return false }
func (boolValue) IsScalarType() bool     { return true }
func (boolValue) IsTrivialRange() bool   { return false }
func (boolValue) IsCSList() bool         { return false }
func (boolValue) ListValue() []Value     { return nil }
func (boolValue) IsRef() bool            { return false }
func (boolValue) RefKind() RefKind       { return RefNone }
func (b boolValue) Deref() Value         { return b }
func (b boolValue) DoubleValue() (float64, bool) {
	if b {
		return 1, true
	}
	return 0, true
}
func (b boolValue) IntValue() (int64, bool) {
	if b {
		return 1, true
	}
	return 0, true
}
func (b boolValue) Clone() Value      { return b }
func (b boolValue) MakeUnique() Value { return b }
func (b boolValue) BinaryOp(op Operator, rhs Value) (Value, error) {
	return scalarDouble(boolToFloat(bool(b))).BinaryOp(op, rhs)
}
func (b boolValue) UnaryOp(op Operator) (Value, error) {
	if op == OperatorNot {
		return boolValue(!b), nil
	}
	return scalarDouble(boolToFloat(bool(b))).UnaryOp(op)
}
func (boolValue) DispatchClassify() DispatchKind { return DispatchSubsref }
func (b boolValue) Subsref(kind byte, args []Value, nargout int) ([]Value, error) {
	if kind == '(' && len(args) == 0 {
		return []Value{b}, nil
	}
	return nil, &VMError{Tag: IndexError, Message: "bool does not support this indexing"}
}
func (boolValue) Subsasgn(byte, []Value, Value) (Value, error) {
	return Undefined, &VMError{Tag: ExecutionExc, Message: "cannot subsasgn into a bool"}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// True and False are the canonical VM-native boolean values.
var (
	True  Value = boolValue(true)
	False Value = boolValue(false)
)
