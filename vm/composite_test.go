package vm

import "testing"

func TestMatrixLiteralSubsref2D(t *testing.T) {
	m := newMatrixLiteral(2, 3, []Value{
		NewScalarDouble(1), NewScalarDouble(2), NewScalarDouble(3),
		NewScalarDouble(4), NewScalarDouble(5), NewScalarDouble(6),
	})
	results, err := m.Subsref('(', []Value{NewScalarDouble(2), NewScalarDouble(3)}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := results[0].DoubleValue()
	if !ok || got != 6 {
		t.Errorf("m(2,3) = %v, want 6", results[0])
	}
}

func TestMatrixLiteralSubsref2DOutOfBounds(t *testing.T) {
	m := newMatrixLiteral(2, 2, []Value{NewScalarDouble(1), NewScalarDouble(2), NewScalarDouble(3), NewScalarDouble(4)})
	if _, err := m.Subsref('(', []Value{NewScalarDouble(3), NewScalarDouble(1)}, 1); err == nil {
		t.Fatal("expected out-of-bounds error indexing row 3 of a 2x2 matrix")
	}
}

func TestMatrixLiteralSubsasgn2DGrowsRowsOnly(t *testing.T) {
	m := newMatrixLiteral(1, 2, []Value{NewScalarDouble(1), NewScalarDouble(2)})
	updated, err := m.Subsasgn('(', []Value{NewScalarDouble(2), NewScalarDouble(1)}, NewScalarDouble(9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	grown := updated.(*matrixLiteral)
	if grown.rows != 2 || grown.cols != 2 {
		t.Fatalf("shape after grow = %dx%d, want 2x2", grown.rows, grown.cols)
	}
	v, ok := grown.elems[0].DoubleValue()
	if !ok || v != 1 {
		t.Errorf("(1,1) after row-grow = %v, want unchanged 1", grown.elems[0])
	}
	v, ok = grown.elems[2].DoubleValue()
	if !ok || v != 9 {
		t.Errorf("(2,1) after row-grow = %v, want 9", grown.elems[2])
	}
}

func TestStructLiteralSetPreservesInsertionOrder(t *testing.T) {
	s := newStructLiteral()
	v1, err := s.Subsasgn('.', []Value{structFieldName("b")}, NewScalarDouble(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := v1.Subsasgn('.', []Value{structFieldName("a")}, NewScalarDouble(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := v2.(*structLiteral)
	if len(st.names) != 2 || st.names[0] != "b" || st.names[1] != "a" {
		t.Errorf("field order = %v, want [b a] (insertion order)", st.names)
	}
}

func TestStructLiteralSubsrefUnknownField(t *testing.T) {
	s := newStructLiteral()
	if _, err := s.Subsref('.', []Value{structFieldName("missing")}, 1); err == nil {
		t.Fatal("expected an error reading an unset field")
	}
}

func TestFuncHandleNamedDispatchClassify(t *testing.T) {
	fh := &funcHandle{name: "sin"}
	if fh.DispatchClassify() != DispatchCall {
		t.Errorf("named handle DispatchClassify = %v, want DispatchCall", fh.DispatchClassify())
	}
}

func TestFuncHandleAnonymousDispatchClassify(t *testing.T) {
	fh := &funcHandle{isAnon: true, fn: &Function{Layout: FrameLayout{NumArgs: 1, NumLocals: 1, NumReturns: 1}}}
	if fh.DispatchClassify() != DispatchNestedHandle {
		t.Errorf("anonymous handle DispatchClassify = %v, want DispatchNestedHandle", fh.DispatchClassify())
	}
}
