package vm

import "testing"

func TestStackPushFramePreservesArgsAsLocals(t *testing.T) {
	s := NewStack()
	s.Push(NewScalarDouble(1))
	s.Push(NewScalarDouble(2))

	fn := &Function{Name: "f", Layout: FrameLayout{NumArgs: 2, NumLocals: 4}}
	frame := s.PushFrame(fn, 2, 1, -1)

	if frame.Base != 0 {
		t.Fatalf("Base = %d, want 0", frame.Base)
	}
	if got, ok := s.Slot(0).DoubleValue(); !ok || got != 1 {
		t.Errorf("local 0 = %v, want 1", s.Slot(0))
	}
	if got, ok := s.Slot(1).DoubleValue(); !ok || got != 2 {
		t.Errorf("local 1 = %v, want 2", s.Slot(1))
	}
	if s.Slot(2) != Undefined {
		t.Errorf("local 2 should be Undefined until assigned, got %v", s.Slot(2))
	}
	if s.Top() != 4 {
		t.Errorf("Top() = %d, want 4 (2 args + 2 extra locals)", s.Top())
	}
}

func TestStackPopFrameRestoresCallerTop(t *testing.T) {
	s := NewStack()
	s.Push(NewScalarDouble(9))
	fn := &Function{Layout: FrameLayout{NumArgs: 1, NumLocals: 1}}
	s.PushFrame(fn, 1, 0, -1)
	s.Push(NewScalarDouble(42))

	if s.Top() != 2 {
		t.Fatalf("Top() before pop = %d, want 2", s.Top())
	}
	s.PopFrame()
	if s.Top() != 0 {
		t.Errorf("Top() after PopFrame = %d, want 0", s.Top())
	}
}

func TestFrameRecyclePoolReusesStructs(t *testing.T) {
	s := NewStack()
	fn := &Function{Layout: FrameLayout{}}

	var first *Frame
	for i := 0; i < frameRecycleCacheSize+2; i++ {
		f := s.PushFrame(fn, 0, 0, -1)
		if i == 0 {
			first = f
		} else if f != first {
			t.Errorf("push %d got a fresh Frame, want the recycled one", i)
		}
		s.PopFrame()
	}
	// Alternating push/pop hands the same struct back each time, so the
	// cache holds exactly one retired frame at the end.
	if s.nrecycled != 1 {
		t.Errorf("nrecycled = %d, want 1", s.nrecycled)
	}
}

func TestStackGrowsWithoutLosingValues(t *testing.T) {
	s := NewStack()
	for i := 0; i < defaultStackCapacity*3; i++ {
		s.Push(NewScalarDouble(float64(i)))
	}
	for i := defaultStackCapacity*3 - 1; i >= 0; i-- {
		v := s.Pop()
		f, _ := v.DoubleValue()
		if f != float64(i) {
			t.Fatalf("popped %v at position %d, want %d", f, i, i)
		}
	}
}
