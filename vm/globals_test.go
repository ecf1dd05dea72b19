package vm

import "testing"

func TestGlobalTableRoundTrip(t *testing.T) {
	g := newGlobalTable()
	if v := g.get("x"); v.IsDefined() {
		t.Fatal("unset global should be Undefined")
	}
	g.set("x", NewScalarDouble(7))
	got, ok := g.get("x").DoubleValue()
	if !ok || got != 7 {
		t.Errorf("get(x) = %v, want 7", got)
	}
}

func TestRefWrapperDispatchesToGlobalTable(t *testing.T) {
	g := newGlobalTable()
	ref := &refWrapper{kind: RefGlobal, name: "counter", globals: g}

	ref.set(NewScalarDouble(1))
	got, ok := ref.get().DoubleValue()
	if !ok || got != 1 {
		t.Errorf("ref.get() = %v, want 1", got)
	}

	direct, ok := g.get("counter").DoubleValue()
	if !ok || direct != 1 {
		t.Errorf("global table should observe the ref wrapper's write, got %v", direct)
	}
}

func TestPersistentStoreCachesWithoutBackingDB(t *testing.T) {
	store, err := newPersistentStore(nil, nil)
	if err != nil {
		t.Fatalf("newPersistentStore(nil, nil) error: %v", err)
	}
	store.set("n", NewScalarDouble(5))
	got, ok := store.get("n").DoubleValue()
	if !ok || got != 5 {
		t.Errorf("persistent store round-trip = %v, want 5", got)
	}
}
