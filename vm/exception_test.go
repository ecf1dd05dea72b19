package vm

import "testing"

func TestUnwindTableFindHandlerPicksInnermost(t *testing.T) {
	table := &UnwindTable{Regions: []UnwindRegion{
		{IPStart: 0, IPEnd: 100, HandlerIP: 90, Kind: UnwindTry},
		{IPStart: 10, IPEnd: 20, HandlerIP: 19, Kind: UnwindProtect},
	}}

	region, ok := table.FindHandler(15)
	if !ok {
		t.Fatal("expected a handler to cover ip=15")
	}
	if region.HandlerIP != 19 {
		t.Errorf("HandlerIP = %d, want 19 (innermost region)", region.HandlerIP)
	}

	region, ok = table.FindHandler(50)
	if !ok || region.HandlerIP != 90 {
		t.Errorf("ip=50 should resolve to outer region, got %+v ok=%v", region, ok)
	}

	if _, ok := table.FindHandler(200); ok {
		t.Error("ip outside every region should not find a handler")
	}
}

func TestClassifyExitExceptionAlwaysHalts(t *testing.T) {
	err := &VMError{Tag: ExitException, ExitCode: 1}
	table := &UnwindTable{Regions: []UnwindRegion{{IPStart: 0, IPEnd: 100, Kind: UnwindTry}}}
	outcome, _ := classify(err, 5, table)
	if outcome != unwindHalt {
		t.Errorf("ExitException outcome = %v, want unwindHalt", outcome)
	}
}

func TestClassifyRethrowsWhenNoRegionCovers(t *testing.T) {
	err := &VMError{Tag: IndexError}
	outcome, _ := classify(err, 5, nil)
	if outcome != unwindRethrow {
		t.Errorf("outcome with nil table = %v, want unwindRethrow", outcome)
	}

	table := &UnwindTable{Regions: []UnwindRegion{{IPStart: 50, IPEnd: 100, Kind: UnwindTry}}}
	outcome, _ = classify(err, 5, table)
	if outcome != unwindRethrow {
		t.Errorf("outcome outside all regions = %v, want unwindRethrow", outcome)
	}
}

func TestVMErrorTagString(t *testing.T) {
	cases := []struct {
		tag  ErrorTag
		want string
	}{
		{IDUndefined, "id-undefined"},
		{RHSUndefined, "rhs-undefined-in-assignment"},
		{ExitException, "exit-exception"},
	}
	for _, c := range cases {
		if got := c.tag.String(); got != c.want {
			t.Errorf("ErrorTag(%d).String() = %q, want %q", c.tag, got, c.want)
		}
	}
}
