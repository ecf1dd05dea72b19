package vm

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// TestDisassembleMatchesGoldenFixture decodes a hand-assembled bytecode
// sequence from a txtar-bundled golden fixture (source hex, expected
// disassembly, expected result) and checks Disassemble reproduces the
// fixture's listing exactly, then runs the same bytecode through the VM
// and checks it produces the fixture's expected result.
func TestDisassembleMatchesGoldenFixture(t *testing.T) {
	archive, err := txtar.ParseFile("testdata/loop_golden.txtar")
	if err != nil {
		t.Fatalf("failed to parse golden fixture: %v", err)
	}
	files := make(map[string]string, len(archive.Files))
	for _, f := range archive.Files {
		files[f.Name] = string(f.Data)
	}

	code, err := hex.DecodeString(strings.TrimSpace(files["addtwo.hex"]))
	if err != nil {
		t.Fatalf("invalid hex in golden fixture: %v", err)
	}
	fn := &Function{
		Name:   "addtwo",
		Layout: FrameLayout{NumArgs: 0, NumLocals: 0, NumReturns: 1},
		Code:   code,
	}

	got := Disassemble(fn)
	want := files["addtwo.disasm"]
	if got != want {
		t.Errorf("disassembly mismatch:\ngot:  %q\nwant: %q", got, want)
	}

	ev := newStubEvaluator()
	vm := New(DefaultConfig(), ev)
	results, err := vm.Run(context.Background(), NewChunk(fn), nil, 1)
	if err != nil {
		t.Fatalf("unexpected error running golden fixture bytecode: %v", err)
	}
	wantResult, perr := strconv.ParseFloat(strings.TrimSpace(files["addtwo.result"]), 64)
	if perr != nil {
		t.Fatalf("invalid expected result in golden fixture: %v", perr)
	}
	gotResult, ok := results[0].DoubleValue()
	if !ok || gotResult != wantResult {
		t.Errorf("addtwo() = %v, want %v", results[0], wantResult)
	}
}
