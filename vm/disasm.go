package vm

import (
	"fmt"
	"strings"
)

// DisassembleInstruction decodes the single instruction at r's current
// position, returning a human-readable line and whether that instruction
// was a WIDE prefix for the next one. wide carries over WIDE-prefix state
// from the caller.
func DisassembleInstruction(r *BytecodeReader, fn *Function, wide bool) (line string, nextWide bool) {
	offset := r.Position()
	op := r.ReadOpcode()

	if op == OpWIDE {
		return fmt.Sprintf("%04d  WIDE", offset), true
	}

	info := op.Info()
	var operands []string

	switch {
	case isSlotOpcode(op):
		slot := r.ReadSlot(wide)
		operands = append(operands, fmt.Sprintf("slot=%d", slot))
		if int(slot) < len(fn.Names) {
			operands = append(operands, fmt.Sprintf("; %s", fn.Names[slot]))
		}
	case op.IsJump():
		rel := r.ReadInt16()
		target := r.Position() + int(rel)
		operands = append(operands, fmt.Sprintf("-> %04d", target))
	case op == OpLoadCst || op == OpLoadCstAlt2 || op == OpLoadCstAlt3 || op == OpLoadCstAlt4:
		idx := r.ReadByte()
		operands = append(operands, fmt.Sprintf("data[%d]", idx))
		if int(idx) < len(fn.Data) {
			operands = append(operands, fmt.Sprintf("; %v", fn.Data[idx]))
		}
	case op == OpLoadFarCst:
		idx := r.ReadUint32()
		operands = append(operands, fmt.Sprintf("data[%d]", idx))
	case op == OpPushFoldedCst || op == OpSetFoldedCst:
		f := r.ReadFloat64()
		operands = append(operands, fmt.Sprintf("%g", f))
	case op == OpAddCst || op == OpAddCstDbl || op == OpMulCst || op == OpMulCstDbl:
		f := r.ReadFloat64()
		operands = append(operands, fmt.Sprintf("%g", f))
	default:
		n := info.OperandBytes
		for i := 0; i < n; i++ {
			operands = append(operands, fmt.Sprintf("%02x", r.ReadByte()))
		}
	}

	text := info.Name
	if len(operands) > 0 {
		text = text + " " + strings.Join(operands, " ")
	}
	return fmt.Sprintf("%04d  %s", offset, text), false
}

func isSlotOpcode(op Opcode) bool {
	switch op {
	case OpPushSlotNargout0, OpPushSlotNargout1, OpPushSlotNargout1Special, OpPushSlotNargoutN,
		OpPushSlotDisp, OpPushSlotNX, OpStoreSlot, OpPushSlotDispX,
		OpIncrIDPrefix, OpIncrIDPrefixDbl, OpDecrIDPrefix, OpDecrIDPrefixDbl,
		OpIncrIDPostfix, OpIncrIDPostfixDbl, OpDecrIDPostfix, OpDecrIDPostfixDbl:
		return true
	}
	return false
}

// Disassemble renders every instruction of fn's code as a multi-line
// listing, primarily for test golden files and the cmd/vmrun -disasm flag.
func Disassemble(fn *Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "function %s (args=%d locals=%d returns=%d)\n",
		fn.Name, fn.Layout.NumArgs, fn.Layout.NumLocals, fn.Layout.NumReturns)

	r := NewBytecodeReader(fn.Code)
	wide := false
	for r.HasMore() {
		var line string
		line, wide = DisassembleInstruction(r, fn, wide)
		b.WriteString(line)
		b.WriteByte('\n')
	}

	for _, nested := range fn.Nested {
		b.WriteString(Disassemble(nested))
	}
	return b.String()
}
