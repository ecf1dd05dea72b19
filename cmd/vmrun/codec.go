package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arrlang/vm/vm"
)

// jsonScalarCodec is the minimal vm.ValueCodec a standalone chunk file
// needs when its constant pool holds nothing richer than scalar doubles
// and booleans: each encoded constant is a one-byte type tag followed by
// its payload. A host embedding the VM inside a full value system should
// supply its own ValueCodec instead of this one.
type jsonScalarCodec struct{}

const (
	tagEncodedDouble byte = 0
	tagEncodedBool   byte = 1
)

func (jsonScalarCodec) EncodeValue(v vm.Value) ([]byte, error) {
	if f, ok := v.DoubleValue(); ok {
		if v.TypeID() == vm.TagBool {
			b := byte(0)
			if v.IsTrue() {
				b = 1
			}
			return []byte{tagEncodedBool, b}, nil
		}
		buf := make([]byte, 9)
		buf[0] = tagEncodedDouble
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(f))
		return buf, nil
	}
	return nil, fmt.Errorf("vmrun: codec cannot encode value of type %d", v.TypeID())
}

func (jsonScalarCodec) DecodeValue(data []byte) (vm.Value, error) {
	if len(data) == 0 {
		return vm.Undefined, fmt.Errorf("vmrun: empty encoded constant")
	}
	switch data[0] {
	case tagEncodedDouble:
		if len(data) != 9 {
			return vm.Undefined, fmt.Errorf("vmrun: malformed encoded double")
		}
		bits := binary.LittleEndian.Uint64(data[1:])
		return vm.NewScalarDouble(math.Float64frombits(bits)), nil
	case tagEncodedBool:
		if len(data) != 2 {
			return vm.Undefined, fmt.Errorf("vmrun: malformed encoded bool")
		}
		if data[1] != 0 {
			return vm.True, nil
		}
		return vm.False, nil
	default:
		return vm.Undefined, fmt.Errorf("vmrun: unknown encoded constant tag %d", data[0])
	}
}
