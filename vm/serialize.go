package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"cuelang.org/go/cue/cuecontext"
	"github.com/fxamacker/cbor/v2"
)

const (
	wireMagic         = "ARRVM"
	wireVersion uint32 = 1
)

// wireFunction is the CBOR-serializable shadow of Function. Value entries
// in Data are encoded through the host-supplied ValueCodec since Value is
// an opaque interface the vm package cannot marshal on its own.
type wireFunction struct {
	Name        string             `cbor:"name"`
	NumArgs     int                `cbor:"numArgs"`
	NumLocals   int                `cbor:"numLocals"`
	NumReturns  int                `cbor:"numReturns"`
	MaxStack    int                `cbor:"maxStack"`
	Code        []byte             `cbor:"code"`
	Data        [][]byte           `cbor:"data"` // codec-encoded Values
	Names       []string           `cbor:"names"`
	Unwind      []wireUnwindRegion `cbor:"unwind"`
	NestedIdx   []int              `cbor:"nestedIdx"` // indices into the flattened wireChunk.Functions
	IsNested    bool               `cbor:"isNested"`
	IsVararg    bool               `cbor:"isVararg"`
	IsVarargOut bool               `cbor:"isVarargOut"`
	SourceFile  string             `cbor:"sourceFile"`
	SourceLine  int                `cbor:"sourceLine"`
}

type wireUnwindRegion struct {
	IPStart    int   `cbor:"ipStart"`
	IPEnd      int   `cbor:"ipEnd"`
	StackDepth int   `cbor:"stackDepth"`
	HandlerIP  int   `cbor:"handlerIp"`
	Kind       uint8 `cbor:"kind"`
}

type wireChunk struct {
	Version   uint32         `cbor:"version"`
	Functions []wireFunction `cbor:"functions"`
	EntryIdx  int            `cbor:"entryIdx"`
}

// chunkSchema is a CUE schema constraining the decoded wireChunk shape
// before it is trusted, catching truncated or hand-edited bytecode files
// with a structural error instead of a panic deep in the interpreter.
const chunkSchema = `
version: uint32
entryIdx: uint & >=0
functions: [...{
	name: string
	numArgs: uint & >=0
	numLocals: uint & >=0
	numReturns: uint & >=0
	maxStack: uint & >=0
	code: [...uint & <256]
	data: [...[...uint & <256]]
	names: [...string]
	nestedIdx: [...uint & >=0]
	isNested: bool
	isVararg: bool
	isVarargOut: bool
	sourceFile: string
	sourceLine: int
}]
`

// SerializeChunk encodes c into the on-disk wire format: a fixed header
// (magic, version, flags, payload length) followed by a CBOR-encoded
// wireChunk payload, mirroring the teacher's length-prefixed section
// framing.
func SerializeChunk(c *Chunk, codec ValueCodec) ([]byte, error) {
	index := make(map[*Function]int, len(c.Functions))
	for i, fn := range c.Functions {
		index[fn] = i
	}

	wc := wireChunk{Version: c.Version}
	entryIdx := -1
	for i, fn := range c.Functions {
		if fn == c.Entry {
			entryIdx = i
		}
		wf := wireFunction{
			Name: fn.Name, NumArgs: fn.Layout.NumArgs, NumLocals: fn.Layout.NumLocals,
			NumReturns: fn.Layout.NumReturns, MaxStack: fn.Layout.MaxStack,
			Code: fn.Code, Names: fn.Names,
			IsNested: fn.IsNested, IsVararg: fn.IsVararg, IsVarargOut: fn.IsVarargOut,
			SourceFile: fn.SourceFile, SourceLine: fn.SourceLine,
		}
		for _, v := range fn.Data {
			enc, err := codec.EncodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("vm: encoding constant in %s: %w", fn.Name, err)
			}
			wf.Data = append(wf.Data, enc)
		}
		if fn.Unwind != nil {
			for _, r := range fn.Unwind.Regions {
				wf.Unwind = append(wf.Unwind, wireUnwindRegion{
					IPStart: r.IPStart, IPEnd: r.IPEnd, StackDepth: r.StackDepth,
					HandlerIP: r.HandlerIP, Kind: uint8(r.Kind),
				})
			}
		}
		for _, n := range fn.Nested {
			wf.NestedIdx = append(wf.NestedIdx, index[n])
		}
		wc.Functions = append(wc.Functions, wf)
	}
	wc.EntryIdx = entryIdx

	payload, err := cbor.Marshal(wc)
	if err != nil {
		return nil, fmt.Errorf("vm: cbor-encoding chunk: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(wireMagic)
	binary.Write(&buf, binary.LittleEndian, wireVersion)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // flags, reserved
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DeserializeChunk decodes bytes produced by SerializeChunk, validating the
// payload's shape against chunkSchema before reconstructing Go structs.
func DeserializeChunk(data []byte, codec ValueCodec) (*Chunk, error) {
	if len(data) < len(wireMagic)+12 {
		return nil, fmt.Errorf("vm: truncated chunk header")
	}
	if string(data[:len(wireMagic)]) != wireMagic {
		return nil, fmt.Errorf("vm: bad chunk magic %q", data[:len(wireMagic)])
	}
	off := len(wireMagic)
	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	_ = binary.LittleEndian.Uint32(data[off:]) // flags
	off += 4
	length := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version != wireVersion {
		return nil, fmt.Errorf("vm: unsupported chunk version %d", version)
	}
	if off+int(length) > len(data) {
		return nil, fmt.Errorf("vm: truncated chunk payload")
	}
	payload := data[off : off+int(length)]

	var wc wireChunk
	if err := cbor.Unmarshal(payload, &wc); err != nil {
		return nil, fmt.Errorf("vm: cbor-decoding chunk: %w", err)
	}

	if err := validateChunkSchema(wc); err != nil {
		return nil, fmt.Errorf("vm: chunk failed schema validation: %w", err)
	}

	functions := make([]*Function, len(wc.Functions))
	for i, wf := range wc.Functions {
		fn := &Function{
			Name: wf.Name,
			Layout: FrameLayout{
				NumArgs: wf.NumArgs, NumLocals: wf.NumLocals,
				NumReturns: wf.NumReturns, MaxStack: wf.MaxStack,
			},
			Code: wf.Code, Names: wf.Names,
			IsNested: wf.IsNested, IsVararg: wf.IsVararg, IsVarargOut: wf.IsVarargOut,
			SourceFile: wf.SourceFile, SourceLine: wf.SourceLine,
		}
		for _, enc := range wf.Data {
			v, err := codec.DecodeValue(enc)
			if err != nil {
				return nil, fmt.Errorf("vm: decoding constant in %s: %w", wf.Name, err)
			}
			fn.Data = append(fn.Data, v)
		}
		if len(wf.Unwind) > 0 {
			ut := &UnwindTable{}
			for _, r := range wf.Unwind {
				ut.Regions = append(ut.Regions, UnwindRegion{
					IPStart: r.IPStart, IPEnd: r.IPEnd, StackDepth: r.StackDepth,
					HandlerIP: r.HandlerIP, Kind: UnwindRegionKind(r.Kind),
				})
			}
			fn.Unwind = ut
		}
		functions[i] = fn
	}
	for i, wf := range wc.Functions {
		for _, ni := range wf.NestedIdx {
			if ni < 0 || ni >= len(functions) {
				return nil, fmt.Errorf("vm: chunk references out-of-range nested function %d", ni)
			}
			functions[i].Nested = append(functions[i].Nested, functions[ni])
		}
	}
	if wc.EntryIdx < 0 || wc.EntryIdx >= len(functions) {
		return nil, fmt.Errorf("vm: chunk has invalid entry index %d", wc.EntryIdx)
	}

	return &Chunk{Magic: wireMagic, Version: wc.Version, Entry: functions[wc.EntryIdx], Functions: functions}, nil
}

// validateChunkSchema runs wc back through cbor->generic-map conversion so
// it can be checked against chunkSchema with CUE's unification, catching
// structurally malformed chunks (negative counts, wrong field types from a
// hand-edited file) before the interpreter ever sees them.
func validateChunkSchema(wc wireChunk) error {
	generic, err := cborRoundTripToGeneric(wc)
	if err != nil {
		return err
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(chunkSchema)
	if schema.Err() != nil {
		return fmt.Errorf("compiling schema: %w", schema.Err())
	}

	value := ctx.Encode(generic)
	unified := schema.Unify(value)
	return unified.Validate()
}

func cborRoundTripToGeneric(wc wireChunk) (map[string]interface{}, error) {
	encoded, err := cbor.Marshal(wc)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := cbor.Unmarshal(encoded, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
