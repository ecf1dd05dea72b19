package vm

// FrameLayout describes the slot allocation of a single Function's call
// frame (spec §3 "Per-frame layout").
type FrameLayout struct {
	NumArgs    int
	NumLocals  int
	NumReturns int
	MaxStack   int // peak operand-stack depth this function reaches
}

// Function is one compiled callable unit: its code, its constant pool, the
// name table used by variable-access opcodes, and the unwind table that
// governs try/unwind-protect/for regions within it.
type Function struct {
	Name   string
	Layout FrameLayout

	Code []byte // the instruction stream read by BytecodeReader

	Data  []Value  // the constant/literal pool, indexed by PSLOT operands
	Names []string // identifier table, indexed by variable-access opcodes

	Unwind *UnwindTable

	// Nested holds anonymous/nested function bodies captured at this
	// function's lexical scope (spec §4.6 "nested/anonymous handle calls").
	Nested []*Function

	IsNested  bool
	IsVararg  bool // varargin present
	IsVarargOut bool // varargout present

	SourceFile string
	SourceLine int
}

// Chunk is a fully self-contained compiled unit: an entry Function plus
// every Function it (transitively) references, laid out so it can be
// serialized as a single blob (spec §3 "Bytecode unit").
type Chunk struct {
	Magic   string // "ARRVM"
	Version uint32

	Entry     *Function
	Functions []*Function // entry plus all reachable nested/local functions
}

// NewChunk wraps entry and its nested closure into a Chunk ready for
// serialization or execution.
func NewChunk(entry *Function) *Chunk {
	c := &Chunk{Magic: "ARRVM", Version: 1, Entry: entry}
	c.Functions = flattenFunctions(entry)
	return c
}

func flattenFunctions(fn *Function) []*Function {
	seen := map[*Function]bool{}
	var out []*Function
	var walk func(*Function)
	walk = func(f *Function) {
		if seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
		for _, n := range f.Nested {
			walk(n)
		}
	}
	walk(fn)
	return out
}

// ConstantPoolBuilder deduplicates literal values while a Function's code
// is being assembled, so identical constants share one Data slot.
type ConstantPoolBuilder struct {
	values []Value
	index  map[interface{}]int
}

func NewConstantPoolBuilder() *ConstantPoolBuilder {
	return &ConstantPoolBuilder{index: make(map[interface{}]int)}
}

// Intern returns the Data-pool slot for v, appending it if this exact key
// has not been seen. Deduplication is by the caller-supplied key, which must
// be comparable; a nil key (e.g. for an opaque host Value) always appends a
// fresh slot.
func (p *ConstantPoolBuilder) Intern(v Value, key interface{}) uint16 {
	if key != nil {
		if idx, ok := p.index[key]; ok {
			return uint16(idx)
		}
	}
	idx := len(p.values)
	p.values = append(p.values, v)
	if key != nil {
		p.index[key] = idx
	}
	return uint16(idx)
}

func (p *ConstantPoolBuilder) Values() []Value { return p.values }

// NameTableBuilder deduplicates identifier strings used by variable-access
// opcodes.
type NameTableBuilder struct {
	names []string
	index map[string]int
}

func NewNameTableBuilder() *NameTableBuilder {
	return &NameTableBuilder{index: make(map[string]int)}
}

func (n *NameTableBuilder) Intern(name string) uint16 {
	if idx, ok := n.index[name]; ok {
		return uint16(idx)
	}
	idx := len(n.names)
	n.names = append(n.names, name)
	n.index[name] = idx
	return uint16(idx)
}

func (n *NameTableBuilder) Names() []string { return n.names }
