package wasmencode

import "bytes"

// ValueType mirrors the Wasm core value types this backend emits.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// section ids, Wasm 1.0 core binary format.
const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6d}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Import is one imported function, e.g. the host ABI callbacks the guest
// declares (spec §4.3).
type Import struct {
	Module, Name string
	Type         FuncType
}

// Func is a guest-defined function body: its signature, local declarations
// and already-assembled instruction bytes (see Assembler).
type Func struct {
	Name    string // export name, empty if not exported
	Type    FuncType
	Locals  []ValueType // additional locals beyond the parameters
	Code    []byte      // instruction stream, terminated by 0x0b (end)
}

// DataSegment is a passive/active initializer for the module's memory,
// used to preload the literal table and table images in tests that don't
// rely on the host aliasing the arena directly.
type DataSegment struct {
	Offset uint32
	Data   []byte
}

// Module is the accumulated representation the Module Builder assembles
// before encoding to bytes.
type Module struct {
	Imports      []Import
	Funcs        []Func
	MemoryPages  uint32 // min pages exported as "memory"
	DataSegments []DataSegment
}

// Encode serializes the module to the Wasm 1.0 binary format: magic+version
// followed by type, import, function, memory, export, code and data
// sections, each present only if non-empty (per spec, an empty section is
// omitted rather than written as a zero-length one).
func (m *Module) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write(version)

	types := m.collectTypes()

	if len(m.Imports) > 0 {
		writeSection(&buf, sectionType, encodeTypeSection(types))
		writeSection(&buf, sectionImport, encodeImportSection(m.Imports, types))
	} else if len(types) > 0 {
		writeSection(&buf, sectionType, encodeTypeSection(types))
	}

	if len(m.Funcs) > 0 {
		writeSection(&buf, sectionFunction, encodeFunctionSection(m.Funcs, types, len(m.Imports)))
	}

	if m.MemoryPages > 0 {
		writeSection(&buf, sectionMemory, encodeMemorySection(m.MemoryPages))
	}

	exports := encodeExportSection(m, len(m.Imports))
	if len(exports) > 0 {
		writeSection(&buf, sectionExport, exports)
	}

	if len(m.Funcs) > 0 {
		writeSection(&buf, sectionCode, encodeCodeSection(m.Funcs))
	}

	if len(m.DataSegments) > 0 {
		writeSection(&buf, sectionData, encodeDataSection(m.DataSegments))
	}

	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, id byte, body []byte) {
	buf.WriteByte(id)
	buf.Write(EncodeUint32(uint32(len(body))))
	buf.Write(body)
}

// collectTypes deduplicates function signatures across imports and funcs,
// preserving first-occurrence order (imports first, matching the Wasm
// convention that the import section's functions occupy the low indices).
func (m *Module) collectTypes() []FuncType {
	var types []FuncType
	seen := map[string]int{}
	add := func(t FuncType) {
		key := typeKey(t)
		if _, ok := seen[key]; !ok {
			seen[key] = len(types)
			types = append(types, t)
		}
	}
	for _, imp := range m.Imports {
		add(imp.Type)
	}
	for _, f := range m.Funcs {
		add(f.Type)
	}
	return types
}

func typeKey(t FuncType) string {
	b := make([]byte, 0, len(t.Params)+len(t.Results)+1)
	for _, p := range t.Params {
		b = append(b, byte(p))
	}
	b = append(b, '|')
	for _, r := range t.Results {
		b = append(b, byte(r))
	}
	return string(b)
}

func typeIndex(types []FuncType, t FuncType) uint32 {
	key := typeKey(t)
	for i, tt := range types {
		if typeKey(tt) == key {
			return uint32(i)
		}
	}
	return 0
}

func encodeTypeSection(types []FuncType) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(uint32(len(types))))
	for _, t := range types {
		buf.WriteByte(0x60) // func type tag
		buf.Write(EncodeUint32(uint32(len(t.Params))))
		for _, p := range t.Params {
			buf.WriteByte(byte(p))
		}
		buf.Write(EncodeUint32(uint32(len(t.Results))))
		for _, r := range t.Results {
			buf.WriteByte(byte(r))
		}
	}
	return buf.Bytes()
}

func encodeImportSection(imports []Import, types []FuncType) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(uint32(len(imports))))
	for _, imp := range imports {
		writeName(&buf, imp.Module)
		writeName(&buf, imp.Name)
		buf.WriteByte(0x00) // func import
		buf.Write(EncodeUint32(typeIndex(types, imp.Type)))
	}
	return buf.Bytes()
}

func encodeFunctionSection(funcs []Func, types []FuncType, _ int) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(uint32(len(funcs))))
	for _, f := range funcs {
		buf.Write(EncodeUint32(typeIndex(types, f.Type)))
	}
	return buf.Bytes()
}

func encodeMemorySection(minPages uint32) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(1)) // one memory
	buf.WriteByte(0x00)        // no max
	buf.Write(EncodeUint32(minPages))
	return buf.Bytes()
}

func encodeExportSection(m *Module, importCount int) []byte {
	var buf bytes.Buffer
	n := uint32(0)
	for _, f := range m.Funcs {
		if f.Name != "" {
			n++
		}
	}
	if m.MemoryPages > 0 {
		n++
	}
	if n == 0 {
		return nil
	}
	buf.Write(EncodeUint32(n))
	if m.MemoryPages > 0 {
		writeName(&buf, "memory")
		buf.WriteByte(0x02) // memory export
		buf.Write(EncodeUint32(0))
	}
	for i, f := range m.Funcs {
		if f.Name == "" {
			continue
		}
		writeName(&buf, f.Name)
		buf.WriteByte(0x00) // func export
		buf.Write(EncodeUint32(uint32(importCount + i)))
	}
	return buf.Bytes()
}

func encodeCodeSection(funcs []Func) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(uint32(len(funcs))))
	for _, f := range funcs {
		body := encodeFuncBody(f)
		buf.Write(EncodeUint32(uint32(len(body))))
		buf.Write(body)
	}
	return buf.Bytes()
}

func encodeFuncBody(f Func) []byte {
	var buf bytes.Buffer
	// locals: grouped runs of identical type, we always emit one run per
	// local for simplicity (valid, just not maximally compact).
	buf.Write(EncodeUint32(uint32(len(f.Locals))))
	for _, l := range f.Locals {
		buf.Write(EncodeUint32(1))
		buf.WriteByte(byte(l))
	}
	buf.Write(f.Code)
	return buf.Bytes()
}

func encodeDataSection(segs []DataSegment) []byte {
	var buf bytes.Buffer
	buf.Write(EncodeUint32(uint32(len(segs))))
	for _, d := range segs {
		buf.Write(EncodeUint32(0)) // memory index 0
		buf.WriteByte(0x41)        // i32.const
		buf.Write(EncodeInt32(int32(d.Offset)))
		buf.WriteByte(0x0b) // end
		buf.Write(EncodeUint32(uint32(len(d.Data))))
		buf.Write(d.Data)
	}
	return buf.Bytes()
}

func writeName(buf *bytes.Buffer, s string) {
	buf.Write(EncodeUint32(uint32(len(s))))
	buf.WriteString(s)
}
