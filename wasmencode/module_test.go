package wasmencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModule_EncodeEmpty(t *testing.T) {
	m := &Module{}
	got := m.Encode()
	assert.Equal(t, append(append([]byte{}, magic...), version...), got)
}

func TestModule_EncodeTypeSection(t *testing.T) {
	m := &Module{
		Funcs: []Func{
			{
				Name: "main",
				Type: FuncType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}},
				Code: NewAssembler().LocalGet(0).Bytes(),
			},
		},
	}
	got := m.Encode()
	assert.Equal(t, append(append([]byte{}, magic...), version...), got[:8])

	// type section immediately follows the header.
	assert.Equal(t, byte(sectionType), got[8])
}

func TestModule_EncodeWithImportAndMemory(t *testing.T) {
	m := &Module{
		Imports: []Import{
			{Module: "env", Name: "print", Type: FuncType{Params: []ValueType{ValueTypeI32}}},
		},
		Funcs: []Func{
			{
				Name: "main",
				Type: FuncType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}},
				Code: NewAssembler().I32Const(0).Call(0).I32Const(42).Bytes(),
			},
		},
		MemoryPages: 2,
	}
	got := m.Encode()
	assert.NotEmpty(t, got)
	assert.Equal(t, magic, got[:4])
}
