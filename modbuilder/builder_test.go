package modbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetraquery/wasmquery/arena"
	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/schema"
	"github.com/tetraquery/wasmquery/wasmencode"
)

type fakeOp struct {
	kind     plan.OperatorKind
	sch      schema.Schema
	children []plan.Operator
	table    string
	exprs    []plan.Expr
	pred     plan.Expr
}

func (f *fakeOp) Kind() plan.OperatorKind      { return f.kind }
func (f *fakeOp) Schema() schema.Schema        { return f.sch }
func (f *fakeOp) Children() []plan.Operator    { return f.children }
func (f *fakeOp) TableName() string            { return f.table }
func (f *fakeOp) Expressions() []plan.Expr     { return f.exprs }
func (f *fakeOp) Predicate() plan.Expr         { return f.pred }

func TestCollectStringLiterals_DedupsAndOrdersByFirstOccurrence(t *testing.T) {
	a := arena.New(4*arena.PageSize, arena.Config{})
	b := New(a)

	scan := &fakeOp{kind: plan.KindScan, table: "t"}
	proj := &fakeOp{
		kind:     plan.KindProjection,
		children: []plan.Operator{scan},
		exprs: []plan.Expr{
			{IsConstant: true, StringLiteral: "x"},
			{IsConstant: true, StringLiteral: "y"},
			{IsConstant: true, StringLiteral: "x"}, // dup, ignored
		},
	}

	lits, err := b.CollectStringLiterals(proj)
	require.NoError(t, err)
	require.Len(t, lits, 2)

	xOff, ok := b.LiteralOffset("x")
	require.True(t, ok)
	yOff, ok := b.LiteralOffset("y")
	require.True(t, ok)
	assert.Less(t, xOff, yOff)

	got, ok := a.Read(xOff, 2)
	require.True(t, ok)
	assert.Equal(t, "x\x00", string(got))
}

func TestEmit_ProducesValidModule(t *testing.T) {
	a := arena.New(4*arena.PageSize, arena.Config{})
	b := New(a)

	b.ImportFunc("env", "print", wasmencode.FuncType{Params: []wasmencode.ValueType{wasmencode.ValueTypeI32}})
	b.DefineFunc(wasmencode.Func{
		Name: "main",
		Type: wasmencode.FuncType{Params: []wasmencode.ValueType{wasmencode.ValueTypeI32}, Results: []wasmencode.ValueType{wasmencode.ValueTypeI32}},
		Code: wasmencode.NewAssembler().I32Const(0).Bytes(),
	})

	out, err := b.Emit(true)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestEmit_FailsValidationOnUnterminatedBody(t *testing.T) {
	a := arena.New(arena.PageSize, arena.Config{})
	b := New(a)
	b.funcs = append(b.funcs, wasmencode.Func{Name: "broken", Code: []byte{wasmencode.OpI32Const, 0x00}})
	_, err := b.Emit(true)
	assert.Error(t, err)
}
