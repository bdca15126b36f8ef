package resultset

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraquery/wasmquery/arena"
	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/schema"
	"github.com/tetraquery/wasmquery/wasmctx"
)

type fakeOp struct {
	kind     plan.OperatorKind
	sch      schema.Schema
	children []plan.Operator
	exprs    []plan.Expr
}

func (f *fakeOp) Kind() plan.OperatorKind   { return f.kind }
func (f *fakeOp) Schema() schema.Schema     { return f.sch }
func (f *fakeOp) Children() []plan.Operator { return f.children }
func (f *fakeOp) Expressions() []plan.Expr  { return f.exprs }

type fakePlan struct {
	root plan.Operator
}

func (p *fakePlan) MatchedRoot() plan.Operator { return p.root }
func (p *fakePlan) Execute(plan.Setup, plan.Pipeline, plan.Teardown) {}

// fixedLayout is a ResultSetFactory that packs columns back-to-back in
// schema order with no NULL bitmap, for tests that never exercise NULLs.
type fixedLayout struct{}

func (fixedLayout) Make(payloadSchema schema.Schema) wasmctx.RowLayout {
	var offsets []uint32
	var cursor uint32
	for _, c := range payloadSchema.Columns {
		offsets = append(offsets, cursor)
		cursor += uint32(c.Kind.ByteSize())
	}
	return wasmctx.RowLayout{Stride: cursor, ColOffsets: offsets, NullBitmapAt: cursor}
}

func newTestContext(t *testing.T, root plan.Operator) *wasmctx.Context {
	a := arena.New(4*arena.PageSize, arena.Config{})
	return &wasmctx.Context{
		Arena:            a,
		Plan:             &fakePlan{root: root},
		ResultSetFactory: fixedLayout{},
	}
}

func TestReader_CaseA_AllConstant(t *testing.T) {
	proj := &fakeOp{
		kind: plan.KindPrint,
		sch: schema.New(
			schema.Column{Identifier: "one", Kind: schema.KindI32, Constant: true},
			schema.Column{Identifier: "x", Kind: schema.KindString, Constant: true},
		),
		exprs: []plan.Expr{
			{IsConstant: true, Constant: schema.Value{Int: 1}},
			{IsConstant: true, Constant: schema.Value{String: "x"}},
		},
	}
	ctx := newTestContext(t, proj)

	var buf bytes.Buffer
	sink := &PrintSink{Writer: &buf}
	r := &Reader{Context: ctx, Sink: sink}

	require.NoError(t, r.Read(0, 3))
	assert.Equal(t, "1,\"x\"\n1,\"x\"\n1,\"x\"\n3 rows\n", buf.String())
}

func TestReader_CaseB_NoDedupNoConstants(t *testing.T) {
	scan := &fakeOp{kind: plan.KindScan, sch: schema.Schema{}}
	root := &fakeOp{
		kind:     plan.KindPrint,
		children: []plan.Operator{scan},
		sch: schema.New(
			schema.Column{Identifier: "id", Kind: schema.KindI32},
			schema.Column{Identifier: "name", Kind: schema.KindString},
		),
	}
	ctx := newTestContext(t, root)

	nameOff, err := ctx.Arena.Append("lit", []byte("a\x00"))
	require.NoError(t, err)

	row := make([]byte, 8)
	binary.LittleEndian.PutUint32(row[0:4], 1)
	binary.LittleEndian.PutUint32(row[4:8], nameOff)
	bufOff, err := ctx.Arena.Append("buf", row)
	require.NoError(t, err)

	var out bytes.Buffer
	sink := &PrintSink{Writer: &out}
	r := &Reader{Context: ctx, Sink: sink}

	require.NoError(t, r.Read(bufOff, 1))
	assert.Equal(t, "1,\"a\"\n1 rows\n", out.String())
}

func TestReader_CaseC_Dedup(t *testing.T) {
	scan := &fakeOp{kind: plan.KindScan, sch: schema.Schema{}}
	root := &fakeOp{
		kind:     plan.KindPrint,
		children: []plan.Operator{scan},
		sch: schema.New(
			schema.Column{Identifier: "id", Kind: schema.KindI32},
			schema.Column{Identifier: "id", Kind: schema.KindI32},
		),
	}
	ctx := newTestContext(t, root)

	row := make([]byte, 4)
	binary.LittleEndian.PutUint32(row[0:4], 7)
	bufOff, err := ctx.Arena.Append("buf", row)
	require.NoError(t, err)

	var out bytes.Buffer
	sink := &PrintSink{Writer: &out}
	r := &Reader{Context: ctx, Sink: sink}

	require.NoError(t, r.Read(bufOff, 1))
	assert.Equal(t, "7,7\n1 rows\n", out.String())
}

func TestReader_RejectsZeroOffsetWithNonEmptyPayload(t *testing.T) {
	root := &fakeOp{
		kind: plan.KindPrint,
		sch:  schema.New(schema.Column{Identifier: "id", Kind: schema.KindI32}),
	}
	ctx := newTestContext(t, root)
	r := &Reader{Context: ctx, Sink: &PrintSink{Writer: &bytes.Buffer{}}}
	assert.Error(t, r.Read(0, 1))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "2024-01-31", formatDate(int32(2024<<9|1<<5|31)))
	assert.Equal(t, "-0005-01-01", formatDate(int32(-5<<9|1<<5|1)))
}

func TestCallbackSink_InvokesPerRow(t *testing.T) {
	var got []schema.Tuple
	sink := &CallbackSink{Fn: func(sch schema.Schema, tup schema.Tuple) error {
		got = append(got, tup)
		return nil
	}}
	tup := schema.NewTuple(1)
	require.NoError(t, sink.Emit(schema.Schema{}, tup))
	require.NoError(t, sink.Finish(1))
	assert.Len(t, got, 1)
}
