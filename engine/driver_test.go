package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetraquery/wasmquery/catalog"
	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/schema"
)

// fakeOp is a bare operator node: Scan, Print, Join, etc. It deliberately
// has no Expressions method, so findProjection's interface probe does not
// mistake it for a projection — only fakeProj below implements that.
type fakeOp struct {
	kind     plan.OperatorKind
	sch      schema.Schema
	children []plan.Operator
	table    string
}

func (f *fakeOp) Kind() plan.OperatorKind   { return f.kind }
func (f *fakeOp) Schema() schema.Schema     { return f.sch }
func (f *fakeOp) Children() []plan.Operator { return f.children }
func (f *fakeOp) TableName() string         { return f.table }

// fakeProj is a KindProjection node, the only fake type exposing
// Expressions().
type fakeProj struct {
	*fakeOp
	exprs []plan.Expr
}

func (f *fakeProj) Expressions() []plan.Expr { return f.exprs }

type fakePlan struct{ root plan.Operator }

func (p *fakePlan) MatchedRoot() plan.Operator                      { return p.root }
func (p *fakePlan) Execute(plan.Setup, plan.Pipeline, plan.Teardown) {}

type fakeStore struct {
	rows    uint32
	rowSize uint32
	bytes   []byte
}

func (s *fakeStore) NumRows() uint32 { return s.rows }
func (s *fakeStore) RowSize() uint32 { return s.rowSize }
func (s *fakeStore) Bytes() []byte   { return s.bytes }

type fakeTimer struct{}

func (fakeTimer) Now() time.Time { return time.Unix(0, 0) }

type fakeAllocator struct{}

func (fakeAllocator) TotalMiB() uint32 { return 0 }
func (fakeAllocator) PeakMiB() uint32  { return 0 }

type fakePool struct{}

func (fakePool) Intern(s string) string { return s }

type fakeCatalog struct {
	stores map[string]*fakeStore
}

func (c *fakeCatalog) Timer() catalog.Timer         { return fakeTimer{} }
func (c *fakeCatalog) Allocator() catalog.Allocator { return fakeAllocator{} }
func (c *fakeCatalog) Pool() catalog.Pool           { return fakePool{} }
func (c *fakeCatalog) CreateStore(table string) (catalog.Store, error) {
	return c.stores[table], nil
}
func (c *fakeCatalog) PlanEnumerator(string) (catalog.PlanEnumerator, error) { return nil, nil }
func (c *fakeCatalog) RegisterWasmBackend(string, string)                   {}

func TestRunQuery_ConstantOnlyProjection(t *testing.T) {
	scan := &fakeOp{kind: plan.KindScan, table: "t", sch: schema.New(schema.Column{Identifier: "x", Kind: schema.KindI32})}
	outSchema := schema.New(
		schema.Column{Identifier: "one", Kind: schema.KindI32, Constant: true},
		schema.Column{Identifier: "lit", Kind: schema.KindString, Constant: true},
		schema.Column{Identifier: "n", Kind: schema.KindI32, Constant: true},
	)
	proj := &fakeProj{
		fakeOp: &fakeOp{kind: plan.KindProjection, children: []plan.Operator{scan}, sch: outSchema},
		exprs: []plan.Expr{
			{IsConstant: true, Constant: schema.Value{Int: 1}},
			{IsConstant: true, Constant: schema.Value{String: "x"}, StringLiteral: "x"},
			{IsConstant: true, Constant: schema.NullValue},
		},
	}
	root := &fakeOp{kind: plan.KindPrint, children: []plan.Operator{proj}, sch: outSchema}

	cat := &fakeCatalog{stores: map[string]*fakeStore{
		"t": {rows: 3, rowSize: 4, bytes: make([]byte, 12)},
	}}

	ctx := context.Background()
	d := NewDriver(ctx, nil, nil)
	defer d.Close(ctx)

	var out bytes.Buffer
	result, err := d.RunQuery(ctx, QueryRequest{
		Plan:    &fakePlan{root: root},
		Catalog: cat,
		Print:   &out,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.Rows)
	assert.Equal(t, "1,\"x\",NULL\n1,\"x\",NULL\n1,\"x\",NULL\n3 rows\n", out.String())
}

func TestRunQuery_ScanPassthrough(t *testing.T) {
	scanSchema := schema.New(schema.Column{Identifier: "id", Kind: schema.KindI32})
	scan := &fakeOp{kind: plan.KindScan, table: "t", sch: scanSchema}
	proj := &fakeProj{
		fakeOp: &fakeOp{kind: plan.KindProjection, children: []plan.Operator{scan}, sch: scanSchema},
		exprs:  []plan.Expr{{ColumnRef: "id"}},
	}
	root := &fakeOp{kind: plan.KindPrint, children: []plan.Operator{proj}, sch: scanSchema}

	rowBytes := make([]byte, 8)
	binary.LittleEndian.PutUint32(rowBytes[0:4], 1)
	binary.LittleEndian.PutUint32(rowBytes[4:8], 2)

	cat := &fakeCatalog{stores: map[string]*fakeStore{
		"t": {rows: 2, rowSize: 4, bytes: rowBytes},
	}}

	ctx := context.Background()
	d := NewDriver(ctx, nil, nil)
	defer d.Close(ctx)

	var out bytes.Buffer
	result, err := d.RunQuery(ctx, QueryRequest{
		Plan:    &fakePlan{root: root},
		Catalog: cat,
		Print:   &out,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Rows)
	assert.Equal(t, "1\n2\n2 rows\n", out.String())
}

func TestRunQuery_UnsupportedOperatorFails(t *testing.T) {
	join := &fakeOp{kind: plan.KindJoin}
	root := &fakeOp{kind: plan.KindPrint, children: []plan.Operator{join}, sch: schema.Schema{}}

	cat := &fakeCatalog{stores: map[string]*fakeStore{}}
	ctx := context.Background()
	d := NewDriver(ctx, nil, nil)
	defer d.Close(ctx)

	_, err := d.RunQuery(ctx, QueryRequest{Plan: &fakePlan{root: root}, Catalog: cat, Print: &bytes.Buffer{}})
	assert.Error(t, err)
}
