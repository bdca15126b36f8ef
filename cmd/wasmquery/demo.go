package main

import (
	"encoding/binary"
	"time"

	"github.com/tetraquery/wasmquery/catalog"
	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/schema"
)

// operator is a concrete plan.Operator node for the built-in "numbers"
// demo/bench fixture this CLI ships with, since this backend consumes a
// matched plan as an external collaborator (spec §6) rather than producing
// one from SQL text itself.
type operator struct {
	kind     plan.OperatorKind
	sch      schema.Schema
	children []plan.Operator
	table    string
}

func (o *operator) Kind() plan.OperatorKind   { return o.kind }
func (o *operator) Schema() schema.Schema     { return o.sch }
func (o *operator) Children() []plan.Operator { return o.children }
func (o *operator) TableName() string         { return o.table }

// projection is the demo fixture's only node exposing Expressions — a real
// optimizer's own Projection type would be the only concrete type doing so,
// which is what the Result-Set Reader's projection lookup depends on.
type projection struct {
	*operator
	exprs []plan.Expr
}

func (p *projection) Expressions() []plan.Expr { return p.exprs }

// fixedPlan adapts one pre-built operator tree to plan.Plan.
type fixedPlan struct{ root plan.Operator }

func (p *fixedPlan) MatchedRoot() plan.Operator                      { return p.root }
func (p *fixedPlan) Execute(plan.Setup, plan.Pipeline, plan.Teardown) {}

// numbersStore backs the single synthetic "numbers" table: rows 0..n-1 as
// one i32 "id" column, row-major, matching engine.DefaultRowLayout.
type numbersStore struct{ n uint32 }

func (s numbersStore) NumRows() uint32 { return s.n }
func (s numbersStore) RowSize() uint32 { return 4 }
func (s numbersStore) Bytes() []byte {
	buf := make([]byte, 4*s.n)
	for i := uint32(0); i < s.n; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], i)
	}
	return buf
}

// demoCatalog is a minimal in-memory catalog.Catalog serving only the
// built-in "numbers" table.
type demoCatalog struct{ rows uint32 }

func (c *demoCatalog) Timer() catalog.Timer         { return wallClock{} }
func (c *demoCatalog) Allocator() catalog.Allocator { return zeroAllocator{} }
func (c *demoCatalog) Pool() catalog.Pool           { return internPool{} }
func (c *demoCatalog) CreateStore(string) (catalog.Store, error) {
	return numbersStore{n: c.rows}, nil
}
func (c *demoCatalog) PlanEnumerator(string) (catalog.PlanEnumerator, error) { return nil, nil }
func (c *demoCatalog) RegisterWasmBackend(string, string)                   {}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

type zeroAllocator struct{}

func (zeroAllocator) TotalMiB() uint32 { return 0 }
func (zeroAllocator) PeakMiB() uint32  { return 0 }

type internPool struct{}

func (internPool) Intern(s string) string { return s }

// buildNumbersQuery constructs the matched plan for "SELECT id FROM
// numbers": Print <- Projection(identity) <- Scan("numbers"), the shape
// the baseline code generator's passthrough path recognizes.
func buildNumbersQuery(rows uint32) (plan.Plan, *demoCatalog) {
	sch := schema.New(schema.Column{Identifier: "id", Kind: schema.KindI32})
	scan := &operator{kind: plan.KindScan, table: "numbers", sch: sch}
	proj := &projection{
		operator: &operator{kind: plan.KindProjection, children: []plan.Operator{scan}, sch: sch},
		exprs:    []plan.Expr{{ColumnRef: "id"}},
	}
	root := &operator{kind: plan.KindPrint, children: []plan.Operator{proj}, sch: sch}
	return &fixedPlan{root: root}, &demoCatalog{rows: rows}
}
