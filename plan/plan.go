// Package plan defines the external collaborator interfaces this backend
// consumes from the upstream query optimizer (spec §6 "Plan interface
// consumed"): a matched physical operator tree whose shape the code
// generator walks and the result-set reader inspects.
package plan

import "github.com/tetraquery/wasmquery/schema"

// OperatorKind enumerates the operator taxonomy recognized by the
// result-set reader and the code generator (spec §6).
type OperatorKind int

const (
	KindScan OperatorKind = iota
	KindCallback
	KindPrint
	KindNoOp
	KindFilter
	KindDisjunctiveFilter
	KindJoin
	KindProjection
	KindLimit
	KindGrouping
	KindAggregation
	KindSorting
)

func (k OperatorKind) String() string {
	switch k {
	case KindScan:
		return "Scan"
	case KindCallback:
		return "Callback"
	case KindPrint:
		return "Print"
	case KindNoOp:
		return "NoOp"
	case KindFilter:
		return "Filter"
	case KindDisjunctiveFilter:
		return "DisjunctiveFilter"
	case KindJoin:
		return "Join"
	case KindProjection:
		return "Projection"
	case KindLimit:
		return "Limit"
	case KindGrouping:
		return "Grouping"
	case KindAggregation:
		return "Aggregation"
	case KindSorting:
		return "Sorting"
	default:
		return "Unknown"
	}
}

// Expr is a scalar expression appearing in a filter, join, projection or
// grouping predicate. The code generator and result-set reader only need
// to distinguish column references from constants (the latter carry the
// projected value directly, per §4.7's "Projection lookup").
type Expr struct {
	ColumnRef  string // non-empty if this expression reads a column
	IsConstant bool
	Constant   schema.Value
	// StringLiteral holds the literal text for constant string exprs, so
	// CollectStringLiterals (see modbuilder) can find every occurrence
	// without re-deriving it from Constant.String.
	StringLiteral string
}

// Operator is one node of the matched physical plan tree.
type Operator interface {
	Kind() OperatorKind
	Schema() schema.Schema
	Children() []Operator
}

// ScanOperator exposes the scanned table name via TableName, only
// meaningful when Kind() == KindScan.
type ScanOperator interface {
	Operator
	TableName() string
}

// ProjectionOperator exposes the expressions that produce each output
// column, needed by the reader's projection lookup (§4.7).
type ProjectionOperator interface {
	Operator
	Expressions() []Expr
}

// FilterOperator exposes the single predicate expression the code
// generator must test per row.
type FilterOperator interface {
	Operator
	Predicate() Expr
}

// LimitOperator caps the number of rows its child chain produces.
type LimitOperator interface {
	Operator
	LimitCount() uint32
}

// Setup/Pipeline/Teardown are the three phases plan.Execute invokes the
// code generator with, per §4.5: setup runs once, pipeline runs once per
// input row (fused across the chain), teardown runs once after the last
// row. This package only describes the contract; the baseline code
// generator in package engine does not call Execute.
type Setup func()
type Pipeline func(row int)
type Teardown func()

// Plan is the matched physical plan handed to the execution backend,
// spec §6: "get_matched_root() -> Operator", "execute(setup, pipeline,
// teardown)".
type Plan interface {
	MatchedRoot() Operator
	Execute(setup Setup, pipeline Pipeline, teardown Teardown)
}

// RootSchema is a convenience returning the matched root's schema.
func RootSchema(p Plan) schema.Schema {
	return p.MatchedRoot().Schema()
}
