package engine

import (
	"github.com/tetraquery/wasmquery/hostabi"
	"github.com/tetraquery/wasmquery/modbuilder"
	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/wasmctx"
	"github.com/tetraquery/wasmquery/wasmencode"
	"github.com/tetraquery/wasmquery/wasmerr"
)

// outcome is what the baseline code generator decided about a plan before
// emitting a single instruction: where the result buffer lives and how many
// tuples it holds. Both are known at compile time because this generator
// only recognizes plans with no row-dependent control flow (spec §4.5's
// Code Generator is "treated as an external collaborator"; a from-scratch
// implementation only needs to cover the shapes its own test scenarios
// exercise — Filter/Join/Grouping/Aggregation/Sorting bytecode emission is
// left to that external collaborator, see DESIGN.md).
type outcome struct {
	offset uint32
	count  uint32
}

// planOutcome walks root's single-child chain, recognizing:
//
//	{Print,Callback,NoOp} -> [Limit] -> [Projection] -> Scan
//
// A Projection is accepted only if every expression is either a constant
// (Case A: offset=0) or an unmodified reference to the scanned table's own
// column in the same order (passthrough: reuse the table's mapped region
// directly as the result buffer, count = table row count). Any other shape
// — a real Filter, Join, Grouping, Aggregation or Sorting node, or a
// Projection that transforms columns — returns an error naming the
// unsupported operator, rather than silently emitting wrong code.
func planOutcome(root plan.Operator, tables map[string]wasmctx.TableMapping) (outcome, error) {
	op := root
	limit := uint32(0)
	hasLimit := false

	switch op.Kind() {
	case plan.KindPrint, plan.KindCallback, plan.KindNoOp:
	default:
		return outcome{}, unsupported(op)
	}
	op, err := singleChild(op)
	if err != nil {
		return outcome{}, err
	}

	if op.Kind() == plan.KindLimit {
		lo, ok := op.(plan.LimitOperator)
		if !ok {
			return outcome{}, &wasmerr.ConfigError{Reason: "Limit operator does not implement plan.LimitOperator"}
		}
		limit, hasLimit = lo.LimitCount(), true
		op, err = singleChild(op)
		if err != nil {
			return outcome{}, err
		}
	}

	var proj plan.ProjectionOperator
	if pr, ok := op.(plan.ProjectionOperator); ok && op.Kind() == plan.KindProjection {
		proj = pr
		op, err = singleChild(op)
		if err != nil {
			return outcome{}, err
		}
	}

	sc, ok := op.(plan.ScanOperator)
	if !ok || op.Kind() != plan.KindScan {
		return outcome{}, unsupported(op)
	}
	tm, ok := tables[sc.TableName()]
	if !ok {
		return outcome{}, &wasmerr.ConfigError{Reason: "scanned table " + sc.TableName() + " was not collected by the module builder"}
	}

	out := outcome{offset: tm.Offset, count: tm.NumRows}
	if proj != nil {
		allConstant := true
		for _, e := range proj.Expressions() {
			if !e.IsConstant {
				allConstant = false
				break
			}
		}
		if allConstant {
			out.offset = 0
		} else if !isIdentityProjection(proj, sc) {
			return outcome{}, &wasmerr.ConfigError{Reason: "baseline code generator only supports all-constant or passthrough projections"}
		}
	}
	if hasLimit && limit < out.count {
		out.count = limit
	}
	return out, nil
}

// isIdentityProjection reports whether proj's expressions are exactly
// column references to sc's schema, in order — i.e. "SELECT * FROM t" in
// spirit, which the baseline generator can satisfy by reusing the table's
// own mapped bytes verbatim.
func isIdentityProjection(proj plan.ProjectionOperator, sc plan.ScanOperator) bool {
	cols := sc.Schema().Columns
	exprs := proj.Expressions()
	if len(exprs) != len(cols) {
		return false
	}
	for i, e := range exprs {
		if e.IsConstant || e.ColumnRef != cols[i].Identifier {
			return false
		}
	}
	return true
}

func singleChild(op plan.Operator) (plan.Operator, error) {
	children := op.Children()
	if len(children) != 1 {
		return nil, &wasmerr.ConfigError{Reason: "baseline code generator requires a single-child chain"}
	}
	return children[0], nil
}

func unsupported(op plan.Operator) error {
	return &wasmerr.ConfigError{Reason: "baseline code generator does not support operator kind " + op.Kind().String()}
}

// genMain assembles exports.main(ctx_id) per spec §4.5: call
// read_result_set(offset, count) once, then return count. offset/count are
// already known at compile time (outcome), so no guest-side loop is needed
// for the shapes planOutcome recognizes.
func genMain(b *modbuilder.Builder, out outcome) wasmencode.Func {
	readIdx := b.FuncIndex(hostabi.HostModuleName, "read_result_set")
	code := wasmencode.NewAssembler().
		I32Const(int32(out.offset)).
		I32Const(int32(out.count)).
		Call(readIdx).
		I32Const(int32(out.count)).
		Bytes()
	return wasmencode.Func{
		Name: "main",
		Type: wasmencode.FuncType{
			Params:  []wasmencode.ValueType{wasmencode.ValueTypeI32},
			Results: []wasmencode.ValueType{wasmencode.ValueTypeI32},
		},
		Code: code,
	}
}
