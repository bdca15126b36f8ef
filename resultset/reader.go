// Package resultset implements the Result-Set Reader (spec §4.7): it
// decodes the buffer the guest wrote at the end of main() into typed rows
// and drives whichever sink the matched plan's root operator selects.
//
// This is the hardest subcomponent of the execution core because three
// materialization strategies have to agree on one output shape: an
// all-constant query never touches memory at all, a query with no
// duplicate/constant columns reads straight off the wire, and a query with
// duplicated or constant output columns needs a small compiled copy program
// to fan payload values out to every output position that shares their
// identifier.
package resultset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/schema"
	"github.com/tetraquery/wasmquery/wasmctx"
	"github.com/tetraquery/wasmquery/wasmerr"
)

// Reader decodes one query's result buffer and feeds Sink, per §4.7.
type Reader struct {
	Context *wasmctx.Context
	Sink    Sink
}

// SinkForRoot chooses the emission mode dictated by the matched plan's root
// operator kind (spec "Three emission modes, selected by the root operator
// kind"). Callback queries must supply the callback themselves; a root that
// is neither Callback nor Print gets the No-op sink.
func SinkForRoot(root plan.Operator, callback CallbackFunc, print *PrintSink) Sink {
	switch root.Kind() {
	case plan.KindCallback:
		return &CallbackSink{Fn: callback}
	case plan.KindPrint:
		return print
	default:
		return NoOpSink{}
	}
}

// copyInstruction is one step of the compiled copy program used by Case C:
// load payload column PayloadIndex, store it at every OutIndex sharing its
// identifier.
type copyInstruction struct {
	PayloadIndex int
	OutIndexes   []int
}

// Read decodes the buffer at offset holding count tuples and emits them to
// Sink, then calls Sink.Finish. offset==0 is only valid when payload_schema
// is empty (spec invariant, asserted here rather than silently tolerated).
func (r *Reader) Read(offset, count uint32) error {
	root := r.Context.Plan.MatchedRoot()
	if root.Kind() == plan.KindNoOp {
		return nil // no-op sink: result emission is skipped entirely.
	}
	outSchema := root.Schema()
	dedupSchema := outSchema.Deduplicated()
	payloadSchema := dedupSchema.DeduplicatedWithoutConstants()

	if offset == 0 && !payloadSchema.IsEmpty() {
		return &wasmerr.ConfigError{Reason: fmt.Sprintf(
			"read_result_set: offset=0 but payload schema has %d column(s)", payloadSchema.Len())}
	}

	if payloadSchema.IsEmpty() {
		return r.readCaseA(outSchema, count)
	}

	layout := r.Context.ResultSetFactory.Make(payloadSchema)

	if len(dedupSchema.Columns) == len(outSchema.Columns) {
		return r.readCaseB(outSchema, payloadSchema, layout, offset, count)
	}
	return r.readCaseC(outSchema, dedupSchema, payloadSchema, layout, offset, count)
}

// readCaseA handles an all-constant projection: no memory reads, one
// template row built from the projection's constants, emitted count times.
func (r *Reader) readCaseA(outSchema schema.Schema, count uint32) error {
	tmpl, err := r.constantTemplate(outSchema)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := r.Sink.Emit(outSchema, tmpl); err != nil {
			return err
		}
	}
	return r.Sink.Finish(int(count))
}

// readCaseB handles schema == dedup_schema: no identifier repeats, so every
// non-constant output column corresponds to exactly one payload column in
// the same relative order. Each tuple is read straight off the wire using
// the factory's layout, with constant values re-inserted at their original
// positions per row (spec "Re-insert constant values at their original
// positions per row").
func (r *Reader) readCaseB(outSchema, payloadSchema schema.Schema, layout wasmctx.RowLayout, offset, count uint32) error {
	tmpl, err := r.constantTemplate(outSchema)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		rowOffset := offset + i*layout.Stride
		payloadTup, err := r.decodeRow(payloadSchema, layout, rowOffset)
		if err != nil {
			return err
		}
		out := schema.NewTuple(len(outSchema.Columns))
		copy(out.Values, tmpl.Values)
		pi := 0
		for oi, oc := range outSchema.Columns {
			if oc.Constant {
				continue
			}
			out.Values[oi] = payloadTup.Values[pi]
			pi++
		}
		if err := r.Sink.Emit(outSchema, out); err != nil {
			return err
		}
	}
	return r.Sink.Finish(int(count))
}

// readCaseC handles duplicate output columns (with or without constants
// alongside them): payload tuples are loaded once per row into
// tup_dedup-shape, then fanned out by a copy program (built once) into
// tup_out-shape; constants are planted once and reused across every row.
func (r *Reader) readCaseC(outSchema, dedupSchema, payloadSchema schema.Schema, layout wasmctx.RowLayout, offset, count uint32) error {
	program, err := buildCopyProgram(outSchema, payloadSchema)
	if err != nil {
		return err
	}
	tmpl, err := r.constantTemplate(outSchema)
	if err != nil {
		return err
	}

	for i := uint32(0); i < count; i++ {
		rowOffset := offset + i*layout.Stride
		payloadTup, err := r.decodeRow(payloadSchema, layout, rowOffset)
		if err != nil {
			return err
		}
		out := schema.NewTuple(len(outSchema.Columns))
		copy(out.Values, tmpl.Values) // plant constants
		for _, step := range program {
			v := payloadTup.Values[step.PayloadIndex]
			for _, oi := range step.OutIndexes {
				out.Values[oi] = v
			}
		}
		if err := r.Sink.Emit(outSchema, out); err != nil {
			return err
		}
	}
	return r.Sink.Finish(int(count))
}

// buildCopyProgram compiles, once per query, the payload->output fan-out:
// for each payload column, every output position sharing its identifier.
func buildCopyProgram(outSchema, payloadSchema schema.Schema) ([]copyInstruction, error) {
	program := make([]copyInstruction, 0, len(payloadSchema.Columns))
	for pi, pc := range payloadSchema.Columns {
		var outIdx []int
		for oi, oc := range outSchema.Columns {
			if oc.Identifier == pc.Identifier && !oc.Constant {
				outIdx = append(outIdx, oi)
			}
		}
		if len(outIdx) == 0 {
			return nil, &wasmerr.ConfigError{Reason: fmt.Sprintf(
				"result-set copy program: payload column %q matches no output position", pc.Identifier)}
		}
		program = append(program, copyInstruction{PayloadIndex: pi, OutIndexes: outIdx})
	}
	return program, nil
}

// constantTemplate builds a schema-shaped tuple with every constant-valued
// column filled from the nearest ProjectionOperator along the root's
// single-child chain (spec "Projection lookup"), and every other slot left
// NULL (Case B/C plant non-constant values themselves; Case A's caller
// leaves them NULL, matching "NULL-typed entries stay unset").
func (r *Reader) constantTemplate(outSchema schema.Schema) (schema.Tuple, error) {
	tup := schema.NewTuple(len(outSchema.Columns))
	hasConstant := false
	for _, c := range outSchema.Columns {
		if c.Constant {
			hasConstant = true
			break
		}
	}
	if !hasConstant {
		return tup, nil
	}

	proj, err := findProjection(r.Context.Plan.MatchedRoot())
	if err != nil {
		return tup, err
	}
	exprs := proj.Expressions()
	if len(exprs) != len(outSchema.Columns) {
		return tup, &wasmerr.ConfigError{Reason: fmt.Sprintf(
			"projection has %d expressions, output schema has %d columns", len(exprs), len(outSchema.Columns))}
	}
	for i, e := range exprs {
		if !outSchema.Columns[i].Constant {
			continue
		}
		if !e.IsConstant {
			return tup, &wasmerr.ConfigError{Reason: fmt.Sprintf(
				"output column %d is marked constant but its projection expression is not", i)}
		}
		tup.Values[i] = e.Constant
	}
	return tup, nil
}

// findProjection locates the nearest ProjectionOperator at or under root
// along the single-child chain, enforcing the invariant that exactly one
// exists (spec §4.7, §9 "Open question" — an aggregation feeding a callback
// with no intervening projection is an unchecked precondition upstream of
// this reader; it surfaces as this error rather than silently picking one).
func findProjection(root plan.Operator) (plan.ProjectionOperator, error) {
	op := root
	for {
		if pr, ok := op.(plan.ProjectionOperator); ok {
			for below := op.Children(); len(below) == 1; below = below[0].Children() {
				if _, dup := below[0].(plan.ProjectionOperator); dup {
					return nil, &wasmerr.ConfigError{Reason: "projection lookup found more than one ProjectionOperator on the single-child chain"}
				}
			}
			return pr, nil
		}
		children := op.Children()
		if len(children) == 0 {
			return nil, &wasmerr.ConfigError{Reason: "no ProjectionOperator found on the single-child chain below the root"}
		}
		if len(children) > 1 {
			return nil, &wasmerr.ConfigError{Reason: "projection lookup requires a single-child chain, found a branching operator first"}
		}
		op = children[0]
	}
}

// decodeRow reads one payload-shaped tuple from the arena at rowOffset using
// layout, honoring the leading NULL bitmap.
func (r *Reader) decodeRow(payloadSchema schema.Schema, layout wasmctx.RowLayout, rowOffset uint32) (schema.Tuple, error) {
	tup := schema.NewTuple(len(payloadSchema.Columns))
	row, ok := r.Context.Arena.Read(rowOffset, layout.Stride)
	if !ok {
		return tup, &wasmerr.ConfigError{Reason: fmt.Sprintf("result row at offset %d exceeds arena bounds", rowOffset)}
	}
	for i, col := range payloadSchema.Columns {
		if isNull(row, layout.NullBitmapAt, i) {
			continue
		}
		colOff := layout.ColOffsets[i]
		v, err := decodeValue(r.Context, col.Kind, row[colOff:])
		if err != nil {
			return tup, err
		}
		tup.Values[i] = v
	}
	return tup, nil
}

func isNull(row []byte, bitmapAt uint32, col int) bool {
	byteIdx := int(bitmapAt) + col/8
	if byteIdx >= len(row) {
		return false
	}
	return row[byteIdx]&(1<<uint(col%8)) != 0
}

func decodeValue(ctx *wasmctx.Context, kind schema.Kind, b []byte) (schema.Value, error) {
	switch kind {
	case schema.KindBool:
		return schema.Value{Bool: b[0] != 0, Int: int64(b[0])}, nil
	case schema.KindI8:
		return schema.Value{Int: int64(int8(b[0]))}, nil
	case schema.KindI16:
		return schema.Value{Int: int64(int16(binary.LittleEndian.Uint16(b)))}, nil
	case schema.KindI32, schema.KindDate:
		return schema.Value{Int: int64(int32(binary.LittleEndian.Uint32(b)))}, nil
	case schema.KindI64, schema.KindDateTime:
		return schema.Value{Int: int64(binary.LittleEndian.Uint64(b))}, nil
	case schema.KindF32:
		return schema.Value{Float: float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))}, nil
	case schema.KindF64:
		return schema.Value{Float: math.Float64frombits(binary.LittleEndian.Uint64(b))}, nil
	case schema.KindString:
		off := binary.LittleEndian.Uint32(b)
		s, ok := readCString(ctx, off)
		if !ok {
			return schema.Value{}, &wasmerr.ConfigError{Reason: fmt.Sprintf("string column offset %d out of arena bounds", off)}
		}
		return schema.Value{String: s}, nil
	default:
		return schema.Value{}, &wasmerr.ConfigError{Reason: fmt.Sprintf("unsupported column kind %v", kind)}
	}
}

func readCString(ctx *wasmctx.Context, offset uint32) (string, bool) {
	data, ok := ctx.Arena.Read(offset, ctx.Arena.Cap()-offset)
	if !ok {
		return "", false
	}
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), true
		}
	}
	return "", false
}
