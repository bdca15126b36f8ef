package resultset

import (
	"bufio"
	"fmt"
	"io"

	"github.com/tetraquery/wasmquery/schema"
)

// Sink is the destination of query output rows: a Callback sink, a Print
// sink, or a No-op sink (spec §4.7 "Three emission modes").
type Sink interface {
	// Emit is called once per output row, in row order.
	Emit(sch schema.Schema, tup schema.Tuple) error
	// Finish is called once after the last row (e.g. to flush).
	Finish(rows int) error
}

// CallbackFunc receives a typed tuple per row (spec "invoking a
// host-provided callback (schema, tuple)").
type CallbackFunc func(sch schema.Schema, tup schema.Tuple) error

// CallbackSink adapts a CallbackFunc to Sink.
type CallbackSink struct {
	Fn CallbackFunc
}

func (c *CallbackSink) Emit(sch schema.Schema, tup schema.Tuple) error { return c.Fn(sch, tup) }
func (c *CallbackSink) Finish(int) error                               { return nil }

// PrintSink renders one CSV-ish line per row to Writer, then
// "<n> rows\n" on Finish unless Quiet (spec §4.7/§6).
type PrintSink struct {
	Writer io.Writer
	Quiet  bool

	w *bufio.Writer
}

func (p *PrintSink) writer() *bufio.Writer {
	if p.w == nil {
		p.w = bufio.NewWriter(p.Writer)
	}
	return p.w
}

func (p *PrintSink) Emit(sch schema.Schema, tup schema.Tuple) error {
	w := p.writer()
	for i, col := range sch.Columns {
		if i > 0 {
			w.WriteByte(',')
		}
		formatValue(w, col.Kind, tup.Values[i])
	}
	w.WriteByte('\n')
	return nil
}

func (p *PrintSink) Finish(rows int) error {
	w := p.writer()
	if !p.Quiet {
		fmt.Fprintf(w, "%d rows\n", rows)
	}
	return w.Flush()
}

// NoOpSink discards every row.
type NoOpSink struct{}

func (NoOpSink) Emit(schema.Schema, schema.Tuple) error { return nil }
func (NoOpSink) Finish(int) error                       { return nil }

// formatValue writes the print-mode rendering of one value per spec
// §4.7's "Print-mode numeric formatting" rules.
func formatValue(w *bufio.Writer, kind schema.Kind, v schema.Value) {
	if v.Null {
		w.WriteString("NULL")
		return
	}
	switch kind {
	case schema.KindBool:
		if v.Bool {
			w.WriteString("TRUE")
		} else {
			w.WriteString("FALSE")
		}
	case schema.KindI8, schema.KindI16, schema.KindI32, schema.KindI64:
		fmt.Fprintf(w, "%d", v.Int)
	case schema.KindF32:
		// max_digits10-1 for IEEE754 single precision (9-1=8 significant digits).
		fmt.Fprintf(w, "%s", formatFloat(v.Float, 8))
	case schema.KindF64:
		// max_digits10 for double precision (17 significant digits).
		fmt.Fprintf(w, "%s", formatFloat(v.Float, 17))
	case schema.KindString:
		w.WriteByte('"')
		w.WriteString(v.String) // contract: strings contain no '"'.
		w.WriteByte('"')
	case schema.KindDate:
		w.WriteString(formatDate(int32(v.Int)))
	case schema.KindDateTime:
		w.WriteString(formatDateTime(v.Int))
	default:
		w.WriteString("NULL")
	}
}

func formatFloat(f float64, precision int) string {
	return fmt.Sprintf("%.*g", precision, f)
}

// formatDate renders a bit-packed date (year<<9 | month<<5 | day) as
// YYYY-MM-DD, zero-padded to at least 4 year digits; negative years render
// with a leading '-' and consume one extra pad column (spec §4.7).
func formatDate(packed int32) string {
	year := packed >> 9
	month := (packed >> 5) & 0xf
	day := packed & 0x1f
	if year < 0 {
		return fmt.Sprintf("-%04d-%02d-%02d", -year, month, day)
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// formatDateTime renders a Unix-seconds timestamp as an ISO-like string via
// broken-down UTC time, per spec.
func formatDateTime(unixSeconds int64) string {
	const (
		secsPerDay = 86400
	)
	days := unixSeconds / secsPerDay
	secOfDay := unixSeconds % secsPerDay
	if secOfDay < 0 {
		secOfDay += secsPerDay
		days--
	}
	y, m, d := civilFromDays(days)
	hh := secOfDay / 3600
	mm := (secOfDay % 3600) / 60
	ss := secOfDay % 60
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", y, m, d, hh, mm, ss)
}

// civilFromDays converts a day count since the Unix epoch to a proleptic
// Gregorian (year, month, day), Howard Hinnant's well-known algorithm.
func civilFromDays(z int64) (year int, month int, day int) {
	z += 719468
	era := z
	if era < 0 {
		era -= 146096
	}
	era /= 146097
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return int(y), int(m), int(d)
}
