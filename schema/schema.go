// Package schema models the result schema and tuple types shared by the
// code generator, the host ABI and the result-set reader: an ordered
// sequence of typed, possibly-constant columns, with the two derived views
// (deduplicated, deduplicated-without-constants) the reader depends on.
package schema

import "fmt"

// Kind is the type of a single column's stored value. It mirrors the key
// types recognized by the index handles (§4.3's b/i1/i2/i4/i8/f/d/p suffix
// convention) plus two date/time kinds that only appear in result schemas.
type Kind byte

const (
	KindBool Kind = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindString
	KindDate     // bit-packed year<<9 | month<<5 | day, stored as i32
	KindDateTime // unix seconds, stored as i64
)

// String implements fmt.Stringer for debugging and module dumps.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ByteSize returns the fixed in-memory footprint of a value of this kind, as
// used by the data layout the result_set_factory produces. Strings are
// stored as a 4-byte offset into the arena, not inline.
func (k Kind) ByteSize() int {
	switch k {
	case KindBool, KindI8:
		return 1
	case KindI16:
		return 2
	case KindI32, KindF32, KindDate, KindString:
		return 4
	case KindI64, KindF64, KindDateTime:
		return 8
	default:
		return 0
	}
}

// Column is one entry of a Schema: an identifier, its type, and whether it
// is constant-valued (and therefore absent from the on-disk payload).
type Column struct {
	Identifier string
	Kind       Kind
	Constant   bool
}

// Schema is an ordered sequence of Columns, in the original projection
// order. Duplicate identifiers are permitted here (e.g. `SELECT id, id`);
// Deduplicated collapses them.
type Schema struct {
	Columns []Column
}

// New builds a Schema from a literal column list.
func New(cols ...Column) Schema {
	return Schema{Columns: cols}
}

// Len returns the number of columns in the original (non-deduplicated) view.
func (s Schema) Len() int { return len(s.Columns) }

// Deduplicated collapses columns sharing an identifier, keeping the first
// occurrence. This is schema.dedup_schema in spec §4.7.
func (s Schema) Deduplicated() Schema {
	seen := make(map[string]bool, len(s.Columns))
	out := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if seen[c.Identifier] {
			continue
		}
		seen[c.Identifier] = true
		out = append(out, c)
	}
	return Schema{Columns: out}
}

// DeduplicatedWithoutConstants is payload_schema: the deduplicated view with
// constant-valued columns removed. This is exactly the set of columns
// physically present in the result buffer on disk.
func (s Schema) DeduplicatedWithoutConstants() Schema {
	dedup := s.Deduplicated()
	out := make([]Column, 0, len(dedup.Columns))
	for _, c := range dedup.Columns {
		if c.Constant {
			continue
		}
		out = append(out, c)
	}
	return Schema{Columns: out}
}

// IndexOf returns the position of identifier within the schema, or -1.
func (s Schema) IndexOf(identifier string) int {
	for i, c := range s.Columns {
		if c.Identifier == identifier {
			return i
		}
	}
	return -1
}

// IsEmpty reports whether the schema has no columns, used by the reader's
// Case A (all-constant) detection.
func (s Schema) IsEmpty() bool { return len(s.Columns) == 0 }

// Value is a single NULL-able column value. Exactly one of the typed fields
// is meaningful, selected by the paired Column's Kind; Null overrides all.
type Value struct {
	Null   bool
	Bool   bool
	Int    int64
	Float  float64
	String string
}

// NullValue is the shared representation of an unset tuple slot.
var NullValue = Value{Null: true}

// Tuple is an ordered set of Values, sized and typed by a Schema (original,
// not deduplicated — §3 "Tuple. Ordered values sized by the original
// schema; unset slots are NULL.").
type Tuple struct {
	Values []Value
}

// NewTuple allocates a Tuple of the given width with every slot NULL.
func NewTuple(width int) Tuple {
	t := Tuple{Values: make([]Value, width)}
	for i := range t.Values {
		t.Values[i] = NullValue
	}
	return t
}
