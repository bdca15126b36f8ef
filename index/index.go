// Package index implements the polymorphic index handles addressable by
// integer id from the host ABI: ordered lookup structures keyed by one of
// the §4.3 key types, each supporting lower_bound/upper_bound and
// offset-addressed iteration yielding (key, tuple-id) pairs.
package index

import (
	"sort"

	"github.com/tetraquery/wasmquery/schema"
)

// KeyType enumerates the key types an index can be built over, matching the
// b/i1/i2/i4/i8/f/d/p host-ABI suffix convention in spec §4.3.
type KeyType byte

const (
	KeyBool KeyType = iota
	KeyI8
	KeyI16
	KeyI32
	KeyI64
	KeyF32
	KeyF64
	KeyString
)

// Suffix returns the host-ABI naming suffix for this key type, used by
// hostabi to build its dispatch table of idx_* function names.
func (k KeyType) Suffix() string {
	switch k {
	case KeyBool:
		return "b"
	case KeyI8:
		return "i1"
	case KeyI16:
		return "i2"
	case KeyI32:
		return "i4"
	case KeyI64:
		return "i8"
	case KeyF32:
		return "f"
	case KeyF64:
		return "d"
	case KeyString:
		return "p"
	default:
		return "?"
	}
}

// Kind distinguishes the backing data structure: a flat sorted Array scan,
// or a learned RecursiveModel (RMI) that predicts the scan start position.
type Kind byte

const (
	KindArray Kind = iota
	KindRecursiveModel
)

func (k Kind) Suffix() string {
	if k == KindArray {
		return "array"
	}
	return "rmi"
}

// Entry is one (key, tuple-id) pair stored by an index.
type Entry struct {
	Key     schema.Value
	TupleID uint32
}

// Handle is the common interface every index implementation exposes to the
// host ABI: binary/model-guided search plus random-access batch scan.
type Handle interface {
	KeyType() KeyType
	Kind() Kind

	// LowerBound returns the offset (from Begin) of the first entry whose
	// key is >= key.
	LowerBound(key schema.Value) uint32
	// UpperBound returns the offset of the first entry whose key is > key.
	UpperBound(key schema.Value) uint32

	// Len returns the total number of entries.
	Len() uint32
	// At returns the entry at the given offset from Begin.
	At(offset uint32) Entry
}

// less compares two schema.Value according to their natural index-key
// ordering. Only the fields relevant to comparable key types are read.
func less(a, b schema.Value) bool {
	switch {
	case a.String != "" || b.String != "":
		return a.String < b.String
	case a.Float != 0 || b.Float != 0:
		return a.Float < b.Float
	default:
		return a.Int < b.Int
	}
}

// Array is a flat, sorted Entry slice searched by binary search — the
// simplest Handle implementation and the default for freshly built indexes.
type Array struct {
	keyType KeyType
	entries []Entry // sorted ascending by Key
}

// NewArray builds an Array index over entries, sorting them by key. The
// caller's slice is not mutated; NewArray copies and sorts its own.
func NewArray(keyType KeyType, entries []Entry) *Array {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i].Key, sorted[j].Key) })
	return &Array{keyType: keyType, entries: sorted}
}

func (a *Array) KeyType() KeyType { return a.keyType }
func (a *Array) Kind() Kind       { return KindArray }
func (a *Array) Len() uint32      { return uint32(len(a.entries)) }

func (a *Array) LowerBound(key schema.Value) uint32 {
	i := sort.Search(len(a.entries), func(i int) bool { return !less(a.entries[i].Key, key) })
	return uint32(i)
}

func (a *Array) UpperBound(key schema.Value) uint32 {
	i := sort.Search(len(a.entries), func(i int) bool { return less(key, a.entries[i].Key) })
	return uint32(i)
}

func (a *Array) At(offset uint32) Entry { return a.entries[offset] }

// Scan returns up to batch consecutive tuple-ids starting at entryOffset
// (fewer than batch if the index runs out of entries). This backs the
// idx_scan_* host callbacks, which write the ids into guest memory.
func Scan(h Handle, entryOffset, batch uint32) []uint32 {
	n := h.Len()
	out := make([]uint32, 0, batch)
	for i := uint32(0); i < batch && entryOffset+i < n; i++ {
		out = append(out, h.At(entryOffset+i).TupleID)
	}
	return out
}

// RecursiveModel is a learned index: a simple linear model predicts the
// approximate rank of a key, and a small local binary search corrects the
// prediction. It offers the same Handle contract as Array but name-spaced
// separately in the host ABI dispatch table because the guest's scan code
// differs (model-assisted vs. pure binary search) per spec's RMI kind.
type RecursiveModel struct {
	*Array
	slope     float64
	intercept float64
}

// NewRecursiveModel fits a simple least-squares line from key (as float64)
// to rank over the (already sorted) entries, then stores them identically
// to Array so At/Len/Scan are shared.
func NewRecursiveModel(keyType KeyType, entries []Entry) *RecursiveModel {
	base := NewArray(keyType, entries)
	slope, intercept := fitLine(base.entries)
	return &RecursiveModel{Array: base, slope: slope, intercept: intercept}
}

func (r *RecursiveModel) Kind() Kind { return KindRecursiveModel }

// predict returns the model's best-guess rank for key, clamped to valid
// range; LowerBound/UpperBound then locally correct around it.
func (r *RecursiveModel) predict(key schema.Value) int {
	x := keyAsFloat(key)
	p := int(r.slope*x + r.intercept)
	if p < 0 {
		p = 0
	}
	if n := len(r.entries); p > n {
		p = n
	}
	return p
}

// LowerBound overrides Array's pure binary search with a model-guided local
// search: it starts from the predicted rank and walks outward, which is
// O(error) instead of O(log n) once the model is well fit.
func (r *RecursiveModel) LowerBound(key schema.Value) uint32 {
	p := r.predict(key)
	for p > 0 && !less(r.entries[p-1].Key, key) {
		p--
	}
	for p < len(r.entries) && less(r.entries[p].Key, key) {
		p++
	}
	return uint32(p)
}

func (r *RecursiveModel) UpperBound(key schema.Value) uint32 {
	p := r.predict(key)
	for p < len(r.entries) && !less(key, r.entries[p].Key) {
		p++
	}
	for p > 0 && less(key, r.entries[p-1].Key) {
		p--
	}
	return uint32(p)
}

func keyAsFloat(v schema.Value) float64 {
	if v.Float != 0 {
		return v.Float
	}
	return float64(v.Int)
}

func fitLine(entries []Entry) (slope, intercept float64) {
	n := len(entries)
	if n < 2 {
		return 1, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, e := range entries {
		x := keyAsFloat(e.Key)
		y := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / fn
	}
	slope = (fn*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / fn
	return slope, intercept
}
