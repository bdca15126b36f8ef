package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tetraquery/wasmquery/schema"
)

func entriesI32(keys ...int64) []Entry {
	es := make([]Entry, len(keys))
	for i, k := range keys {
		es[i] = Entry{Key: schema.Value{Int: k}, TupleID: uint32(i)}
	}
	return es
}

func TestArray_LowerUpperBound(t *testing.T) {
	// {1,3,3,5} per spec §8 scenario 6.
	a := NewArray(KeyI32, entriesI32(1, 3, 3, 5))
	assert.EqualValues(t, 1, a.LowerBound(schema.Value{Int: 3}))
	assert.EqualValues(t, 3, a.UpperBound(schema.Value{Int: 3}))
}

func TestArray_Scan(t *testing.T) {
	a := NewArray(KeyI32, entriesI32(1, 3, 3, 5))
	lo := a.LowerBound(schema.Value{Int: 3})
	got := Scan(a, lo, 2)
	assert.Equal(t, []uint32{1, 2}, got)
}

func TestArray_ScanTruncatesAtEnd(t *testing.T) {
	a := NewArray(KeyI32, entriesI32(1, 3))
	got := Scan(a, 1, 5)
	assert.Equal(t, []uint32{1}, got)
}

func TestRecursiveModel_MatchesArraySemantics(t *testing.T) {
	keys := []int64{}
	for i := int64(0); i < 200; i++ {
		keys = append(keys, i*2)
	}
	rmi := NewRecursiveModel(KeyI64, entriesI32(keys...))
	arr := NewArray(KeyI64, entriesI32(keys...))
	for _, probe := range []int64{0, 1, 50, 199, 398, 400} {
		key := schema.Value{Int: probe}
		assert.Equal(t, arr.LowerBound(key), rmi.LowerBound(key), "probe=%d", probe)
		assert.Equal(t, arr.UpperBound(key), rmi.UpperBound(key), "probe=%d", probe)
	}
}
