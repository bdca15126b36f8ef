package hostabi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetraquery/wasmquery/arena"
	"github.com/tetraquery/wasmquery/index"
	"github.com/tetraquery/wasmquery/modbuilder"
	"github.com/tetraquery/wasmquery/schema"
	"github.com/tetraquery/wasmquery/wasmctx"
)

func newTestTable(t *testing.T) *Table {
	a := arena.New(4*arena.PageSize, arena.Config{})
	ctx := &wasmctx.Context{Arena: a}
	b := modbuilder.New(a)
	return &Table{Context: ctx, Builder: b}
}

func entriesI32(keys ...int64) []index.Entry {
	es := make([]index.Entry, len(keys))
	for i, k := range keys {
		es[i] = index.Entry{Key: schema.Value{Int: k}, TupleID: uint32(i)}
	}
	return es
}

func TestScanFunc_WritesTupleIDs(t *testing.T) {
	tbl := newTestTable(t)
	arr := index.NewArray(index.KeyI32, entriesI32(1, 3, 3, 5))
	tbl.Context.Indexes = []index.Handle{arr}

	outAddr, err := tbl.Context.Arena.Reserve("scratch", 16)
	require.NoError(t, err)

	scan := tbl.scanFunc()
	scan(context.Background(), 0, 1, outAddr, 2)

	buf, ok := tbl.Context.Arena.Read(outAddr, 8)
	require.True(t, ok)
	assert.EqualValues(t, 1, le32(buf[0:4]))
	assert.EqualValues(t, 2, le32(buf[4:8]))
}

func TestBoundFunc_LowerBound(t *testing.T) {
	tbl := newTestTable(t)
	arr := index.NewArray(index.KeyI32, entriesI32(1, 3, 3, 5))
	tbl.Context.Indexes = []index.Handle{arr}

	lb := tbl.boundFunc(index.KeyI32, (index.Handle).LowerBound)
	got := lb(context.Background(), 0, 3)
	assert.EqualValues(t, 1, got)
}

func TestInsist_SetsFatalAndPanics(t *testing.T) {
	tbl := newTestTable(t)
	id := tbl.Builder.AddMessage("q.go", 42, "bad row")

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.Error(t, tbl.Fatal())
	}()
	tbl.insist(context.Background(), id)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
