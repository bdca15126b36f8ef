package engine

import (
	"github.com/tetraquery/wasmquery/schema"
	"github.com/tetraquery/wasmquery/wasmctx"
)

// DefaultRowLayout packs payload columns back-to-back in schema order with
// no NULL bitmap. It is the layout the baseline code generator's passthrough
// scan assumes a base table's own store already uses (spec §6
// catalog.data_layout()); a catalog with a richer physical layout (NULL
// bitmap, alignment padding) should install its own wasmctx.ResultSetFactory
// on the Context instead of relying on this default.
type DefaultRowLayout struct{}

func (DefaultRowLayout) Make(payloadSchema schema.Schema) wasmctx.RowLayout {
	offsets := make([]uint32, len(payloadSchema.Columns))
	var cursor uint32
	for i, c := range payloadSchema.Columns {
		offsets[i] = cursor
		cursor += uint32(c.Kind.ByteSize())
	}
	// NullBitmapAt must sit past every column offset: this layout has no
	// NULL bitmap, and isNull's bounds check (byteIdx >= len(row)) only
	// treats every column as non-NULL when the bitmap offset can never be
	// satisfied by a real in-row byte. Leaving this at its zero value would
	// alias the bitmap onto the first column's own bytes.
	return wasmctx.RowLayout{Stride: cursor, ColOffsets: offsets, NullBitmapAt: cursor}
}
