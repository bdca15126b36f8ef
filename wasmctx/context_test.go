package wasmctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetraquery/wasmquery/arena"
)

func TestRegistry_CreateGetDispose(t *testing.T) {
	reg := NewRegistry()
	require.Equal(t, 0, reg.Size())

	ctx := &Context{Arena: arena.New(arena.PageSize, arena.Config{})}
	id := reg.Create(ctx)
	assert.NotZero(t, id)
	require.Equal(t, 1, reg.Size())

	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Same(t, ctx, got)

	reg.Dispose(ctx)
	assert.Equal(t, 0, reg.Size())
}

func TestRegistry_GetUnknownID(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(999)
	assert.Error(t, err)
}
