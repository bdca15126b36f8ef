package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_ReservesNullRegionAtOffsetZero(t *testing.T) {
	a := New(4*PageSize, Config{})
	assert.EqualValues(t, PageSize, a.Heap())
	assert.EqualValues(t, 0, a.Regions()[0].Offset)
	assert.EqualValues(t, PageSize, a.Regions()[0].Size)
}

func TestArena_AppendPageAligns(t *testing.T) {
	a := New(4*PageSize, Config{})
	off, err := a.Append("t1", []byte("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, PageSize, off)
	assert.EqualValues(t, 2*PageSize, a.Heap())
	assert.Zero(t, a.Heap()%PageSize)

	off2, err := a.Append("t2", make([]byte, PageSize+1))
	require.NoError(t, err)
	assert.EqualValues(t, 2*PageSize, off2)
	assert.EqualValues(t, 4*PageSize, a.Heap())
}

func TestArena_GuardPages(t *testing.T) {
	a := New(5*PageSize, Config{TrapGuardPages: true})
	_, err := a.Append("t1", []byte("x"))
	require.NoError(t, err)
	assert.True(t, a.IsGuardPage(2*PageSize))
	assert.EqualValues(t, 3*PageSize, a.Heap())
}

func TestArena_ExhaustionFails(t *testing.T) {
	a := New(PageSize, Config{})
	_, err := a.Append("too-big", make([]byte, 2*PageSize))
	assert.Error(t, err)
}

func TestArena_ReadWriteRoundTrip(t *testing.T) {
	a := New(2*PageSize, Config{})
	off, err := a.Append("lit", []byte("needle\x00"))
	require.NoError(t, err)
	assert.NotZero(t, off)
	got, ok := a.Read(off, 7)
	require.True(t, ok)
	assert.Equal(t, "needle\x00", string(got))
}
