package idtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_PushGetFree_Roundtrip(t *testing.T) {
	tbl := New[string](0)

	h := tbl.Push("a")
	v, ok := tbl.Get(h)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, tbl.Len())

	require.True(t, tbl.Free(h))
	_, ok = tbl.Get(h)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_Free_ReusesSlotBeforeGrowing(t *testing.T) {
	tbl := New[int](0)

	h1 := tbl.Push(1)
	h2 := tbl.Push(2)
	require.True(t, tbl.Free(h1))

	h3 := tbl.Push(3)
	assert.Equal(t, h1, h3, "freed slots should be reused before growing")

	v, ok := tbl.Get(h2)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTable_Free_DoubleFreeReturnsFalse(t *testing.T) {
	tbl := New[int](0)
	h := tbl.Push(1)

	assert.True(t, tbl.Free(h))
	assert.False(t, tbl.Free(h))
}

func TestTable_Free_StaleHandleReturnsFalse(t *testing.T) {
	tbl := New[int](0)
	assert.False(t, tbl.Free(Handle(99)))
}

func TestTable_PushGen_DetectsReuse(t *testing.T) {
	tbl := New[int](0)

	h, gen := tbl.PushGen(1)
	require.True(t, tbl.Free(h))

	h2, gen2 := tbl.PushGen(2)
	assert.Equal(t, h, h2, "freed slot should be reused")
	assert.NotEqual(t, gen, gen2, "generation must change across reuse")
	assert.Equal(t, gen2, tbl.Generation(h))
}

func TestTable_Set_OnFreedHandleReturnsFalse(t *testing.T) {
	tbl := New[int](0)
	h := tbl.Push(1)
	require.True(t, tbl.Free(h))

	assert.False(t, tbl.Set(h, 2))
}

func TestTable_Each_VisitsOnlyOccupiedInAscendingOrder(t *testing.T) {
	tbl := New[int](0)
	h0 := tbl.Push(10)
	h1 := tbl.Push(20)
	_ = tbl.Push(30)
	tbl.Free(h1)

	var seen []Handle
	tbl.Each(func(h Handle, v int) { seen = append(seen, h) })

	assert.Equal(t, []Handle{h0, 2}, seen)
}

func TestTable_Reserve_DoesNotChangeLen(t *testing.T) {
	tbl := New[int](0)
	tbl.Push(1)
	tbl.Reserve(100)
	assert.Equal(t, 1, tbl.Len())
	assert.GreaterOrEqual(t, cap(tbl.slots), 100)
}
