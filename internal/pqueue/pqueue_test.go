package pqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func less(a, b int) bool { return a < b }

func TestQueue_PeekPop_EarliestFirst(t *testing.T) {
	q := New[int, string](less)

	q.Push(30, "c")
	q.Push(10, "a")
	q.Push(20, "b")

	k, v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 10, k)
	assert.Equal(t, "a", v)

	var order []string
	for q.Len() > 0 {
		_, v, _ := q.Pop()
		order = append(order, v)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestQueue_Empty_PeekAndPopReportFalse(t *testing.T) {
	q := New[int, string](less)

	_, _, ok := q.Peek()
	assert.False(t, ok)

	_, _, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_Len_TracksPushesAndPops(t *testing.T) {
	q := New[int, string](less)
	assert.Equal(t, 0, q.Len())

	q.Push(1, "x")
	q.Push(2, "y")
	assert.Equal(t, 2, q.Len())

	q.Pop()
	assert.Equal(t, 1, q.Len())
}
