// Package idtable provides a dense, slice-backed handle table with O(1)
// allocation and release via an intrusive free list.
//
// It generalizes the C++ original's pallet::IdTable<T> (see
// original_source/include/pallet/containers/IdTable.hpp) to an arbitrary
// payload type using Go generics, and borrows its dense-slice-plus-
// free-list shape from the scavenging registry pattern in the teacher
// eventloop package's promise registry. Because the Go runtime already
// guarantees slice-index stability across reallocation for values
// accessed by index (unlike raw C++ pointers into a resizable vector),
// handles here are plain integers rather than pointers: callers must
// still re-fetch via Get after any call that could have inserted,
// exactly as the C++ original requires re-resolving its pointer after a
// possible vector reallocation.
package idtable

// Handle identifies a slot in a Table: it is the slot's index, so the
// first Push into an empty Table returns the zero Handle.
type Handle uint32

type slot[T any] struct {
	value      T
	occupied   bool
	nextFree   uint32
	generation uint32
}

// Table is a dense handle table over values of type T. Each slot carries
// a generation counter, bumped on every Free, so callers that need to
// detect a handle reused after release (rather than silently treating it
// as a no-op) can compare the generation recorded at Push time against
// Generation(h) — see PushGen.
type Table[T any] struct {
	slots []slot[T]
	free  uint32 // index of head of free list, or sentinel meaning "none"
	count int
}

const noFree = ^uint32(0)

// New constructs an empty table, optionally pre-sizing its backing slice.
func New[T any](capacityHint int) *Table[T] {
	t := &Table[T]{free: noFree}
	if capacityHint > 0 {
		t.slots = make([]slot[T], 0, capacityHint)
	}
	return t
}

// Len returns the number of occupied slots.
func (t *Table[T]) Len() int {
	return t.count
}

// Push inserts value and returns a handle for it, reusing a freed slot
// when one is available before growing the backing slice.
func (t *Table[T]) Push(value T) Handle {
	h, _ := t.PushGen(value)
	return h
}

// PushGen is Push plus the generation stamped on the slot at insertion
// time, for callers that want to detect a handle reused after release
// (see Generation).
func (t *Table[T]) PushGen(value T) (Handle, uint32) {
	if t.free != noFree {
		idx := t.free
		t.free = t.slots[idx].nextFree
		gen := t.slots[idx].generation
		t.slots[idx] = slot[T]{value: value, occupied: true, generation: gen}
		t.count++
		return Handle(idx), gen
	}
	t.slots = append(t.slots, slot[T]{value: value, occupied: true})
	t.count++
	return Handle(len(t.slots) - 1), 0
}

// Generation returns the current generation tag of the slot at h. Valid
// for both occupied and freed indices within bounds; out-of-bounds
// returns 0. Compare against the generation returned by PushGen to
// detect that h's slot has since been freed and reused.
func (t *Table[T]) Generation(h Handle) uint32 {
	idx := uint32(h)
	if idx >= uint32(len(t.slots)) {
		return 0
	}
	return t.slots[idx].generation
}

// Get returns the value at h and whether it is currently occupied.
func (t *Table[T]) Get(h Handle) (T, bool) {
	idx := uint32(h)
	if idx >= uint32(len(t.slots)) || !t.slots[idx].occupied {
		var zero T
		return zero, false
	}
	return t.slots[idx].value, true
}

// Set overwrites the value stored at h, if occupied. Returns false if h
// does not currently refer to a live slot.
func (t *Table[T]) Set(h Handle, value T) bool {
	idx := uint32(h)
	if idx >= uint32(len(t.slots)) || !t.slots[idx].occupied {
		return false
	}
	t.slots[idx].value = value
	return true
}

// Free releases the slot at h, returning it to the free list. Returns
// false if h was not occupied (a double-free or stale handle), which
// callers may treat as a silent no-op per the default error-handling
// policy, or surface via generation counters layered on top.
func (t *Table[T]) Free(h Handle) bool {
	idx := uint32(h)
	if idx >= uint32(len(t.slots)) || !t.slots[idx].occupied {
		return false
	}
	var zero T
	t.slots[idx] = slot[T]{value: zero, occupied: false, nextFree: t.free, generation: t.slots[idx].generation + 1}
	t.free = idx
	t.count--
	return true
}

// Reserve grows the backing slice's capacity to at least n, without
// changing Len. Mirrors the C++ original's capacity-growth hint.
func (t *Table[T]) Reserve(n int) {
	if n <= cap(t.slots) {
		return
	}
	grown := make([]slot[T], len(t.slots), n)
	copy(grown, t.slots)
	t.slots = grown
}

// Each calls fn for every occupied slot in ascending handle order. fn
// must not Push into the table (may reallocate slots mid-iteration);
// Free is safe.
func (t *Table[T]) Each(fn func(Handle, T)) {
	for i := range t.slots {
		if t.slots[i].occupied {
			fn(Handle(i), t.slots[i].value)
		}
	}
}
