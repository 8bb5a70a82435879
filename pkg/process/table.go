package process

import "sort"

// slotTable is a sparse list whose ids are reused once freed. The lowest
// free id is handed out first.
type slotTable[T any] struct {
	slots []T
	used  []bool
	free  []int // sorted ascending
	live  int
}

// alloc stores v and returns its id.
func (st *slotTable[T]) alloc(v T) int {
	var id int
	if len(st.free) > 0 {
		id = st.free[0]
		st.free = st.free[1:]
	} else {
		id = len(st.slots)
		var zero T
		st.slots = append(st.slots, zero)
		st.used = append(st.used, false)
	}
	st.slots[id] = v
	st.used[id] = true
	st.live++
	return id
}

// get returns the value at id.
func (st *slotTable[T]) get(id int) (T, bool) {
	if id < 0 || id >= len(st.slots) || !st.used[id] {
		var zero T
		return zero, false
	}
	return st.slots[id], true
}

// release empties id. It reports false if id was not in use.
func (st *slotTable[T]) release(id int) bool {
	if id < 0 || id >= len(st.slots) || !st.used[id] {
		return false
	}
	var zero T
	st.slots[id] = zero
	st.used[id] = false
	st.live--
	i := sort.SearchInts(st.free, id)
	st.free = append(st.free, 0)
	copy(st.free[i+1:], st.free[i:])
	st.free[i] = id
	return true
}

// each calls fn for every occupied slot in id order.
func (st *slotTable[T]) each(fn func(id int, v T)) {
	for id, ok := range st.used {
		if ok {
			fn(id, st.slots[id])
		}
	}
}

// len returns the number of occupied slots.
func (st *slotTable[T]) len() int {
	return st.live
}

// capacity returns one past the highest id ever handed out.
func (st *slotTable[T]) capacity() int {
	return len(st.slots)
}
