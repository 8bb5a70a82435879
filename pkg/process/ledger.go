package process

import (
	"fmt"
	"sort"

	"tinykern/pkg/deadlock"
)

// ResourceKind names one family of kernel synchronization objects.
type ResourceKind uint8

const (
	// KindMutex is a mutex, spin or blocking.
	KindMutex ResourceKind = iota
	// KindSemaphore is a counting semaphore.
	KindSemaphore
	// KindCondvar is a condition variable. Condvars are not accounted.
	KindCondvar
)

func (k ResourceKind) String() string {
	switch k {
	case KindMutex:
		return "mutex"
	case KindSemaphore:
		return "semaphore"
	case KindCondvar:
		return "condvar"
	default:
		return fmt.Sprintf("ResourceKind(%d)", uint8(k))
	}
}

// ledger keeps the allocation, need and available vectors of one resource
// kind. Columns are resource ids, rows are task ids. Every row is as long as
// available.
type ledger struct {
	available  []int
	allocation map[int][]int
	need       map[int][]int
}

func newLedger() *ledger {
	return &ledger{
		allocation: make(map[int][]int),
		need:       make(map[int][]int),
	}
}

// addResource opens column id holding units free units.
func (l *ledger) addResource(id, units int) {
	for len(l.available) <= id {
		l.available = append(l.available, 0)
		for tid := range l.allocation {
			l.allocation[tid] = append(l.allocation[tid], 0)
			l.need[tid] = append(l.need[tid], 0)
		}
	}
	l.available[id] = units
	for tid := range l.allocation {
		l.allocation[tid][id] = 0
		l.need[tid][id] = 0
	}
}

// freeResource clears column id so that a later resource may reuse it.
func (l *ledger) freeResource(id int) {
	l.addResource(id, 0)
}

// addTask opens a zero row for tid.
func (l *ledger) addTask(tid int) {
	if _, ok := l.allocation[tid]; ok {
		panic(fmt.Sprintf("process: ledger row for task %d already exists", tid))
	}
	l.allocation[tid] = make([]int, len(l.available))
	l.need[tid] = make([]int, len(l.available))
}

// removeTask drops the row of tid.
func (l *ledger) removeTask(tid int) {
	delete(l.allocation, tid)
	delete(l.need, tid)
}

func (l *ledger) rows(tid int) (alloc, need []int) {
	alloc, ok := l.allocation[tid]
	if !ok {
		panic(fmt.Sprintf("process: no ledger row for task %d", tid))
	}
	return alloc, l.need[tid]
}

func (l *ledger) column(id int) {
	if id < 0 || id >= len(l.available) {
		panic(fmt.Sprintf("process: no ledger column for resource %d", id))
	}
}

// request records that tid wants one unit of id.
func (l *ledger) request(tid, id int) {
	l.column(id)
	_, need := l.rows(tid)
	need[id]++
}

// rollback undoes a rejected request.
func (l *ledger) rollback(tid, id int) {
	l.column(id)
	_, need := l.rows(tid)
	if need[id] == 0 {
		panic(fmt.Sprintf("process: rollback of task %d on resource %d without a request", tid, id))
	}
	need[id]--
}

// holds reports whether tid has at least one unit of id.
func (l *ledger) holds(tid, id int) bool {
	alloc, ok := l.allocation[tid]
	if !ok || id < 0 || id >= len(alloc) {
		return false
	}
	return alloc[id] > 0
}

// acquired moves one unit of id to tid.
func (l *ledger) acquired(tid, id int) {
	l.column(id)
	alloc, need := l.rows(tid)
	l.available[id]--
	alloc[id]++
	if need[id] > 0 {
		need[id]--
	}
}

// released gives one unit of id back. A semaphore may be raised by a task
// that never took it, so allocation only drops while positive.
func (l *ledger) released(tid, id int) {
	l.column(id)
	alloc, _ := l.rows(tid)
	l.available[id]++
	if alloc[id] > 0 {
		alloc[id]--
	}
}

// state snapshots the vectors for the safety check, rows ordered by tid.
func (l *ledger) state() deadlock.State {
	tids := make([]int, 0, len(l.allocation))
	for tid := range l.allocation {
		tids = append(tids, tid)
	}
	sort.Ints(tids)

	s := deadlock.State{
		Tasks:      tids,
		Available:  append([]int(nil), l.available...),
		Allocation: make([][]int, len(tids)),
		Need:       make([][]int, len(tids)),
	}
	for i, tid := range tids {
		s.Allocation[i] = append([]int(nil), l.allocation[tid]...)
		s.Need[i] = append([]int(nil), l.need[tid]...)
	}
	return s
}
