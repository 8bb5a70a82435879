package deadlock

import (
	"fmt"

	"github.com/Workiva/go-datastructures/bitarray"
)

// State is a snapshot of one resource kind. Row i of Allocation and Need
// belongs to the task Tasks[i]; column r to resource id r.
type State struct {
	Tasks      []int
	Available  []int
	Allocation [][]int
	Need       [][]int
}

// Validate checks that the matrices have matching shapes.
func (s State) Validate() error {
	if len(s.Allocation) != len(s.Need) {
		return fmt.Errorf("deadlock: %d allocation rows, %d need rows", len(s.Allocation), len(s.Need))
	}
	if s.Tasks != nil && len(s.Tasks) != len(s.Need) {
		return fmt.Errorf("deadlock: %d tasks, %d rows", len(s.Tasks), len(s.Need))
	}
	for i := range s.Need {
		if len(s.Need[i]) != len(s.Available) || len(s.Allocation[i]) != len(s.Available) {
			return fmt.Errorf("deadlock: row %d does not cover %d resources", i, len(s.Available))
		}
	}
	return nil
}

// Unfinished runs the safety algorithm and returns the rows that could not
// finish. An empty result means the state is safe.
func (s State) Unfinished() []int {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	n := len(s.Need)
	if n == 0 {
		return nil
	}

	work := make([]int, len(s.Available))
	copy(work, s.Available)
	finished := bitarray.NewBitArray(uint64(n))

	for {
		i := s.nextRunnable(finished, work)
		if i < 0 {
			break
		}
		for r, held := range s.Allocation[i] {
			work[r] += held
		}
		if err := finished.SetBit(uint64(i)); err != nil {
			panic(err)
		}
	}

	var out []int
	for i := 0; i < n; i++ {
		if !isSet(finished, i) {
			out = append(out, i)
		}
	}
	return out
}

// Safe reports whether every task in s can run to completion.
func (s State) Safe() bool {
	return len(s.Unfinished()) == 0
}

// nextRunnable returns the first unfinished row whose need fits in work.
func (s State) nextRunnable(finished bitarray.BitArray, work []int) int {
	for i, need := range s.Need {
		if isSet(finished, i) {
			continue
		}
		if fits(need, work) {
			return i
		}
	}
	return -1
}

func fits(need, work []int) bool {
	for r, n := range need {
		if n > work[r] {
			return false
		}
	}
	return true
}

func isSet(ba bitarray.BitArray, i int) bool {
	ok, err := ba.GetBit(uint64(i))
	if err != nil {
		panic(err)
	}
	return ok
}
