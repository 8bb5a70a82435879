package process

import "math"

// BigStride is the numerator of every stride increment.
const BigStride = math.MaxUint64

// Stride is a wrapping fairness counter. The task with the smallest stride
// runs next.
type Stride uint64

// Advance returns s moved forward by one pass of a task with the given
// priority.
func (s Stride) Advance(priority uint64) Stride {
	return s + Stride(BigStride/priority)
}

// Less reports whether s comes strictly before o. Two strides are compared
// through their wrapping distance: the one at most BigStride/2 behind the
// other is the smaller one. Equal strides are not ordered.
func (s Stride) Less(o Stride) bool {
	if s == o {
		return false
	}
	if s > o {
		return uint64(s-o) > BigStride/2
	}
	return uint64(o-s) <= BigStride/2
}
