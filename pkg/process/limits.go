package process

import (
	"errors"
	"fmt"
)

// Limit errors.
var (
	ErrLimitExceeded = errors.New("resource limit exceeded")
	ErrInvalidLimit  = errors.New("invalid resource limit value")
)

// ResourceType represents the type of resource being limited.
type ResourceType string

const (
	// ResourceThreads is the number of live tasks in a process.
	ResourceThreads ResourceType = "threads"
	// ResourceSync is the number of live objects of one resource kind.
	ResourceSync ResourceType = "sync"
	// ResourceHeap is the heap size in bytes.
	ResourceHeap ResourceType = "heap"
)

// Limits bounds what one process may consume. Zero means unlimited.
type Limits struct {
	// MaxThreads is the maximum number of live tasks.
	MaxThreads int
	// MaxResources is the maximum number of live objects per resource kind.
	MaxResources int
	// MaxHeap is the maximum distance between heap bottom and break.
	MaxHeap uint64
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() Limits {
	return Limits{
		MaxThreads:   64,
		MaxResources: 256,
		MaxHeap:      16 << 20, // 16 MB
	}
}

// Validate rejects negative limits.
func (l Limits) Validate() error {
	if l.MaxThreads < 0 || l.MaxResources < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidLimit, l)
	}
	return nil
}

func (l Limits) checkThreads(live int) error {
	if l.MaxThreads > 0 && live >= l.MaxThreads {
		return &LimitError{Type: ResourceThreads, Limit: int64(l.MaxThreads), Used: int64(live)}
	}
	return nil
}

func (l Limits) checkResources(kind ResourceKind, live int) error {
	if l.MaxResources > 0 && live >= l.MaxResources {
		return &LimitError{Type: ResourceSync, Kind: kind.String(), Limit: int64(l.MaxResources), Used: int64(live)}
	}
	return nil
}

func (l Limits) checkHeap(size uint64) error {
	if l.MaxHeap > 0 && size > l.MaxHeap {
		return &LimitError{Type: ResourceHeap, Limit: int64(l.MaxHeap), Used: int64(size)}
	}
	return nil
}

// LimitError represents a resource limit violation.
type LimitError struct {
	Type  ResourceType
	Kind  string
	Limit int64
	Used  int64
}

// Error returns the error message.
func (e *LimitError) Error() string {
	what := string(e.Type)
	if e.Kind != "" {
		what = e.Kind
	}
	return fmt.Sprintf("%s limit exceeded: %d of %d", what, e.Used, e.Limit)
}

// Unwrap lets errors.Is match ErrLimitExceeded.
func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// IsLimitError checks if an error is a limit error.
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}
