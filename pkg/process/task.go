package process

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// MaxSyscallNum bounds the syscall ids counted per task.
const MaxSyscallNum = 500

// DefaultPriority is the priority of a newly created task.
const DefaultPriority = 16

// MinPriority is the smallest priority a task may be given. Priority 1
// would make a single pass cover the whole stride space.
const MinPriority = 2

// ErrInvalidPriority is returned for a priority below the configured floor.
var ErrInvalidPriority = errors.New("invalid priority")

// Task is a thread control block. Everything but the channels is guarded by
// mu.
type Task struct {
	tid  int
	proc *Process

	mu           sync.Mutex
	status       TaskStatus
	stride       Stride
	priority     uint64
	syscallTimes [MaxSyscallNum]uint32
	started      bool
	startTime    time.Duration
	exitCode     int

	resume   chan struct{}
	killed   chan struct{}
	killOnce sync.Once
}

func newTask(proc *Process, tid int, priority uint64) *Task {
	return &Task{
		tid:      tid,
		proc:     proc,
		status:   StatusUninit,
		priority: priority,
		resume:   make(chan struct{}),
		killed:   make(chan struct{}),
	}
}

// String identifies t as pid:tid.
func (t *Task) String() string {
	return fmt.Sprintf("%d:%d", t.proc.PID, t.tid)
}

// TID returns the task id, unique inside the owning process.
func (t *Task) TID() int { return t.tid }

// PID returns the id of the owning process.
func (t *Task) PID() int { return t.proc.PID }

// Process returns the owning process.
func (t *Task) Process() *Process { return t.proc }

// IsMain reports whether t is the main thread of its process.
func (t *Task) IsMain() bool { return t.tid == 0 }

// Stride returns the current pass value of t.
func (t *Task) Stride() Stride {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stride
}

// Priority returns the scheduling priority of t.
func (t *Task) Priority() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// SetPriority changes the priority of t. Values below min are rejected.
func (t *Task) SetPriority(priority, min uint64) error {
	if priority < min {
		return fmt.Errorf("%w: %d < %d", ErrInvalidPriority, priority, min)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priority = priority
	return nil
}

// AddPass advances the stride of t by one scheduling pass.
func (t *Task) AddPass() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stride = t.stride.Advance(t.priority)
}

// CountSyscall records one invocation of syscall id.
func (t *Task) CountSyscall(id uint64) {
	if id >= MaxSyscallNum {
		return
	}
	t.mu.Lock()
	t.syscallTimes[id]++
	t.mu.Unlock()
}

// SyscallTimes returns a copy of the per-syscall counters.
func (t *Task) SyscallTimes() [MaxSyscallNum]uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syscallTimes
}

// MarkStarted records now as the first dispatch time of t. Later calls are
// ignored.
func (t *Task) MarkStarted(now time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		t.started = true
		t.startTime = now
	}
}

// StartTime returns when t first ran; ok is false if it never did.
func (t *Task) StartTime() (start time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime, t.started
}

// ExitCode returns the code t exited with.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

func (t *Task) setExitCode(code int) {
	t.mu.Lock()
	t.exitCode = code
	t.mu.Unlock()
}

// Resume hands the processor to t. t must be parked.
func (t *Task) Resume() {
	t.resume <- struct{}{}
}

// Park waits until t is resumed. It returns false if t was killed instead.
func (t *Task) Park() bool {
	select {
	case <-t.resume:
		return true
	case <-t.killed:
		return false
	}
}

// Kill makes a parked t unwind.
func (t *Task) Kill() {
	t.killOnce.Do(func() { close(t.killed) })
}

// Killed reports whether Kill was called on t.
func (t *Task) Killed() bool {
	select {
	case <-t.killed:
		return true
	default:
		return false
	}
}
