package process

import (
	"errors"
	"fmt"
)

// State transition errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrProcessNotFound   = errors.New("process not found")
)

// TaskStatus is the scheduling state of a task.
type TaskStatus uint32

const (
	// StatusUninit is a task that has not been handed to the scheduler yet.
	StatusUninit TaskStatus = iota
	// StatusReady is a task waiting in the ready queue.
	StatusReady
	// StatusRunning is the task that owns the processor.
	StatusRunning
	// StatusBlocked is a task parked on a primitive or a timer.
	StatusBlocked
	// StatusZombie is a task that has exited.
	StatusZombie
)

func (s TaskStatus) String() string {
	switch s {
	case StatusUninit:
		return "uninit"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusZombie:
		return "zombie"
	default:
		return fmt.Sprintf("TaskStatus(%d)", uint32(s))
	}
}

// StateTransition represents a valid state transition.
type StateTransition struct {
	From TaskStatus
	To   TaskStatus
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// Admission: Uninit -> Ready
	{From: StatusUninit, To: StatusReady},
	// Dispatch: Ready -> Running
	{From: StatusReady, To: StatusRunning},
	// Yield: Running -> Ready
	{From: StatusRunning, To: StatusReady},
	// Wait on a primitive or sleep: Running -> Blocked
	{From: StatusRunning, To: StatusBlocked},
	// Wakeup: Blocked -> Ready
	{From: StatusBlocked, To: StatusReady},
	// Exit: Running -> Zombie
	{From: StatusRunning, To: StatusZombie},
	// Killed by the main thread's exit
	{From: StatusUninit, To: StatusZombie},
	{From: StatusReady, To: StatusZombie},
	{From: StatusBlocked, To: StatusZombie},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to TaskStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// TransitionTo moves t to a new status.
func (t *Task) TransitionTo(to TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !IsValidTransition(t.status, to) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t, t.status, to)
	}
	t.status = to
	return nil
}

// MustTransition is TransitionTo for callers that already checked the
// current status; a failure is a kernel bug.
func (t *Task) MustTransition(to TaskStatus) {
	if err := t.TransitionTo(to); err != nil {
		panic(err)
	}
}

// Status returns the current status of t.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsAlive reports whether t has not exited yet.
func (t *Task) IsAlive() bool {
	return t.Status() != StatusZombie
}
