package process

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/deadlock"
	"tinykern/pkg/ksync"
)

// Resource table errors.
var (
	ErrNoSuchResource = errors.New("no such resource")
	ErrResourceBusy   = errors.New("resource is in use")
	ErrDeadlock       = errors.New("request would deadlock")
	ErrInvalidToggle  = errors.New("deadlock detection already in requested state")
	ErrInvalidCount   = errors.New("invalid semaphore count")
)

// DeadlockError is returned when the safety check rejects a request.
type DeadlockError struct {
	Kind     ResourceKind
	TID      int
	Resource int
	// Cycles lists the tids waiting on each other, one slice per cycle.
	// It may be empty when the unsafe state has no cycle yet.
	Cycles [][]int
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("task %d requesting %s %d: %v (wait cycles %v)", e.TID, e.Kind, e.Resource, ErrDeadlock, e.Cycles)
}

// Unwrap lets errors.Is match ErrDeadlock.
func (e *DeadlockError) Unwrap() error {
	return ErrDeadlock
}

// CreateMutex adds a mutex and returns its id.
func (p *Process) CreateMutex(blocking bool) (int, error) {
	kind := ksync.MutexSpin
	if blocking {
		kind = ksync.MutexBlocking
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.limits.checkResources(KindMutex, p.mutexes.len()); err != nil {
		return -1, err
	}
	id := p.mutexes.alloc(ksync.NewMutex(kind))
	p.mutexLedger.addResource(id, 1)
	return id, nil
}

// CreateSemaphore adds a semaphore holding count units and returns its id.
func (p *Process) CreateSemaphore(count int) (int, error) {
	if count < 0 {
		return -1, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.limits.checkResources(KindSemaphore, p.semaphores.len()); err != nil {
		return -1, err
	}
	id := p.semaphores.alloc(ksync.NewSemaphore(count))
	p.semLedger.addResource(id, count)
	return id, nil
}

// CreateCondvar adds a condition variable and returns its id.
func (p *Process) CreateCondvar() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.limits.checkResources(KindCondvar, p.condvars.len()); err != nil {
		return -1, err
	}
	return p.condvars.alloc(ksync.NewCondvar()), nil
}

// Mutex returns the mutex with the given id.
func (p *Process) Mutex(id int) (*ksync.Mutex, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.mutexes.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: mutex %d", ErrNoSuchResource, id)
	}
	return m, nil
}

// Semaphore returns the semaphore with the given id.
func (p *Process) Semaphore(id int) (*ksync.Semaphore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.semaphores.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: semaphore %d", ErrNoSuchResource, id)
	}
	return s, nil
}

// Condvar returns the condition variable with the given id.
func (p *Process) Condvar(id int) (*ksync.Condvar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.condvars.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: condvar %d", ErrNoSuchResource, id)
	}
	return c, nil
}

// FreeResource releases the id of an idle object so that a later create
// may reuse it.
func (p *Process) FreeResource(kind ResourceKind, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch kind {
	case KindMutex:
		m, ok := p.mutexes.get(id)
		if !ok {
			return fmt.Errorf("%w: mutex %d", ErrNoSuchResource, id)
		}
		if m.Locked() {
			return fmt.Errorf("%w: mutex %d", ErrResourceBusy, id)
		}
		p.mutexes.release(id)
		p.mutexLedger.freeResource(id)
	case KindSemaphore:
		s, ok := p.semaphores.get(id)
		if !ok {
			return fmt.Errorf("%w: semaphore %d", ErrNoSuchResource, id)
		}
		if s.Count() < 0 {
			return fmt.Errorf("%w: semaphore %d", ErrResourceBusy, id)
		}
		p.semaphores.release(id)
		p.semLedger.freeResource(id)
	case KindCondvar:
		c, ok := p.condvars.get(id)
		if !ok {
			return fmt.Errorf("%w: condvar %d", ErrNoSuchResource, id)
		}
		if c.Waiting() > 0 {
			return fmt.Errorf("%w: condvar %d", ErrResourceBusy, id)
		}
		p.condvars.release(id)
	default:
		return fmt.Errorf("%w: %s %d", ErrNoSuchResource, kind, id)
	}
	return nil
}

func (p *Process) ledgerLocked(kind ResourceKind) *ledger {
	switch kind {
	case KindMutex:
		return p.mutexLedger
	case KindSemaphore:
		return p.semLedger
	default:
		panic(fmt.Sprintf("process: %s has no ledger", kind))
	}
}

// Request records that tid wants one unit of resource id. With deadlock
// detection on, the request is rolled back and a *DeadlockError returned
// when granting it could leave some task unable to finish. The caller may
// block on the object only after Request returned nil.
func (p *Process) Request(kind ResourceKind, tid, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := p.ledgerLocked(kind)
	l.request(tid, id)
	if !p.deadlockDetect {
		return nil
	}
	st := l.state()
	if st.Safe() {
		return nil
	}
	l.rollback(tid, id)
	err := &DeadlockError{Kind: kind, TID: tid, Resource: id, Cycles: st.TaskCycles()}
	p.log.WithFields(logrus.Fields{
		"tid":      tid,
		"kind":     kind.String(),
		"resource": id,
		"cycles":   err.Cycles,
	}).Warn("request rejected as unsafe")
	return err
}

// Pending records that tid waits for one unit of resource id without
// running the safety check. It is for waits the task cannot back out of,
// such as retaking a mutex after a condvar wakeup.
func (p *Process) Pending(kind ResourceKind, tid, id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ledgerLocked(kind).request(tid, id)
}

// Holds reports whether tid holds at least one unit of resource id.
func (p *Process) Holds(kind ResourceKind, tid, id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledgerLocked(kind).holds(tid, id)
}

// LedgerState returns a copy of the accounting of kind.
func (p *Process) LedgerState(kind ResourceKind) deadlock.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledgerLocked(kind).state()
}

// Acquired records that tid now holds one unit of resource id.
func (p *Process) Acquired(kind ResourceKind, tid, id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ledgerLocked(kind).acquired(tid, id)
}

// Released records that tid gave one unit of resource id back.
func (p *Process) Released(kind ResourceKind, tid, id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ledgerLocked(kind).released(tid, id)
}

// SetDeadlockDetect turns the safety check on or off. Asking for the state
// already in effect is a caller bug and fails with ErrInvalidToggle.
func (p *Process) SetDeadlockDetect(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deadlockDetect == enabled {
		return fmt.Errorf("%w: enabled=%t", ErrInvalidToggle, enabled)
	}
	p.deadlockDetect = enabled
	return nil
}
