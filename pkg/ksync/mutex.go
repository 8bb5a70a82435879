package ksync

import "sync"

// MutexKind selects how a Mutex waits.
type MutexKind uint8

const (
	// MutexSpin retries after yielding; the waiter stays ready.
	MutexSpin MutexKind = iota
	// MutexBlocking parks the waiter until the holder hands the lock over.
	MutexBlocking
)

func (k MutexKind) String() string {
	switch k {
	case MutexSpin:
		return "spin"
	case MutexBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// Locker is the capability shared by every mutex variant.
type Locker interface {
	Lock(sw Switcher)
	Unlock(sw Switcher)
}

// Mutex is a kernel mutex whose waiting strategy is fixed at creation.
type Mutex struct {
	kind MutexKind
	// mu protects the fields below.
	mu      sync.Mutex
	locked  bool
	waiters waitQueue
}

var _ Locker = (*Mutex)(nil)

// NewMutex creates an unlocked mutex of the given kind.
func NewMutex(kind MutexKind) *Mutex {
	if kind != MutexSpin && kind != MutexBlocking {
		panic("ksync: unknown mutex kind")
	}
	return &Mutex{kind: kind}
}

// Kind returns the waiting strategy of m.
func (m *Mutex) Kind() MutexKind {
	return m.kind
}

// Lock acquires m for the current task.
func (m *Mutex) Lock(sw Switcher) {
	switch m.kind {
	case MutexSpin:
		m.spinLock(sw)
	case MutexBlocking:
		m.blockingLock(sw)
	}
}

// Unlock releases m. Unlocking an unlocked mutex is a kernel bug; callers
// check Locked first.
func (m *Mutex) Unlock(sw Switcher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked {
		panic("ksync: unlock of unlocked mutex")
	}
	if m.kind == MutexBlocking {
		if w := m.waiters.pop(); w != nil {
			// ownership passes to w, m stays locked
			sw.Wakeup(w)
			return
		}
	}
	m.locked = false
}

func (m *Mutex) spinLock(sw Switcher) {
	for {
		m.mu.Lock()
		if !m.locked {
			m.locked = true
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		sw.Yield()
	}
}

func (m *Mutex) blockingLock(sw Switcher) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return
	}
	m.waiters.push(sw.Current())
	m.mu.Unlock()
	sw.Block()
}

// Locked reports whether m is held.
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Waiting returns the number of parked waiters.
func (m *Mutex) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiters.len()
}
