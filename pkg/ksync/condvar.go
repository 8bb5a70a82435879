package ksync

import "sync"

// Condvar is a condition variable used together with a kernel mutex.
type Condvar struct {
	mu      sync.Mutex
	waiters waitQueue
}

// NewCondvar creates a condition variable with no waiters.
func NewCondvar() *Condvar {
	return &Condvar{}
}

// Signal wakes at most one waiter.
func (c *Condvar) Signal(sw Switcher) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w := c.waiters.pop(); w != nil {
		sw.Wakeup(w)
	}
}

// Wait releases m, parks the current task until signalled and reacquires m
// before returning. The caller must hold m.
func (c *Condvar) Wait(sw Switcher, m Locker) {
	c.Sleep(sw, m)
	m.Lock(sw)
}

// Sleep is Wait without the final m.Lock. The caller retakes m itself.
func (c *Condvar) Sleep(sw Switcher, m Locker) {
	c.mu.Lock()
	c.waiters.push(sw.Current())
	c.mu.Unlock()
	m.Unlock(sw)
	sw.Block()
}

// Waiting returns the number of parked waiters.
func (c *Condvar) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters.len()
}
