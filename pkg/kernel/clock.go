package kernel

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"tinykern/pkg/process"
)

// Clock is the time source of the kernel. Times are measured from boot.
type Clock interface {
	// Now returns the time since boot.
	Now() time.Duration
	// Tick is called once per dispatch.
	Tick()
	// WaitUntil returns once Now() >= t or ctx is done.
	WaitUntil(ctx context.Context, t time.Duration) error
}

// VirtualClock only moves when told to.
type VirtualClock struct {
	mu   sync.Mutex
	now  time.Duration
	step time.Duration
}

// NewVirtualClock creates a clock at zero that moves step per tick.
func NewVirtualClock(step time.Duration) *VirtualClock {
	return &VirtualClock{step: step}
}

// Now returns the virtual time.
func (c *VirtualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick moves the clock by one step.
func (c *VirtualClock) Tick() {
	c.Advance(c.step)
}

// Advance moves the clock by d.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// WaitUntil jumps to t.
func (c *VirtualClock) WaitUntil(ctx context.Context, t time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
	return nil
}

// WallClock follows the host clock.
type WallClock struct {
	boot time.Time
}

// NewWallClock creates a clock whose zero is now.
func NewWallClock() *WallClock {
	return &WallClock{boot: time.Now()}
}

// Now returns the time since the clock was created.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.boot)
}

// Tick does nothing; wall time moves by itself.
func (c *WallClock) Tick() {}

// WaitUntil sleeps until t.
func (c *WallClock) WaitUntil(ctx context.Context, t time.Duration) error {
	d := t - c.Now()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// timer wakes task at expire.
type timer struct {
	expire time.Duration
	seq    uint64
	task   *process.Task
}

// timerQueue is a min-heap of timers ordered by expiry, then arming order.
type timerQueue struct {
	items []*timer
	seq   uint64
}

var _ heap.Interface = (*timerQueue)(nil)

func (q *timerQueue) Len() int { return len(q.items) }

func (q *timerQueue) Less(i, j int) bool {
	if q.items[i].expire != q.items[j].expire {
		return q.items[i].expire < q.items[j].expire
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *timerQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *timerQueue) Push(x interface{}) {
	q.items = append(q.items, x.(*timer))
}

func (q *timerQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// add arms a timer for t.
func (q *timerQueue) add(expire time.Duration, t *process.Task) {
	q.seq++
	heap.Push(q, &timer{expire: expire, seq: q.seq, task: t})
}

// next returns the earliest expiry.
func (q *timerQueue) next() (time.Duration, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].expire, true
}

// expired pops every timer due at now.
func (q *timerQueue) expired(now time.Duration) []*process.Task {
	var out []*process.Task
	for len(q.items) > 0 && q.items[0].expire <= now {
		out = append(out, heap.Pop(q).(*timer).task)
	}
	return out
}

// remove drops the timers of t.
func (q *timerQueue) remove(t *process.Task) {
	kept := q.items[:0]
	for _, tm := range q.items {
		if tm.task != t {
			kept = append(kept, tm)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(q)
}
