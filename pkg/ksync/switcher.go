package ksync

// Waiter is a task that can sit in a wait queue.
type Waiter interface {
	String() string
}

// Switcher is the scheduler capability the primitives are built on.
type Switcher interface {
	// Current returns the running task.
	Current() Waiter
	// Yield re-queues the running task as ready and runs another one.
	Yield()
	// Block parks the running task; it returns once the task was woken.
	Block()
	// Wakeup makes a parked task runnable.
	Wakeup(w Waiter)
}

// waitQueue is a FIFO of parked tasks.
type waitQueue struct {
	items []Waiter
}

func (q *waitQueue) push(w Waiter) {
	q.items = append(q.items, w)
}

func (q *waitQueue) pop() Waiter {
	if len(q.items) == 0 {
		return nil
	}
	w := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return w
}

func (q *waitQueue) len() int {
	return len(q.items)
}
