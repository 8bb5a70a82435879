package process

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/ksync"
	"tinykern/pkg/mm"
)

// ErrMultiThreaded is returned by fork and exec on a process running more
// than one task.
var ErrMultiThreaded = errors.New("process has more than one task")

// Process is a process control block: it owns an address space and the
// synchronization objects shared by its tasks.
type Process struct {
	// PID is the unique process identifier.
	PID int
	log *logrus.Entry

	// mu is the exclusive-access gate over everything below. It is never
	// held while a task is parked.
	mu         sync.Mutex
	name       string
	parent     int
	space      *mm.AddressSpace
	heapBottom mm.VirtAddr
	programBrk mm.VirtAddr
	tasks      slotTable[*Task]

	mutexes     slotTable[*ksync.Mutex]
	semaphores  slotTable[*ksync.Semaphore]
	condvars    slotTable[*ksync.Condvar]
	mutexLedger *ledger
	semLedger   *ledger

	deadlockDetect bool
	limits         Limits
	zombie         bool
	exitCode       int
}

func newProcess(pid, parent int, name string, space *mm.AddressSpace, brk mm.VirtAddr, limits Limits, log *logrus.Logger) *Process {
	return &Process{
		PID:         pid,
		log:         log.WithField("pid", pid),
		name:        name,
		parent:      parent,
		space:       space,
		heapBottom:  brk,
		programBrk:  brk,
		mutexLedger: newLedger(),
		semLedger:   newLedger(),
		limits:      limits,
	}
}

// Name returns the name of the program the process runs.
func (p *Process) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Parent returns the pid of the parent process; 0 for init.
func (p *Process) Parent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

func (p *Process) setParent(pid int) {
	p.mu.Lock()
	p.parent = pid
	p.mu.Unlock()
}

// Logger returns the log entry of p.
func (p *Process) Logger() *logrus.Entry {
	return p.log
}

// addTaskLocked creates a task with the lowest free tid and opens its
// ledger rows.
func (p *Process) addTaskLocked(priority uint64) (*Task, error) {
	if err := p.limits.checkThreads(p.tasks.len()); err != nil {
		return nil, err
	}
	tid := p.tasks.alloc(nil)
	t := newTask(p, tid, priority)
	p.tasks.slots[tid] = t
	p.mutexLedger.addTask(tid)
	p.semLedger.addTask(tid)
	return t, nil
}

func (p *Process) removeTaskLocked(tid int) {
	p.tasks.release(tid)
	p.mutexLedger.removeTask(tid)
	p.semLedger.removeTask(tid)
}

// Task returns the live task with the given tid.
func (p *Process) Task(tid int) (*Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.get(tid)
}

// Tasks returns the live tasks of p in tid order.
func (p *Process) Tasks() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasksLocked()
}

func (p *Process) tasksLocked() []*Task {
	out := make([]*Task, 0, p.tasks.len())
	p.tasks.each(func(_ int, t *Task) {
		out = append(out, t)
	})
	return out
}

// TaskCount returns the number of live tasks.
func (p *Process) TaskCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.len()
}

// IsZombie reports whether the main task of p has exited.
func (p *Process) IsZombie() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.zombie
}

// ExitCode returns the exit code of a zombie process.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Space returns the address space of p. It is nil once p exited.
func (p *Process) Space() *mm.AddressSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space
}

// Heap returns the heap bottom and the current program break.
func (p *Process) Heap() (bottom, brk mm.VirtAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heapBottom, p.programBrk
}

// DeadlockDetect reports whether requests of p are checked for safety.
func (p *Process) DeadlockDetect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deadlockDetect
}

// sortTasks orders tasks by pid, then tid.
func sortTasks(ts []*Task) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].PID() != ts[j].PID() {
			return ts[i].PID() < ts[j].PID()
		}
		return ts[i].tid < ts[j].tid
	})
}
