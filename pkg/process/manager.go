package process

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/ksync"
	"tinykern/pkg/mm"
)

// Process creation errors.
var (
	ErrInvalidPID     = errors.New("invalid PID")
	ErrNotParent      = errors.New("not the parent process")
	ErrProcessRunning = errors.New("process is still running")
	ErrNoInit         = errors.New("init process not created")
	ErrInitExists     = errors.New("init process already created")
)

// Config contains what the manager needs to build processes.
type Config struct {
	// Phys backs every address space.
	Phys *mm.PhysMem
	// StackSize is the user stack size of a program image in bytes.
	StackSize uint64
	// DefaultPriority is given to every new task.
	DefaultPriority uint64
	// Limits applies to every process.
	Limits Limits
	// DeadlockDetect is the initial detection flag of a new process.
	DeadlockDetect bool
	// Logger receives lifecycle events. Nil discards them.
	Logger *logrus.Logger
}

// ProcessManager is the arena of all processes. Parent links are pids
// looked up here, children are owned as pid lists.
type ProcessManager struct {
	// processes holds all processes by PID.
	processes sync.Map
	// pidCounter generates unique PIDs.
	pidCounter int32
	cfg        Config
	log        *logrus.Logger
	// mu protects children and initPID.
	mu       sync.RWMutex
	children map[int][]int
	initPID  int
}

// NewProcessManager creates a new process manager.
func NewProcessManager(cfg Config) *ProcessManager {
	if cfg.Phys == nil {
		panic("process: manager needs physical memory")
	}
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = DefaultPriority
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = 2 * mm.PageSize
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &ProcessManager{
		cfg:      cfg,
		log:      log,
		children: make(map[int][]int),
	}
}

// allocatePID allocates a new unique PID.
func (pm *ProcessManager) allocatePID() int {
	return int(atomic.AddInt32(&pm.pidCounter, 1))
}

// newProcessWithMain stores a process around space and gives it a main
// task.
func (pm *ProcessManager) newProcessWithMain(parent int, name string, space *mm.AddressSpace, brk mm.VirtAddr) (*Task, error) {
	pid := pm.allocatePID()
	p := newProcess(pid, parent, name, space, brk, pm.cfg.Limits, pm.log)
	p.deadlockDetect = pm.cfg.DeadlockDetect

	p.mu.Lock()
	t, err := p.addTaskLocked(pm.cfg.DefaultPriority)
	p.mu.Unlock()
	if err != nil {
		space.Recycle()
		return nil, err
	}

	pm.processes.Store(pid, p)
	if parent > 0 {
		pm.mu.Lock()
		pm.children[parent] = append(pm.children[parent], pid)
		pm.mu.Unlock()
	}
	p.log.WithFields(logrus.Fields{"parent": parent, "name": name}).Debug("process created")
	return t, nil
}

// CreateInit builds the first process from img. Orphans are handed to it.
func (pm *ProcessManager) CreateInit(img *mm.Image) (*Task, error) {
	pm.mu.RLock()
	exists := pm.initPID != 0
	pm.mu.RUnlock()
	if exists {
		return nil, ErrInitExists
	}

	space, layout, err := mm.FromImage(pm.cfg.Phys, img, pm.cfg.StackSize)
	if err != nil {
		return nil, err
	}
	t, err := pm.newProcessWithMain(0, img.Name, space, layout.StackTop)
	if err != nil {
		return nil, err
	}
	pm.mu.Lock()
	pm.initPID = t.PID()
	pm.mu.Unlock()
	return t, nil
}

// InitPID returns the pid of the init process, 0 before CreateInit.
func (pm *ProcessManager) InitPID() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.initPID
}

// Fork creates a child of the process of parent with a full copy of its
// address space. The child shares no synchronization objects with the
// parent and starts with default scheduling parameters.
func (pm *ProcessManager) Fork(parent *Task) (*Task, error) {
	pp := parent.proc
	pp.mu.Lock()
	if pp.tasks.len() != 1 {
		pp.mu.Unlock()
		return nil, fmt.Errorf("fork %d: %w", pp.PID, ErrMultiThreaded)
	}
	if pp.space == nil {
		pp.mu.Unlock()
		return nil, ErrExited
	}
	space, err := pp.space.Clone()
	bottom, brk, name := pp.heapBottom, pp.programBrk, pp.name
	pp.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("fork %d: %w", pp.PID, err)
	}

	child, err := pm.newProcessWithMain(pp.PID, name, space, bottom)
	if err != nil {
		return nil, err
	}
	cp := child.proc
	cp.mu.Lock()
	cp.programBrk = brk
	cp.mu.Unlock()
	return child, nil
}

// Spawn creates a child of the process of parent running img, without
// copying the parent's memory.
func (pm *ProcessManager) Spawn(parent *Task, img *mm.Image) (*Task, error) {
	space, layout, err := mm.FromImage(pm.cfg.Phys, img, pm.cfg.StackSize)
	if err != nil {
		return nil, err
	}
	return pm.newProcessWithMain(parent.PID(), img.Name, space, layout.StackTop)
}

// Exec replaces the address space of the process of t with one built from
// img. The task keeps its ids.
func (pm *ProcessManager) Exec(t *Task, img *mm.Image) error {
	p := t.proc
	if p.TaskCount() != 1 {
		return fmt.Errorf("exec %d: %w", p.PID, ErrMultiThreaded)
	}
	space, layout, err := mm.FromImage(pm.cfg.Phys, img, pm.cfg.StackSize)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.space
	p.space = space
	p.heapBottom = layout.StackTop
	p.programBrk = layout.StackTop
	p.name = img.Name
	p.mu.Unlock()
	if old != nil {
		old.Recycle()
	}
	p.log.WithFields(logrus.Fields{"tid": t.tid, "name": img.Name}).Debug("exec")
	return nil
}

// CreateThread adds a task to p.
func (pm *ProcessManager) CreateThread(p *Process) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.zombie {
		return nil, ErrExited
	}
	t, err := p.addTaskLocked(pm.cfg.DefaultPriority)
	if err != nil {
		return nil, err
	}
	p.log.WithField("tid", t.tid).Debug("thread created")
	return t, nil
}

// ExitTask turns t into a zombie. When t is the main task the whole process
// exits: the other tasks become zombies too and are returned so that the
// caller can unschedule them, the address space is recycled and the
// children are handed to init.
func (pm *ProcessManager) ExitTask(t *Task, code int) []*Task {
	p := t.proc
	t.setExitCode(code)
	t.MustTransition(StatusZombie)

	p.mu.Lock()
	if !t.IsMain() {
		p.removeTaskLocked(t.tid)
		p.mu.Unlock()
		p.log.WithFields(logrus.Fields{"tid": t.tid, "code": code}).Debug("thread exited")
		return nil
	}

	var killed []*Task
	for _, o := range p.tasksLocked() {
		if o != t {
			o.setExitCode(code)
			o.MustTransition(StatusZombie)
			killed = append(killed, o)
		}
		p.removeTaskLocked(o.tid)
	}
	p.zombie = true
	p.exitCode = code
	space := p.space
	p.space = nil
	p.mutexes = slotTable[*ksync.Mutex]{}
	p.semaphores = slotTable[*ksync.Semaphore]{}
	p.condvars = slotTable[*ksync.Condvar]{}
	p.mutexLedger = newLedger()
	p.semLedger = newLedger()
	p.mu.Unlock()
	if space != nil {
		space.Recycle()
	}

	pm.reparent(p.PID)
	p.log.WithFields(logrus.Fields{"code": code, "killed": len(killed)}).Info("process exited")
	return killed
}

// reparent hands the children of pid to init.
func (pm *ProcessManager) reparent(pid int) {
	pm.mu.Lock()
	initPID := pm.initPID
	if pid == initPID || initPID == 0 {
		pm.mu.Unlock()
		return
	}
	orphans := pm.children[pid]
	delete(pm.children, pid)
	pm.children[initPID] = append(pm.children[initPID], orphans...)
	pm.mu.Unlock()

	for _, c := range orphans {
		pm.MustProcess(c).setParent(initPID)
	}
}

// Reap removes the zombie child from the arena and returns its exit code.
func (pm *ProcessManager) Reap(parent, child int) (int, error) {
	p, err := pm.GetProcess(child)
	if err != nil {
		return 0, err
	}
	if p.Parent() != parent {
		return 0, fmt.Errorf("%w: %d is not the parent of %d", ErrNotParent, parent, child)
	}
	if !p.IsZombie() {
		return 0, fmt.Errorf("%w: %d", ErrProcessRunning, child)
	}

	pm.mu.Lock()
	children := pm.children[parent]
	for i, c := range children {
		if c == child {
			pm.children[parent] = append(children[:i], children[i+1:]...)
			break
		}
	}
	pm.mu.Unlock()
	pm.processes.Delete(child)
	return p.ExitCode(), nil
}

// GetProcess retrieves a process by PID.
func (pm *ProcessManager) GetProcess(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, ErrInvalidPID
	}

	p, ok := pm.processes.Load(pid)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}
	return p.(*Process), nil
}

// MustProcess is GetProcess for pids the kernel itself holds; a miss is a
// broken invariant.
func (pm *ProcessManager) MustProcess(pid int) *Process {
	p, err := pm.GetProcess(pid)
	if err != nil {
		panic(fmt.Sprintf("process: %v", err))
	}
	return p
}

// GetProcesses returns all processes in pid order.
func (pm *ProcessManager) GetProcesses() []*Process {
	processes := make([]*Process, 0)

	pm.processes.Range(func(key, value interface{}) bool {
		processes = append(processes, value.(*Process))
		return true
	})
	sort.Slice(processes, func(i, j int) bool { return processes[i].PID < processes[j].PID })
	return processes
}

// GetChildren returns all child PIDs of a process.
func (pm *ProcessManager) GetChildren(pid int) []int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return append([]int(nil), pm.children[pid]...)
}

// CountProcesses returns the total number of processes.
func (pm *ProcessManager) CountProcesses() int {
	count := 0
	pm.processes.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// LiveTasks returns every task that has not exited, ordered by pid and tid.
func (pm *ProcessManager) LiveTasks() []*Task {
	var out []*Task
	for _, p := range pm.GetProcesses() {
		for _, t := range p.Tasks() {
			if t.IsAlive() {
				out = append(out, t)
			}
		}
	}
	sortTasks(out)
	return out
}
