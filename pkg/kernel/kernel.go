package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/ksync"
	"tinykern/pkg/mm"
	"tinykern/pkg/process"
)

// Kernel errors.
var (
	ErrNoSuchProgram = errors.New("no such program")
	ErrStalled       = errors.New("every live task is blocked")
	ErrBooted        = errors.New("kernel already booted")
)

// Entry is the body of a user program or of a forked child.
type Entry func(u *User)

// ThreadEntry is the body of a thread created with thread_create.
type ThreadEntry func(u *User, arg uint64)

// Program is a loadable user program.
type Program struct {
	// Image is mapped into the new address space. Nil gets a one page text
	// segment holding the program name.
	Image *mm.Image
	// Main runs on the main task.
	Main Entry
}

// Kernel is a single-core kernel running user programs as Go functions.
// Exactly one goroutine runs at a time: either the dispatch loop in Run or
// the task it resumed. Control is passed back over idle.
type Kernel struct {
	cfg   Config
	log   *logrus.Logger
	clock Clock
	phys  *mm.PhysMem
	pm    *process.ProcessManager
	sched process.Scheduler

	idle chan struct{}

	// mu protects the fields below.
	mu       sync.Mutex
	programs map[string]Program
	entries  map[uint64]ThreadEntry
	nextAddr uint64
	timers   timerQueue
	current  *process.Task
	booted   bool
	shutdown bool
}

var _ ksync.Switcher = (*Kernel)(nil)

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger makes the kernel log to log instead of a new logger.
func WithLogger(log *logrus.Logger) Option {
	return func(k *Kernel) { k.log = log }
}

// WithClock overrides the clock selected by the config.
func WithClock(c Clock) Option {
	return func(k *Kernel) { k.clock = c }
}

// New creates a kernel from cfg.
func New(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:      cfg,
		idle:     make(chan struct{}),
		programs: make(map[string]Program),
		entries:  make(map[uint64]ThreadEntry),
		nextAddr: entryBase,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.log == nil {
		k.log = logrus.New()
		k.log.SetOutput(os.Stderr)
		level, _ := logrus.ParseLevel(cfg.LogLevel)
		k.log.SetLevel(level)
	}
	if k.clock == nil {
		switch cfg.Clock {
		case ClockWall:
			k.clock = NewWallClock()
		default:
			k.clock = NewVirtualClock(cfg.Tick)
		}
	}
	k.phys = mm.NewPhysMem(cfg.MaxFrames)
	k.sched = process.NewStrideScheduler()
	k.pm = process.NewProcessManager(process.Config{
		Phys:            k.phys,
		StackSize:       cfg.UserStackSize,
		DefaultPriority: cfg.DefaultPriority,
		Limits:          cfg.Limits,
		DeadlockDetect:  cfg.DeadlockDetect,
		Logger:          k.log,
	})
	return k, nil
}

// NewQuiet is New with logging discarded.
func NewQuiet(cfg Config, opts ...Option) (*Kernel, error) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(cfg, append([]Option{WithLogger(log)}, opts...)...)
}

// Manager returns the process arena.
func (k *Kernel) Manager() *process.ProcessManager { return k.pm }

// Clock returns the time source.
func (k *Kernel) Clock() Clock { return k.clock }

// Phys returns the physical memory of the kernel.
func (k *Kernel) Phys() *mm.PhysMem { return k.phys }

// Register makes prog loadable under name by exec and spawn.
func (k *Kernel) Register(name string, prog Program) {
	if prog.Main == nil {
		panic(fmt.Sprintf("kernel: program %q has no main", name))
	}
	if prog.Image == nil {
		prog.Image = &mm.Image{
			Name: name,
			Segments: []mm.Segment{
				{Start: 0x10000, Data: []byte(name), Perm: mm.PermR | mm.PermX},
			},
			Entry: 0x10000,
		}
	}
	k.mu.Lock()
	k.programs[name] = prog
	k.mu.Unlock()
}

func (k *Kernel) program(name string) (Program, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	prog, ok := k.programs[name]
	if !ok {
		return Program{}, fmt.Errorf("%w: %q", ErrNoSuchProgram, name)
	}
	return prog, nil
}

// Boot creates the init process running the program registered as name.
func (k *Kernel) Boot(name string) error {
	k.mu.Lock()
	booted := k.booted
	k.booted = true
	k.mu.Unlock()
	if booted {
		return ErrBooted
	}

	prog, err := k.program(name)
	if err != nil {
		return err
	}
	t, err := k.pm.CreateInit(prog.Image)
	if err != nil {
		return fmt.Errorf("boot %s: %w", name, err)
	}
	k.log.WithFields(logrus.Fields{"pid": t.PID(), "program": name}).Info("booted init")
	k.start(t, prog.Main)
	return nil
}

// start queues t and gives it a goroutine running fn.
func (k *Kernel) start(t *process.Task, fn Entry) {
	t.MustTransition(process.StatusReady)
	k.sched.Add(t)
	go func() {
		if !t.Park() {
			return
		}
		u := &User{k: k, t: t}
		fn(u)
		u.Exit(0)
	}()
}

// Run dispatches tasks until init exits or no task can run any more. It
// returns ErrStalled when only blocked tasks are left and ctx.Err() when
// ctx is cancelled; every remaining task is killed in both cases.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if k.isShutdown() {
			k.killAll()
			k.log.Info("init exited, kernel shut down")
			return nil
		}
		if err := ctx.Err(); err != nil {
			k.killAll()
			return err
		}

		k.fireTimers()
		t := k.sched.Fetch()
		if t == nil {
			if next, ok := k.nextTimer(); ok {
				if err := k.clock.WaitUntil(ctx, next); err != nil {
					k.killAll()
					return err
				}
				continue
			}
			if live := k.pm.LiveTasks(); len(live) > 0 {
				k.log.WithField("blocked", live).Error("no runnable task left")
				k.killAll()
				return fmt.Errorf("%w: %v", ErrStalled, live)
			}
			return nil
		}
		k.dispatch(t)
	}
}

// dispatch runs t until it gives the processor back.
func (k *Kernel) dispatch(t *process.Task) {
	t.AddPass()
	t.MustTransition(process.StatusRunning)
	t.MarkStarted(k.clock.Now())
	k.clock.Tick()
	k.log.WithFields(logrus.Fields{"pid": t.PID(), "tid": t.TID(), "stride": t.Stride()}).Debug("dispatch")

	k.mu.Lock()
	k.current = t
	k.mu.Unlock()

	t.Resume()
	<-k.idle

	k.mu.Lock()
	k.current = nil
	k.mu.Unlock()
}

func (k *Kernel) isShutdown() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.shutdown
}

func (k *Kernel) fireTimers() {
	k.mu.Lock()
	due := k.timers.expired(k.clock.Now())
	k.mu.Unlock()
	for _, t := range due {
		k.Wakeup(t)
	}
}

func (k *Kernel) nextTimer() (next time.Duration, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.timers.next()
}

// drop takes t off every queue and unwinds its goroutine.
func (k *Kernel) drop(t *process.Task) {
	k.sched.Remove(t)
	k.mu.Lock()
	k.timers.remove(t)
	k.mu.Unlock()
	t.Kill()
}

func (k *Kernel) killAll() {
	for _, t := range k.pm.LiveTasks() {
		k.drop(t)
	}
}

func (k *Kernel) running() *process.Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == nil {
		panic("kernel: no running task")
	}
	return k.current
}

// Current returns the running task.
func (k *Kernel) Current() ksync.Waiter {
	return k.running()
}

// Yield puts the running task back on the ready queue and switches away.
func (k *Kernel) Yield() {
	t := k.running()
	t.MustTransition(process.StatusReady)
	k.sched.Add(t)
	k.switchOut(t)
}

// Block parks the running task until Wakeup.
func (k *Kernel) Block() {
	t := k.running()
	t.MustTransition(process.StatusBlocked)
	k.switchOut(t)
}

// Wakeup makes a blocked task ready.
func (k *Kernel) Wakeup(w ksync.Waiter) {
	t := w.(*process.Task)
	if !t.IsAlive() {
		return
	}
	t.MustTransition(process.StatusReady)
	k.sched.Add(t)
}

// switchOut gives the processor back to Run and waits to be resumed. A task
// killed while switched out never returns.
func (k *Kernel) switchOut(t *process.Task) {
	k.idle <- struct{}{}
	if !t.Park() {
		runtime.Goexit()
	}
}

// exit retires the running task. It does not return.
func (k *Kernel) exit(t *process.Task, code int) {
	for _, o := range k.pm.ExitTask(t, code) {
		k.drop(o)
	}
	if t.IsMain() && t.PID() == k.pm.InitPID() {
		k.mu.Lock()
		k.shutdown = true
		k.mu.Unlock()
	}
	k.idle <- struct{}{}
	runtime.Goexit()
}
