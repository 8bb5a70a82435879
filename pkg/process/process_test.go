package process

import (
	"errors"
	"io"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/ksync"
	"tinykern/pkg/mm"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testImage(name string) *mm.Image {
	return &mm.Image{
		Name: name,
		Segments: []mm.Segment{
			{Start: 0x10000, Data: []byte(name), Perm: mm.PermR | mm.PermX},
			{Start: 0x11000, MemSize: mm.PageSize, Perm: mm.PermR | mm.PermW},
		},
		Entry: 0x10000,
	}
}

func newTestManager(t *testing.T, limits Limits) *ProcessManager {
	t.Helper()
	return NewProcessManager(Config{
		Phys:   mm.NewPhysMem(256),
		Limits: limits,
		Logger: testLogger(),
	})
}

func newTestInit(t *testing.T) (*ProcessManager, *Task) {
	t.Helper()
	pm := newTestManager(t, DefaultLimits())
	initTask, err := pm.CreateInit(testImage("init"))
	if err != nil {
		t.Fatalf("CreateInit() error = %v", err)
	}
	return pm, initTask
}

// TestTaskStateTransitions tests valid state transitions.
func TestTaskStateTransitions(t *testing.T) {
	p := newProcess(1, 0, "test", nil, 0, Limits{}, testLogger())
	task := newTask(p, 0, DefaultPriority)

	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		wantErr bool
	}{
		{"Uninit to Ready", StatusUninit, StatusReady, false},
		{"Ready to Running", StatusReady, StatusRunning, false},
		{"Running to Ready", StatusRunning, StatusReady, false},
		{"Running to Blocked", StatusRunning, StatusBlocked, false},
		{"Blocked to Ready", StatusBlocked, StatusReady, false},
		{"Running to Zombie", StatusRunning, StatusZombie, false},
		{"Blocked to Zombie", StatusBlocked, StatusZombie, false},
		{"Uninit to Running", StatusUninit, StatusRunning, true},
		{"Ready to Blocked", StatusReady, StatusBlocked, true},
		{"Blocked to Running", StatusBlocked, StatusRunning, true},
		{"Zombie to Ready", StatusZombie, StatusReady, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task.status = tt.from
			err := task.TransitionTo(tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("TransitionTo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("TransitionTo() error = %v, want %v", err, ErrInvalidTransition)
			}
		})
	}
}

// TestStrideAdvance tests the per-pass increment and its wraparound.
func TestStrideAdvance(t *testing.T) {
	tests := []struct {
		name     string
		start    Stride
		priority uint64
		want     Stride
	}{
		{"default priority", 0, 16, Stride(BigStride / 16)},
		{"double priority", 0, 32, Stride(BigStride / 32)},
		{"minimum priority", 0, MinPriority, Stride(BigStride / 2)},
		{"wraps", Stride(math.MaxUint64), 2, Stride(BigStride/2 - 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.start.Advance(tt.priority); got != tt.want {
				t.Errorf("Advance(%d) = %d, want %d", tt.priority, got, tt.want)
			}
		})
	}
}

// TestStrideLess tests the wrap-safe ordering.
func TestStrideLess(t *testing.T) {
	tests := []struct {
		a, b Stride
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{7, 7, false},
		// 5 has wrapped past the top and is ahead
		{Stride(math.MaxUint64 - 10), 5, true},
		{5, Stride(math.MaxUint64 - 10), false},
		{0, Stride(BigStride / 2), true},
		{0, Stride(BigStride/2 + 1), false},
	}
	for _, tt := range tests {
		if got := tt.a.Less(tt.b); got != tt.want {
			t.Errorf("Stride(%d).Less(%d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// TestSetPriority tests the priority floor.
func TestSetPriority(t *testing.T) {
	_, task := newTestInit(t)
	if err := task.SetPriority(1, MinPriority); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("SetPriority(1) error = %v, want %v", err, ErrInvalidPriority)
	}
	if task.Priority() != DefaultPriority {
		t.Errorf("Priority() = %d, want %d", task.Priority(), DefaultPriority)
	}
	if err := task.SetPriority(MinPriority, MinPriority); err != nil {
		t.Errorf("SetPriority(%d) error = %v", MinPriority, err)
	}
}

// TestSyscallCounting tests the per-syscall counters.
func TestSyscallCounting(t *testing.T) {
	_, task := newTestInit(t)
	task.CountSyscall(64)
	task.CountSyscall(64)
	task.CountSyscall(MaxSyscallNum)
	times := task.SyscallTimes()
	if times[64] != 2 {
		t.Errorf("SyscallTimes()[64] = %d, want 2", times[64])
	}
}

func schedTasks(priorities ...uint64) []*Task {
	p := newProcess(1, 0, "sched", nil, 0, Limits{}, testLogger())
	tasks := make([]*Task, len(priorities))
	for i, prio := range priorities {
		tasks[i] = newTask(p, i, prio)
	}
	return tasks
}

// TestSchedulerTieBreak tests that equal strides leave in queue order.
func TestSchedulerTieBreak(t *testing.T) {
	s := NewStrideScheduler()
	tasks := schedTasks(16, 16, 16)
	for _, task := range tasks {
		s.Add(task)
	}
	for i, want := range tasks {
		if got := s.Fetch(); got != want {
			t.Errorf("Fetch() #%d = %v, want %v", i, got, want)
		}
	}
	if got := s.Fetch(); got != nil {
		t.Errorf("Fetch() on empty queue = %v, want nil", got)
	}
}

// TestSchedulerFetchesMinimum tests that no queued task is smaller than the
// fetched one.
func TestSchedulerFetchesMinimum(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := NewStrideScheduler()
	tasks := schedTasks(2, 3, 5, 8, 13, 21, 34, 55)
	for _, task := range tasks {
		task.stride = Stride(rng.Uint64() >> 2)
		s.Add(task)
	}

	for s.Len() > 0 {
		got := s.Fetch()
		for _, o := range s.ready {
			if o.Stride().Less(got.Stride()) {
				t.Fatalf("Fetch() = stride %d while %d is queued", got.Stride(), o.Stride())
			}
		}
	}
}

// TestSchedulerFairness tests that a task with twice the priority runs
// twice as often.
func TestSchedulerFairness(t *testing.T) {
	s := NewStrideScheduler()
	tasks := schedTasks(16, 32)
	for _, task := range tasks {
		s.Add(task)
	}

	runs := map[*Task]int{}
	for i := 0; i < 3000; i++ {
		task := s.Fetch()
		task.AddPass()
		runs[task]++
		s.Add(task)
	}

	a, b := runs[tasks[0]], runs[tasks[1]]
	if b < 2*a-2 || b > 2*a+2 {
		t.Errorf("runs = %d:%d, want about 1:2", a, b)
	}
}

// TestSchedulerRemove tests removal from the middle of the queue.
func TestSchedulerRemove(t *testing.T) {
	s := NewStrideScheduler()
	tasks := schedTasks(16, 16, 16)
	for _, task := range tasks {
		s.Add(task)
	}
	if !s.Remove(tasks[1]) {
		t.Fatal("Remove() = false, want true")
	}
	if s.Remove(tasks[1]) {
		t.Error("second Remove() = true, want false")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if got := s.Fetch(); got != tasks[0] {
		t.Errorf("Fetch() = %v, want %v", got, tasks[0])
	}
	if got := s.Fetch(); got != tasks[2] {
		t.Errorf("Fetch() = %v, want %v", got, tasks[2])
	}
}

// TestResourceIDReuse tests that freed ids are handed out again and that
// no two live resources share an id.
func TestResourceIDReuse(t *testing.T) {
	_, task := newTestInit(t)
	p := task.Process()

	for i := 0; i < 5; i++ {
		id, err := p.CreateMutex(i%2 == 0)
		if err != nil || id != i {
			t.Fatalf("CreateMutex() = %d, %v, want %d", id, err, i)
		}
	}
	for _, id := range []int{3, 1} {
		if err := p.FreeResource(KindMutex, id); err != nil {
			t.Fatalf("FreeResource(%d) error = %v", id, err)
		}
	}
	if err := p.FreeResource(KindMutex, 1); !errors.Is(err, ErrNoSuchResource) {
		t.Errorf("double FreeResource() error = %v, want %v", err, ErrNoSuchResource)
	}
	if _, err := p.Mutex(3); !errors.Is(err, ErrNoSuchResource) {
		t.Errorf("Mutex(3) after free error = %v, want %v", err, ErrNoSuchResource)
	}

	var got []int
	for i := 0; i < 3; i++ {
		id, err := p.CreateMutex(true)
		if err != nil {
			t.Fatalf("CreateMutex() error = %v", err)
		}
		got = append(got, id)
	}
	if want := []int{1, 3, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("reused ids = %v, want %v", got, want)
	}

	seen := map[*ksync.Mutex]int{}
	p.mutexes.each(func(id int, m *ksync.Mutex) {
		if prev, ok := seen[m]; ok {
			t.Errorf("mutex at ids %d and %d", prev, id)
		}
		seen[m] = id
	})
	if p.mutexes.len() != 6 {
		t.Errorf("live mutexes = %d, want 6", p.mutexes.len())
	}
}

// TestFreeBusyResource tests that a held mutex keeps its id.
func TestFreeBusyResource(t *testing.T) {
	_, task := newTestInit(t)
	p := task.Process()
	id, _ := p.CreateMutex(false)
	m, _ := p.Mutex(id)
	m.Lock(nil)

	if err := p.FreeResource(KindMutex, id); !errors.Is(err, ErrResourceBusy) {
		t.Errorf("FreeResource() error = %v, want %v", err, ErrResourceBusy)
	}
}

// TestLedgerGrowth tests that rows and columns stay in lockstep as tasks
// and resources come and go.
func TestLedgerGrowth(t *testing.T) {
	pm, task := newTestInit(t)
	p := task.Process()

	if _, err := p.CreateSemaphore(2); err != nil {
		t.Fatal(err)
	}
	th, err := pm.CreateThread(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.CreateSemaphore(0); err != nil {
		t.Fatal(err)
	}
	if _, err := p.CreateSemaphore(-1); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("CreateSemaphore(-1) error = %v, want %v", err, ErrInvalidCount)
	}

	p.Acquired(KindSemaphore, th.TID(), 0)
	st := p.semLedger.state()
	if err := st.Validate(); err != nil {
		t.Fatalf("state.Validate() error = %v", err)
	}
	if want := []int{1, 0}; !reflect.DeepEqual(st.Available, want) {
		t.Errorf("Available = %v, want %v", st.Available, want)
	}
	if want := [][]int{{0, 0}, {1, 0}}; !reflect.DeepEqual(st.Allocation, want) {
		t.Errorf("Allocation = %v, want %v", st.Allocation, want)
	}

	pm.ExitTask(th, 0)
	st = p.semLedger.state()
	if want := []int{0}; !reflect.DeepEqual(st.Tasks, want) {
		t.Errorf("Tasks after exit = %v, want %v", st.Tasks, want)
	}
}

// TestRequestRejectsUnsafe tests the deadlock check and its rollback.
func TestRequestRejectsUnsafe(t *testing.T) {
	pm, main := newTestInit(t)
	p := main.Process()
	t1, _ := pm.CreateThread(p)
	if _, err := pm.CreateThread(p); err != nil {
		t.Fatal(err)
	}
	m, _ := p.CreateMutex(true)

	if err := p.SetDeadlockDetect(true); err != nil {
		t.Fatalf("SetDeadlockDetect(true) error = %v", err)
	}
	if err := p.Request(KindMutex, main.TID(), m); err != nil {
		t.Fatalf("Request() by first task error = %v", err)
	}
	p.Acquired(KindMutex, main.TID(), m)

	// a waiter behind a holder that can finish is safe
	if err := p.Request(KindMutex, t1.TID(), m); err != nil {
		t.Errorf("Request() by waiter error = %v", err)
	}
	p.ledgerLocked(KindMutex).rollback(t1.TID(), m)

	// the holder asking again can never be served
	err := p.Request(KindMutex, main.TID(), m)
	var de *DeadlockError
	if !errors.As(err, &de) || !errors.Is(err, ErrDeadlock) {
		t.Fatalf("Request() by holder error = %v, want %v", err, ErrDeadlock)
	}
	if want := [][]int{{0}}; !reflect.DeepEqual(de.Cycles, want) {
		t.Errorf("Cycles = %v, want %v", de.Cycles, want)
	}
	if need := p.mutexLedger.need[main.TID()][m]; need != 0 {
		t.Errorf("need after rejection = %d, want 0", need)
	}
}

// TestRequestCrossedMutexes tests the classic two-lock cycle.
func TestRequestCrossedMutexes(t *testing.T) {
	pm, a := newTestInit(t)
	p := a.Process()
	b, _ := pm.CreateThread(p)
	m0, _ := p.CreateMutex(true)
	m1, _ := p.CreateMutex(true)
	_ = p.SetDeadlockDetect(true)

	for _, step := range []struct {
		task *Task
		id   int
	}{{a, m0}, {b, m1}} {
		if err := p.Request(KindMutex, step.task.TID(), step.id); err != nil {
			t.Fatalf("Request() error = %v", err)
		}
		p.Acquired(KindMutex, step.task.TID(), step.id)
	}

	if err := p.Request(KindMutex, a.TID(), m1); err != nil {
		t.Fatalf("Request(a, m1) error = %v", err)
	}
	err := p.Request(KindMutex, b.TID(), m0)
	var de *DeadlockError
	if !errors.As(err, &de) {
		t.Fatalf("Request(b, m0) error = %v, want *DeadlockError", err)
	}
	if want := [][]int{{a.TID(), b.TID()}}; !reflect.DeepEqual(de.Cycles, want) {
		t.Errorf("Cycles = %v, want %v", de.Cycles, want)
	}
}

// TestRequestWithoutDetection tests that requests always pass when the
// check is off.
func TestRequestWithoutDetection(t *testing.T) {
	_, main := newTestInit(t)
	p := main.Process()
	m, _ := p.CreateMutex(true)
	p.Acquired(KindMutex, main.TID(), m)

	if err := p.Request(KindMutex, main.TID(), m); err != nil {
		t.Errorf("Request() error = %v, want nil", err)
	}
	if need := p.mutexLedger.need[main.TID()][m]; need != 1 {
		t.Errorf("need = %d, want 1", need)
	}
}

// TestSetDeadlockDetect tests toggling in the wrong state.
func TestSetDeadlockDetect(t *testing.T) {
	_, main := newTestInit(t)
	p := main.Process()

	if err := p.SetDeadlockDetect(false); !errors.Is(err, ErrInvalidToggle) {
		t.Errorf("SetDeadlockDetect(false) error = %v, want %v", err, ErrInvalidToggle)
	}
	if err := p.SetDeadlockDetect(true); err != nil {
		t.Errorf("SetDeadlockDetect(true) error = %v", err)
	}
	if err := p.SetDeadlockDetect(true); !errors.Is(err, ErrInvalidToggle) {
		t.Errorf("second SetDeadlockDetect(true) error = %v, want %v", err, ErrInvalidToggle)
	}
	if !p.DeadlockDetect() {
		t.Error("DeadlockDetect() = false, want true")
	}
}

// TestChangeProgramBrk tests growing and shrinking the heap.
func TestChangeProgramBrk(t *testing.T) {
	_, main := newTestInit(t)
	p := main.Process()
	bottom, brk := p.Heap()
	if bottom != brk {
		t.Fatalf("Heap() = %s, %s, want equal", bottom, brk)
	}

	old, err := p.ChangeProgramBrk(mm.PageSize)
	if err != nil || old != bottom {
		t.Fatalf("ChangeProgramBrk(+4096) = %s, %v, want %s", old, err, bottom)
	}
	if err := p.CopyOut(bottom+mm.PageSize-4, []byte("heap")); err != nil {
		t.Errorf("CopyOut() into heap error = %v", err)
	}

	old, err = p.ChangeProgramBrk(-2 * mm.PageSize)
	if !errors.Is(err, ErrBelowHeapFloor) {
		t.Errorf("ChangeProgramBrk(-8192) error = %v, want %v", err, ErrBelowHeapFloor)
	}
	if old != bottom+mm.PageSize {
		t.Errorf("ChangeProgramBrk(-8192) = %s, want %s", old, bottom+mm.PageSize)
	}
	if _, brk := p.Heap(); brk != bottom+mm.PageSize {
		t.Errorf("break after failed shrink = %s, want %s", brk, bottom+mm.PageSize)
	}

	if _, err := p.ChangeProgramBrk(-mm.PageSize); err != nil {
		t.Fatalf("ChangeProgramBrk(-4096) error = %v", err)
	}
	if err := p.CopyOut(bottom, []byte("x")); err == nil {
		t.Error("CopyOut() above the break succeeded")
	}
}

// TestHeapLimit tests the per-process heap bound.
func TestHeapLimit(t *testing.T) {
	pm := newTestManager(t, Limits{MaxHeap: mm.PageSize})
	main, err := pm.CreateInit(testImage("init"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = main.Process().ChangeProgramBrk(2 * mm.PageSize)
	if !IsLimitError(err) || !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("ChangeProgramBrk() error = %v, want limit error", err)
	}
}

// TestProcessMmap tests mmap and munmap through the process gate.
func TestProcessMmap(t *testing.T) {
	_, main := newTestInit(t)
	p := main.Process()

	if err := p.Mmap(0x100000, 2*mm.PageSize, 3); err != nil {
		t.Fatalf("Mmap() error = %v", err)
	}
	if err := p.Mmap(0x101000, mm.PageSize, 1); !errors.Is(err, mm.ErrRegionConflict) {
		t.Errorf("overlapping Mmap() error = %v, want %v", err, mm.ErrRegionConflict)
	}
	if err := p.Munmap(0x100000, 2*mm.PageSize); err != nil {
		t.Errorf("Munmap() error = %v", err)
	}
	if err := p.Munmap(0x100000, mm.PageSize); !errors.Is(err, mm.ErrRegionConflict) {
		t.Errorf("second Munmap() error = %v, want %v", err, mm.ErrRegionConflict)
	}
}

// TestMunmapHeap tests that munmap cannot cut pages out of the heap.
func TestMunmapHeap(t *testing.T) {
	_, main := newTestInit(t)
	p := main.Process()
	bottom, _ := p.Heap()

	if _, err := p.ChangeProgramBrk(2 * mm.PageSize); err != nil {
		t.Fatalf("ChangeProgramBrk() error = %v", err)
	}
	if err := p.Munmap(uint64(bottom), mm.PageSize); !errors.Is(err, ErrHeapRegion) {
		t.Errorf("Munmap() of heap error = %v, want %v", err, ErrHeapRegion)
	}
	if err := p.Munmap(uint64(bottom)+mm.PageSize, 2*mm.PageSize); !errors.Is(err, ErrHeapRegion) {
		t.Errorf("Munmap() straddling the break error = %v, want %v", err, ErrHeapRegion)
	}

	// the break still moves both ways
	if _, err := p.ChangeProgramBrk(mm.PageSize); err != nil {
		t.Errorf("ChangeProgramBrk(+1 page) error = %v", err)
	}
	if _, err := p.ChangeProgramBrk(-2 * mm.PageSize); err != nil {
		t.Errorf("ChangeProgramBrk(-2 pages) error = %v", err)
	}
	if _, brk := p.Heap(); brk != bottom+mm.PageSize {
		t.Errorf("brk = %s, want %s", brk, bottom+mm.PageSize)
	}
}

// TestHolds tests holder lookup and unchecked waits in the ledger.
func TestHolds(t *testing.T) {
	pm, main := newTestInit(t)
	p := main.Process()
	th, err := pm.CreateThread(p)
	if err != nil {
		t.Fatal(err)
	}
	m, _ := p.CreateMutex(true)

	if p.Holds(KindMutex, main.TID(), m) {
		t.Error("Holds() before any lock = true")
	}
	if err := p.Request(KindMutex, main.TID(), m); err != nil {
		t.Fatal(err)
	}
	p.Acquired(KindMutex, main.TID(), m)
	if !p.Holds(KindMutex, main.TID(), m) || p.Holds(KindMutex, th.TID(), m) {
		t.Error("Holds() should report only the locking task")
	}
	if p.Holds(KindMutex, main.TID(), 9) || p.Holds(KindMutex, 42, m) {
		t.Error("Holds() of unknown ids = true")
	}

	if err := p.SetDeadlockDetect(true); err != nil {
		t.Fatal(err)
	}
	// a re-request by the holder is rejected, a pending wait is recorded
	if err := p.Request(KindMutex, main.TID(), m); !errors.Is(err, ErrDeadlock) {
		t.Errorf("Request() error = %v, want %v", err, ErrDeadlock)
	}
	p.Pending(KindMutex, th.TID(), m)
	st := p.LedgerState(KindMutex)
	if want := [][]int{{0}, {1}}; !reflect.DeepEqual(st.Need, want) {
		t.Errorf("Need = %v, want %v", st.Need, want)
	}

	p.Released(KindMutex, main.TID(), m)
	p.Acquired(KindMutex, th.TID(), m)
	st = p.LedgerState(KindMutex)
	if want := [][]int{{0}, {1}}; !reflect.DeepEqual(st.Allocation, want) {
		t.Errorf("Allocation = %v, want %v", st.Allocation, want)
	}
	if want := [][]int{{0}, {0}}; !reflect.DeepEqual(st.Need, want) {
		t.Errorf("Need after acquire = %v, want %v", st.Need, want)
	}
}
