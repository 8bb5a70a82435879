package kernel

import (
	"tinykern/pkg/mm"
	"tinykern/pkg/process"
)

// scratchSize is the top part of the user stack the syscall wrappers use to
// pass strings and receive records.
const scratchSize = 4096

// User is the syscall interface seen by a user program. A User is only
// valid on the goroutine of its task.
type User struct {
	k *Kernel
	t *process.Task
}

// Task returns the task behind u.
func (u *User) Task() *process.Task { return u.t }

// Syscall issues a raw syscall.
func (u *User) Syscall(id uint64, args ...uint64) int64 {
	var a [3]uint64
	copy(a[:], args)
	return u.k.Syscall(u.t, id, a)
}

// scratch returns the base of the scratch area of the current process.
func (u *User) scratch() mm.VirtAddr {
	bottom, _ := u.t.Process().Heap()
	return bottom - scratchSize
}

// Exit terminates the calling task. It does not return.
func (u *User) Exit(code int) {
	u.Syscall(SysExit, uint64(code))
	panic("kernel: exit returned")
}

// Yield gives the processor to another ready task.
func (u *User) Yield() int64 { return u.Syscall(SysYield) }

// Sleep blocks for ms milliseconds.
func (u *User) Sleep(ms uint64) int64 { return u.Syscall(SysSleep, ms) }

// Getpid returns the process id.
func (u *User) Getpid() int64 { return u.Syscall(SysGetpid) }

// Gettid returns the task id.
func (u *User) Gettid() int64 { return u.Syscall(SysGettid) }

// SetPriority sets the priority of the calling task.
func (u *User) SetPriority(prio int64) int64 {
	return u.Syscall(SysSetPriority, uint64(prio))
}

// GetTime returns the time since boot.
func (u *User) GetTime() (TimeVal, int64) {
	va := u.scratch()
	if ret := u.Syscall(SysGetTime, uint64(va), 0); ret != 0 {
		return TimeVal{}, ret
	}
	buf := make([]byte, TimeValSize)
	if err := u.t.Process().CopyIn(buf, va); err != nil {
		return TimeVal{}, -1
	}
	tv, err := DecodeTimeVal(buf)
	if err != nil {
		return TimeVal{}, -1
	}
	return tv, 0
}

// TaskInfo returns the status, syscall counters and run time of the
// calling task.
func (u *User) TaskInfo() (TaskInfo, int64) {
	va := u.scratch()
	if ret := u.Syscall(SysTaskInfo, uint64(va)); ret != 0 {
		return TaskInfo{}, ret
	}
	buf := make([]byte, TaskInfoSize)
	if err := u.t.Process().CopyIn(buf, va); err != nil {
		return TaskInfo{}, -1
	}
	ti, err := DecodeTaskInfo(buf)
	if err != nil {
		return TaskInfo{}, -1
	}
	return ti, 0
}

// Mmap maps [start, start+length) with permission bits port.
func (u *User) Mmap(start, length, port uint64) int64 {
	return u.Syscall(SysMmap, start, length, port)
}

// Munmap removes the mapping of [start, start+length).
func (u *User) Munmap(start, length uint64) int64 {
	return u.Syscall(SysMunmap, start, length)
}

// Sbrk moves the program break and returns the old one.
func (u *User) Sbrk(delta int64) int64 {
	return u.Syscall(SysSbrk, uint64(delta))
}

// Fork creates a child process that starts in child with a copy of the
// caller's memory. It returns the child pid.
func (u *User) Fork(child Entry) int64 {
	addr := u.k.registerEntry(func(cu *User, _ uint64) { child(cu) })
	ret := u.Syscall(SysFork, addr)
	if ret < 0 {
		u.k.takeEntry(addr)
	}
	return ret
}

// Exec replaces the running program with the one registered as name. It
// only returns on failure.
func (u *User) Exec(name string) int64 {
	va, ok := u.putString(name)
	if !ok {
		return -1
	}
	if ret := u.Syscall(SysExec, uint64(va)); ret != 0 {
		return ret
	}
	prog, err := u.k.program(name)
	if err != nil {
		panic("kernel: exec'd program vanished: " + err.Error())
	}
	prog.Main(u)
	u.Exit(0)
	return 0
}

// Spawn starts the program registered as name in a new child process and
// returns its pid.
func (u *User) Spawn(name string) int64 {
	va, ok := u.putString(name)
	if !ok {
		return -1
	}
	return u.Syscall(SysSpawn, uint64(va))
}

// ThreadCreate starts fn(arg) on a new task of the calling process and
// returns its tid.
func (u *User) ThreadCreate(fn ThreadEntry, arg uint64) int64 {
	addr := u.k.registerEntry(fn)
	ret := u.Syscall(SysThreadCreate, addr, arg)
	if ret < 0 {
		u.k.takeEntry(addr)
	}
	return ret
}

// MutexCreate creates a blocking or spinning mutex and returns its id.
func (u *User) MutexCreate(blocking bool) int64 {
	var b uint64
	if blocking {
		b = 1
	}
	return u.Syscall(SysMutexCreate, b)
}

// MutexLock locks mutex id.
func (u *User) MutexLock(id int64) int64 { return u.Syscall(SysMutexLock, uint64(id)) }

// MutexUnlock unlocks mutex id.
func (u *User) MutexUnlock(id int64) int64 { return u.Syscall(SysMutexUnlock, uint64(id)) }

// SemaphoreCreate creates a semaphore with count units and returns its id.
func (u *User) SemaphoreCreate(count int64) int64 {
	return u.Syscall(SysSemaphoreCreate, uint64(count))
}

// SemaphoreUp releases one unit of semaphore id.
func (u *User) SemaphoreUp(id int64) int64 { return u.Syscall(SysSemaphoreUp, uint64(id)) }

// SemaphoreDown takes one unit of semaphore id.
func (u *User) SemaphoreDown(id int64) int64 { return u.Syscall(SysSemaphoreDown, uint64(id)) }

// CondvarCreate creates a condition variable and returns its id.
func (u *User) CondvarCreate() int64 { return u.Syscall(SysCondvarCreate) }

// CondvarSignal wakes one waiter of condvar id.
func (u *User) CondvarSignal(id int64) int64 { return u.Syscall(SysCondvarSignal, uint64(id)) }

// CondvarWait waits on condvar cid, releasing mutex mid meanwhile.
func (u *User) CondvarWait(cid, mid int64) int64 {
	return u.Syscall(SysCondvarWait, uint64(cid), uint64(mid))
}

// EnableDeadlockDetect turns the safety check on (1) or off (0).
func (u *User) EnableDeadlockDetect(flag uint64) int64 {
	return u.Syscall(SysEnableDeadlockDetect, flag)
}

// putString stores s NUL terminated in the scratch area.
func (u *User) putString(s string) (mm.VirtAddr, bool) {
	if len(s) > maxPathLen {
		return 0, false
	}
	va := u.scratch()
	if err := u.t.Process().CopyOut(va, append([]byte(s), 0)); err != nil {
		return 0, false
	}
	return va, true
}
