package kernel

import (
	"errors"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/process"
)

// Syscall ids.
const (
	SysSleep                = 101
	SysExit                 = 93
	SysYield                = 124
	SysSetPriority          = 140
	SysGetTime              = 169
	SysGetpid               = 172
	SysGettid               = 178
	SysSbrk                 = 214
	SysMunmap               = 215
	SysFork                 = 220
	SysExec                 = 221
	SysMmap                 = 222
	SysSpawn                = 400
	SysTaskInfo             = 410
	SysThreadCreate         = 460
	SysMutexCreate          = 463
	SysMutexLock            = 464
	SysMutexUnlock          = 466
	SysSemaphoreCreate      = 467
	SysSemaphoreUp          = 468
	SysEnableDeadlockDetect = 469
	SysSemaphoreDown        = 470
	SysCondvarCreate        = 471
	SysCondvarSignal        = 472
	SysCondvarWait          = 473
)

// EDEADLK is returned by mutex_lock and semaphore_down when the request is
// rejected as unsafe.
const EDEADLK = -0xDEAD

var syscallNames = map[uint64]string{
	SysSleep:                "sleep",
	SysExit:                 "exit",
	SysYield:                "yield",
	SysSetPriority:          "set_priority",
	SysGetTime:              "get_time",
	SysGetpid:               "getpid",
	SysGettid:               "gettid",
	SysSbrk:                 "sbrk",
	SysMunmap:               "munmap",
	SysFork:                 "fork",
	SysExec:                 "exec",
	SysMmap:                 "mmap",
	SysSpawn:                "spawn",
	SysTaskInfo:             "task_info",
	SysThreadCreate:         "thread_create",
	SysMutexCreate:          "mutex_create",
	SysMutexLock:            "mutex_lock",
	SysMutexUnlock:          "mutex_unlock",
	SysSemaphoreCreate:      "semaphore_create",
	SysSemaphoreUp:          "semaphore_up",
	SysEnableDeadlockDetect: "enable_deadlock_detect",
	SysSemaphoreDown:        "semaphore_down",
	SysCondvarCreate:        "condvar_create",
	SysCondvarSignal:        "condvar_signal",
	SysCondvarWait:          "condvar_wait",
}

// SyscallName returns the name of syscall id, or "" if it is unknown.
func SyscallName(id uint64) string {
	return syscallNames[id]
}

// Syscall runs syscall id on behalf of t, which must be the running task.
// A negative result is a failure.
func (k *Kernel) Syscall(t *process.Task, id uint64, args [3]uint64) int64 {
	t.CountSyscall(id)
	log := taskLog(t)
	log.WithFields(logrus.Fields{"syscall": SyscallName(id), "args": args}).Trace("syscall")

	switch id {
	case SysExit:
		k.sysExit(t, int(int32(args[0])))
	case SysYield:
		return k.sysYield()
	case SysSleep:
		return k.sysSleep(t, args[0])
	case SysGetTime:
		return k.sysGetTime(t, args[0])
	case SysTaskInfo:
		return k.sysTaskInfo(t, args[0])
	case SysGetpid:
		return int64(t.PID())
	case SysGettid:
		return int64(t.TID())
	case SysSetPriority:
		return k.sysSetPriority(t, args[0])
	case SysFork:
		return k.sysFork(t, args[0])
	case SysExec:
		return k.sysExec(t, args[0])
	case SysSpawn:
		return k.sysSpawn(t, args[0])
	case SysThreadCreate:
		return k.sysThreadCreate(t, args[0], args[1])
	case SysSbrk:
		return k.sysSbrk(t, int64(args[0]))
	case SysMmap:
		return k.sysMmap(t, args[0], args[1], args[2])
	case SysMunmap:
		return k.sysMunmap(t, args[0], args[1])
	case SysMutexCreate:
		return k.sysMutexCreate(t, args[0] != 0)
	case SysMutexLock:
		return k.sysMutexLock(t, int(args[0]))
	case SysMutexUnlock:
		return k.sysMutexUnlock(t, int(args[0]))
	case SysSemaphoreCreate:
		return k.sysSemaphoreCreate(t, int(args[0]))
	case SysSemaphoreUp:
		return k.sysSemaphoreUp(t, int(args[0]))
	case SysSemaphoreDown:
		return k.sysSemaphoreDown(t, int(args[0]))
	case SysCondvarCreate:
		return k.sysCondvarCreate(t)
	case SysCondvarSignal:
		return k.sysCondvarSignal(t, int(args[0]))
	case SysCondvarWait:
		return k.sysCondvarWait(t, int(args[0]), int(args[1]))
	case SysEnableDeadlockDetect:
		return k.sysEnableDeadlockDetect(t, args[0])
	}
	log.WithField("id", id).Warn("unsupported syscall")
	return -1
}

func taskLog(t *process.Task) *logrus.Entry {
	return t.Process().Logger().WithField("tid", t.TID())
}

// errno turns err into a syscall result.
func errno(log *logrus.Entry, op string, err error) int64 {
	if err == nil {
		return 0
	}
	if errors.Is(err, process.ErrDeadlock) {
		return EDEADLK
	}
	log.WithError(err).Warn(op + " failed")
	return -1
}
