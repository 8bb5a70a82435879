package kernel

import (
	"time"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/mm"
	"tinykern/pkg/process"
)

// maxPathLen bounds the program names read from user memory.
const maxPathLen = 255

func (k *Kernel) sysExit(t *process.Task, code int) {
	taskLog(t).WithField("code", code).Debug("exit")
	k.exit(t, code)
}

func (k *Kernel) sysYield() int64 {
	k.Yield()
	return 0
}

func (k *Kernel) sysSleep(t *process.Task, ms uint64) int64 {
	expire := k.clock.Now() + time.Duration(ms)*time.Millisecond
	k.mu.Lock()
	k.timers.add(expire, t)
	k.mu.Unlock()
	k.Block()
	return 0
}

func (k *Kernel) sysGetTime(t *process.Task, ptr uint64) int64 {
	rec := encodeRecord(NewTimeVal(k.clock.Now()))
	return errno(taskLog(t), "get_time", t.Process().CopyOut(mm.VirtAddr(ptr), rec))
}

func (k *Kernel) sysTaskInfo(t *process.Task, ptr uint64) int64 {
	info := TaskInfo{
		Status:       t.Status(),
		SyscallTimes: t.SyscallTimes(),
	}
	if start, ok := t.StartTime(); ok {
		info.Time = uint64((k.clock.Now() - start) / time.Millisecond)
	}
	return errno(taskLog(t), "task_info", t.Process().CopyOut(mm.VirtAddr(ptr), encodeRecord(&info)))
}

func (k *Kernel) sysSetPriority(t *process.Task, prio uint64) int64 {
	if int64(prio) < int64(k.cfg.MinPriority) {
		taskLog(t).WithField("priority", int64(prio)).Warn("set_priority rejected")
		return -1
	}
	if err := t.SetPriority(prio, k.cfg.MinPriority); err != nil {
		return errno(taskLog(t), "set_priority", err)
	}
	return int64(prio)
}

// sysFork takes the entry of the child in place of the saved user context:
// the child starts there with its own copy of the parent's memory.
func (k *Kernel) sysFork(t *process.Task, entry uint64) int64 {
	fn, ok := k.takeEntry(entry)
	if !ok {
		taskLog(t).WithField("entry", entry).Warn("fork with unknown entry")
		return -1
	}
	child, err := k.pm.Fork(t)
	if err != nil {
		return errno(taskLog(t), "fork", err)
	}
	k.start(child, func(u *User) { fn(u, 0) })
	return int64(child.PID())
}

func (k *Kernel) sysExec(t *process.Task, pathPtr uint64) int64 {
	log := taskLog(t)
	name, err := readString(t.Process(), mm.VirtAddr(pathPtr))
	if err != nil {
		return errno(log, "exec", err)
	}
	prog, err := k.program(name)
	if err != nil {
		return errno(log, "exec", err)
	}
	if err := k.pm.Exec(t, prog.Image); err != nil {
		return errno(log, "exec", err)
	}
	return 0
}

func (k *Kernel) sysSpawn(t *process.Task, pathPtr uint64) int64 {
	log := taskLog(t)
	name, err := readString(t.Process(), mm.VirtAddr(pathPtr))
	if err != nil {
		return errno(log, "spawn", err)
	}
	prog, err := k.program(name)
	if err != nil {
		return errno(log, "spawn", err)
	}
	child, err := k.pm.Spawn(t, prog.Image)
	if err != nil {
		return errno(log, "spawn", err)
	}
	log.WithFields(logrus.Fields{"child": child.PID(), "program": name}).Debug("spawned")
	k.start(child, prog.Main)
	return int64(child.PID())
}

func (k *Kernel) sysThreadCreate(t *process.Task, entry, arg uint64) int64 {
	fn, ok := k.takeEntry(entry)
	if !ok {
		taskLog(t).WithField("entry", entry).Warn("thread_create with unknown entry")
		return -1
	}
	th, err := k.pm.CreateThread(t.Process())
	if err != nil {
		return errno(taskLog(t), "thread_create", err)
	}
	k.start(th, func(u *User) { fn(u, arg) })
	return int64(th.TID())
}

// entryBase is the first address handed out for Go entry points.
const entryBase = 0x8000_0000

// registerEntry gives fn an address a syscall can carry.
func (k *Kernel) registerEntry(fn ThreadEntry) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	addr := k.nextAddr
	k.nextAddr += 8
	k.entries[addr] = fn
	return addr
}

// takeEntry returns and forgets the entry at addr.
func (k *Kernel) takeEntry(addr uint64) (ThreadEntry, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fn, ok := k.entries[addr]
	delete(k.entries, addr)
	return fn, ok
}

// readString reads a NUL terminated string from user memory.
func readString(p *process.Process, va mm.VirtAddr) (string, error) {
	var out []byte
	b := make([]byte, 1)
	for len(out) < maxPathLen {
		if err := p.CopyIn(b, va); err != nil {
			return "", err
		}
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
		va++
	}
	return string(out), nil
}
