package kernel

import (
	"github.com/sirupsen/logrus"

	"tinykern/pkg/process"
)

func (k *Kernel) sysMutexCreate(t *process.Task, blocking bool) int64 {
	id, err := t.Process().CreateMutex(blocking)
	if err != nil {
		return errno(taskLog(t), "mutex_create", err)
	}
	return int64(id)
}

func (k *Kernel) sysMutexLock(t *process.Task, id int) int64 {
	p := t.Process()
	m, err := p.Mutex(id)
	if err != nil {
		return errno(taskLog(t), "mutex_lock", err)
	}
	if err := p.Request(process.KindMutex, t.TID(), id); err != nil {
		return errno(taskLog(t), "mutex_lock", err)
	}
	m.Lock(k)
	p.Acquired(process.KindMutex, t.TID(), id)
	return 0
}

func (k *Kernel) sysMutexUnlock(t *process.Task, id int) int64 {
	p := t.Process()
	m, err := p.Mutex(id)
	if err != nil {
		return errno(taskLog(t), "mutex_unlock", err)
	}
	if !m.Locked() {
		taskLog(t).WithField("mutex", id).Warn("unlock of unlocked mutex")
		return -1
	}
	if !p.Holds(process.KindMutex, t.TID(), id) {
		taskLog(t).WithField("mutex", id).Warn("unlock of mutex held by another task")
		return -1
	}
	p.Released(process.KindMutex, t.TID(), id)
	m.Unlock(k)
	return 0
}

func (k *Kernel) sysSemaphoreCreate(t *process.Task, count int) int64 {
	id, err := t.Process().CreateSemaphore(count)
	if err != nil {
		return errno(taskLog(t), "semaphore_create", err)
	}
	return int64(id)
}

func (k *Kernel) sysSemaphoreUp(t *process.Task, id int) int64 {
	p := t.Process()
	s, err := p.Semaphore(id)
	if err != nil {
		return errno(taskLog(t), "semaphore_up", err)
	}
	p.Released(process.KindSemaphore, t.TID(), id)
	s.Up(k)
	return 0
}

func (k *Kernel) sysSemaphoreDown(t *process.Task, id int) int64 {
	p := t.Process()
	s, err := p.Semaphore(id)
	if err != nil {
		return errno(taskLog(t), "semaphore_down", err)
	}
	if err := p.Request(process.KindSemaphore, t.TID(), id); err != nil {
		return errno(taskLog(t), "semaphore_down", err)
	}
	s.Down(k)
	p.Acquired(process.KindSemaphore, t.TID(), id)
	return 0
}

func (k *Kernel) sysCondvarCreate(t *process.Task) int64 {
	id, err := t.Process().CreateCondvar()
	if err != nil {
		return errno(taskLog(t), "condvar_create", err)
	}
	return int64(id)
}

func (k *Kernel) sysCondvarSignal(t *process.Task, id int) int64 {
	c, err := t.Process().Condvar(id)
	if err != nil {
		return errno(taskLog(t), "condvar_signal", err)
	}
	c.Signal(k)
	return 0
}

// sysCondvarWait gives the mutex back in the ledger for as long as the task
// sleeps on the condvar. Retaking it after the wakeup is recorded as need
// but never rejected, since the task has to return holding the mutex.
func (k *Kernel) sysCondvarWait(t *process.Task, cid, mid int) int64 {
	p := t.Process()
	c, err := p.Condvar(cid)
	if err != nil {
		return errno(taskLog(t), "condvar_wait", err)
	}
	m, err := p.Mutex(mid)
	if err != nil {
		return errno(taskLog(t), "condvar_wait", err)
	}
	if !m.Locked() || !p.Holds(process.KindMutex, t.TID(), mid) {
		taskLog(t).WithFields(logrus.Fields{"condvar": cid, "mutex": mid}).Warn("condvar wait without the mutex")
		return -1
	}
	p.Released(process.KindMutex, t.TID(), mid)
	c.Sleep(k, m)
	p.Pending(process.KindMutex, t.TID(), mid)
	m.Lock(k)
	p.Acquired(process.KindMutex, t.TID(), mid)
	return 0
}

func (k *Kernel) sysEnableDeadlockDetect(t *process.Task, flag uint64) int64 {
	if flag > 1 {
		return -1
	}
	if err := t.Process().SetDeadlockDetect(flag == 1); err != nil {
		taskLog(t).WithError(err).Error("enable_deadlock_detect")
		return -1
	}
	return 0
}
