package kernel

import (
	"github.com/sirupsen/logrus"

	"tinykern/pkg/process"
)

func (k *Kernel) sysMmap(t *process.Task, start, length, port uint64) int64 {
	if err := t.Process().Mmap(start, length, port); err != nil {
		taskLog(t).WithFields(logrus.Fields{"start": start, "len": length, "port": port}).WithError(err).Warn("mmap rejected")
		return -1
	}
	return 0
}

func (k *Kernel) sysMunmap(t *process.Task, start, length uint64) int64 {
	if err := t.Process().Munmap(start, length); err != nil {
		taskLog(t).WithFields(logrus.Fields{"start": start, "len": length}).WithError(err).Warn("munmap rejected")
		return -1
	}
	return 0
}

func (k *Kernel) sysSbrk(t *process.Task, size int64) int64 {
	old, err := t.Process().ChangeProgramBrk(size)
	if err != nil {
		return errno(taskLog(t), "sbrk", err)
	}
	return int64(old)
}
