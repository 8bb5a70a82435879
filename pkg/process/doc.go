/*
Package process provides the task and process control blocks of the kernel.

This package implements the bookkeeping side of a single-core teaching
kernel. It includes:

  - Task lifecycle (creation, exit, state transitions)
  - Stride scheduling
  - Process lifecycle (init, fork, spawn, exec, thread creation, reaping)
  - Per-process resource tables for mutexes, semaphores and condvars
  - Deadlock avoidance through a safety check over the resource tables
  - Program break and mmap/munmap on the process address space
  - Per-process resource limits

Context switching is not done here: the kernel drives tasks through the
Scheduler and parks them with Task.Park.

# Task States

Tasks can be in one of the following states:

  - Uninit: Task was created but never queued
  - Ready: Task is in the run queue
  - Running: Task owns the processor
  - Blocked: Task is parked on a primitive or a timer
  - Zombie: Task has exited

# Stride Scheduling

Every task carries a wrapping stride. Each time it is dispatched the stride
grows by BigStride/priority, and the scheduler always runs the task with the
smallest stride. A task with twice the priority therefore runs twice as
often.

# Usage

Creating the init process and forking it:

	pm := process.NewProcessManager(process.Config{
		Phys:   mm.NewPhysMem(1024),
		Limits: process.DefaultLimits(),
	})

	initTask, err := pm.CreateInit(img)
	if err != nil {
		// Handle error
	}

	child, err := pm.Fork(initTask)
	if err != nil {
		// Handle error
	}

# Deadlock Detection

Mutexes and semaphores keep separate allocation, need and available
vectors. Before a task may wait on one of them it calls Request; with
detection enabled Request fails with a *DeadlockError wrapping ErrDeadlock
when the state after the request would be unsafe.

	if err := p.Request(process.KindMutex, tid, id); err != nil {
		return err
	}
	m.Lock(sw)
	p.Acquired(process.KindMutex, tid, id)
*/
package process
