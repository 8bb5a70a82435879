/*
Package ksync provides the kernel synchronization primitives handed out by
the mutex, semaphore and condvar syscalls.

The primitives never switch tasks themselves. They park and wake tasks
through a Switcher, which the kernel implements on top of its scheduler:

  - Yield puts the current task back on the ready queue and runs another.
  - Block parks the current task until someone passes it to Wakeup.
  - Wakeup makes a parked task ready again.

The kernel runs on one logical core and switches cooperatively, so a
primitive only has to guard its own fields; its internal lock is always
released before the caller is parked.
*/
package ksync
