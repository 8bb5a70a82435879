/*
Package deadlock implements the safety check run before a task is allowed to
block on a mutex or semaphore.

A State holds, for one resource kind, the units still available per resource
and the allocation and outstanding need of every live task. The check
repeatedly looks for an unfinished task whose whole need row fits in the
working copy of available units, pretends it runs to completion and returns
its allocation, and stops when no such task is left. The state is safe when
every task finished.

When a state is unsafe, WaitGraph and Cycles describe which tasks wait on
each other, which is what the kernel logs alongside the rejection.
*/
package deadlock
