// Command kdemo boots the kernel with a demo init program that walks
// through every syscall.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/kernel"
	"tinykern/pkg/mm"
)

// envOr returns the TINYKERN_<name> environment variable or def.
func envOr(name, def string) string {
	if v, ok := os.LookupEnv("TINYKERN_" + name); ok {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v, err := strconv.Atoi(envOr(name, "")); err == nil {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	if v, err := strconv.ParseBool(envOr(name, "")); err == nil {
		return v
	}
	return def
}

func parseConfig(args []string) (kernel.Config, time.Duration, error) {
	cfg := kernel.DefaultConfig()
	fs := flag.NewFlagSet("kdemo", flag.ContinueOnError)
	level := fs.String("log-level", envOr("LOG_LEVEL", cfg.LogLevel), "logrus level (trace, debug, info, warn, error)")
	clock := fs.String("clock", envOr("CLOCK", string(cfg.Clock)), "time source: virtual or wall")
	frames := fs.Int("frames", envInt("FRAMES", cfg.MaxFrames), "number of physical frames")
	prio := fs.Int("priority", envInt("PRIORITY", int(cfg.DefaultPriority)), "default task priority")
	detect := fs.Bool("deadlock-detect", envBool("DEADLOCK_DETECT", cfg.DeadlockDetect), "enable deadlock detection in new processes")
	timeout := fs.Duration("timeout", 30*time.Second, "abort the run after this long")
	if err := fs.Parse(args); err != nil {
		return cfg, 0, err
	}

	cfg.LogLevel = *level
	cfg.Clock = kernel.ClockKind(*clock)
	cfg.MaxFrames = *frames
	cfg.DefaultPriority = uint64(*prio)
	cfg.DeadlockDetect = *detect
	return cfg, *timeout, cfg.Validate()
}

func main() {
	cfg, timeout, err := parseConfig(os.Args[1:])
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	k, err := kernel.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create kernel: %v", err)
	}
	k.Register("init", kernel.Program{Main: initMain})
	k.Register("hello", kernel.Program{Main: helloMain})
	k.Register("workers", kernel.Program{Main: workersMain})

	fmt.Println("=== Kernel Task Core Demo ===")
	if err := k.Boot("init"); err != nil {
		logrus.Fatalf("Failed to boot: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := k.Run(ctx); err != nil {
		logrus.Fatalf("Kernel stopped: %v", err)
	}

	fmt.Println("\n--- Process Table ---")
	for _, p := range k.Manager().GetProcesses() {
		fmt.Printf("pid=%d parent=%d name=%s zombie=%v exit=%d\n", p.PID, p.Parent(), p.Name(), p.IsZombie(), p.ExitCode())
	}
	fmt.Printf("Frames in use after shutdown: %d\n", k.Phys().InUse())
}

func initMain(u *kernel.User) {
	fmt.Println("\n--- Time and Priority ---")
	if tv, ret := u.GetTime(); ret == 0 {
		fmt.Printf("init pid=%d tid=%d at %ds %dus\n", u.Getpid(), u.Gettid(), tv.Sec, tv.Usec)
	}
	fmt.Printf("set_priority(1) = %d, set_priority(32) = %d\n", u.SetPriority(1), u.SetPriority(32))

	fmt.Println("\n--- Memory ---")
	const area = 0x1000_0000
	fmt.Printf("mmap(unaligned) = %d\n", u.Mmap(area+1, mm.PageSize, 3))
	fmt.Printf("mmap(perm 0) = %d\n", u.Mmap(area, mm.PageSize, 0))
	fmt.Printf("mmap(2 pages rw) = %d\n", u.Mmap(area, 2*mm.PageSize, 3))
	fmt.Printf("mmap(overlap) = %d\n", u.Mmap(area+mm.PageSize, mm.PageSize, 1))
	fmt.Printf("munmap(2 pages) = %d\n", u.Munmap(area, 2*mm.PageSize))
	brk := u.Sbrk(0)
	fmt.Printf("sbrk(+4096) = %#x\n", u.Sbrk(mm.PageSize))
	fmt.Printf("sbrk(-8192) = %d\n", u.Sbrk(-2*mm.PageSize))
	fmt.Printf("break moved by %d bytes\n", u.Sbrk(0)-brk)

	fmt.Println("\n--- Processes ---")
	pid := u.Fork(func(u *kernel.User) {
		fmt.Printf("forked child pid=%d execs hello\n", u.Getpid())
		u.Exec("hello")
	})
	fmt.Printf("fork() = %d\n", pid)
	fmt.Printf("spawn(workers) = %d\n", u.Spawn("workers"))
	fmt.Printf("spawn(missing) = %d\n", u.Spawn("missing"))
	u.Sleep(100)

	fmt.Println("\n--- Deadlock Detection ---")
	fmt.Printf("enable_deadlock_detect(1) = %d\n", u.EnableDeadlockDetect(1))
	m0, m1 := u.MutexCreate(true), u.MutexCreate(true)
	cross := func(first, second int64) kernel.ThreadEntry {
		return func(u *kernel.User, _ uint64) {
			u.MutexLock(first)
			u.Yield()
			if ret := u.MutexLock(second); ret == kernel.EDEADLK {
				fmt.Printf("tid %d: mutex_lock(%d) rejected with -0xDEAD\n", u.Gettid(), second)
			} else {
				fmt.Printf("tid %d: holds mutex %d and %d\n", u.Gettid(), first, second)
				u.MutexUnlock(second)
			}
			u.MutexUnlock(first)
		}
	}
	u.ThreadCreate(cross(m0, m1), 0)
	u.ThreadCreate(cross(m1, m0), 0)
	u.Sleep(100)

	info, ret := u.TaskInfo()
	if ret == 0 {
		fmt.Printf("\ninit task_info: status=%v time=%dms yields=%d sleeps=%d\n",
			info.Status, info.Time, info.SyscallTimes[kernel.SysYield], info.SyscallTimes[kernel.SysSleep])
	}
}

func helloMain(u *kernel.User) {
	fmt.Printf("hello from pid=%d\n", u.Getpid())
	u.Exit(7)
}

// workersMain runs a bounded producer/consumer over semaphores and a
// condvar-protected counter.
func workersMain(u *kernel.User) {
	const slots, items = 2, 5
	empty, full := u.SemaphoreCreate(slots), u.SemaphoreCreate(0)
	m, cv := u.MutexCreate(true), u.CondvarCreate()
	var buf []int
	done := 0

	u.ThreadCreate(func(u *kernel.User, n uint64) {
		for i := 1; i <= int(n); i++ {
			if ret := u.SemaphoreDown(empty); ret != 0 {
				fmt.Printf("workers: producer semaphore_down = %d\n", ret)
				return
			}
			buf = append(buf, i)
			u.SemaphoreUp(full)
		}
	}, items)
	u.ThreadCreate(func(u *kernel.User, n uint64) {
		sum := 0
		for i := 0; i < int(n); i++ {
			if ret := u.SemaphoreDown(full); ret != 0 {
				fmt.Printf("workers: consumer semaphore_down = %d\n", ret)
				break
			}
			sum += buf[0]
			buf = buf[1:]
			u.SemaphoreUp(empty)
		}
		fmt.Printf("workers: consumer summed %d\n", sum)
		u.MutexLock(m)
		done++
		u.CondvarSignal(cv)
		u.MutexUnlock(m)
	}, items)

	u.MutexLock(m)
	for done == 0 {
		u.CondvarWait(cv, m)
	}
	u.MutexUnlock(m)
	fmt.Println("workers: done")
}
