package kernel

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tinykern/pkg/mm"
	"tinykern/pkg/process"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid kernel config")

// ClockKind selects the time source of the kernel.
type ClockKind string

const (
	// ClockVirtual advances a fixed tick per dispatch and jumps to the next
	// timer when idle. Runs are reproducible.
	ClockVirtual ClockKind = "virtual"
	// ClockWall follows the host monotonic clock.
	ClockWall ClockKind = "wall"
)

// Config holds the tunables of a kernel instance.
type Config struct {
	// DefaultPriority is the priority of every new task.
	DefaultPriority uint64
	// MinPriority is the smallest priority set_priority accepts.
	MinPriority uint64
	// UserStackSize is the size of the user stack of a program image.
	UserStackSize uint64
	// MaxFrames is the number of physical frames shared by all processes.
	MaxFrames int
	// Limits applies to every process.
	Limits process.Limits
	// LogLevel is a logrus level name.
	LogLevel string
	// Clock selects the time source.
	Clock ClockKind
	// Tick is how far the virtual clock moves per dispatch.
	Tick time.Duration
	// DeadlockDetect is the initial detection flag of new processes.
	DeadlockDetect bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		DefaultPriority: process.DefaultPriority,
		MinPriority:     process.MinPriority,
		UserStackSize:   2 * mm.PageSize,
		MaxFrames:       4096,
		Limits:          process.DefaultLimits(),
		LogLevel:        "info",
		Clock:           ClockVirtual,
		Tick:            time.Millisecond,
	}
}

// Validate checks c for values the kernel cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MinPriority < 2:
		return fmt.Errorf("%w: min priority %d < 2", ErrInvalidConfig, c.MinPriority)
	case c.DefaultPriority < c.MinPriority:
		return fmt.Errorf("%w: default priority %d < min priority %d", ErrInvalidConfig, c.DefaultPriority, c.MinPriority)
	case c.UserStackSize == 0 || c.UserStackSize%mm.PageSize != 0:
		return fmt.Errorf("%w: user stack size %d", ErrInvalidConfig, c.UserStackSize)
	case c.UserStackSize < scratchSize:
		return fmt.Errorf("%w: user stack smaller than %d bytes", ErrInvalidConfig, scratchSize)
	case c.MaxFrames <= 0:
		return fmt.Errorf("%w: max frames %d", ErrInvalidConfig, c.MaxFrames)
	case c.Clock != ClockVirtual && c.Clock != ClockWall:
		return fmt.Errorf("%w: clock %q", ErrInvalidConfig, c.Clock)
	case c.Clock == ClockVirtual && c.Tick <= 0:
		return fmt.Errorf("%w: tick %v", ErrInvalidConfig, c.Tick)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.Limits.Validate()
}
