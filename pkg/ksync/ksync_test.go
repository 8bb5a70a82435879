package ksync

import (
	"reflect"
	"testing"
)

type task string

func (t task) String() string { return string(t) }

// fakeSwitcher records scheduling requests instead of switching. Block
// returns immediately, as if the parked task had already been woken.
type fakeSwitcher struct {
	current Waiter
	yields  int
	blocked []string
	woken   []string
	onYield func()
}

func (f *fakeSwitcher) Current() Waiter { return f.current }

func (f *fakeSwitcher) Yield() {
	f.yields++
	if f.onYield != nil {
		f.onYield()
	}
}

func (f *fakeSwitcher) Block() {
	f.blocked = append(f.blocked, f.current.String())
}

func (f *fakeSwitcher) Wakeup(w Waiter) {
	f.woken = append(f.woken, w.String())
}

func TestBlockingMutexHandsOff(t *testing.T) {
	sw := &fakeSwitcher{current: task("a")}
	m := NewMutex(MutexBlocking)

	m.Lock(sw)
	if !m.Locked() {
		t.Fatal("Locked() = false after Lock, want true")
	}

	sw.current = task("b")
	m.Lock(sw)
	sw.current = task("c")
	m.Lock(sw)
	if got, want := sw.blocked, []string{"b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("blocked = %v, want %v", got, want)
	}
	if m.Waiting() != 2 {
		t.Errorf("Waiting() = %d, want 2", m.Waiting())
	}

	m.Unlock(sw)
	if !m.Locked() {
		t.Error("Locked() = false after hand-off, want true")
	}
	m.Unlock(sw)
	m.Unlock(sw)
	if m.Locked() {
		t.Error("Locked() = true after last unlock, want false")
	}
	if got, want := sw.woken, []string{"b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("woken = %v, want %v", got, want)
	}
}

func TestSpinMutexYields(t *testing.T) {
	sw := &fakeSwitcher{current: task("a")}
	m := NewMutex(MutexSpin)
	m.Lock(sw)

	sw.current = task("b")
	sw.onYield = func() {
		if sw.yields == 3 {
			m.Unlock(sw)
		}
	}
	m.Lock(sw)

	if sw.yields != 3 {
		t.Errorf("yields = %d, want 3", sw.yields)
	}
	if len(sw.blocked) != 0 {
		t.Errorf("blocked = %v, want none", sw.blocked)
	}
	if !m.Locked() {
		t.Error("Locked() = false, want true")
	}
}

func TestUnlockUnlockedPanics(t *testing.T) {
	for _, kind := range []MutexKind{MutexSpin, MutexBlocking} {
		t.Run(kind.String(), func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Unlock() did not panic")
				}
			}()
			NewMutex(kind).Unlock(&fakeSwitcher{})
		})
	}
}

func TestSemaphore(t *testing.T) {
	sw := &fakeSwitcher{current: task("a")}
	s := NewSemaphore(1)

	s.Down(sw)
	if s.Count() != 0 || len(sw.blocked) != 0 {
		t.Fatalf("after first Down: count %d blocked %v", s.Count(), sw.blocked)
	}

	sw.current = task("b")
	s.Down(sw)
	if s.Count() != -1 {
		t.Errorf("Count() = %d, want -1", s.Count())
	}
	if got, want := sw.blocked, []string{"b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("blocked = %v, want %v", got, want)
	}

	s.Up(sw)
	s.Up(sw)
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
	if got, want := sw.woken, []string{"b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("woken = %v, want %v", got, want)
	}
}

func TestSemaphoreZeroCount(t *testing.T) {
	sw := &fakeSwitcher{current: task("a")}
	s := NewSemaphore(0)
	s.Down(sw)
	if len(sw.blocked) != 1 {
		t.Errorf("blocked = %v, want [a]", sw.blocked)
	}
}

func TestCondvarWait(t *testing.T) {
	sw := &fakeSwitcher{current: task("a")}
	m := NewMutex(MutexBlocking)
	c := NewCondvar()

	c.Signal(sw)
	if len(sw.woken) != 0 {
		t.Errorf("Signal() with no waiters woke %v", sw.woken)
	}

	m.Lock(sw)
	c.Wait(sw, m)
	if c.Waiting() != 1 {
		t.Errorf("Waiting() = %d, want 1", c.Waiting())
	}
	if !m.Locked() {
		t.Error("mutex not reacquired after Wait")
	}

	sw.current = task("b")
	c.Signal(sw)
	if got, want := sw.woken, []string{"a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("woken = %v, want %v", got, want)
	}
	if c.Waiting() != 0 {
		t.Errorf("Waiting() = %d, want 0", c.Waiting())
	}
}
