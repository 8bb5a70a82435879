package process

import (
	"errors"
	"fmt"

	"tinykern/pkg/mm"
)

// ErrBelowHeapFloor is returned when a break change would go below the
// heap bottom.
var ErrBelowHeapFloor = errors.New("program break below heap bottom")

// ErrExited is returned for memory operations on a process that has exited.
var ErrExited = errors.New("process has exited")

// ErrHeapRegion is returned when munmap reaches into the heap. The heap only
// moves through the program break.
var ErrHeapRegion = errors.New("range overlaps the heap")

// Mmap maps [start, start+length) with the permission bits of port.
func (p *Process) Mmap(start, length, port uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.space == nil {
		return ErrExited
	}
	return mm.Mmap(p.space, start, length, port)
}

// Munmap removes the mapping of [start, start+length).
func (p *Process) Munmap(start, length uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.space == nil {
		return ErrExited
	}
	heap := mm.NewVPNRange(p.heapBottom, p.programBrk)
	if heap.Overlaps(mm.NewVPNRange(mm.VirtAddr(start), mm.VirtAddr(start+length))) {
		return fmt.Errorf("munmap %#x+%#x: %w %s", start, length, ErrHeapRegion, heap)
	}
	return mm.Munmap(p.space, start, length)
}

// ChangeProgramBrk moves the program break by size bytes and returns the
// previous break. On failure the break is left unchanged.
func (p *Process) ChangeProgramBrk(size int64) (mm.VirtAddr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.programBrk
	if p.space == nil {
		return old, ErrExited
	}
	next := int64(old) + size
	if next < int64(p.heapBottom) {
		return old, fmt.Errorf("%w: %#x < %s", ErrBelowHeapFloor, next, p.heapBottom)
	}
	brk := mm.VirtAddr(next)
	if err := p.limits.checkHeap(uint64(brk - p.heapBottom)); err != nil {
		return old, err
	}

	var err error
	if size < 0 {
		err = p.space.ShrinkTo(p.heapBottom, brk)
	} else {
		err = p.space.AppendTo(p.heapBottom, brk)
	}
	if err != nil {
		return old, fmt.Errorf("move break to %s: %w", brk, err)
	}
	p.programBrk = brk
	return old, nil
}

// CopyOut writes src to user memory of p at va.
func (p *Process) CopyOut(va mm.VirtAddr, src []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.space == nil {
		return ErrExited
	}
	return p.space.CopyOut(va, src)
}

// CopyIn reads len(dst) bytes of user memory of p at va.
func (p *Process) CopyIn(dst []byte, va mm.VirtAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.space == nil {
		return ErrExited
	}
	return p.space.CopyIn(dst, va)
}
