package mm

import (
	"errors"
	"sync"

	"github.com/Workiva/go-datastructures/bitarray"
)

// ErrOutOfFrames is returned when the physical frame budget is exhausted.
var ErrOutOfFrames = errors.New("mm: out of physical frames")

// PhysMem is the pool of physical frames shared by every address space.
// Occupancy is tracked in a bitmap; frame contents are allocated lazily.
type PhysMem struct {
	mu       sync.Mutex
	used     bitarray.BitArray
	frames   map[PhysPageNum][]byte
	capacity uint64
	// hint is where the next search for a free frame starts.
	hint  uint64
	inUse int
}

// NewPhysMem creates a pool of capacity frames.
func NewPhysMem(capacity int) *PhysMem {
	if capacity <= 0 {
		panic("mm: physical memory needs at least one frame")
	}
	return &PhysMem{
		used:     bitarray.NewBitArray(uint64(capacity)),
		frames:   make(map[PhysPageNum][]byte),
		capacity: uint64(capacity),
	}
}

// Alloc hands out a zeroed frame.
func (m *PhysMem) Alloc() (PhysPageNum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := uint64(0); i < m.capacity; i++ {
		k := (m.hint + i) % m.capacity
		set, err := m.used.GetBit(k)
		if err != nil {
			panic(err)
		}
		if set {
			continue
		}
		if err := m.used.SetBit(k); err != nil {
			panic(err)
		}
		m.hint = (k + 1) % m.capacity
		m.inUse++
		ppn := PhysPageNum(k)
		m.frames[ppn] = make([]byte, PageSize)
		return ppn, nil
	}
	return 0, ErrOutOfFrames
}

// Dealloc returns a frame to the pool. Freeing a free frame is a kernel bug.
func (m *PhysMem) Dealloc(ppn PhysPageNum) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.used.GetBit(uint64(ppn))
	if err != nil || !set {
		panic("mm: frame freed twice")
	}
	if err := m.used.ClearBit(uint64(ppn)); err != nil {
		panic(err)
	}
	delete(m.frames, ppn)
	m.inUse--
}

// Frame returns the backing bytes of an allocated frame.
func (m *PhysMem) Frame(ppn PhysPageNum) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.frames[ppn]
	if !ok {
		panic("mm: access to unallocated frame")
	}
	return f
}

// InUse returns the number of allocated frames.
func (m *PhysMem) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}

// Free returns the number of frames still available.
func (m *PhysMem) Free() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.capacity) - m.inUse
}
