package mm

import "fmt"

// Segment is one loadable piece of a program image.
type Segment struct {
	Start VirtAddr
	// Data is copied to Start; the rest of MemSize is zero filled.
	Data    []byte
	MemSize uint64
	Perm    MapPermission
}

// Image is an already parsed program: the loader that produces it is not
// part of this package.
type Image struct {
	Name     string
	Segments []Segment
	Entry    VirtAddr
}

// Layout is where FromImage placed the user stack and heap.
type Layout struct {
	// StackTop is the initial user stack pointer. The heap area starts here.
	StackTop VirtAddr
	Entry    VirtAddr
}

// FromImage builds a new address space holding img, a guard page, a user
// stack of stackSize bytes and an empty heap area right above the stack.
func FromImage(phys *PhysMem, img *Image, stackSize uint64) (*AddressSpace, Layout, error) {
	as := NewAddressSpace(phys)
	var maxEnd VirtPageNum
	for _, seg := range img.Segments {
		size := max(seg.MemSize, uint64(len(seg.Data)))
		end := seg.Start + VirtAddr(size)
		if err := as.InsertFramedArea(seg.Start, end, seg.Perm|PermU); err != nil {
			as.Recycle()
			return nil, Layout{}, fmt.Errorf("load %s segment at %s: %w", img.Name, seg.Start, err)
		}
		if err := as.load(seg.Start, seg.Data); err != nil {
			as.Recycle()
			return nil, Layout{}, fmt.Errorf("load %s segment at %s: %w", img.Name, seg.Start, err)
		}
		if e := end.Ceil(); e > maxEnd {
			maxEnd = e
		}
	}

	stackBottom := maxEnd.Addr() + PageSize
	stackTop := stackBottom + VirtAddr(stackSize)
	if err := as.InsertFramedArea(stackBottom, stackTop, PermR|PermW|PermU); err != nil {
		as.Recycle()
		return nil, Layout{}, fmt.Errorf("map %s user stack: %w", img.Name, err)
	}
	// empty heap area, grown by brk
	if err := as.InsertFramedArea(stackTop, stackTop, PermR|PermW|PermU); err != nil {
		as.Recycle()
		return nil, Layout{}, fmt.Errorf("map %s heap: %w", img.Name, err)
	}
	return as, Layout{StackTop: stackTop, Entry: img.Entry}, nil
}
