package mm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Address space errors.
var (
	ErrRegionConflict = errors.New("mm: region conflicts with existing mapping")
	ErrNoRegion       = errors.New("mm: no region starts at address")
	ErrBadAddress     = errors.New("mm: bad user address")
)

// Region describes one mapped area for inspection.
type Region struct {
	Start VirtAddr
	End   VirtAddr
	Perm  MapPermission
}

// AddressSpace is the user memory of one process: its page table plus the
// list of framed areas that own the frames behind it.
type AddressSpace struct {
	mu    sync.Mutex
	phys  *PhysMem
	pt    *PageTable
	areas []*mapArea
}

// NewAddressSpace returns an empty address space drawing frames from phys.
func NewAddressSpace(phys *PhysMem) *AddressSpace {
	return &AddressSpace{
		phys: phys,
		pt:   newPageTable(),
	}
}

// Translate returns the page table entry for vpn, if one exists.
func (as *AddressSpace) Translate(vpn VirtPageNum) (PTE, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.Translate(vpn)
}

func (as *AddressSpace) mappedLocked(r VPNRange) bool {
	for vpn := r.Start; vpn < r.End; vpn++ {
		if e, ok := as.pt.Translate(vpn); ok && e.IsValid() {
			return true
		}
	}
	return false
}

// InsertFramedArea maps [start, end) with fresh frames.
func (as *AddressSpace) InsertFramedArea(start, end VirtAddr, perm MapPermission) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := NewVPNRange(start, end)
	if as.mappedLocked(r) {
		return ErrRegionConflict
	}
	a := newMapArea(r, perm)
	if err := a.mapRange(r, as.pt, as.phys); err != nil {
		return err
	}
	as.areas = append(as.areas, a)
	return nil
}

// Unmap removes every mapped page of r, splitting areas that straddle it.
func (as *AddressSpace) Unmap(r VPNRange) {
	as.mu.Lock()
	defer as.mu.Unlock()

	kept := as.areas[:0:0]
	for _, a := range as.areas {
		if !a.vpns.Overlaps(r) {
			kept = append(kept, a)
			continue
		}
		cut := VPNRange{Start: max(a.vpns.Start, r.Start), End: min(a.vpns.End, r.End)}
		a.unmapRange(cut, as.pt, as.phys)
		kept = append(kept, a.split(cut)...)
	}
	as.areas = kept
}

func (as *AddressSpace) areaStartingAt(vpn VirtPageNum) *mapArea {
	for _, a := range as.areas {
		if a.vpns.Start == vpn {
			return a
		}
	}
	return nil
}

// AppendTo grows the area starting at start so that it covers newEnd.
func (as *AddressSpace) AppendTo(start, newEnd VirtAddr) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	a := as.areaStartingAt(start.Floor())
	if a == nil {
		return ErrNoRegion
	}
	grow := VPNRange{Start: a.vpns.End, End: newEnd.Ceil()}
	if grow.Empty() {
		return nil
	}
	if as.mappedLocked(grow) {
		return ErrRegionConflict
	}
	if err := a.mapRange(grow, as.pt, as.phys); err != nil {
		return err
	}
	a.vpns.End = grow.End
	return nil
}

// ShrinkTo shrinks the area starting at start so that it ends at newEnd.
func (as *AddressSpace) ShrinkTo(start, newEnd VirtAddr) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	a := as.areaStartingAt(start.Floor())
	if a == nil {
		return ErrNoRegion
	}
	end := newEnd.Ceil()
	if end < a.vpns.Start {
		return ErrBadAddress
	}
	if end >= a.vpns.End {
		return nil
	}
	a.unmapRange(VPNRange{Start: end, End: a.vpns.End}, as.pt, as.phys)
	a.vpns.End = end
	return nil
}

// Clone duplicates every area and its contents into a new address space.
func (as *AddressSpace) Clone() (*AddressSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	dup := NewAddressSpace(as.phys)
	for _, a := range as.areas {
		na := newMapArea(a.vpns, a.perm)
		if err := na.mapRange(a.vpns, dup.pt, dup.phys); err != nil {
			dup.recycleLocked()
			return nil, fmt.Errorf("clone %s: %w", a.vpns, err)
		}
		for vpn, ppn := range a.frames {
			copy(dup.phys.Frame(na.frames[vpn]), as.phys.Frame(ppn))
		}
		dup.areas = append(dup.areas, na)
	}
	return dup, nil
}

// Recycle releases every frame of the address space.
func (as *AddressSpace) Recycle() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.recycleLocked()
}

func (as *AddressSpace) recycleLocked() {
	for _, a := range as.areas {
		a.unmapRange(a.vpns, as.pt, as.phys)
	}
	as.areas = nil
}

// Regions returns the mapped areas ordered by start address.
func (as *AddressSpace) Regions() []Region {
	as.mu.Lock()
	defer as.mu.Unlock()

	out := make([]Region, 0, len(as.areas))
	for _, a := range as.areas {
		out = append(out, Region{Start: a.vpns.Start.Addr(), End: a.vpns.End.Addr(), Perm: a.perm})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// MappedPages returns the number of valid translations.
func (as *AddressSpace) MappedPages() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pt.Len()
}
