package mm

// mapArea is a contiguous run of framed pages sharing one permission.
type mapArea struct {
	vpns   VPNRange
	perm   MapPermission
	frames map[VirtPageNum]PhysPageNum
}

func newMapArea(vpns VPNRange, perm MapPermission) *mapArea {
	return &mapArea{
		vpns:   vpns,
		perm:   perm,
		frames: make(map[VirtPageNum]PhysPageNum),
	}
}

// mapRange backs every page of r with a fresh frame. Either every page is
// mapped or, on failure, none of them is.
func (a *mapArea) mapRange(r VPNRange, pt *PageTable, phys *PhysMem) error {
	done := make([]VirtPageNum, 0, r.Len())
	for vpn := r.Start; vpn < r.End; vpn++ {
		ppn, err := phys.Alloc()
		if err != nil {
			for _, v := range done {
				a.unmapOne(v, pt, phys)
			}
			return err
		}
		a.frames[vpn] = ppn
		pt.Map(vpn, ppn, a.perm.Flags())
		done = append(done, vpn)
	}
	return nil
}

func (a *mapArea) unmapOne(vpn VirtPageNum, pt *PageTable, phys *PhysMem) {
	ppn, ok := a.frames[vpn]
	if !ok {
		panic("mm: area page has no frame")
	}
	pt.Unmap(vpn)
	phys.Dealloc(ppn)
	delete(a.frames, vpn)
}

func (a *mapArea) unmapRange(r VPNRange, pt *PageTable, phys *PhysMem) {
	for vpn := r.Start; vpn < r.End; vpn++ {
		a.unmapOne(vpn, pt, phys)
	}
}

// split detaches the pages of a outside r into new areas. The caller has
// already unmapped the pages inside r.
func (a *mapArea) split(r VPNRange) []*mapArea {
	var out []*mapArea
	if a.vpns.Start < r.Start {
		left := newMapArea(VPNRange{Start: a.vpns.Start, End: r.Start}, a.perm)
		out = append(out, left)
	}
	if r.End < a.vpns.End {
		right := newMapArea(VPNRange{Start: r.End, End: a.vpns.End}, a.perm)
		out = append(out, right)
	}
	for vpn, ppn := range a.frames {
		for _, part := range out {
			if part.vpns.Contains(vpn) {
				part.frames[vpn] = ppn
			}
		}
	}
	return out
}
