package mm

import "fmt"

const (
	// PageSizeBits is the number of offset bits in a virtual address.
	PageSizeBits = 12
	// PageSize is the size of one page and one physical frame in bytes.
	PageSize = 1 << PageSizeBits
	// UserSpaceTop is the first address above the user half of the address space.
	UserSpaceTop VirtAddr = 1 << 38
)

// VirtAddr is a user virtual address.
type VirtAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysPageNum is a physical frame number.
type PhysPageNum uint64

// PageOffset returns the offset of va inside its page.
func (va VirtAddr) PageOffset() uint64 {
	return uint64(va) & (PageSize - 1)
}

// Aligned reports whether va sits on a page boundary.
func (va VirtAddr) Aligned() bool {
	return va.PageOffset() == 0
}

// Floor returns the page containing va.
func (va VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(uint64(va) >> PageSizeBits)
}

// Ceil returns the first page starting at or above va.
func (va VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(va) + PageSize - 1) >> PageSizeBits)
}

func (va VirtAddr) String() string {
	return fmt.Sprintf("%#x", uint64(va))
}

// Addr returns the first address of the page.
func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr(uint64(vpn) << PageSizeBits)
}

// VPNRange is the half-open page range [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange returns the range of pages covering [start, end).
func NewVPNRange(start, end VirtAddr) VPNRange {
	return VPNRange{Start: start.Floor(), End: end.Ceil()}
}

// Len returns the number of pages in the range.
func (r VPNRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Empty reports whether the range holds no page.
func (r VPNRange) Empty() bool {
	return r.Len() == 0
}

// Contains reports whether vpn lies in the range.
func (r VPNRange) Contains(vpn VirtPageNum) bool {
	return vpn >= r.Start && vpn < r.End
}

// Overlaps reports whether r and o share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.Start < o.End && o.Start < r.End
}

func (r VPNRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Addr(), r.End.Addr())
}
