package mm

import "errors"

// Mapper errors.
var (
	ErrInvalidAlignment  = errors.New("mm: start address not page aligned")
	ErrInvalidPermission = errors.New("mm: invalid permission bits")
)

// Space is the part of an address space mmap and munmap operate on.
type Space interface {
	Translate(vpn VirtPageNum) (PTE, bool)
	InsertFramedArea(start, end VirtAddr, perm MapPermission) error
	Unmap(r VPNRange)
}

func userRange(start, length uint64) (VPNRange, error) {
	end := start + length
	if end < start || VirtAddr(end) > UserSpaceTop {
		return VPNRange{}, ErrBadAddress
	}
	return NewVPNRange(VirtAddr(start), VirtAddr(end)), nil
}

// Mmap maps [start, start+length) with the permissions in the low three
// bits of port. The whole range is validated before anything is mapped.
func Mmap(s Space, start, length, port uint64) error {
	if !VirtAddr(start).Aligned() {
		return ErrInvalidAlignment
	}
	if port&^0x7 != 0 || port&0x7 == 0 {
		return ErrInvalidPermission
	}
	r, err := userRange(start, length)
	if err != nil {
		return err
	}
	if r.Empty() {
		return nil
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		if e, ok := s.Translate(vpn); ok && e.IsValid() {
			return ErrRegionConflict
		}
	}
	return s.InsertFramedArea(r.Start.Addr(), r.End.Addr(), PermissionFromPort(port))
}

// Munmap unmaps [start, start+length). Every page must currently be mapped.
func Munmap(s Space, start, length uint64) error {
	if !VirtAddr(start).Aligned() {
		return ErrInvalidAlignment
	}
	r, err := userRange(start, length)
	if err != nil {
		return err
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		if e, ok := s.Translate(vpn); !ok || !e.IsValid() {
			return ErrRegionConflict
		}
	}
	s.Unmap(r)
	return nil
}
