package mm

// MapPermission is the permission set of a mapped region. The R/W/X/U bits
// line up with the corresponding page table entry flags.
type MapPermission uint8

const (
	PermR MapPermission = 1 << 1
	PermW MapPermission = 1 << 2
	PermX MapPermission = 1 << 3
	PermU MapPermission = 1 << 4
)

// PermissionFromPort converts the low three bits of an mmap port argument
// (bit 0 readable, bit 1 writable, bit 2 executable) into a user mapping.
func PermissionFromPort(port uint64) MapPermission {
	return MapPermission(port&0x7)<<1 | PermU
}

// PTEFlags are the flag bits of a page table entry.
type PTEFlags uint8

const (
	PTEValid PTEFlags = 1 << 0
	PTERead  PTEFlags = 1 << 1
	PTEWrite PTEFlags = 1 << 2
	PTEExec  PTEFlags = 1 << 3
	PTEUser  PTEFlags = 1 << 4
)

// Flags returns the entry flags for a page mapped with p.
func (p MapPermission) Flags() PTEFlags {
	return PTEFlags(p) | PTEValid
}

// PTE is one page table entry.
type PTE struct {
	PPN   PhysPageNum
	Flags PTEFlags
}

func (e PTE) IsValid() bool    { return e.Flags&PTEValid != 0 }
func (e PTE) Readable() bool   { return e.Flags&PTERead != 0 }
func (e PTE) Writable() bool   { return e.Flags&PTEWrite != 0 }
func (e PTE) Executable() bool { return e.Flags&PTEExec != 0 }
func (e PTE) User() bool       { return e.Flags&PTEUser != 0 }

// PageTable maps virtual pages of one address space to frames.
type PageTable struct {
	entries map[VirtPageNum]PTE
}

func newPageTable() *PageTable {
	return &PageTable{entries: make(map[VirtPageNum]PTE)}
}

// Map installs a translation. Mapping a page twice is a kernel bug.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) {
	if e, ok := pt.entries[vpn]; ok && e.IsValid() {
		panic("mm: vpn mapped twice")
	}
	pt.entries[vpn] = PTE{PPN: ppn, Flags: flags | PTEValid}
}

// Unmap removes a translation. Unmapping an unmapped page is a kernel bug.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	if e, ok := pt.entries[vpn]; !ok || !e.IsValid() {
		panic("mm: unmap of invalid vpn")
	}
	delete(pt.entries, vpn)
}

// Translate returns the entry for vpn, if any.
func (pt *PageTable) Translate(vpn VirtPageNum) (PTE, bool) {
	e, ok := pt.entries[vpn]
	return e, ok
}

// Len returns the number of installed entries.
func (pt *PageTable) Len() int {
	return len(pt.entries)
}
