package mm

import (
	"bytes"
	"errors"
	"testing"
)

func testImage() *Image {
	return &Image{
		Name: "hello",
		Segments: []Segment{
			{Start: 0x10000, Data: []byte("text"), Perm: PermR | PermX},
			{Start: 0x11000, Data: []byte("data"), MemSize: PageSize + 16, Perm: PermR | PermW},
		},
		Entry: 0x10000,
	}
}

// TestFromImage tests the layout of a freshly loaded image.
func TestFromImage(t *testing.T) {
	phys := NewPhysMem(64)
	as, layout, err := FromImage(phys, testImage(), 2*PageSize)
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}

	// segments end at 0x13000, guard page, two stack pages
	if layout.StackTop != 0x16000 {
		t.Errorf("StackTop = %s, want 0x16000", layout.StackTop)
	}
	if layout.Entry != 0x10000 {
		t.Errorf("Entry = %s, want 0x10000", layout.Entry)
	}
	if _, ok := as.Translate(VirtAddr(0x13000).Floor()); ok {
		t.Error("guard page should not be mapped")
	}

	got := make([]byte, 4)
	if err := as.CopyIn(got, 0x10000); err != nil {
		t.Fatalf("CopyIn() error = %v", err)
	}
	if string(got) != "text" {
		t.Errorf("CopyIn() = %q, want %q", got, "text")
	}

	// text is not writable by the user
	if err := as.CopyOut(0x10000, []byte("x")); !errors.Is(err, ErrBadAddress) {
		t.Errorf("CopyOut() to text error = %v, want %v", err, ErrBadAddress)
	}
}

// TestCopyAcrossPages tests scatter/gather copies straddling a page boundary.
func TestCopyAcrossPages(t *testing.T) {
	as := newTestSpace(t)
	if err := Mmap(as, 0x10000, 2*PageSize, 0x3); err != nil {
		t.Fatalf("Mmap() error = %v", err)
	}

	va := VirtAddr(0x10000 + PageSize - 5)
	bufs, err := as.TranslatedByteBuffer(va, 12, true)
	if err != nil {
		t.Fatalf("TranslatedByteBuffer() error = %v", err)
	}
	if len(bufs) != 2 || len(bufs[0]) != 5 || len(bufs[1]) != 7 {
		t.Fatalf("TranslatedByteBuffer() slices = %d, want [5 7]", len(bufs))
	}

	src := []byte("hello, world")
	if err := as.CopyOut(va, src); err != nil {
		t.Fatalf("CopyOut() error = %v", err)
	}
	got := make([]byte, len(src))
	if err := as.CopyIn(got, va); err != nil {
		t.Fatalf("CopyIn() error = %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Errorf("CopyIn() = %q, want %q", got, src)
	}

	if err := as.CopyOut(0x10000+2*PageSize-2, src); !errors.Is(err, ErrBadAddress) {
		t.Errorf("CopyOut() past mapping error = %v, want %v", err, ErrBadAddress)
	}
}

// TestHeapGrowShrink tests AppendTo and ShrinkTo on the heap area.
func TestHeapGrowShrink(t *testing.T) {
	phys := NewPhysMem(64)
	as, layout, err := FromImage(phys, testImage(), PageSize)
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	base := as.MappedPages()
	heap := layout.StackTop

	if err := as.AppendTo(heap, heap+2*PageSize); err != nil {
		t.Fatalf("AppendTo() error = %v", err)
	}
	if as.MappedPages() != base+2 {
		t.Errorf("MappedPages() = %d, want %d", as.MappedPages(), base+2)
	}
	if err := as.ShrinkTo(heap, heap+1); err != nil {
		t.Fatalf("ShrinkTo() error = %v", err)
	}
	if as.MappedPages() != base+1 {
		t.Errorf("MappedPages() = %d, want %d", as.MappedPages(), base+1)
	}

	// a mapping right above the heap blocks growth
	if err := Mmap(as, uint64(heap)+2*PageSize, PageSize, 0x3); err != nil {
		t.Fatalf("Mmap() error = %v", err)
	}
	if err := as.AppendTo(heap, heap+3*PageSize); !errors.Is(err, ErrRegionConflict) {
		t.Errorf("AppendTo() error = %v, want %v", err, ErrRegionConflict)
	}
	if err := as.AppendTo(0x50000, 0x51000); !errors.Is(err, ErrNoRegion) {
		t.Errorf("AppendTo() unknown area error = %v, want %v", err, ErrNoRegion)
	}
}

// TestCloneAndRecycle tests full duplication and frame release.
func TestCloneAndRecycle(t *testing.T) {
	phys := NewPhysMem(64)
	as, _, err := FromImage(phys, testImage(), PageSize)
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	used := phys.InUse()

	dup, err := as.Clone()
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	if phys.InUse() != 2*used {
		t.Errorf("InUse() = %d, want %d", phys.InUse(), 2*used)
	}

	// writes to the copy stay in the copy
	if err := dup.CopyOut(0x11000, []byte("DATA")); err != nil {
		t.Fatalf("CopyOut() error = %v", err)
	}
	got := make([]byte, 4)
	if err := as.CopyIn(got, 0x11000); err != nil {
		t.Fatalf("CopyIn() error = %v", err)
	}
	if string(got) != "data" {
		t.Errorf("original = %q, want %q", got, "data")
	}

	dup.Recycle()
	as.Recycle()
	if phys.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0", phys.InUse())
	}
}

// TestPhysMemAlloc tests frame allocation and reuse.
func TestPhysMemAlloc(t *testing.T) {
	phys := NewPhysMem(2)
	a, err := phys.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if _, err := phys.Alloc(); err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if _, err := phys.Alloc(); !errors.Is(err, ErrOutOfFrames) {
		t.Errorf("Alloc() error = %v, want %v", err, ErrOutOfFrames)
	}
	phys.Frame(a)[0] = 0xff
	phys.Dealloc(a)
	b, err := phys.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if b != a {
		t.Errorf("Alloc() = %d, want reused frame %d", b, a)
	}
	if phys.Frame(b)[0] != 0 {
		t.Error("reused frame should be zeroed")
	}
}
