package mm

// TranslatedByteBuffer resolves the user range [va, va+n) into the frame
// slices that back it, one slice per touched page. Every page must be
// mapped and user accessible, and writable when write is set.
func (as *AddressSpace) TranslatedByteBuffer(va VirtAddr, n int, write bool) ([][]byte, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	need := PTEUser
	if write {
		need |= PTEWrite
	}
	return as.translatedLocked(va, n, need)
}

// translatedLocked resolves a range whose pages all carry the flags in need.
func (as *AddressSpace) translatedLocked(va VirtAddr, n int, need PTEFlags) ([][]byte, error) {
	if n < 0 || va+VirtAddr(n) < va || va+VirtAddr(n) > UserSpaceTop {
		return nil, ErrBadAddress
	}
	var bufs [][]byte
	for n > 0 {
		e, ok := as.pt.Translate(va.Floor())
		if !ok || !e.IsValid() || e.Flags&need != need {
			return nil, ErrBadAddress
		}
		off := va.PageOffset()
		frame := as.phys.Frame(e.PPN)[off:]
		if len(frame) > n {
			frame = frame[:n]
		}
		bufs = append(bufs, frame)
		n -= len(frame)
		va += VirtAddr(len(frame))
	}
	return bufs, nil
}

// CopyOut copies src to user memory at va. Nothing is written unless the
// whole destination range is valid.
func (as *AddressSpace) CopyOut(va VirtAddr, src []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.copyOutLocked(va, src, PTEUser|PTEWrite)
}

func (as *AddressSpace) copyOutLocked(va VirtAddr, src []byte, need PTEFlags) error {
	bufs, err := as.translatedLocked(va, len(src), need)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		c := copy(b, src)
		src = src[c:]
	}
	return nil
}

// load writes src at va regardless of the page permissions.
func (as *AddressSpace) load(va VirtAddr, src []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.copyOutLocked(va, src, 0)
}

// CopyIn copies len(dst) bytes of user memory at va into dst.
func (as *AddressSpace) CopyIn(dst []byte, va VirtAddr) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	bufs, err := as.translatedLocked(va, len(dst), PTEUser)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		c := copy(dst, b)
		dst = dst[c:]
	}
	return nil
}
