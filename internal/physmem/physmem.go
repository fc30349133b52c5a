/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package physmem simulates the machine's physical address space for
// the harness: kernel.Kernel only ever deals in uint64 physical
// addresses (§3's capability addressing never touches real bytes),
// so something outside the kernel has to actually back those
// addresses with memory a scenario can read and write. physmem
// anonymously mmaps one page-aligned flat region and hands out slices
// of it by physical address.
package physmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	PageSize int64 = 0x1000
	pageMask       = PageSize - 1

	// maxRegionSize is a sanity ceiling, not an architectural limit;
	// a harness scenario has no business simulating more than this.
	maxRegionSize int64 = 0x1_0000_0000 // 4GiB
)

var (
	ErrRegionTooLarge = errors.New("physmem: requested region exceeds the simulation ceiling")
	ErrClosed         = errors.New("physmem: region already unmapped")
	ErrOutOfBounds    = errors.New("physmem: access outside mapped region")
)

// AlignUp rounds sz up to the next page boundary.
func AlignUp(sz int64) int64 {
	if rem := sz & pageMask; rem != 0 {
		return sz + (PageSize - rem)
	}
	return sz
}

// Region is a flat, anonymously-mapped simulated physical address
// space. Offset 0 of Region corresponds to physical address 0; a
// harness maps real Untyped/Frame ranges onto slices of buf at the
// same offset the kernel believes the object lives at.
type Region struct {
	buf  []byte
	size int64
	open bool
}

// New mmaps a fresh zeroed region of at least sz bytes, rounded up to
// a whole number of pages.
func New(sz int64) (*Region, error) {
	if sz <= 0 {
		sz = PageSize
	}
	sz = AlignUp(sz)
	if sz > maxRegionSize {
		return nil, ErrRegionTooLarge
	}
	buf, err := unix.Mmap(-1, 0, int(sz), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("physmem: mmap failed: %w", err)
	}
	return &Region{buf: buf, size: sz, open: true}, nil
}

// Close unmaps the region. A closed Region must not be used again.
func (r *Region) Close() error {
	if !r.open {
		return ErrClosed
	}
	if err := unix.Munmap(r.buf); err != nil {
		return err
	}
	r.buf = nil
	r.open = false
	return nil
}

// Size returns the region's page-aligned byte length.
func (r *Region) Size() int64 {
	return r.size
}

// Slice returns the backing bytes for [paddr, paddr+n), the way a
// Frame object's contents are addressed by a harness scenario after
// MapFrame installs it at some virtual address.
func (r *Region) Slice(paddr uint64, n int) ([]byte, error) {
	if !r.open {
		return nil, ErrClosed
	}
	end := int64(paddr) + int64(n)
	if int64(paddr) < 0 || end > r.size {
		return nil, ErrOutOfBounds
	}
	return r.buf[paddr : paddr+uint64(n)], nil
}

// Zero clears [paddr, paddr+n), mirroring the kernel's requirement
// that Retype hand out zeroed objects (§4.2).
func (r *Region) Zero(paddr uint64, n int) error {
	b, err := r.Slice(paddr, n)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = 0
	}
	return nil
}
