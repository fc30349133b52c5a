/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package physmem

import "testing"

func TestNewRoundsUpToPageSize(t *testing.T) {
	r, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Size() != PageSize {
		t.Fatalf("expected a single page, got %d", r.Size())
	}
}

func TestSliceIsZeroedAndWritable(t *testing.T) {
	r, err := New(PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	b, err := r.Slice(0, 16)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range b {
		if v != 0 {
			t.Fatalf("freshly mapped region was not zeroed: %v", b)
		}
	}
	b[0] = 0xff
	b2, _ := r.Slice(0, 16)
	if b2[0] != 0xff {
		t.Fatal("write through Slice did not persist against the backing region")
	}
}

func TestSliceRejectsOutOfBoundsAccess(t *testing.T) {
	r, err := New(PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Slice(PageSize-4, 16); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestZeroClearsPreviouslyWrittenBytes(t *testing.T) {
	r, err := New(PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	b, _ := r.Slice(0x100, 8)
	for i := range b {
		b[i] = 0xaa
	}
	if err := r.Zero(0x100, 8); err != nil {
		t.Fatal(err)
	}
	b, _ = r.Slice(0x100, 8)
	for _, v := range b {
		if v != 0 {
			t.Fatalf("Zero did not clear the region: %v", b)
		}
	}
}

func TestNewRejectsOversizedRegion(t *testing.T) {
	if _, err := New(maxRegionSize + 1); err != ErrRegionTooLarge {
		t.Fatalf("expected ErrRegionTooLarge, got %v", err)
	}
}

func TestCloseThenSliceFails(t *testing.T) {
	r, err := New(PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Slice(0, 1); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
