/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackforge-systems/capkernel/cap"
)

func newTestVTable(k *Kernel, paddr uint64) *Slot {
	k.pageTables[paddr] = &PageTable{PAddr: paddr, Entries: make([]cap.Raw, vtableFanout)}
	return &Slot{Cap: cap.NewVTable(paddr, 0)}
}

func newTestFrame(paddr uint64) *Slot {
	return &Slot{Cap: cap.NewFrame(paddr, cap.PermRead|cap.PermWrite)}
}

func TestMapFrameFailsWithoutIntermediateTables(t *testing.T) {
	k, _, _ := newTestKernel(5)
	root := newTestVTable(k, 0x1000)
	frame := newTestFrame(0x5000)

	err := k.MapFrame(frame, root, 0x0040_0000, cap.PermRead)
	require.Equal(t, ErrVSpaceTableMiss, err)
	require.EqualValues(t, 1, k.LastTableMiss.Level)
}

func TestMapFrameRejectsNonVTableRoot(t *testing.T) {
	k, _, _ := newTestKernel(5)
	notARoot := newTestFrame(0x1000)
	frame := newTestFrame(0x5000)

	err := k.MapFrame(frame, notARoot, 0x0040_0000, cap.PermRead)
	require.Equal(t, ErrVSpaceSlotTypeError, err)
}

func TestMapTableRejectsNonVTableSlot(t *testing.T) {
	k, _, _ := newTestKernel(5)
	root := newTestVTable(k, 0x1000)
	notATable := newTestFrame(0x5000)

	err := k.MapTable(notATable, root, 0x0040_0000, 1)
	require.Equal(t, ErrVSpaceSlotTypeError, err)
}

func TestMapTableThenMapFrameSucceeds(t *testing.T) {
	k, _, _ := newTestKernel(5)
	root := newTestVTable(k, 0x1000)
	l1 := newTestVTable(k, 0x2000)
	l2 := newTestVTable(k, 0x3000)
	l3 := newTestVTable(k, 0x4000)
	frame := newTestFrame(0x5000)

	vaddr := uint64(0x0040_0000)
	require.Equal(t, OK, k.MapTable(l1, root, vaddr, 1))
	require.Equal(t, OK, k.MapTable(l2, root, vaddr, 2))
	require.Equal(t, OK, k.MapTable(l3, root, vaddr, 3))
	require.Equal(t, OK, k.MapFrame(frame, root, vaddr, cap.PermRead))

	require.True(t, frame.Cap.Mapped())
	require.EqualValues(t, vaddr, frame.Cap.MappedVAddr())
	require.EqualValues(t, vspaceASID(root.Cap.PAddr()), frame.Cap.MappedASID())
}

func TestMapFrameRefusesOccupiedSlot(t *testing.T) {
	k, _, _ := newTestKernel(5)
	root := newTestVTable(k, 0x1000)
	l1 := newTestVTable(k, 0x2000)
	l2 := newTestVTable(k, 0x3000)
	l3 := newTestVTable(k, 0x4000)
	vaddr := uint64(0x0040_0000)
	k.MapTable(l1, root, vaddr, 1)
	k.MapTable(l2, root, vaddr, 2)
	k.MapTable(l3, root, vaddr, 3)

	first := newTestFrame(0x5000)
	second := newTestFrame(0x6000)
	require.Equal(t, OK, k.MapFrame(first, root, vaddr, cap.PermRead))
	require.Equal(t, ErrVSpaceSlotOccupied, k.MapFrame(second, root, vaddr, cap.PermRead))
}

func TestUnmapClearsFrameMappingAndAllowsRemap(t *testing.T) {
	k, _, _ := newTestKernel(5)
	root := newTestVTable(k, 0x1000)
	l1 := newTestVTable(k, 0x2000)
	l2 := newTestVTable(k, 0x3000)
	l3 := newTestVTable(k, 0x4000)
	vaddr := uint64(0x0040_0000)
	k.MapTable(l1, root, vaddr, 1)
	k.MapTable(l2, root, vaddr, 2)
	k.MapTable(l3, root, vaddr, 3)

	frame := newTestFrame(0x5000)
	require.Equal(t, OK, k.MapFrame(frame, root, vaddr, cap.PermRead))
	require.Equal(t, OK, k.Unmap(frame))
	require.False(t, frame.Cap.Mapped())

	require.Equal(t, OK, k.MapFrame(frame, root, vaddr, cap.PermRead|cap.PermWrite))
}

func TestDeletingVTableCascadesUnmapToDescendants(t *testing.T) {
	k, rootCNodeSlot, _ := newTestKernel(5)
	cn := k.testRootCNode(rootCNodeSlot)
	root := newTestVTable(k, 0x1000)
	l1 := newTestVTable(k, 0x2000)
	k.MapTable(l1, root, 0x0040_0000, 1)

	cn.Entries[0] = *l1
	k.incref(cn.Entries[0].Cap.ObjectKey())

	k.unmapVTableByPAddr(root.Cap.PAddr()) // destroying root tears down l1's link too
	require.Nil(t, k.pageTables[0x1000])
	_, ok := k.vtableLoc[0x2000]
	require.False(t, ok)
}
