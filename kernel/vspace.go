/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "github.com/blackforge-systems/capkernel/cap"

// AArch64 4-level translation: PGD (level 0) down to PTE (level 3),
// 9 bits of index per level over a 4KiB page (§4.6).
const (
	pageOffsetBits = 12
	levelBits      = 9
	vtableFanout   = 1 << levelBits
	maxLevel       = 3 // PTE
)

// PageTable is the live backing object for a VTable capability: one
// level of the translation tree, 512 entries each either Null, a
// VTable capability (next level down), or — only at level 3 — a
// mapped Frame capability.
type PageTable struct {
	PAddr   uint64
	Entries []cap.Raw
}

type mapLocation struct {
	pt  *PageTable
	idx uint64
}

// vaddrIndex extracts the 9-bit index a vaddr selects at the given
// translation level (0=PGD..3=PTE).
func vaddrIndex(vaddr uint64, level uint8) uint64 {
	shift := pageOffsetBits + uint(maxLevel-level)*levelBits
	return (vaddr >> shift) & (vtableFanout - 1)
}

// vspaceASID derives a VSpace's ASID from its root VTable's physical
// address (§6, DESIGN NOTE on ASID derivation): bits [28:12) of the
// root's physical address, so no separate ASID-assignment call is
// needed. Only those 16 bits are kept: two roots whose addresses
// differ only in bits 28 and above get the same ASID.
func vspaceASID(rootPAddr uint64) uint16 {
	return uint16((rootPAddr >> pageOffsetBits) & 0xFFFF)
}

// walkToLevel follows rootCap's translation tree down to the table
// that would directly contain vaddr's entry at targetLevel, failing
// with VSpaceTableMiss naming the first absent intermediate level
// (§4.6, §8 scenario 6).
func (k *Kernel) walkToLevel(rootCap cap.Raw, vaddr uint64, targetLevel uint8) (*PageTable, uint64, Errno) {
	if rootCap.Type() != cap.VTable {
		return nil, 0, ErrInvalidCapability
	}
	cur := k.pageTables[rootCap.PAddr()]
	if cur == nil {
		k.LastTableMiss = TableMissDetail{Level: 0}
		return nil, 0, ErrVSpaceTableMiss
	}
	for level := uint8(0); level < targetLevel; level++ {
		idx := vaddrIndex(vaddr, level)
		entry := cur.Entries[idx]
		if entry.Type() != cap.VTable {
			k.LastTableMiss = TableMissDetail{Level: level + 1}
			return nil, 0, ErrVSpaceTableMiss
		}
		cur = k.pageTables[entry.PAddr()]
		if cur == nil {
			k.LastTableMiss = TableMissDetail{Level: level + 1}
			return nil, 0, ErrVSpaceTableMiss
		}
	}
	return cur, vaddrIndex(vaddr, targetLevel), OK
}

// MapTable installs an unmapped VTable capability as an intermediate
// translation-tree node at the given level (1..3) under rootSlot,
// at the slot vaddr selects (§4.6 map_table).
func (k *Kernel) MapTable(tableSlot *Slot, rootSlot *Slot, vaddr uint64, level uint8) Errno {
	if tableSlot == nil || tableSlot.Cap.IsNull() {
		return ErrInvalidCapability
	}
	if tableSlot.Cap.Type() != cap.VTable {
		return ErrVSpaceSlotTypeError
	}
	if tableSlot.Cap.Mapped() {
		return ErrInvalidCapability
	}
	if level == 0 || level > maxLevel {
		return ErrInvalidArgument
	}
	if rootSlot == nil || rootSlot.Cap.IsNull() {
		return ErrInvalidCapability
	}
	if rootSlot.Cap.Type() != cap.VTable {
		return ErrVSpaceSlotTypeError
	}
	parent, idx, err := k.walkToLevel(rootSlot.Cap, vaddr, level-1)
	if err != OK {
		return err
	}
	if !parent.Entries[idx].IsNull() {
		return ErrVSpaceSlotOccupied
	}
	asid := vspaceASID(rootSlot.Cap.PAddr())
	installed := tableSlot.Cap.WithVTableLevel(level).VTableWithMapping(vaddr, asid)
	parent.Entries[idx] = installed
	tableSlot.Cap = installed
	k.vtableLoc[tableSlot.Cap.PAddr()] = mapLocation{pt: parent, idx: idx}
	return OK
}

// MapFrame installs an unmapped Frame capability at the PTE vaddr
// selects under rootSlot, with the given permissions (§4.6
// map_frame). All three levels of intermediate VTables must already
// exist.
func (k *Kernel) MapFrame(frameSlot *Slot, rootSlot *Slot, vaddr uint64, perms cap.Perms) Errno {
	if frameSlot == nil || frameSlot.Cap.IsNull() {
		return ErrInvalidCapability
	}
	if frameSlot.Cap.Type() != cap.Frame {
		return ErrVSpaceSlotTypeError
	}
	if frameSlot.Cap.Mapped() {
		return ErrInvalidCapability
	}
	if vaddr&((1<<pageOffsetBits)-1) != 0 {
		return ErrAlignmentError
	}
	if rootSlot == nil || rootSlot.Cap.IsNull() {
		return ErrInvalidCapability
	}
	if rootSlot.Cap.Type() != cap.VTable {
		return ErrVSpaceSlotTypeError
	}
	pt, idx, err := k.walkToLevel(rootSlot.Cap, vaddr, maxLevel)
	if err != OK {
		return err
	}
	if !pt.Entries[idx].IsNull() {
		return ErrVSpaceSlotOccupied
	}
	asid := vspaceASID(rootSlot.Cap.PAddr())
	mapped := frameSlot.Cap.WithPerms(perms).WithMapping(vaddr, asid)
	pt.Entries[idx] = mapped
	frameSlot.Cap = mapped
	k.frameLoc[frameSlot.Cap.PAddr()] = mapLocation{pt: pt, idx: idx}
	return OK
}

// Unmap clears a Frame or (empty) VTable's installed mapping without
// destroying the capability itself, leaving it available to be
// remapped elsewhere (§4.6 unmap).
func (k *Kernel) Unmap(slot *Slot) Errno {
	if slot == nil || slot.Cap.IsNull() {
		return ErrInvalidCapability
	}
	switch slot.Cap.Type() {
	case cap.Frame:
		if !slot.Cap.Mapped() {
			return OK
		}
		k.unmapFrameByPAddr(slot.Cap.PAddr())
		slot.Cap = slot.Cap.Unmapped()
		return OK
	case cap.VTable:
		if !slot.Cap.Mapped() {
			return OK
		}
		pt := k.pageTables[slot.Cap.PAddr()]
		if pt != nil {
			for _, e := range pt.Entries {
				if !e.IsNull() {
					return ErrSlotNotEmpty
				}
			}
		}
		if loc, ok := k.vtableLoc[slot.Cap.PAddr()]; ok {
			loc.pt.Entries[loc.idx] = cap.Zeroed()
			delete(k.vtableLoc, slot.Cap.PAddr())
		}
		slot.Cap = cap.NewVTable(slot.Cap.PAddr(), slot.Cap.VTableLevel())
		return OK
	default:
		return ErrInvalidCapability
	}
}

// unmapFrameByPAddr clears whatever PTE currently references paddr —
// used when the Frame object itself is deleted or revoked (§4.1
// cleanupObject), independent of the capability the caller held.
func (k *Kernel) unmapFrameByPAddr(paddr uint64) {
	if loc, ok := k.frameLoc[paddr]; ok {
		loc.pt.Entries[loc.idx] = cap.Zeroed()
		delete(k.frameLoc, paddr)
	}
}

// unmapVTableByPAddr tears down a VTable object being destroyed,
// cascading into its own entries so no dangling mapLocation survives
// it (§4.1 cleanupObject).
func (k *Kernel) unmapVTableByPAddr(paddr uint64) {
	pt := k.pageTables[paddr]
	if pt == nil {
		return
	}
	for _, e := range pt.Entries {
		switch e.Type() {
		case cap.VTable:
			k.unmapVTableByPAddr(e.PAddr())
		case cap.Frame:
			delete(k.frameLoc, e.PAddr())
		}
	}
	if loc, ok := k.vtableLoc[paddr]; ok {
		loc.pt.Entries[loc.idx] = cap.Zeroed()
		delete(k.vtableLoc, paddr)
	}
	delete(k.pageTables, paddr)
}

// SwitchVSpace installs t's VSpace as current (§4.3 activate): in
// this simulation that means deriving and recording the ASID that
// would be written to the hardware TTBR/ASID register. A thread with
// no VSpace root configured yet keeps the previous ASID, matching a
// freshly retyped TCB that hasn't been given an address space.
func (k *Kernel) SwitchVSpace(t *TCB) {
	if t.VSpaceRoot.Cap.Type() != cap.VTable {
		return
	}
	k.currentASID = vspaceASID(t.VSpaceRoot.Cap.PAddr())
}
