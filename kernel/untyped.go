/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "github.com/blackforge-systems/capkernel/cap"

// alignUp rounds v up to the next multiple of 2^bits.
func alignUp(v uint64, bits uint8) uint64 {
	mask := (uint64(1) << bits) - 1
	return (v + mask) &^ mask
}

// Retype carves count fresh objects of targetType (each 2^sizeBits
// bytes) out of the Untyped capability in untypedSlot, installing
// their capabilities into dstCNode's slots [dstOffset, dstOffset+count)
// (§4.2). Objects are produced in ascending physical-address order
// (§5 "Ordering guarantees") and are children of untypedSlot in the
// derivation tree, so Revoke(untypedSlot) reclaims all of them.
func (k *Kernel) Retype(untypedSlot *Slot, targetType cap.Type, sizeBits uint8, count int, dstCNode *CNode, dstOffset int) Errno {
	if untypedSlot == nil || untypedSlot.Cap.Type() != cap.Untyped {
		return ErrInvalidCapability
	}
	if count <= 0 || dstCNode == nil {
		return ErrInvalidArgument
	}
	if !targetType.Valid() || targetType == cap.Null || sizeBits < targetType.MinSizeBits() {
		return ErrInvalidArgument
	}
	if dstOffset < 0 || dstOffset+count > len(dstCNode.Entries) {
		return ErrInvalidArgument
	}
	for i := 0; i < count; i++ {
		if !dstCNode.Entries[dstOffset+i].Cap.IsNull() {
			return ErrSlotNotEmpty
		}
	}

	u := untypedSlot.Cap
	base := u.PAddr()
	watermark := alignUp(u.UntypedWatermark(), sizeBits)
	need := uint64(count) << sizeBits
	if watermark+need > u.UntypedSize() {
		return ErrNotEnoughMemory
	}

	for i := 0; i < count; i++ {
		paddr := base + watermark + uint64(i)<<sizeBits
		obj := k.zeroObject(targetType, paddr, sizeBits)
		dst := &dstCNode.Entries[dstOffset+i]
		dst.Cap = obj
		k.linkChild(untypedSlot, dst)
		k.incref(obj.ObjectKey())
	}

	untypedSlot.Cap = u.WithWatermark(watermark + need)
	return OK
}

// zeroObject allocates the backing kernel object for a freshly
// retyped capability and returns its initial (unmapped, zeroed)
// capability value.
func (k *Kernel) zeroObject(t cap.Type, paddr uint64, sizeBits uint8) cap.Raw {
	switch t {
	case cap.Untyped:
		return cap.NewUntyped(paddr, sizeBits)
	case cap.CNode:
		radix := sizeBits - cap.CNodeSlotSizeBits
		k.newCNode(paddr, radix)
		return cap.NewCNode(paddr, radix, 0, 0)
	case cap.Tcb:
		k.tcbs[paddr] = newTCB(paddr)
		return cap.NewTcb(paddr)
	case cap.Endpoint:
		k.endpoints[paddr] = newEndpoint(paddr)
		return cap.NewEndpoint(paddr, 0)
	case cap.Notification:
		k.notifications[paddr] = newNotification(paddr)
		return cap.NewNotification(paddr, 0)
	case cap.Frame:
		return cap.NewFrame(paddr, cap.PermRead|cap.PermWrite)
	case cap.VTable:
		k.pageTables[paddr] = &PageTable{PAddr: paddr, Entries: make([]cap.Raw, vtableFanout)}
		return cap.NewVTable(paddr, 0)
	default:
		return cap.Zeroed()
	}
}
