/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "github.com/blackforge-systems/capkernel/cap"

// BootSlots names the well-known indices inside the initial process's
// root CNode that the bootloader populates before handing control to
// the first thread (§6 "Boot protocol").
type BootSlots struct {
	RootCNodeCap int
	RootVNodeCap int
	TcbCap       int
	InitUntyped  int
}

// BootImage is the set of objects Bootstrap constructs.
type BootImage struct {
	RootCNode  *CNode
	RootVSpace *Slot
	TCB        *TCB
	Untyped    *Slot
}

// Bootstrap constructs the fixed boot objects the bootloader is
// responsible for (§6): the first CSpace, the first VSpace root, the
// first TCB, and one Untyped spanning the rest of simulated physical
// memory. It bypasses the ordinary Retype path on purpose — there is
// no parent Untyped to retype these very first objects from. The
// caller (a harness) supplies the physical addresses; Bootstrap only
// builds the kernel's bookkeeping over them and leaves the backing
// bytes to whatever physmem region the harness mapped there.
func (k *Kernel) Bootstrap(cnodePAddr uint64, radix uint8, vspacePAddr, tcbPAddr, untypedPAddr uint64, untypedSizeBits uint8, slots BootSlots) *BootImage {
	cn := k.newCNode(cnodePAddr, radix)

	cn.Entries[slots.RootCNodeCap].Cap = cap.NewCNode(cnodePAddr, radix, 0, 0)
	k.incref(cn.Entries[slots.RootCNodeCap].Cap.ObjectKey())

	k.pageTables[vspacePAddr] = &PageTable{PAddr: vspacePAddr, Entries: make([]cap.Raw, vtableFanout)}
	cn.Entries[slots.RootVNodeCap].Cap = cap.NewVTable(vspacePAddr, 0)
	k.incref(cn.Entries[slots.RootVNodeCap].Cap.ObjectKey())

	cn.Entries[slots.InitUntyped].Cap = cap.NewUntyped(untypedPAddr, untypedSizeBits)
	k.incref(cn.Entries[slots.InitUntyped].Cap.ObjectKey())

	t := newTCB(tcbPAddr)
	k.tcbs[tcbPAddr] = t
	t.CSpaceRoot.Cap = cn.Entries[slots.RootCNodeCap].Cap
	t.VSpaceRoot.Cap = cn.Entries[slots.RootVNodeCap].Cap

	cn.Entries[slots.TcbCap].Cap = cap.NewTcb(tcbPAddr)
	k.incref(cn.Entries[slots.TcbCap].Cap.ObjectKey())
	k.EnqueueReady(t)

	return &BootImage{
		RootCNode:  cn,
		RootVSpace: &cn.Entries[slots.RootVNodeCap],
		TCB:        t,
		Untyped:    &cn.Entries[slots.InitUntyped],
	}
}
