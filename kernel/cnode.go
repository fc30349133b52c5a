/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "github.com/blackforge-systems/capkernel/cap"

// Slot is one capability slot: the packed capability word plus the
// derivation-tree (mdb) links sufficient to enumerate descendants
// (§3 "CNode"). Slots are never reallocated once their backing array
// is created, so raw pointers into them are stable for the life of
// the object — the single-threaded kernel-entry discipline (§5, and
// DESIGN NOTES "Cell-like interior mutation of slots") makes sharing
// those pointers sound without locking.
type Slot struct {
	Cap cap.Raw

	parent *Slot
	prev   *Slot
	next   *Slot
	child  *Slot
}

// CNode is a table of 2^Radix capability slots (§3).
type CNode struct {
	PAddr   uint64
	Radix   uint8
	Entries []Slot
}

func (k *Kernel) newCNode(paddr uint64, radix uint8) *CNode {
	cn := &CNode{PAddr: paddr, Radix: radix, Entries: make([]Slot, uint64(1)<<radix)}
	k.cnodes[paddr] = cn
	return cn
}

// Slot resolves a direct (CNode, index) addressing — used by the
// simulation harness and by resolve() once it reaches a leaf CNode.
func (cn *CNode) Slot(index uint64) *Slot {
	if cn == nil || index >= uint64(len(cn.Entries)) {
		return nil
	}
	return &cn.Entries[index]
}

// cnodeFor looks up the live CNode object a CNode capability refers
// to.
func (k *Kernel) cnodeFor(c cap.Raw) *CNode {
	if c.Type() != cap.CNode {
		return nil
	}
	return k.cnodes[c.PAddr()]
}

// Resolve walks a CSpace address starting at rootSlot's CNode
// capability (§4.1). At each CNode, guardBits of the remaining
// address must match the cap's guard, then radix bits select the
// next slot; recursion continues while the selected slot holds
// another CNode and bits remain.
func (k *Kernel) Resolve(rootSlot *Slot, addr uint64, bits uint8) (*Slot, Errno) {
	cur := rootSlot
	remaining := bits
	for {
		if cur == nil || cur.Cap.Type() != cap.CNode {
			return nil, ErrCSpaceLookup
		}
		cn := k.cnodeFor(cur.Cap)
		if cn == nil {
			return nil, ErrCSpaceLookup
		}
		gbits := cur.Cap.CNodeGuardBits()
		if gbits > 0 {
			if remaining < gbits {
				return nil, ErrGuardMismatch
			}
			got := (addr >> (remaining - gbits)) & ((uint64(1) << gbits) - 1)
			if got != cur.Cap.CNodeGuardValue() {
				return nil, ErrGuardMismatch
			}
			remaining -= gbits
		}
		radix := cur.Cap.CNodeRadix()
		if radix == 0 || remaining < radix {
			return nil, ErrCSpaceLookup
		}
		remaining -= radix
		idx := (addr >> remaining) & ((uint64(1) << radix) - 1)
		slot := cn.Slot(idx)
		if slot == nil {
			return nil, ErrCSpaceLookup
		}
		if remaining == 0 {
			return slot, OK
		}
		if slot.Cap.Type() != cap.CNode {
			return nil, ErrCSpaceLookup
		}
		cur = slot
	}
}

func (k *Kernel) refKey(c cap.Raw) cap.ObjectKey { return c.ObjectKey() }

func (k *Kernel) incref(key cap.ObjectKey) {
	if key.Type == cap.Null {
		return
	}
	k.refcounts()[key]++
}

// decref returns true if the reference count reached zero (this was
// the last remaining capability for the object, §4.1).
func (k *Kernel) decref(key cap.ObjectKey) bool {
	if key.Type == cap.Null {
		return false
	}
	rc := k.refcounts()
	rc[key]--
	if rc[key] <= 0 {
		delete(rc, key)
		return true
	}
	return false
}

func (k *Kernel) refcounts() map[cap.ObjectKey]int {
	if k.refc == nil {
		k.refc = make(map[cap.ObjectKey]int)
	}
	return k.refc
}

func (k *Kernel) linkChild(parent, child *Slot) {
	child.parent = parent
	child.prev = nil
	if parent == nil {
		child.next = nil
		return
	}
	child.next = parent.child
	if parent.child != nil {
		parent.child.prev = child
	}
	parent.child = child
}

func (k *Kernel) unlink(s *Slot) {
	if s.prev != nil {
		s.prev.next = s.next
	} else if s.parent != nil {
		s.parent.child = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
}

// Derive populates dst (must be Null) with a capability over the same
// object as src (must be non-Null), as a new child of src in the
// derivation tree (§4.1). If newBadge is non-nil, dst's badge is set
// to *newBadge; src must then be unbadged or already carry that same
// badge.
func (k *Kernel) Derive(src, dst *Slot, newBadge *uint64) Errno {
	if src == nil || src.Cap.IsNull() {
		return ErrSlotIsEmpty
	}
	if dst == nil || !dst.Cap.IsNull() {
		return ErrSlotNotEmpty
	}
	c := src.Cap
	if newBadge != nil {
		switch c.Type() {
		case cap.Endpoint, cap.Notification:
			if c.Badged() && c.Badge() != *newBadge {
				return ErrInvalidArgument
			}
			c = c.WithBadge(*newBadge)
		default:
			return ErrInvalidArgument
		}
	}
	dst.Cap = c
	k.linkChild(src, dst)
	k.incref(c.ObjectKey())
	return OK
}

// Copy duplicates src's exact capability value into dst, inserted as
// a child of src in the derivation tree (§4.1). Unlike Derive, Copy
// never changes the badge.
func (k *Kernel) Copy(src, dst *Slot) Errno {
	return k.Derive(src, dst, nil)
}

// Mint is Derive with an explicit badge and/or narrowed permissions
// (SPEC_FULL "Mint with rights-masking"): a Frame's perms may only
// shrink, never grow, relative to src.
func (k *Kernel) Mint(src, dst *Slot, newBadge *uint64, narrowPerms *cap.Perms) Errno {
	if src == nil || src.Cap.IsNull() {
		return ErrSlotIsEmpty
	}
	if dst == nil || !dst.Cap.IsNull() {
		return ErrSlotNotEmpty
	}
	c := src.Cap
	if narrowPerms != nil {
		if c.Type() != cap.Frame {
			return ErrInvalidArgument
		}
		if !narrowPerms.Subset(c.FramePerms()) {
			return ErrInvalidArgument
		}
		c = c.WithPerms(*narrowPerms)
	}
	if newBadge != nil {
		switch c.Type() {
		case cap.Endpoint, cap.Notification:
			if c.Badged() && c.Badge() != *newBadge {
				return ErrInvalidArgument
			}
			c = c.WithBadge(*newBadge)
		default:
			return ErrInvalidArgument
		}
	}
	dst.Cap = c
	k.linkChild(src, dst)
	k.incref(c.ObjectKey())
	return OK
}

// Delete removes a single slot (§4.1). If the slot's children exist
// they are promoted to the deleted slot's parent so the rest of the
// derivation tree stays connected. If this was the last remaining
// capability for the object, type-specific cleanup runs.
func (k *Kernel) Delete(slot *Slot) Errno {
	if slot == nil || slot.Cap.IsNull() {
		return ErrSlotIsEmpty
	}
	key := slot.Cap.ObjectKey()
	parent := slot.parent
	for slot.child != nil {
		c := slot.child
		k.unlink(c)
		k.linkChild(parent, c)
	}
	k.unlink(slot)
	if k.decref(key) {
		k.cleanupObject(key)
	}
	slot.Cap = cap.Zeroed()
	slot.parent = nil
	return OK
}

// Revoke deletes every proper descendant of slot in post-order,
// leaving slot itself intact (§4.1, §8 "Round-trip / idempotence").
func (k *Kernel) Revoke(slot *Slot) Errno {
	if slot == nil {
		return ErrSlotIsEmpty
	}
	k.revokeDescendants(slot)
	return OK
}

func (k *Kernel) revokeDescendants(node *Slot) {
	for node.child != nil {
		c := node.child
		k.revokeDescendants(c)
		// c is now a leaf; delete it directly without promotion since
		// it has no children left to promote.
		k.unlink(c)
		if k.decref(c.Cap.ObjectKey()) {
			k.cleanupObject(c.Cap.ObjectKey())
		}
		c.Cap = cap.Zeroed()
		c.parent = nil
	}
}

// cleanupObject runs the type-specific teardown required when an
// object becomes unreachable (§4.1 Delete).
func (k *Kernel) cleanupObject(key cap.ObjectKey) {
	switch key.Type {
	case cap.Tcb:
		if t := k.tcbs[key.PAddr]; t != nil {
			k.detachFromAnyQueue(t)
			delete(k.tcbs, key.PAddr)
		}
	case cap.Endpoint:
		if e := k.endpoints[key.PAddr]; e != nil {
			k.cancelEndpoint(e)
			delete(k.endpoints, key.PAddr)
		}
	case cap.Notification:
		if n := k.notifications[key.PAddr]; n != nil {
			k.cancelNotification(n)
			delete(k.notifications, key.PAddr)
		}
	case cap.Frame:
		k.unmapFrameByPAddr(key.PAddr)
	case cap.VTable:
		k.unmapVTableByPAddr(key.PAddr)
	case cap.CNode:
		delete(k.cnodes, key.PAddr)
	case cap.Untyped:
		// watermark accounting lives in the capability word itself and
		// is intentionally not reset here (§4.2).
	}
}
