/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "github.com/blackforge-systems/capkernel/cap"

// Notification is the asynchronous signaling object of §3: a 64-bit
// pending bitmask with at most one waiting TCB at a time (SPEC_FULL
// "Supplemented Features — Notification Signal/Poll/Wait").
type Notification struct {
	PAddr   uint64
	pending uint64
	waiter  *TCB
}

func newNotification(paddr uint64) *Notification {
	return &Notification{PAddr: paddr}
}

func (k *Kernel) notificationFor(paddr uint64) *Notification { return k.notifications[paddr] }

// Signal ORs badge into the notification's pending word (§3, "a
// Signal never blocks"). If a thread is already waiting, it wakes
// immediately with the accumulated word and the pending bitmask is
// cleared, mirroring the no-queueing-of-words semantics of a binary
// Notification object.
func (k *Kernel) Signal(ntfnSlot *Slot, badge uint64) Errno {
	if ntfnSlot == nil || ntfnSlot.Cap.Type() != cap.Notification {
		return ErrInvalidCapability
	}
	n := k.notificationFor(ntfnSlot.Cap.PAddr())
	if n == nil {
		return ErrInvalidCapability
	}
	n.pending |= badge
	if n.waiter != nil {
		w := n.waiter
		n.waiter = nil
		w.TF.MR[0] = n.pending
		w.LastBadge = n.pending
		w.IPCResult = OK
		n.pending = 0
		k.EnqueueReady(w)
	}
	return OK
}

// Poll returns the pending word without blocking and clears it —
// used by a thread that wants to check for signals without giving up
// its timeslice.
func (k *Kernel) Poll(ntfnSlot *Slot) (word uint64, err Errno) {
	if ntfnSlot == nil || ntfnSlot.Cap.Type() != cap.Notification {
		return 0, ErrInvalidCapability
	}
	n := k.notificationFor(ntfnSlot.Cap.PAddr())
	if n == nil {
		return 0, ErrInvalidCapability
	}
	word = n.pending
	n.pending = 0
	return word, OK
}

// Wait blocks the calling thread until the notification has a
// non-zero pending word, or returns immediately if one is already
// set. Only one thread may wait on a given Notification at a time;
// a second Wait call displaces the first (§3 invariant "at most one
// waiting TCB").
func (k *Kernel) Wait(ntfnSlot *Slot, t *TCB) (blocked bool, err Errno) {
	if ntfnSlot == nil || ntfnSlot.Cap.Type() != cap.Notification {
		return false, ErrInvalidCapability
	}
	n := k.notificationFor(ntfnSlot.Cap.PAddr())
	if n == nil {
		return false, ErrInvalidCapability
	}
	if n.pending != 0 {
		t.TF.MR[0] = n.pending
		t.LastBadge = n.pending
		n.pending = 0
		return false, OK
	}
	if n.waiter != nil {
		k.cancelWaiter(n.waiter)
	}
	n.waiter = t
	t.state = Receiving
	t.IPCResult = OK
	t.onQueue = queueNotification
	t.elem = nil
	t.waitEP = nil
	t.waitNtfn = n
	return true, OK
}

// cancelWaiter wakes a displaced or orphaned Notification waiter with
// ErrCancelled, the same outcome an Endpoint gives a cancelled waiter
// (§4.4 "Cancellation").
func (k *Kernel) cancelWaiter(t *TCB) {
	t.IPCResult = ErrCancelled
	t.TF.MR[0] = RespInfo{Err: ErrCancelled}.Encode()
	k.EnqueueReady(t)
}

// cancelNotification tears down a Notification's lone waiter when the
// last capability to it is deleted or revoked.
func (k *Kernel) cancelNotification(n *Notification) {
	if n.waiter != nil {
		k.cancelWaiter(n.waiter)
		n.waiter = nil
	}
}
