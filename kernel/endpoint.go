/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import (
	"container/list"

	"github.com/blackforge-systems/capkernel/cap"
)

// queueDir records which side of the rendezvous is presently queued on
// an Endpoint — seL4-family endpoints only ever queue one direction at
// a time, never both (§4.4).
type queueDir uint8

const (
	dirNone queueDir = iota
	dirSender
	dirReceiver
)

// Endpoint is the synchronous rendezvous object of §4.4. queue holds
// *TCB nodes waiting on whichever side is presently blocked; dir says
// which side that is. An Endpoint with an empty queue has dir
// dirNone.
type Endpoint struct {
	PAddr uint64
	queue *list.List
	dir   queueDir
}

func newEndpoint(paddr uint64) *Endpoint {
	return &Endpoint{PAddr: paddr, queue: list.New()}
}

func (k *Kernel) endpointFor(paddr uint64) *Endpoint { return k.endpoints[paddr] }

// completeRendezvous performs the actual message and capability
// transfer for a matched sender/receiver pair (§4.4 "Message
// transfer"). It never blocks and never touches scheduler state; it
// either fully succeeds or fails before mutating anything so a failed
// capability transfer leaves both threads' state untouched.
func (k *Kernel) completeRendezvous(sender, receiver *TCB, info MsgInfo, sendCaps []*Slot, badge uint64) Errno {
	recvCaps := receiver.pendingRecvCaps
	n := int(info.NumCaps)
	if n > len(sendCaps) {
		n = len(sendCaps)
	}
	if n > len(recvCaps) {
		n = len(recvCaps)
	}
	// Validate every transfer is derivable before installing any of
	// them, so a mid-transfer failure can't leave a partial set of
	// caps in the receiver's CSpace.
	for i := 0; i < n; i++ {
		if sendCaps[i] == nil || sendCaps[i].Cap.IsNull() {
			return ErrInvalidCapability
		}
		if recvCaps[i] == nil || !recvCaps[i].Cap.IsNull() {
			return ErrSlotNotEmpty
		}
	}
	for i := 0; i < n; i++ {
		if err := k.Copy(sendCaps[i], recvCaps[i]); err != OK {
			return err
		}
	}

	receiver.TF.MR[0] = info.Encode()
	for i := uint8(0); i < info.Length && int(i)+1 < NumMRs; i++ {
		receiver.TF.MR[i+1] = sender.TF.MR[i+1]
	}
	receiver.LastBadge = badge
	receiver.IPCResult = OK
	receiver.pendingRecvCaps = nil
	return OK
}

// Send implements §4.4 Send/NBSend. epSlot must hold an Endpoint
// capability; sendCaps are the capability slots (already resolved in
// the sender's own CSpace) the message intends to transfer. If a
// receiver is already waiting, the transfer happens immediately and
// Send returns blocked=false. Otherwise the sender is parked on the
// endpoint's wait queue; unless nonBlocking, in which case it fails
// with WouldBlock instead of blocking (§4.4 NBSend).
func (k *Kernel) Send(epSlot *Slot, sender *TCB, info MsgInfo, sendCaps []*Slot, nonBlocking bool) (blocked bool, err Errno) {
	if epSlot == nil || epSlot.Cap.Type() != cap.Endpoint {
		return false, ErrInvalidCapability
	}
	ep := k.endpointFor(epSlot.Cap.PAddr())
	if ep == nil {
		return false, ErrInvalidCapability
	}
	badge := uint64(0)
	if epSlot.Cap.Badged() {
		badge = epSlot.Cap.Badge()
	}

	if ep.dir == dirReceiver && ep.queue.Len() > 0 {
		e := ep.queue.Front()
		rcv := e.Value.(*TCB)
		if err := k.completeRendezvous(sender, rcv, info, sendCaps, badge); err != OK {
			return false, err
		}
		ep.queue.Remove(e)
		rcv.onQueue, rcv.waitEP, rcv.elem = queueNone, nil, nil
		if ep.queue.Len() == 0 {
			ep.dir = dirNone
		}
		k.EnqueueReady(rcv)
		return false, OK
	}

	if nonBlocking {
		return false, ErrWouldBlock
	}
	sender.pendingInfo = info
	sender.pendingSendCaps = sendCaps
	sender.sendingBadge = badge
	sender.isCall = false
	sender.state = Sending
	sender.IPCResult = OK
	ep.dir = dirSender
	sender.elem = ep.queue.PushBack(sender)
	sender.onQueue = queueEndpoint
	sender.waitEP = ep
	return true, OK
}

// Recv implements §4.4 Recv. recvCaps names the destination slots
// (already empty, in the receiver's own CSpace) any incoming
// capabilities should land in. If a sender is already waiting, the
// transfer happens immediately. Otherwise the receiver blocks
// unconditionally — Recv has no non-blocking form (§4.4).
func (k *Kernel) Recv(epSlot *Slot, receiver *TCB, recvCaps []*Slot) (blocked bool, err Errno) {
	if epSlot == nil || epSlot.Cap.Type() != cap.Endpoint {
		return false, ErrInvalidCapability
	}
	ep := k.endpointFor(epSlot.Cap.PAddr())
	if ep == nil {
		return false, ErrInvalidCapability
	}

	if ep.dir == dirSender && ep.queue.Len() > 0 {
		e := ep.queue.Front()
		snd := e.Value.(*TCB)
		receiver.pendingRecvCaps = recvCaps
		if err := k.completeRendezvous(snd, receiver, snd.pendingInfo, snd.pendingSendCaps, snd.sendingBadge); err != OK {
			receiver.pendingRecvCaps = nil
			return false, err
		}
		ep.queue.Remove(e)
		snd.onQueue, snd.waitEP, snd.elem = queueNone, nil, nil
		snd.pendingSendCaps = nil
		if ep.queue.Len() == 0 {
			ep.dir = dirNone
		}
		if snd.isCall {
			k.mintReplyAndBlock(snd, receiver)
		} else {
			k.EnqueueReady(snd)
		}
		return false, OK
	}

	receiver.pendingRecvCaps = recvCaps
	receiver.state = Receiving
	receiver.IPCResult = OK
	ep.dir = dirReceiver
	receiver.elem = ep.queue.PushBack(receiver)
	receiver.onQueue = queueEndpoint
	receiver.waitEP = ep
	return true, OK
}

// Call implements §4.4 Call: an atomic Send immediately followed by a
// Recv on an auto-generated, single-use Reply capability. The caller
// never appears on the ready queue between the two halves, so nothing
// else can run "between" a Call's send and its implicit receive.
func (k *Kernel) Call(epSlot *Slot, caller *TCB, info MsgInfo, sendCaps []*Slot, replyRecvCaps []*Slot) (blocked bool, err Errno) {
	if epSlot == nil || epSlot.Cap.Type() != cap.Endpoint {
		return false, ErrInvalidCapability
	}
	ep := k.endpointFor(epSlot.Cap.PAddr())
	if ep == nil {
		return false, ErrInvalidCapability
	}
	badge := uint64(0)
	if epSlot.Cap.Badged() {
		badge = epSlot.Cap.Badge()
	}

	if ep.dir == dirReceiver && ep.queue.Len() > 0 {
		e := ep.queue.Front()
		rcv := e.Value.(*TCB)
		caller.pendingRecvCaps = replyRecvCaps
		if err := k.completeRendezvous(caller, rcv, info, sendCaps, badge); err != OK {
			caller.pendingRecvCaps = nil
			return false, err
		}
		ep.queue.Remove(e)
		rcv.onQueue, rcv.waitEP, rcv.elem = queueNone, nil, nil
		if ep.queue.Len() == 0 {
			ep.dir = dirNone
		}
		k.mintReplyAndBlock(caller, rcv)
		k.EnqueueReady(rcv)
		return true, OK
	}

	caller.pendingInfo = info
	caller.pendingSendCaps = sendCaps
	caller.pendingRecvCaps = replyRecvCaps
	caller.sendingBadge = badge
	caller.isCall = true
	caller.state = Sending
	caller.IPCResult = OK
	ep.dir = dirSender
	caller.elem = ep.queue.PushBack(caller)
	caller.onQueue = queueEndpoint
	caller.waitEP = ep
	return true, OK
}

// mintReplyAndBlock installs a fresh Reply capability pointing at
// caller into receiver's reply slot and parks caller off every queue
// in Receiving state, to be woken directly by Reply (§4.4 Call).
func (k *Kernel) mintReplyAndBlock(caller, receiver *TCB) {
	receiver.ReplySlot.Cap = cap.NewReply(caller.PAddr)
	caller.state = Receiving
	caller.onQueue = queueNone
	caller.elem = nil
	caller.waitEP = nil
}

// Reply implements §4.4 Reply: consumes the single-use Reply
// capability in replySlot, delivers the reply message to the TCB it
// names, and puts that TCB back on the ready queue. It never blocks.
func (k *Kernel) Reply(replySlot *Slot, replier *TCB, info MsgInfo, sendCaps []*Slot) Errno {
	if replySlot == nil || replySlot.Cap.Type() != cap.Reply {
		return ErrInvalidCapability
	}
	callerPAddr := replySlot.Cap.ReplyWaitingTCB()
	caller := k.tcbs[callerPAddr]
	if caller == nil {
		replySlot.Cap = cap.Zeroed()
		return ErrInvalidCapability
	}
	if err := k.completeRendezvous(replier, caller, info, sendCaps, 0); err != OK {
		return err
	}
	replySlot.Cap = cap.Zeroed()
	// A fault handler's Reply resumes the faulted thread (§4.5);
	// WriteRegisters is expected to have already rewritten caller.TF.
	caller.Fault = nil
	k.EnqueueReady(caller)
	return OK
}

// cancelEndpoint wakes every thread queued on ep with ErrCancelled and
// empties the queue — invoked when the last capability to ep is
// deleted or revoked out from under its waiters (§4.4 "Cancellation").
func (k *Kernel) cancelEndpoint(ep *Endpoint) {
	for e := ep.queue.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*TCB)
		t.onQueue, t.waitEP, t.elem = queueNone, nil, nil
		t.pendingSendCaps = nil
		t.pendingRecvCaps = nil
		t.IPCResult = ErrCancelled
		t.TF.MR[0] = RespInfo{Err: ErrCancelled}.Encode()
		k.EnqueueReady(t)
		e = next
	}
	ep.dir = dirNone
}
