/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import (
	"container/list"

	"github.com/blackforge-systems/capkernel/cap"
)

// ThreadState is the TCB state machine of §4.3.
type ThreadState uint8

const (
	Ready ThreadState = iota
	Sending
	Receiving
	FaultState
)

func (s ThreadState) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Sending:
		return "Sending"
	case Receiving:
		return "Receiving"
	case FaultState:
		return "Fault"
	default:
		return "Unknown"
	}
}

// queueKind records which wait list or single-waiter slot a TCB
// currently belongs to — a TCB is on at most one at a time (§3, §5,
// DESIGN NOTES "Intrusive queue nodes embedded in TCBs").
type queueKind uint8

const (
	queueNone queueKind = iota
	queueReady
	queueEndpoint
	queueNotification
)

// Fault records the synthesized fault state of §4.5.
type Fault struct {
	Kind    FaultKind
	Addr    uint64 // faulting address, if applicable
	Status  uint64 // architectural fault status
	PC      uint64 // faulting PC
}

type FaultKind uint8

const (
	FaultDataAbort FaultKind = iota
	FaultUndefinedInstruction
	FaultInvalidSyscall
	FaultPrefetchAbort
)

func (fk FaultKind) String() string {
	switch fk {
	case FaultDataAbort:
		return "DataAbort"
	case FaultUndefinedInstruction:
		return "UndefinedInstruction"
	case FaultInvalidSyscall:
		return "InvalidSyscall"
	case FaultPrefetchAbort:
		return "PrefetchAbort"
	default:
		return "Unknown"
	}
}

// TCB is the kernel-side thread control block (§3). It is
// power-of-two aligned at creation (cap.TCBSizeBits) so its physical
// address doubles as a globally unique thread id.
type TCB struct {
	PAddr uint64

	TF TrapFrame

	// The four embedded capability slots (§3): cspace root, vspace
	// root, reply, fault-handler endpoint. They participate in the
	// derivation tree exactly like CNode slots.
	CSpaceRoot       Slot
	VSpaceRoot       Slot
	ReplySlot        Slot
	FaultHandlerSlot Slot

	Fault *Fault

	timeslice int
	state     ThreadState

	// sendingBadge is recorded when this TCB blocks on Send through a
	// badged endpoint capability (§3).
	sendingBadge uint64

	// LastBadge is the badge delivered with the most recently received
	// message, readable by the syscall dispatcher after Recv/Call
	// completes (§4.4).
	LastBadge uint64

	// IPCResult carries the outcome a blocked thread wakes up with:
	// OK for a normal rendezvous, ErrCancelled if its endpoint's queue
	// was torn down out from under it (§4.4 "Cancellation").
	IPCResult Errno

	// pendingInfo/pendingSendCaps are stashed by Send/Call when no
	// receiver is yet waiting, and read back by the Recv side of the
	// eventual rendezvous (§4.4).
	pendingInfo     MsgInfo
	pendingSendCaps []*Slot

	// pendingRecvCaps is where the next message's transferred
	// capabilities land; set by whichever side is about to receive,
	// whether the rendezvous completes immediately or this TCB blocks
	// first (§4.4).
	pendingRecvCaps []*Slot

	// isCall marks a thread blocked in Send as having arrived via Call:
	// once its message is delivered, it moves straight to Receiving
	// behind an auto-minted Reply capability rather than back onto the
	// ready queue (§4.4).
	isCall bool

	isIdle bool

	onQueue  queueKind
	elem     *list.Element
	waitEP   *Endpoint
	waitNtfn *Notification
}

func newTCB(paddr uint64) *TCB {
	return &TCB{PAddr: paddr, state: Ready}
}

// ThreadID returns the globally unique id derived from the TCB's base
// physical address (§6).
func (t *TCB) ThreadID() uint64 { return t.PAddr >> cap.TCBSizeBits }

func (t *TCB) State() ThreadState { return t.state }

func (t *TCB) SendingBadge() uint64 { return t.sendingBadge }

// WriteRegisters rewrites a thread's user register context — used by
// a fault handler's Reply to resume a faulted thread at a new PC
// (SPEC_FULL "TCB register read/write").
func (t *TCB) WriteRegisters(tf TrapFrame) { t.TF = tf }

func (t *TCB) ReadRegisters() TrapFrame { return t.TF }

// detachFromAnyQueue removes t from whichever queue currently holds
// it, used when a TCB capability is deleted or revoked (§4.4
// "Cancellation").
func (k *Kernel) detachFromAnyQueue(t *TCB) {
	switch t.onQueue {
	case queueReady:
		if t.elem != nil {
			k.ready.Remove(t.elem)
		}
	case queueEndpoint:
		if t.waitEP != nil {
			t.waitEP.queue.Remove(t.elem)
		}
	case queueNotification:
		if t.waitNtfn != nil && t.waitNtfn.waiter == t {
			t.waitNtfn.waiter = nil
		}
	}
	t.onQueue = queueNone
	t.elem = nil
	t.waitEP = nil
	t.waitNtfn = nil
}
