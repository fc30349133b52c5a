/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "github.com/blackforge-systems/capkernel/cap"

// Label identifies the operation an invocation requests, carried in
// MsgInfo.Label (§4.7). Every label has its own numeric value across
// all object types; the dispatcher only consults the label after
// resolving the invoked capability, and each object type's handler
// accepts only the labels listed under it below.
type Label uint16

const (
	// Untyped
	LabelRetype Label = iota
	// CNode
	LabelCopy
	LabelMint
	LabelMove
	LabelDelete
	LabelRevoke
	// Endpoint
	LabelSend
	LabelNBSend
	LabelRecv
	LabelCall
	LabelReply
	// Notification
	LabelSignal
	LabelPoll
	LabelWait
	// TCB
	LabelReadRegisters
	LabelWriteRegisters
	// VSpace
	LabelMapFrame
	LabelMapTable
	LabelUnmap
)

// Dispatch decodes the current thread's pending syscall from its
// TrapFrame, resolves the invoked capability through its CSpace, and
// performs the requested operation (§4.7). It returns the thread that
// should run next: the same thread if the syscall completed
// synchronously (its RespInfo is already written into MR0), or
// whatever Schedule() picks if the thread just blocked.
//
// Dispatch never runs concurrently with anything else touching k: it
// is the single entry point assembly calls on every trap, consistent
// with the kernel's single-threaded, run-to-completion discipline (§5).
func (k *Kernel) Dispatch(t *TCB) *TCB {
	info := DecodeMsgInfo(t.TF.MR[0], t.TF.MR[1])

	slot, lerr := k.Resolve(&t.CSpaceRoot, info.CapAddr, info.CapBits)
	if lerr != OK {
		writeResp(t, RespInfo{Err: lerr})
		return t
	}

	switch slot.Cap.Type() {
	case cap.Untyped:
		return k.dispatchUntyped(t, slot, Label(info.Label), info)
	case cap.CNode:
		return k.dispatchCNode(t, slot, Label(info.Label), info)
	case cap.Endpoint:
		return k.dispatchEndpoint(t, slot, Label(info.Label), info)
	case cap.Notification:
		return k.dispatchNotification(t, slot, Label(info.Label))
	case cap.Tcb:
		return k.dispatchTCB(t, slot, Label(info.Label))
	case cap.Frame, cap.VTable:
		return k.dispatchVSpace(t, slot, Label(info.Label), info)
	default:
		k.RaiseFault(t, Fault{Kind: FaultInvalidSyscall, PC: t.TF.PC})
		return k.Schedule()
	}
}

func writeResp(t *TCB, r RespInfo) { t.TF.MR[0] = r.Encode() }

// dispatchUntyped handles Retype (§4.2). MR2 carries the target type,
// MR3 the size_bits, MR4 the count, MR5 the destination CNode
// capability address (resolved in the invoker's own CSpace), MR6 the
// destination offset.
func (k *Kernel) dispatchUntyped(t *TCB, slot *Slot, label Label, info MsgInfo) *TCB {
	if label != LabelRetype {
		k.RaiseFault(t, Fault{Kind: FaultInvalidSyscall, PC: t.TF.PC})
		return k.Schedule()
	}
	dstSlot, lerr := k.Resolve(&t.CSpaceRoot, t.TF.MR[5], 64)
	if lerr != OK {
		writeResp(t, RespInfo{Err: lerr})
		return t
	}
	dstCNode := k.cnodeFor(dstSlot.Cap)
	if dstCNode == nil {
		writeResp(t, RespInfo{Err: ErrInvalidCapability})
		return t
	}
	err := k.Retype(slot, cap.Type(t.TF.MR[2]), uint8(t.TF.MR[3]), int(t.TF.MR[4]), dstCNode, int(t.TF.MR[6]))
	writeResp(t, RespInfo{Err: err})
	return t
}

// dispatchCNode handles Copy/Mint/Move/Delete/Revoke (§4.1). MR2 is
// the destination slot's capability address, resolved in the
// invoker's own CSpace; Mint additionally reads a badge from MR3 when
// minting an Endpoint or Notification, and narrowed permissions from
// MR4 when minting a Frame.
func (k *Kernel) dispatchCNode(t *TCB, slot *Slot, label Label, info MsgInfo) *TCB {
	switch label {
	case LabelDelete:
		writeResp(t, RespInfo{Err: k.Delete(slot)})
	case LabelRevoke:
		writeResp(t, RespInfo{Err: k.Revoke(slot)})
	case LabelCopy, LabelMint, LabelMove:
		dst, lerr := k.Resolve(&t.CSpaceRoot, t.TF.MR[2], 64)
		if lerr != OK {
			writeResp(t, RespInfo{Err: lerr})
			return t
		}
		switch label {
		case LabelCopy:
			writeResp(t, RespInfo{Err: k.Copy(slot, dst)})
		case LabelMint:
			var badge *uint64
			var perms *cap.Perms
			switch slot.Cap.Type() {
			case cap.Endpoint, cap.Notification:
				b := t.TF.MR[3]
				badge = &b
			case cap.Frame:
				p := cap.Perms(t.TF.MR[4])
				perms = &p
			}
			writeResp(t, RespInfo{Err: k.Mint(slot, dst, badge, perms)})
		case LabelMove:
			if err := k.Copy(slot, dst); err != OK {
				writeResp(t, RespInfo{Err: err})
				return t
			}
			writeResp(t, RespInfo{Err: k.Delete(slot)})
		}
	default:
		k.RaiseFault(t, Fault{Kind: FaultInvalidSyscall, PC: t.TF.PC})
		return k.Schedule()
	}
	return t
}

// resolveCapList resolves `n` capability addresses out of MR[base:] in
// the invoker's own CSpace, for IPC capability transfer (§4.4).
func (k *Kernel) resolveCapList(t *TCB, base int, n int) []*Slot {
	out := make([]*Slot, n)
	for i := 0; i < n; i++ {
		s, err := k.Resolve(&t.CSpaceRoot, t.TF.MR[base+i], 64)
		if err != OK {
			out[i] = nil
			continue
		}
		out[i] = s
	}
	return out
}

// ipcCapWindowBase is where, by convention, a message's capability
// addresses start once its data registers end (§6): MR0/MR1 are the
// header, so data occupies MR[2:2+Length) and any capability
// addresses follow immediately after.
const ipcCapWindowBase = 2

func (k *Kernel) dispatchEndpoint(t *TCB, slot *Slot, label Label, info MsgInfo) *TCB {
	sendCaps := k.resolveCapList(t, ipcCapWindowBase+int(info.Length), int(info.NumCaps))
	switch label {
	case LabelSend:
		if _, err := k.Send(slot, t, info, sendCaps, false); err != OK {
			writeResp(t, RespInfo{Err: err})
			return t
		}
	case LabelNBSend:
		if _, err := k.Send(slot, t, info, sendCaps, true); err != OK {
			writeResp(t, RespInfo{Err: err})
			return t
		}
	case LabelRecv:
		recvCaps := make([]*Slot, info.NumCaps)
		for i := range recvCaps {
			recvCaps[i], _ = k.Resolve(&t.CSpaceRoot, t.TF.MR[ipcCapWindowBase+i], 64)
		}
		if _, err := k.Recv(slot, t, recvCaps); err != OK {
			writeResp(t, RespInfo{Err: err})
			return t
		}
	case LabelCall:
		recvCaps := make([]*Slot, info.NumCaps)
		for i := range recvCaps {
			recvCaps[i], _ = k.Resolve(&t.CSpaceRoot, t.TF.MR[ipcCapWindowBase+i], 64)
		}
		if _, err := k.Call(slot, t, info, sendCaps, recvCaps); err != OK {
			writeResp(t, RespInfo{Err: err})
			return t
		}
	case LabelReply:
		if err := k.Reply(slot, t, info, sendCaps); err != OK {
			writeResp(t, RespInfo{Err: err})
			return t
		}
	default:
		k.RaiseFault(t, Fault{Kind: FaultInvalidSyscall, PC: t.TF.PC})
		return k.Schedule()
	}
	if t.state != Ready {
		return k.Schedule()
	}
	return t
}

func (k *Kernel) dispatchNotification(t *TCB, slot *Slot, label Label) *TCB {
	switch label {
	case LabelSignal:
		writeResp(t, RespInfo{Err: k.Signal(slot, t.TF.MR[2])})
	case LabelPoll:
		word, err := k.Poll(slot)
		t.TF.MR[1] = word
		writeResp(t, RespInfo{Err: err})
	case LabelWait:
		if _, err := k.Wait(slot, t); err != OK {
			writeResp(t, RespInfo{Err: err})
			return t
		}
		if t.state != Ready {
			return k.Schedule()
		}
	default:
		k.RaiseFault(t, Fault{Kind: FaultInvalidSyscall, PC: t.TF.PC})
		return k.Schedule()
	}
	return t
}

func (k *Kernel) dispatchTCB(t *TCB, slot *Slot, label Label) *TCB {
	target := k.tcbs[slot.Cap.PAddr()]
	if target == nil {
		writeResp(t, RespInfo{Err: ErrInvalidCapability})
		return t
	}
	switch label {
	case LabelReadRegisters:
		tf := target.ReadRegisters()
		t.TF.MR = tf.MR
		writeResp(t, RespInfo{Err: OK})
	case LabelWriteRegisters:
		tf := target.TF
		copy(tf.MR[:], t.TF.MR[1:])
		target.WriteRegisters(tf)
		writeResp(t, RespInfo{Err: OK})
	default:
		k.RaiseFault(t, Fault{Kind: FaultInvalidSyscall, PC: t.TF.PC})
		return k.Schedule()
	}
	return t
}

// dispatchVSpace handles MapFrame/MapTable/Unmap (§4.6). MR2 is the
// VSpace root capability address, MR3 the target vaddr; MapFrame also
// reads permissions from MR4, MapTable reads the target level.
func (k *Kernel) dispatchVSpace(t *TCB, slot *Slot, label Label, info MsgInfo) *TCB {
	if label == LabelUnmap {
		writeResp(t, RespInfo{Err: k.Unmap(slot)})
		return t
	}
	root, lerr := k.Resolve(&t.CSpaceRoot, t.TF.MR[2], 64)
	if lerr != OK {
		writeResp(t, RespInfo{Err: lerr})
		return t
	}
	vaddr := t.TF.MR[3]
	switch label {
	case LabelMapFrame:
		err := k.MapFrame(slot, root, vaddr, cap.Perms(t.TF.MR[4]))
		if err == ErrVSpaceTableMiss {
			t.TF.MR[1] = uint64(k.LastTableMiss.Level)
		}
		writeResp(t, RespInfo{Err: err})
	case LabelMapTable:
		err := k.MapTable(slot, root, vaddr, uint8(t.TF.MR[4]))
		if err == ErrVSpaceTableMiss {
			t.TF.MR[1] = uint64(k.LastTableMiss.Level)
		}
		writeResp(t, RespInfo{Err: err})
	default:
		k.RaiseFault(t, Fault{Kind: FaultInvalidSyscall, PC: t.TF.PC})
		return k.Schedule()
	}
	return t
}
