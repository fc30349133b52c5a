/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "github.com/blackforge-systems/capkernel/cap"

// faultMsgRegs is how many MRs a synthesized fault message carries:
// address, status, faulting PC (§4.5).
const faultMsgRegs = 3

// RaiseFault synthesizes a fault for t (§4.5): the thread is pulled
// off whatever it was doing, its Fault record is set, and — if a
// fault-handler Endpoint capability is installed in its
// FaultHandlerSlot — the fault is delivered as a Call so the handler
// can inspect and resume it via Reply. A thread with no fault handler
// simply sits in FaultState forever (§4.5 "Unhandled faults").
func (k *Kernel) RaiseFault(t *TCB, f Fault) {
	if t.onQueue != queueNone {
		k.detachFromAnyQueue(t)
	}
	t.Fault = &f
	t.state = FaultState

	if t.FaultHandlerSlot.Cap.IsNull() || t.FaultHandlerSlot.Cap.Type() != cap.Endpoint {
		return
	}

	info := MsgInfo{Label: uint16(f.Kind), Length: faultMsgRegs}
	t.TF.MR[1] = f.Addr
	t.TF.MR[2] = f.Status
	t.TF.MR[3] = f.PC

	if _, err := k.Call(&t.FaultHandlerSlot, t, info, nil, nil); err != OK {
		// No live handler object behind the capability; the thread
		// stays parked in FaultState with nothing to wake it.
		return
	}
	// Call() moves t through its own Sending/Receiving bookkeeping;
	// FaultState is what the rest of the kernel sees until the
	// handler's Reply clears t.Fault (§4.5).
	t.state = FaultState
}
