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

func newTestEndpoint(k *Kernel, paddr uint64) *Slot {
	k.endpoints[paddr] = newEndpoint(paddr)
	return &Slot{Cap: cap.NewEndpoint(paddr, 0)}
}

// newRegisteredTCB creates a TCB findable by Reply's callerPAddr ->
// TCB lookup, the way Retype's zeroObject would register one.
func newRegisteredTCB(k *Kernel, paddr uint64) *TCB {
	t := newTCB(paddr)
	k.tcbs[paddr] = t
	return t
}

func TestSendBlocksThenRecvCompletesRendezvous(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ep := newTestEndpoint(k, 0x1000)
	sender := newTCB(0x400)
	receiver := newTCB(0x800)

	sender.TF.MR[1] = 111
	info := MsgInfo{Label: 1, Length: 1}
	blocked, err := k.Send(ep, sender, info, nil, false)
	require.Equal(t, OK, err)
	require.True(t, blocked)
	require.Equal(t, Sending, sender.state)

	blocked, err = k.Recv(ep, receiver, nil)
	require.Equal(t, OK, err)
	require.False(t, blocked)
	require.EqualValues(t, 111, receiver.TF.MR[1])
	require.Equal(t, Ready, sender.state)
}

func TestRecvBlocksThenSendCompletesRendezvous(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ep := newTestEndpoint(k, 0x1000)
	sender := newTCB(0x400)
	receiver := newTCB(0x800)

	blocked, err := k.Recv(ep, receiver, nil)
	require.Equal(t, OK, err)
	require.True(t, blocked)
	require.Equal(t, Receiving, receiver.state)

	sender.TF.MR[1] = 222
	info := MsgInfo{Label: 2, Length: 1}
	blocked, err = k.Send(ep, sender, info, nil, false)
	require.Equal(t, OK, err)
	require.False(t, blocked)
	require.EqualValues(t, 222, receiver.TF.MR[1])
	require.Equal(t, Ready, receiver.state)
}

func TestNBSendWithNoReceiverWaitingFailsWouldBlock(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ep := newTestEndpoint(k, 0x1000)
	sender := newTCB(0x400)

	blocked, err := k.Send(ep, sender, MsgInfo{}, nil, true)
	require.Equal(t, ErrWouldBlock, err)
	require.False(t, blocked)
}

func TestCallThenReplyResumesCaller(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ep := newTestEndpoint(k, 0x1000)
	caller := newRegisteredTCB(k, 0x400)
	callee := newRegisteredTCB(k, 0x800)

	blocked, err := k.Recv(ep, callee, nil)
	require.Equal(t, OK, err)
	require.True(t, blocked)

	caller.TF.MR[1] = 10
	blocked, err = k.Call(ep, caller, MsgInfo{Length: 1}, nil, nil)
	require.Equal(t, OK, err)
	require.True(t, blocked)
	require.Equal(t, Receiving, caller.state)
	require.Equal(t, cap.Reply, callee.ReplySlot.Cap.Type())
	require.EqualValues(t, caller.PAddr, callee.ReplySlot.Cap.ReplyWaitingTCB())
	require.Equal(t, Ready, callee.state)
	require.EqualValues(t, 10, callee.TF.MR[1])

	callee.TF.MR[1] = 20
	err = k.Reply(&callee.ReplySlot, callee, MsgInfo{Length: 1}, nil)
	require.Equal(t, OK, err)
	require.True(t, callee.ReplySlot.Cap.IsNull())
	require.Equal(t, Ready, caller.state)
	require.EqualValues(t, 20, caller.TF.MR[1])
}

func TestCallBlocksWhenNoReceiverYetWaiting(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ep := newTestEndpoint(k, 0x1000)
	caller := newRegisteredTCB(k, 0x400)
	callee := newRegisteredTCB(k, 0x800)

	blocked, err := k.Call(ep, caller, MsgInfo{}, nil, nil)
	require.Equal(t, OK, err)
	require.True(t, blocked)
	require.Equal(t, Sending, caller.state)

	blocked, err = k.Recv(ep, callee, nil)
	require.Equal(t, OK, err)
	require.False(t, blocked)
	require.Equal(t, Receiving, caller.state) // parked awaiting Reply, not Ready
	require.Equal(t, cap.Reply, callee.ReplySlot.Cap.Type())
}

func TestCancelEndpointWakesQueuedSenderWithCancelled(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ep := newTestEndpoint(k, 0x1000)
	sender := newTCB(0x400)

	k.Send(ep, sender, MsgInfo{}, nil, false)
	require.Equal(t, Sending, sender.state)

	k.cancelEndpoint(k.endpoints[0x1000])
	require.Equal(t, Ready, sender.state)
	require.Equal(t, ErrCancelled, sender.IPCResult)
}
