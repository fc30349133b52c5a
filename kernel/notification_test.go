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

func newTestNotification(k *Kernel, paddr uint64) *Slot {
	k.notifications[paddr] = newNotification(paddr)
	return &Slot{Cap: cap.NewNotification(paddr, 0)}
}

func TestSignalWakesWaiterImmediately(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ntfn := newTestNotification(k, 0x1000)
	waiter := newTCB(0x400)

	blocked, err := k.Wait(ntfn, waiter)
	require.Equal(t, OK, err)
	require.True(t, blocked)
	require.Equal(t, Receiving, waiter.state)

	require.Equal(t, OK, k.Signal(ntfn, 0x4))
	require.Equal(t, Ready, waiter.state)
	require.EqualValues(t, 0x4, waiter.LastBadge)
}

func TestSignalWithNoWaiterAccumulatesPending(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ntfn := newTestNotification(k, 0x1000)

	require.Equal(t, OK, k.Signal(ntfn, 0x1))
	require.Equal(t, OK, k.Signal(ntfn, 0x2))

	word, err := k.Poll(ntfn)
	require.Equal(t, OK, err)
	require.EqualValues(t, 0x3, word)

	// Poll clears the pending word.
	word, _ = k.Poll(ntfn)
	require.Zero(t, word)
}

func TestWaitReturnsImmediatelyWhenAlreadyPending(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ntfn := newTestNotification(k, 0x1000)
	k.Signal(ntfn, 0x9)

	waiter := newTCB(0x400)
	blocked, err := k.Wait(ntfn, waiter)
	require.Equal(t, OK, err)
	require.False(t, blocked)
	require.EqualValues(t, 0x9, waiter.LastBadge)
}

func TestDeletingWaitersTCBCapStopsItFromBeingResurrected(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ntfn := newTestNotification(k, 0x1000)
	waiter := newRegisteredTCB(k, 0x400)

	blocked, err := k.Wait(ntfn, waiter)
	require.Equal(t, OK, err)
	require.True(t, blocked)
	require.Equal(t, queueNotification, waiter.onQueue)

	k.cleanupObject(cap.ObjectKey{Type: cap.Tcb, PAddr: waiter.PAddr})
	require.Equal(t, queueNone, waiter.onQueue)
	require.Nil(t, waiter.waitNtfn)

	n := k.notificationFor(0x1000)
	require.Nil(t, n.waiter)

	require.Equal(t, OK, k.Signal(ntfn, 0x4))
	require.Equal(t, Receiving, waiter.state)
	require.Equal(t, queueNone, waiter.onQueue)
}

func TestSecondWaiterDisplacesFirstWithCancelled(t *testing.T) {
	k, _, _ := newTestKernel(5)
	ntfn := newTestNotification(k, 0x1000)
	first := newTCB(0x400)
	second := newTCB(0x800)

	k.Wait(ntfn, first)
	k.Wait(ntfn, second)

	require.Equal(t, Ready, first.state)
	require.Equal(t, ErrCancelled, first.IPCResult)
	require.Equal(t, Receiving, second.state)
}
