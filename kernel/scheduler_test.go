/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueReadyIsFIFO(t *testing.T) {
	k, _, _ := newTestKernel(5)
	a := newTCB(0x400)
	b := newTCB(0x800)

	k.EnqueueReady(a)
	k.EnqueueReady(b)

	require.Same(t, a, k.Schedule())
	require.Same(t, b, k.Schedule())
	require.True(t, k.Schedule().isIdle) // ready queue now empty
}

func TestTickExpiresTimesliceAndReschedules(t *testing.T) {
	k, _, _ := newTestKernel(3)
	a := newTCB(0x400)
	b := newTCB(0x800)
	k.EnqueueReady(a)
	k.EnqueueReady(b)
	k.Schedule() // activates a, pops it off the ready queue

	next := k.Tick(1)
	require.Same(t, a, next) // 2 ticks left, still running
	require.EqualValues(t, 2, a.timeslice)

	next = k.Tick(2)
	// a's slice is exhausted; it goes to the back of the queue behind
	// b, which is activated next.
	require.Same(t, b, next)
	require.Equal(t, Ready, a.state)
	require.EqualValues(t, k.quantum, a.timeslice)
}

func TestTickIgnoresBlockedCurrentThread(t *testing.T) {
	k, _, _ := newTestKernel(5)
	a := newTCB(0x400)
	k.EnqueueReady(a)
	k.Schedule()
	a.state = Sending

	next := k.Tick(100)
	require.Same(t, a, next)
	require.Equal(t, Sending, a.state)
}

func TestActivationRegisterPacksCPUAndThreadID(t *testing.T) {
	k, _, _ := newTestKernel(5)
	a := newTCB(7 << 10)
	require.EqualValues(t, 7, k.ActivationRegister(a))
}
