/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackforge-systems/capkernel/cap"
	"github.com/blackforge-systems/capkernel/internal/bootcfg"
	"github.com/blackforge-systems/capkernel/kernel"
)

func newTestHarness(t *testing.T) *Harness {
	t.Helper()
	h, err := New(bootcfg.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// capAddr builds a CapAddr that selects slot in a single-level root
// CNode whose full 64 bits are consumed per call (Dispatch always
// resolves with CapBits=64, set by DecodeMsgInfo).
func capAddr(slot int) uint64 {
	return uint64(slot) << 56
}

func TestNewBootstrapsAReadyBootThread(t *testing.T) {
	h := newTestHarness(t)
	require.NotNil(t, h.Boot.TCB)
	require.Equal(t, kernel.Ready, h.Boot.TCB.State())
}

func TestStepRetypesAnEndpointFromBootUntyped(t *testing.T) {
	h := newTestHarness(t)
	slots := bootcfg.Default().Slots
	boot := h.Boot
	tcb := boot.TCB

	info := kernel.MsgInfo{Label: uint16(kernel.LabelRetype)}
	tcb.TF.MR[0] = info.Encode()
	tcb.TF.MR[1] = capAddr(slots.InitUntyped)
	tcb.TF.MR[2] = uint64(cap.Endpoint)
	tcb.TF.MR[3] = uint64(cap.Endpoint.MinSizeBits())
	tcb.TF.MR[4] = 1
	tcb.TF.MR[5] = capAddr(slots.RootCNodeCap)
	tcb.TF.MR[6] = uint64(slots.InitUntyped + 1)

	h.Step(tcb)
	resp := kernel.DecodeRespInfo(tcb.TF.MR[0])
	require.Equal(t, kernel.OK, resp.Err)
}

func TestRunPumpSerializesConcurrentTraps(t *testing.T) {
	h := newTestHarness(t)
	slots := bootcfg.Default().Slots

	src := make(chan TrapRequest, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done1 := make(chan struct{})
	done2 := make(chan struct{})

	infoBad := kernel.MsgInfo{Label: uint16(kernel.LabelDelete)}
	h.Boot.TCB.TF.MR[0] = infoBad.Encode()
	h.Boot.TCB.TF.MR[1] = capAddr(slots.RootCNodeCap + 100) // empty slot

	src <- TrapRequest{TCB: h.Boot.TCB, Done: done1}
	src <- TrapRequest{TCB: h.Boot.TCB, Done: done2}
	close(src)

	require.NoError(t, h.RunPump(ctx, src))
	select {
	case <-done1:
	default:
		t.Fatal("first request was never marked done")
	}
	select {
	case <-done2:
	default:
		t.Fatal("second request was never marked done")
	}
}
