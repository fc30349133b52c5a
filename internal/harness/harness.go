/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package harness stands up a Kernel against simulated physical
// memory and drives TrapFrames into it for cmd/ksim and the test
// suite. The kernel package itself is never concurrent (§5); harness
// is where a scenario is allowed to model multiple simulated callers
// racing to enter the kernel, serialized down to the one goroutine
// that is ever allowed to call Dispatch.
package harness

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/blackforge-systems/capkernel/internal/bootcfg"
	"github.com/blackforge-systems/capkernel/internal/klog"
	"github.com/blackforge-systems/capkernel/internal/physmem"
	"github.com/blackforge-systems/capkernel/kernel"
)

const (
	bootCNodePAddr  = 0x1000
	bootVSpacePAddr = 0x2000
	bootTCBPAddr    = 0x3000
	bootUntypedBase = 0x10000
)

// Harness owns a bootstrapped Kernel, the simulated physical memory
// backing it, and a diagnostic logger.
type Harness struct {
	Kernel *kernel.Kernel
	Mem    *physmem.Region
	Log    *klog.Logger
	Boot   *kernel.BootImage
	Desc   bootcfg.Descriptor
}

// New builds a harness from a boot descriptor, mapping enough
// simulated physical memory to cover the boot region plus the
// descriptor's requested Untyped size.
func New(desc bootcfg.Descriptor, log *klog.Logger) (*Harness, error) {
	untypedSize := int64(1) << desc.Global.Untyped_Size_Bits
	mem, err := physmem.New(bootUntypedBase + untypedSize)
	if err != nil {
		return nil, fmt.Errorf("harness: mapping simulated memory: %w", err)
	}

	k := kernel.New(kernel.Config{Quantum: desc.Global.Scheduler_Quantum})
	boot := k.Bootstrap(bootCNodePAddr, desc.Global.CNode_Radix_Bits, bootVSpacePAddr, bootTCBPAddr, bootUntypedBase, desc.Global.Untyped_Size_Bits, kernel.BootSlots{
		RootCNodeCap: desc.Slots.RootCNodeCap,
		RootVNodeCap: desc.Slots.RootVNodeCap,
		TcbCap:       desc.Slots.TcbCap,
		InitUntyped:  desc.Slots.InitUntyped,
	})

	if log != nil {
		log.Infof("bootstrapped kernel: radix=%d untyped_bits=%d quantum=%d",
			desc.Global.CNode_Radix_Bits, desc.Global.Untyped_Size_Bits, desc.Global.Scheduler_Quantum)
	}

	return &Harness{Kernel: k, Mem: mem, Log: log, Boot: boot, Desc: desc}, nil
}

// Close unmaps the harness's simulated physical memory.
func (h *Harness) Close() error {
	return h.Mem.Close()
}

// Step dispatches one trap for t and logs the resulting response.
func (h *Harness) Step(t *kernel.TCB) *kernel.TCB {
	next := h.Kernel.Dispatch(t)
	if h.Log != nil {
		resp := kernel.DecodeRespInfo(t.TF.MR[0])
		h.Log.Debugf("dispatch pc=%#x -> err=%d", t.TF.PC, resp.Err)
	}
	return next
}

// TrapRequest is one pending syscall entry submitted by a simulated
// caller. Done, if non-nil, is closed once the request has been
// dispatched.
type TrapRequest struct {
	TCB  *kernel.TCB
	Done chan<- struct{}
}

// RunPump fans TrapRequests from any number of concurrently-producing
// sources onto the single dispatcher goroutine allowed to call
// Dispatch, modeling concurrent user-space callers without ever
// letting the kernel itself be entered from two goroutines at once
// (§5). It returns once every source channel is closed, or the first
// error from a source, or ctx is cancelled.
func (h *Harness) RunPump(ctx context.Context, sources ...<-chan TrapRequest) error {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	merged := make(chan TrapRequest)
	g, gctx := errgroup.WithContext(gctx)

	for _, src := range sources {
		src := src
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case req, ok := <-src:
					if !ok {
						return nil
					}
					select {
					case merged <- req:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
		})
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		for {
			select {
			case <-gctx.Done():
				return
			case req := <-merged:
				h.Step(req.TCB)
				if req.Done != nil {
					close(req.Done)
				}
			}
		}
	}()

	err := g.Wait()
	cancel() // every source drained (or one failed); stop the dispatcher too
	<-dispatcherDone
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
