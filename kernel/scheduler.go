/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

// EnqueueReady appends t to the scheduler's FIFO ready queue and marks
// it Ready (§4.3), refilling its timeslice to the quantum. If t is
// already on a queue it is detached from that queue first.
func (k *Kernel) EnqueueReady(t *TCB) {
	if t.onQueue != queueNone {
		k.detachFromAnyQueue(t)
	}
	t.state = Ready
	t.timeslice = k.quantum
	t.elem = k.ready.PushBack(t)
	t.onQueue = queueReady
}

// Schedule pops the head of the ready queue and activates it,
// installing its VSpace (ASID switch + TLB invalidation) and
// returning the activated thread, whose TrapFrame is the one to
// restore (§4.3). If the ready queue is empty, the idle thread is
// activated.
func (k *Kernel) Schedule() *TCB {
	var next *TCB
	if e := k.ready.Front(); e != nil {
		k.ready.Remove(e)
		next = e.Value.(*TCB)
		next.onQueue = queueNone
		next.elem = nil
	} else {
		next = k.idle
	}
	k.activate(next)
	return next
}

// activate records t as the current thread and performs the
// address-space switch (§4.3). It does not store an activation
// register value; ActivationRegister computes (cpuid<<48)|thread_id
// from a thread on request. The idle thread has no VSpace, so
// switching to it is a silent no-op (DESIGN NOTES "Idle thread").
func (k *Kernel) activate(t *TCB) {
	k.current = t
	if t.isIdle {
		return
	}
	k.SwitchVSpace(t)
}

// ActivationRegister computes the per-CPU user-readable value written
// on activation (§4.3).
func (k *Kernel) ActivationRegister(t *TCB) uint64 {
	return uint64(k.curCPU)<<48 | t.ThreadID()
}

// Tick accounts elapsed ticks against the current thread's timeslice
// using saturating subtraction (§4.3). When the slice reaches zero,
// the thread is moved to the ready queue tail, its slice refilled to
// the fixed quantum, and the scheduler re-invoked.
func (k *Kernel) Tick(elapsed int) *TCB {
	t := k.current
	if t == nil || t.isIdle || t.state != Ready {
		// only Ready threads accumulate/lose timeslice per the state
		// table in §4.3; Sending/Receiving/Fault threads are immune
		// to preemption since they are not runnable.
		return t
	}
	if t.timeslice > elapsed {
		t.timeslice -= elapsed
		return t
	}
	t.timeslice = 0
	k.EnqueueReady(t)
	return k.Schedule()
}
