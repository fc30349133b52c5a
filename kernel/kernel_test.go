package kernel

import (
	"github.com/blackforge-systems/capkernel/cap"
)

// newTestKernel builds a kernel with one big Untyped region already
// registered and a root CNode slot to retype into, without going
// through the boot/CSpace-resolve path — tests below exercise
// Resolve() separately where it matters.
func newTestKernel(quantum int) (*Kernel, *Slot, *Slot) {
	k := New(Config{Quantum: quantum})

	rootCN := k.newCNode(0x1000, 8) // 256 slots
	rootSlot := &Slot{Cap: cap.NewCNode(0x1000, 8, 0, 0)}

	untypedSlot := &Slot{Cap: cap.NewUntyped(0x10_0000, 24)} // 16MiB region
	_ = rootCN
	return k, rootSlot, untypedSlot
}

func (k *Kernel) testRootCNode(rootSlot *Slot) *CNode {
	return k.cnodeFor(rootSlot.Cap)
}
