package cap

// Type-specific constructors and view helpers. Each kernel object type
// packs its extra fields differently into byteA (Lo[56:64)) and Hi;
// this file is the single place that knows the per-type layout, the
// way the teacher's entry package centralizes its header layout in
// DecodeHeader rather than scattering bit math across callers.

// ---- Untyped ----

// NewUntyped builds an Untyped capability over a region of 2^sizeBits
// bytes starting at paddr, with watermark initialized to zero (no
// bytes consumed yet).
func NewUntyped(paddr uint64, sizeBits uint8) Raw {
	return newRaw(Untyped, paddr, sizeBits, 0)
}

func (r Raw) UntypedSizeBits() uint8 { return r.byteA() }

func (r Raw) UntypedWatermark() uint64 { return r.Hi }

// WithWatermark returns a copy of r with the watermark advanced to
// newWatermark (bytes consumed from the region's base).
func (r Raw) WithWatermark(newWatermark uint64) Raw {
	r.Hi = newWatermark
	return r
}

func (r Raw) UntypedSize() uint64 { return uint64(1) << r.UntypedSizeBits() }

func (r Raw) UntypedRemaining() uint64 { return r.UntypedSize() - r.UntypedWatermark() }

// ---- CNode ----

const (
	guardLenBits  = 6
	guardLenMask  = (uint64(1) << guardLenBits) - 1
	guardValShift = guardLenBits
)

// NewCNode builds a CNode capability: radix is log2 of the slot count,
// guardBits/guardVal describe the guard consumed during CSpace
// resolution (§4.1).
func NewCNode(paddr uint64, radix uint8, guardBits uint8, guardVal uint64) Raw {
	hi := (uint64(guardBits) & guardLenMask) | (guardVal << guardValShift)
	return newRaw(CNode, paddr, radix, hi)
}

func (r Raw) CNodeRadix() uint8 { return r.byteA() }

func (r Raw) CNodeGuardBits() uint8 { return uint8(r.Hi & guardLenMask) }

func (r Raw) CNodeGuardValue() uint64 { return r.Hi >> guardValShift }

// ---- Endpoint / Notification ----

// NewEndpoint builds an Endpoint capability; badge 0 means unbadged.
func NewEndpoint(paddr uint64, badge uint64) Raw { return newRaw(Endpoint, paddr, 0, badge) }

// NewNotification builds a Notification capability; badge 0 means unbadged.
func NewNotification(paddr uint64, badge uint64) Raw { return newRaw(Notification, paddr, 0, badge) }

func (r Raw) Badge() uint64 { return r.Hi }

func (r Raw) Badged() bool { return r.Hi != 0 }

// WithBadge returns a copy of r with a new badge — used by derive/mint
// when the destination narrows or assigns a badge (§4.1).
func (r Raw) WithBadge(badge uint64) Raw {
	r.Hi = badge
	return r
}

// ---- TCB ----

func NewTcb(paddr uint64) Raw { return newRaw(Tcb, paddr, 0, 0) }

// ThreadID returns the globally unique thread id derived from the
// TCB's base physical address (§6): bits [47:10] of the address.
func (r Raw) ThreadID() uint64 { return r.PAddr() >> TCBSizeBits }

// ---- Reply ----

// NewReply mints a single-use Reply capability pointing at the
// waiting TCB's physical address (§4.4 Call).
func NewReply(waitingTCBPAddr uint64) Raw { return newRaw(Reply, waitingTCBPAddr, 0, 0) }

func (r Raw) ReplyWaitingTCB() uint64 { return r.PAddr() }

// Zeroed returns the Null capability — used to consume a Reply cap
// after it wakes its caller (§4.4).
func Zeroed() Raw { return Raw{} }

// ---- Frame ----

const (
	vaddrBits  = 48
	vaddrMask  = (uint64(1) << vaddrBits) - 1
	asidShift  = vaddrBits
	permsShift = 0
	permsMask  = 0x7
)

// NewFrame builds an unmapped Frame capability of the given
// permissions; paddr is the backing physical page.
func NewFrame(paddr uint64, perms Perms) Raw {
	return newRaw(Frame, paddr, uint8(perms)&permsMask, 0)
}

func (r Raw) FramePerms() Perms { return Perms(r.byteA() & permsMask) }

func (r Raw) Mapped() bool { return r.Hi != 0 }

func (r Raw) MappedVAddr() uint64 { return r.Hi & vaddrMask }

func (r Raw) MappedASID() uint16 { return uint16(r.Hi >> asidShift) }

// WithMapping returns a copy of r recording it as installed at
// (vaddr, asid) — see Open Question in spec.md §9: the ASID recorded
// here is the ASID of the VSpace this frame is mapped into at this
// vaddr, not an intrinsic property of the frame; mapping into a
// second VSpace requires an explicit unmap first.
func (r Raw) WithMapping(vaddr uint64, asid uint16) Raw {
	r.Hi = (vaddr & vaddrMask) | uint64(asid)<<asidShift
	return r
}

func (r Raw) Unmapped() Raw {
	r.Hi = 0
	return r
}

func (r Raw) WithPerms(p Perms) Raw {
	r.Lo = (r.Lo &^ (uint64(permsMask) << byteAShift)) | uint64(p&permsMask)<<byteAShift
	return r
}

// ---- VTable ----

// NewVTable builds an unmapped intermediate page-table capability at
// the given tree level (0=PGD..3=PTE, §4.6).
func NewVTable(paddr uint64, level uint8) Raw {
	return newRaw(VTable, paddr, level, 0)
}

func (r Raw) VTableLevel() uint8 { return r.byteA() }

func (r Raw) VTableMappedVAddr() uint64 { return r.Hi & vaddrMask }

func (r Raw) VTableMappedASID() uint16 { return uint16(r.Hi >> asidShift) }

func (r Raw) VTableWithMapping(vaddr uint64, asid uint16) Raw {
	r.Hi = (vaddr & vaddrMask) | uint64(asid)<<asidShift
	return r
}

// WithVTableLevel returns a copy of r with its tree level changed —
// used by map_table, which is where a freshly retyped VTable object
// (level unset) learns the level it is being installed at (§4.6).
func (r Raw) WithVTableLevel(level uint8) Raw {
	r.Lo = (r.Lo &^ (uint64(0xFF) << byteAShift)) | uint64(level)<<byteAShift
	return r
}

// CNodeSlotSizeBits is log2 of a capability slot's size in bytes. A
// Raw is two uint64 words: 16 bytes, so 2^4.
const CNodeSlotSizeBits = 4
