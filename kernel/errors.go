/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package kernel

import "fmt"

// Errno is the closed error enumeration of §7. Kernel operations never
// unwind; every fallible operation returns one of these values and
// leaves the system in a consistent state.
type Errno uint8

const (
	OK Errno = iota
	ErrCSpaceLookup
	ErrGuardMismatch
	ErrSlotNotEmpty
	ErrSlotIsEmpty
	ErrInvalidCapability
	ErrInvalidArgument
	ErrNotEnoughMemory
	ErrWouldBlock
	ErrVSpaceTableMiss
	ErrVSpaceSlotOccupied
	ErrVSpaceSlotTypeError
	ErrAlignmentError
	ErrCancelled
)

func (e Errno) String() string {
	switch e {
	case OK:
		return "OK"
	case ErrCSpaceLookup:
		return "CSpaceLookup"
	case ErrGuardMismatch:
		return "GuardMismatch"
	case ErrSlotNotEmpty:
		return "SlotNotEmpty"
	case ErrSlotIsEmpty:
		return "SlotIsEmpty"
	case ErrInvalidCapability:
		return "InvalidCapability"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNotEnoughMemory:
		return "NotEnoughMemory"
	case ErrWouldBlock:
		return "WouldBlock"
	case ErrVSpaceTableMiss:
		return "VSpaceTableMiss"
	case ErrVSpaceSlotOccupied:
		return "VSpaceSlotOccupied"
	case ErrVSpaceSlotTypeError:
		return "VSpaceSlotTypeError"
	case ErrAlignmentError:
		return "AlignmentError"
	case ErrCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Errno(%d)", uint8(e))
	}
}

func (e Errno) Error() string { return e.String() }

// TableMissDetail carries the missing page-table level alongside
// VSpaceTableMiss (§4.6, §8 scenario 6), since RespInfo only has 8
// bits for the error code itself; the level rides in the MR the way
// the teacher's StateResponse carries an ID plus an Info string
// instead of squeezing detail into one field.
type TableMissDetail struct {
	Level uint8
}
