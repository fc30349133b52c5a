/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package bootcfg loads the INI-style boot descriptor that tells the
// simulation harness how to stand up a first process: how much
// Untyped memory to carve the boot CSpace/VSpace out of, and which
// fixed slot indices the boot CNode places its initial capabilities
// in. It is harness/test plumbing, not a bootloader.
package bootcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gravwell/gcfg"
)

const maxDescriptorSize int64 = 1 * 1024 * 1024

var (
	ErrDescriptorTooLarge = errors.New("boot descriptor is too large")
	ErrFailedRead         = errors.New("failed to read entire boot descriptor")
)

// Global holds the scenario-wide boot parameters, mirroring the
// [global] section of an ingester config.
type Global struct {
	Untyped_Size_Bits  uint8
	CNode_Radix_Bits   uint8
	Boot_Frame_Count   int
	Scheduler_Quantum  int
	Log_Level          string
}

// BootSlots fixes the initial process's root-CNode layout: the
// well-known indices the bootloader places TcbCap, RootCNodeCap,
// RootVNodeCap, and InitUntyped at, so a harness scenario can refer to
// them by name instead of a magic slot number.
type BootSlots struct {
	RootCNodeCap int
	RootVNodeCap int
	TcbCap       int
	InitUntyped  int
	Stdio        int
}

// Descriptor is the root of a boot descriptor file.
type Descriptor struct {
	Global Global
	Slots  BootSlots
}

// Default returns the descriptor used when no file is supplied,
// sized generously enough for any scenario in the test suite.
func Default() Descriptor {
	return Descriptor{
		Global: Global{
			Untyped_Size_Bits: 24,
			CNode_Radix_Bits:  8,
			Boot_Frame_Count:  16,
			Scheduler_Quantum: 5,
			Log_Level:         "INFO",
		},
		Slots: BootSlots{
			RootCNodeCap: 0,
			RootVNodeCap: 1,
			TcbCap:       2,
			InitUntyped:  3,
			Stdio:        4,
		},
	}
}

// LoadFile reads and parses a boot descriptor from path.
func LoadFile(path string) (d Descriptor, err error) {
	var fin *os.File
	var fi os.FileInfo
	if fin, err = os.Open(path); err != nil {
		return
	}
	defer fin.Close()
	if fi, err = fin.Stat(); err != nil {
		return
	} else if fi.Size() > maxDescriptorSize {
		err = ErrDescriptorTooLarge
		return
	}
	bb := bytes.NewBuffer(nil)
	var n int64
	if n, err = io.Copy(bb, fin); err != nil {
		return
	} else if n != fi.Size() {
		err = ErrFailedRead
		return
	}
	return LoadBytes(bb.Bytes())
}

// LoadBytes parses a boot descriptor already read into memory, layering
// it on top of Default() so a scenario file only needs to override the
// fields it cares about.
func LoadBytes(b []byte) (d Descriptor, err error) {
	if int64(len(b)) > maxDescriptorSize {
		return d, ErrDescriptorTooLarge
	}
	d = Default()
	if err = gcfg.ReadStringInto(&d, string(b)); err != nil {
		err = fmt.Errorf("boot descriptor parse: %w", err)
	}
	return
}
