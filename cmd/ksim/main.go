/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command ksim loads a boot descriptor, bootstraps a kernel, runs a
// small scripted Retype scenario against the boot thread, and writes
// the log lines kept in its postmortem event ring to stdout as a zstd
// stream.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/blackforge-systems/capkernel/cap"
	"github.com/blackforge-systems/capkernel/internal/bootcfg"
	"github.com/blackforge-systems/capkernel/internal/harness"
	"github.com/blackforge-systems/capkernel/internal/klog"
	"github.com/blackforge-systems/capkernel/kernel"
)

var (
	bootFile = flag.String("boot-descriptor", "", "path to an INI boot descriptor; default boot image is used if empty")
	logLevel = flag.String("log-level", "INFO", "ksim log level: OFF, DEBUG, INFO, WARN, ERROR, CRITICAL")
	ringSize = flag.Int("event-ring", 256, "number of recent log lines kept for the postmortem ring")
)

func main() {
	flag.Parse()

	desc := bootcfg.Default()
	if *bootFile != "" {
		var err error
		if desc, err = bootcfg.LoadFile(*bootFile); err != nil {
			fmt.Fprintf(os.Stderr, "ksim: failed to load boot descriptor: %v\n", err)
			os.Exit(1)
		}
	}

	lgr := klog.NewStderr()
	lvl, err := levelFromString(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ksim: %v\n", err)
		os.Exit(1)
	}
	lgr.SetLevel(lvl)

	ring := klog.NewRing(*ringSize)
	lgr.AddRelay(ring)

	runID := uuid.New()
	lgr.Infof("ksim run %s starting", runID)

	h, err := harness.New(desc, lgr)
	if err != nil {
		lgr.Criticalf("failed to build harness: %v", err)
		os.Exit(1)
	}
	defer h.Close()

	runScenario(h, lgr)

	if err := ring.Flush(os.Stdout); err != nil {
		lgr.Errorf("failed to flush event ring: %v", err)
	}
}

// runScenario retypes a single Endpoint out of the boot Untyped region
// into the next free root-CNode slot, the smallest possible
// demonstration of a full trap round trip through Dispatch.
func runScenario(h *harness.Harness, lgr *klog.Logger) {
	slots := h.Desc.Slots
	t := h.Boot.TCB

	dstOffset := slots.InitUntyped + 1
	info := kernel.MsgInfo{Label: uint16(kernel.LabelRetype)}
	t.TF.MR[0] = info.Encode()
	t.TF.MR[1] = uint64(slots.InitUntyped) << 56
	t.TF.MR[2] = uint64(cap.Endpoint)
	t.TF.MR[3] = uint64(cap.Endpoint.MinSizeBits())
	t.TF.MR[4] = 1
	t.TF.MR[5] = uint64(slots.RootCNodeCap) << 56
	t.TF.MR[6] = uint64(dstOffset)

	h.Step(t)
	resp := kernel.DecodeRespInfo(t.TF.MR[0])
	if resp.Err != kernel.OK {
		lgr.Criticalf("scenario retype failed: errno=%d", resp.Err)
		return
	}
	lgr.Infof("scenario retype succeeded: endpoint installed at slot %d", dstOffset)
}

func levelFromString(s string) (klog.Level, error) {
	switch s {
	case "OFF":
		return klog.OFF, nil
	case "DEBUG":
		return klog.DEBUG, nil
	case "INFO":
		return klog.INFO, nil
	case "WARN":
		return klog.WARN, nil
	case "ERROR":
		return klog.ERROR, nil
	case "CRITICAL":
		return klog.CRITICAL, nil
	}
	return klog.OFF, fmt.Errorf("invalid log level %q", s)
}
