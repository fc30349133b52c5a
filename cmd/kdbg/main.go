/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command kdbg is a TUI debug console that attaches to a harness and
// renders the boot CNode's capability layout, the boot thread's state,
// and a live log pane, with a single keystroke to step the boot thread
// through one more trap.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/blackforge-systems/capkernel/internal/bootcfg"
	"github.com/blackforge-systems/capkernel/internal/harness"
	"github.com/blackforge-systems/capkernel/internal/klog"
	"github.com/blackforge-systems/capkernel/kernel"
)

var bootFile = flag.String("boot-descriptor", "", "path to an INI boot descriptor; default boot image is used if empty")

var (
	app     *tview.Application
	cspace  *tview.TextView
	threads *tview.TextView
	logPane *logViewer
	help    *tview.TextView

	h *harness.Harness
)

type logViewer struct {
	*tview.TextView
}

func (v *logViewer) Close() error { return nil }

func newLogViewer(v *tview.TextView) *logViewer {
	return &logViewer{v}
}

func main() {
	flag.Parse()

	desc := bootcfg.Default()
	if *bootFile != "" {
		var err error
		if desc, err = bootcfg.LoadFile(*bootFile); err != nil {
			fmt.Fprintf(os.Stderr, "kdbg: failed to load boot descriptor: %v\n", err)
			os.Exit(1)
		}
	}

	lgr := klog.NewStderr()
	var err error
	if h, err = harness.New(desc, lgr); err != nil {
		fmt.Fprintf(os.Stderr, "kdbg: failed to build harness: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	app = tview.NewApplication()
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		case tcell.KeyCtrlS:
			stepBootThread()
		case tcell.KeyCtrlR:
			refresh()
		}
		return event
	})

	cspace = tview.NewTextView().SetDynamicColors(true).SetChangedFunc(func() { app.Draw() })
	cspace.SetBorder(true).SetTitle("Root CNode")

	threads = tview.NewTextView().SetDynamicColors(true).SetChangedFunc(func() { app.Draw() })
	threads.SetBorder(true).SetTitle("Threads")

	logPane = newLogViewer(tview.NewTextView().SetChangedFunc(func() { app.Draw() }))
	logPane.SetBorder(true).SetTitle("Log")
	logPane.ScrollToEnd()
	lgr.AddWriter(logPane)

	help = tview.NewTextView().SetChangedFunc(func() { app.Draw() })
	help.SetBorder(true).SetTitle("Help")
	help.Write([]byte("Ctrl-S: step boot thread    Ctrl-R: refresh panes    Ctrl-C: quit"))

	grid := tview.NewGrid().
		SetRows(0, 0, 4).
		SetColumns(0, 0).
		AddItem(cspace, 0, 0, 1, 1, 0, 0, true).
		AddItem(threads, 0, 1, 1, 1, 0, 0, false).
		AddItem(logPane, 1, 0, 1, 2, 0, 0, false).
		AddItem(help, 2, 0, 1, 2, 0, 0, false)

	refresh()
	if err := app.SetRoot(grid, true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "kdbg: %v\n", err)
		os.Exit(1)
	}
}

func stepBootThread() {
	h.Step(h.Boot.TCB)
	refresh()
}

func refresh() {
	cspace.Clear()
	cn := h.Boot.RootCNode
	for i := range cn.Entries {
		c := cn.Entries[i].Cap
		if c.IsNull() {
			continue
		}
		fmt.Fprintf(cspace, "[%3d] %-12s paddr=%#x\n", i, c.Type(), c.PAddr())
	}

	threads.Clear()
	t := h.Boot.TCB
	fmt.Fprintf(threads, "boot thread id=%d state=%s\n", t.ThreadID(), stateString(t.State()))
}

func stateString(s kernel.ThreadState) string {
	return s.String()
}
