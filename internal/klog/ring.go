/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package klog

import (
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Event is one recorded line in the postmortem ring.
type Event struct {
	Time  time.Time
	Level Level
	Line  []byte
}

// Ring is a fixed-capacity circular buffer of the most recent Events,
// overwriting the oldest entry once full. It is driven entirely from
// the harness's single dispatch loop (§5's no-concurrent-kernel-entry
// discipline means there is never more than one writer at a time), so
// it carries no lock of its own.
type Ring struct {
	buf   []Event
	next  int
	count int
}

// NewRing allocates a ring holding up to n events.
func NewRing(n int) *Ring {
	if n <= 0 {
		n = 1
	}
	return &Ring{buf: make([]Event, n)}
}

// WriteLog implements Relay, letting a Ring be registered directly on
// a Logger via AddRelay and receive every emitted line for free.
func (r *Ring) WriteLog(ts time.Time, lvl Level, line []byte) error {
	r.Record(Event{Time: ts, Level: lvl, Line: append([]byte(nil), line...)})
	return nil
}

// Record appends e, evicting the oldest event if the ring is full.
func (r *Ring) Record(e Event) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the ring's contents in chronological order.
func (r *Ring) Snapshot() []Event {
	out := make([]Event, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Flush writes every recorded event to w as zstd-compressed RFC5424
// lines, for the harness to save a postmortem trace after a scripted
// run finishes or a scenario aborts on an unexpected Errno.
func (r *Ring) Flush(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	for _, e := range r.Snapshot() {
		if _, err := enc.Write(e.Line); err != nil {
			enc.Close()
			return err
		}
		if _, err := enc.Write([]byte("\n")); err != nil {
			enc.Close()
			return err
		}
	}
	return enc.Close()
}
