/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package klog

import (
	"bytes"
	"strings"
	"testing"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func newBufLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(nopCloser{&buf}), &buf
}

func TestInfofWritesRFC5424Line(t *testing.T) {
	lgr, buf := newBufLogger()
	lgr.Infof("retyped %d objects", 4)
	if !strings.Contains(buf.String(), "retyped 4 objects") {
		t.Fatalf("log output missing message: %q", buf.String())
	}
	if !strings.Contains(buf.String(), lgr.RunID().String()[:8]) {
		t.Fatalf("log output missing run id: %q", buf.String())
	}
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	lgr, buf := newBufLogger()
	lgr.SetLevel(WARN)
	lgr.Infof("should not appear")
	lgr.Warnf("should appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Fatalf("INFO line was not filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("WARN line missing: %q", buf.String())
	}
}

func TestAddRelayReceivesEveryLine(t *testing.T) {
	lgr, _ := newBufLogger()
	ring := NewRing(4)
	if err := lgr.AddRelay(ring); err != nil {
		t.Fatal(err)
	}
	lgr.Errorf("vspace table miss at level %d", 2)
	snap := ring.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 relayed event, got %d", len(snap))
	}
	if snap[0].Level != ERROR {
		t.Fatalf("expected ERROR level, got %v", snap[0].Level)
	}
}

func TestCloseStopsFurtherWrites(t *testing.T) {
	lgr, buf := newBufLogger()
	if err := lgr.Close(); err != nil {
		t.Fatal(err)
	}
	lgr.Criticalf("after close")
	if buf.Len() != 0 {
		t.Fatalf("expected no output after Close, got %q", buf.String())
	}
}
