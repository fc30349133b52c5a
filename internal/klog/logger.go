/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package klog provides the structured diagnostic logger used by the
// simulation harness and CLI tools. The kernel package itself never
// imports klog or performs I/O; klog exists entirely outside the
// kernel-entry discipline so it can take locks and block freely.
package klog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/google/uuid"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case OFF:
		return `OFF`
	case DEBUG:
		return `DEBUG`
	case INFO:
		return `INFO`
	case WARN:
		return `WARN`
	case ERROR:
		return `ERROR`
	case CRITICAL:
		return `CRITICAL`
	}
	return `UNKNOWN`
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

var ErrNotOpen = errors.New("logger is not open")

// Relay receives every formatted log line alongside its timestamp and
// level, in addition to any writer. Ring implements Relay so a harness
// run can keep an in-memory postmortem trail without touching disk.
type Relay interface {
	WriteLog(ts time.Time, lvl Level, line []byte) error
}

// Logger is a structured RFC5424 logger identified by a per-run UUID,
// standing in for the kernel's boot/session identity in every emitted
// record.
type Logger struct {
	mtx   sync.Mutex
	wtrs  []io.WriteCloser
	rls   []Relay
	lvl   Level
	runID uuid.UUID
	hot   bool
}

// New wraps wtr as a logger's sole writer, tagging every record with a
// freshly generated run identifier.
func New(wtr io.WriteCloser) *Logger {
	return &Logger{
		wtrs:  []io.WriteCloser{wtr},
		lvl:   INFO,
		runID: uuid.New(),
		hot:   true,
	}
}

// NewStderr is the default harness/CLI logger: RFC5424 lines to stderr.
func NewStderr() *Logger {
	return New(os.Stderr)
}

func (l *Logger) RunID() uuid.UUID {
	return l.runID
}

func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot {
		return ErrNotOpen
	}
	l.hot = false
	for _, w := range l.wtrs {
		if lerr := w.Close(); lerr != nil {
			err = lerr
		}
	}
	return
}

func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("nil writer")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

func (l *Logger) AddRelay(r Relay) error {
	if r == nil {
		return errors.New("nil relay")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.rls = append(l.rls, r)
	return nil
}

func (l *Logger) SetLevel(lvl Level) {
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
}

func (l *Logger) Debugf(f string, args ...interface{}) { l.outputf(DEBUG, f, args...) }
func (l *Logger) Infof(f string, args ...interface{})  { l.outputf(INFO, f, args...) }
func (l *Logger) Warnf(f string, args ...interface{})  { l.outputf(WARN, f, args...) }
func (l *Logger) Errorf(f string, args ...interface{}) { l.outputf(ERROR, f, args...) }
func (l *Logger) Criticalf(f string, args ...interface{}) {
	l.outputf(CRITICAL, f, args...)
}

func (l *Logger) outputf(lvl Level, f string, args ...interface{}) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot || l.lvl == OFF || lvl < l.lvl {
		return
	}
	ts := time.Now()
	msg := fmt.Sprintf(f, args...)
	line, err := genRFCMessage(ts, lvl.priority(), l.runID.String(), msg)
	if err != nil {
		return
	}
	for _, w := range l.wtrs {
		io.WriteString(w, string(line))
		io.WriteString(w, "\n")
	}
	for _, r := range l.rls {
		r.WriteLog(ts, lvl, line)
	}
}

func genRFCMessage(ts time.Time, prio rfc5424.Priority, runID, msg string) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  "capkernel",
		AppName:   "ksim",
		MessageID: trimLength(32, strings.ReplaceAll(runID, "-", "")),
		Message:   []byte(msg),
	}
	return m.MarshalBinary()
}

func trimLength(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
