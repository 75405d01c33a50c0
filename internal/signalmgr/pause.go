// Package signalmgr implements the pause/stop signal checks from
// spec.md §4.7: a filesystem marker's presence requests pause of all
// active tasks, and removal of the tracker bot's assignee requests stop
// of one task.
package signalmgr

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval bounds detection latency when fsnotify is unavailable, or
// as a safety net alongside it (advisory, idempotent checks tolerate
// missed events).
const pollInterval = 2 * time.Second

// PauseSignal checks for the presence of the pause-signal file. The
// check is primarily a poll — Check() always stats the file directly, so
// behavior is identical whether or not a watch backend is active — but
// Wait is augmented by fsnotify so a blocked consumer wakes within
// milliseconds of the file appearing instead of waiting out a full poll
// interval.
type PauseSignal struct {
	path    string
	watcher *fsnotify.Watcher // nil if fsnotify setup failed
}

// NewPauseSignal builds a PauseSignal for the given signal file path. If
// fsnotify watch setup fails (e.g. the parent directory doesn't exist
// yet, or too many watches are already open), it logs a warning and
// falls back to pure polling; this never returns an error because the
// poll-based check alone satisfies the spec's invariant.
func NewPauseSignal(path string) *PauseSignal {
	p := &PauseSignal{path: path}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("pause signal: fsnotify unavailable, falling back to polling", "error", err)
		return p
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		slog.Warn("pause signal: fsnotify watch setup failed, falling back to polling", "error", err)
		w.Close()
		return p
	}
	p.watcher = w
	return p
}

// Close releases the fsnotify watcher, if any.
func (p *PauseSignal) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}

// Check reports whether the pause-signal file currently exists. This is
// the authoritative check, called at every action boundary.
func (p *PauseSignal) Check() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// Stopped adapts Check to the broker.StopSignal interface so the consumer
// can pass a PauseSignal directly to Broker.GetWithSignalCheck: a pending
// pause request should interrupt a blocked broker wait the same way it
// interrupts an in-flight task.
func (p *PauseSignal) Stopped(ctx context.Context) bool {
	return p.Check()
}

// Wait blocks until the pause-signal file appears, ctx is done, or the
// poll interval elapses enough times to notice it — whichever comes
// first. Intended for the consumer's broker-wait loop, where an
// otherwise-long sleep should still notice pause promptly.
func (p *PauseSignal) Wait(ctx context.Context) bool {
	if p.Check() {
		return true
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if p.watcher != nil {
		events = p.watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if p.Check() {
				return true
			}
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if evt.Name == p.path && (evt.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				return true
			}
		}
	}
}
