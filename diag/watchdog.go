// Package diag watches a running scan and writes diagnostic artifacts when it
// stops advancing.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"hashsweep/logger"
)

const stallEvent = "scan_stalled"

// Snapshot is the scan state sampled on every tick. Processed is the counter
// the watchdog compares; the other fields only describe the stall.
type Snapshot struct {
	Root        string
	Path        string
	Processed   int64
	Matched     int64
	Unreadable  int64
	BytesHashed int64
}

type Options struct {
	// StallThreshold is how long Processed may stay unchanged before a report
	// is written. Zero disables the watchdog.
	StallThreshold time.Duration
	Dir            string
	// GoroutineLeak writes the goroutine stacks on Stop.
	GoroutineLeak bool
	Snapshot      func() Snapshot
	// WriteFlightTrace, when set, saves the flight recorder next to a report.
	WriteFlightTrace func(path string) error
	Clock            func() time.Time

	lookupProfile func(name string) profileWriter
}

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

// stallReport is written as JSON for every detected stall.
type stallReport struct {
	Event       string `json:"event"`
	DetectedAt  string `json:"detected_at"`
	Root        string `json:"root,omitempty"`
	Path        string `json:"current_path,omitempty"`
	Processed   int64  `json:"files_processed"`
	Matched     int64  `json:"matched"`
	Unreadable  int64  `json:"unreadable"`
	BytesHashed int64  `json:"bytes_hashed"`
	Threshold   string `json:"threshold"`
	StalledFor  string `json:"stalled_for"`
	Goroutines  int    `json:"goroutines"`
	Stacks      string `json:"goroutine_stacks,omitempty"`
	FlightTrace string `json:"flight_trace,omitempty"`
}

// Watchdog samples scan progress on a ticker. A nil Watchdog is inert.
type Watchdog struct {
	opts Options

	mu         sync.Mutex
	processed  int64
	changedAt  time.Time
	reportedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Watchdog {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.lookupProfile == nil {
		opts.lookupProfile = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	return &Watchdog{opts: opts}
}

// Start begins sampling until ctx is done or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.opts.StallThreshold <= 0 || w.opts.Snapshot == nil || w.cancel != nil {
		return
	}
	w.reset(w.opts.Snapshot().Processed, w.opts.Clock())

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(pollInterval(w.opts.StallThreshold))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check(w.opts.Clock())
			}
		}
	}()
}

// Stop ends sampling. With GoroutineLeak set it then saves the goroutines
// still alive, which should be only the caller's.
func (w *Watchdog) Stop() {
	if w == nil {
		return
	}
	if w.cancel != nil {
		w.cancel()
		<-w.done
		w.cancel = nil
	}
	if !w.opts.GoroutineLeak {
		return
	}
	path, err := w.writeStacks(w.opts.Clock())
	if err != nil {
		logger.Warnf("Failed to write goroutine stacks: %v", err)
		return
	}
	logger.Debugf("Goroutine stacks written to %s", path)
}

func pollInterval(threshold time.Duration) time.Duration {
	return min(max(threshold/4, 100*time.Millisecond), time.Second)
}

func (w *Watchdog) reset(processed int64, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processed = processed
	w.changedAt = now
	w.reportedAt = time.Time{}
}

// check samples progress once and reports whether a stall report was due. A
// stall is reported once per threshold while it lasts.
func (w *Watchdog) check(now time.Time) bool {
	if w == nil || w.opts.Snapshot == nil || w.opts.StallThreshold <= 0 {
		return false
	}
	snap := w.opts.Snapshot()

	w.mu.Lock()
	if snap.Processed != w.processed || w.changedAt.IsZero() {
		w.processed = snap.Processed
		w.changedAt = now
		w.mu.Unlock()
		return false
	}
	stalled := now.Sub(w.changedAt)
	due := stalled >= w.opts.StallThreshold &&
		(w.reportedAt.IsZero() || now.Sub(w.reportedAt) >= w.opts.StallThreshold)
	if due {
		w.reportedAt = now
	}
	w.mu.Unlock()
	if !due {
		return false
	}

	logger.WithField("root", snap.Root).
		Warnf("Scan stalled for %s at %s after %d files", stalled.Round(time.Millisecond), snap.Path, snap.Processed)
	path, err := w.report(now, snap, stalled)
	if err != nil {
		logger.Warnf("Failed to write stall report: %v", err)
	} else {
		logger.Infof("Stall report written to %s", path)
	}
	return true
}

func (w *Watchdog) report(now time.Time, snap Snapshot, stalled time.Duration) (string, error) {
	if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
		return "", err
	}
	rep := stallReport{
		Event:       stallEvent,
		DetectedAt:  now.UTC().Format(time.RFC3339Nano),
		Root:        snap.Root,
		Path:        snap.Path,
		Processed:   snap.Processed,
		Matched:     snap.Matched,
		Unreadable:  snap.Unreadable,
		BytesHashed: snap.BytesHashed,
		Threshold:   w.opts.StallThreshold.String(),
		StalledFor:  stalled.Round(time.Millisecond).String(),
		Goroutines:  runtime.NumGoroutine(),
	}
	if stacks, err := w.writeStacks(now); err != nil {
		logger.Warnf("Failed to write goroutine stacks: %v", err)
	} else {
		rep.Stacks = filepath.Base(stacks)
	}
	if w.opts.WriteFlightTrace != nil {
		trace := w.artifact("flight", now, ".out")
		if err := w.opts.WriteFlightTrace(trace); err != nil {
			logger.Warnf("Failed to write flight trace: %v", err)
		} else {
			rep.FlightTrace = filepath.Base(trace)
		}
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	path := w.artifact("stall", now, ".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}

// writeStacks saves every goroutine's stack in the text form panics use.
func (w *Watchdog) writeStacks(now time.Time) (string, error) {
	profile := w.opts.lookupProfile("goroutine")
	if profile == nil {
		return "", fmt.Errorf("goroutine profile unavailable")
	}
	if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
		return "", err
	}
	path := w.artifact("goroutines", now, ".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	if err := profile.WriteTo(f, 2); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func (w *Watchdog) artifact(kind string, now time.Time, ext string) string {
	name := fmt.Sprintf("hashsweep-%s-%s%s", kind, now.UTC().Format("20060102T150405.000"), ext)
	return filepath.Join(w.opts.Dir, name)
}
