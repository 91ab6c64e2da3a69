//go:build trace

// Package tracing wraps runtime/trace. Builds without the trace tag keep
// only the flight recorder; every other call is a no-op.
package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

var traceFile *os.File

// Start writes an execution trace of the whole run to path.
func Start(path string) error {
	if path == "" {
		path = "trace.out"
	}
	var err error
	traceFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := trace.Start(traceFile); err != nil {
		traceFile.Close()
		traceFile = nil
		return err
	}
	return nil
}

// Stop stops runtime tracing and closes the trace file.
func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
		traceFile = nil
	}
}

// StartTask begins a trace task, one per scanned root.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

func StartRegion(ctx context.Context, name string) func() {
	region := trace.StartRegion(ctx, name)
	return region.End
}

// Log adds a trace event with the provided category and message.
func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
