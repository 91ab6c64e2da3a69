//go:build !trace

package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTraceStubNoOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.out")
	if err := Start(path); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	Stop()
	if _, err := os.Stat(path); err == nil {
		t.Fatal("stub Start must not create a trace file")
	}

	ctx, endTask := StartTask(context.Background(), "scan_root")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	endTask()

	endRegion := StartRegion(ctx, "process_file")
	endRegion()

	Log(ctx, "root", "/tmp")
}
