package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"hashsweep/signatures"
)

func BenchmarkCountDeepTree(b *testing.B) {
	root := b.TempDir()
	createDeepTree(b, root, 120, 6)
	benchmarkCount(b, root)
}

func BenchmarkCountWideTree(b *testing.B) {
	root := b.TempDir()
	createWideTree(b, root, 220, 5)
	benchmarkCount(b, root)
}

func BenchmarkScanWideTree(b *testing.B) {
	root := b.TempDir()
	createWideTree(b, root, 50, 20)
	s, err := New(Options{Signatures: signatures.Default()})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Scan(ctx, root); err != nil {
			b.Fatalf("scan failed: %v", err)
		}
	}
}

func benchmarkCount(b *testing.B, root string) {
	b.Helper()
	s, err := New(Options{Signatures: signatures.Default()})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		count, err := s.CountFiles(ctx, root)
		if err != nil {
			b.Fatalf("count failed: %v", err)
		}
		if count == 0 {
			b.Fatal("expected non-zero file count")
		}
	}
}

func createDeepTree(b *testing.B, root string, depth, filesPerLevel int) {
	b.Helper()
	current := root
	for d := 0; d < depth; d++ {
		current = filepath.Join(current, fmt.Sprintf("d-%03d", d))
		if err := os.MkdirAll(current, 0755); err != nil {
			b.Fatalf("mkdir: %v", err)
		}
		for f := 0; f < filesPerLevel; f++ {
			path := filepath.Join(current, fmt.Sprintf("file-%03d.txt", f))
			if err := os.WriteFile(path, []byte("benchmark"), 0644); err != nil {
				b.Fatalf("write: %v", err)
			}
		}
	}
}

func createWideTree(b *testing.B, root string, dirs, filesPerDir int) {
	b.Helper()
	for d := 0; d < dirs; d++ {
		dir := filepath.Join(root, fmt.Sprintf("w-%03d", d))
		if err := os.MkdirAll(dir, 0755); err != nil {
			b.Fatalf("mkdir: %v", err)
		}
		for f := 0; f < filesPerDir; f++ {
			path := filepath.Join(dir, fmt.Sprintf("file-%03d.txt", f))
			if err := os.WriteFile(path, []byte(fmt.Sprintf("benchmark %d/%d", d, f)), 0644); err != nil {
				b.Fatalf("write: %v", err)
			}
		}
	}
}
