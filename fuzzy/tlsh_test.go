package fuzzy

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeRandom(t *testing.T, dir, name string, seed int64, size int) string {
	t.Helper()
	buf := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(buf)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestTLSHRegistered(t *testing.T) {
	h, ok := Lookup("TLSH")
	if !ok {
		t.Fatal("tlsh should be registered")
	}
	if h.Name() != "tlsh" {
		t.Fatalf("unexpected name %s", h.Name())
	}
	if names := Available(); len(names) == 0 || names[0] != "tlsh" {
		t.Fatalf("unexpected available list %v", names)
	}
}

func TestTLSHDistanceIdentical(t *testing.T) {
	dir := t.TempDir()
	path := writeRandom(t, dir, "a.bin", 1, 4096)
	h := TLSHHasher{}
	digest, err := h.HashFile(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	d, err := h.Distance(digest, digest)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if d != 0 {
		t.Fatalf("expected zero distance for identical digests, got %d", d)
	}
}

func TestTLSHDistanceInvalid(t *testing.T) {
	if _, err := (TLSHHasher{}).Distance("not-a-digest", "also-not"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTLSHMissingFile(t *testing.T) {
	if _, err := (TLSHHasher{}).HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error")
	}
}
