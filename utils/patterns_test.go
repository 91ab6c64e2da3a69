package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	filter := NewPathFilter(nil, nil)
	if !filter.ShouldInclude("file.txt") {
		t.Fatal("expected include by default")
	}
	filter = NewPathFilter([]string{"*.exe"}, nil)
	if filter.ShouldInclude("/data/file.txt") {
		t.Fatal("should not include unmatched include pattern")
	}
	if !filter.ShouldInclude("/data/setup.exe") {
		t.Fatal("should include matching include pattern")
	}
	filter = NewPathFilter(nil, []string{"secret.*"})
	if filter.ShouldInclude("/data/secret.txt") {
		t.Fatal("should exclude matching exclude pattern")
	}
	if !filter.ShouldInclude("/data/notes.txt") {
		t.Fatal("should include when exclude does not match")
	}
	filter = NewPathFilter([]string{`re:.*file\.go$`}, nil)
	if !filter.ShouldInclude("path/to/file.go") {
		t.Fatal("should match regex include pattern")
	}
}

func TestShouldDescend(t *testing.T) {
	filter := NewPathFilter([]string{"*.bin"}, []string{".git", `re:/node_modules$`})
	if filter.ShouldDescend("/repo/.git") {
		t.Fatal(".git should be pruned")
	}
	if filter.ShouldDescend("/repo/web/node_modules") {
		t.Fatal("node_modules should be pruned")
	}
	if !filter.ShouldDescend("/repo/src") {
		t.Fatal("include patterns must not prune directories")
	}
	var nilFilter *PathFilter
	if !nilFilter.ShouldDescend("/x") || !nilFilter.ShouldInclude("/x") {
		t.Fatal("nil filter allows everything")
	}
}

func TestInvalidPatternsIgnored(t *testing.T) {
	filter := NewPathFilter([]string{"re:(", "[", "  "}, nil)
	if !filter.ShouldInclude("/anything") {
		t.Fatal("invalid include patterns should be dropped, leaving no include constraint")
	}
}
