package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hashsweep/config"
	"hashsweep/logger"
	"hashsweep/scanner"
)

func init() {
	logger.Init("error")
}

type ndjsonTestRecord struct {
	RecordType    string          `json:"record_type"`
	SchemaVersion string          `json:"schema_version"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

func testStart() StartRecord {
	return StartRecord{Version: "test", StartTime: timestamp(), Roots: []string{"/scan"}, Algorithm: "md5"}
}

func TestOutputLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	cfg := &config.Config{OutputFileName: path, OutputFormat: "json"}
	w, err := New(cfg, testStart())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	w.WriteEvent(scanner.Event{Path: "/scan/clean.txt", Size: 3, Digest: "aaa", Algorithm: "md5"})
	w.WriteEvent(scanner.Event{Path: "/scan/bad.bin", Size: 4, Digest: "bbb", Algorithm: "md5", Matched: true, Signature: "Sample"})
	w.WriteEvent(scanner.Event{Path: "/scan/locked", Err: errors.New("denied")})
	w.WriteSummary(SummaryRecord{Summary: scanner.Summary{FilesSeen: 3, Matched: 1, Unreadable: 1}})
	w.Close()

	records := readNDJSONRecords(t, path)
	var types []string
	for _, rec := range records {
		if rec.SchemaVersion != SchemaVersion {
			t.Fatalf("unexpected schema version: %s", rec.SchemaVersion)
		}
		if _, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err != nil {
			t.Fatalf("bad timestamp %q: %v", rec.Timestamp, err)
		}
		types = append(types, rec.RecordType)
	}
	want := []string{RecordScanStart, RecordDetection, RecordUnreadable, RecordSummary}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected record types %v", types)
	}

	var detection FileRecord
	if err := json.Unmarshal(records[1].Payload, &detection); err != nil {
		t.Fatalf("decode detection: %v", err)
	}
	if detection.Path != "/scan/bad.bin" || detection.Signature != "Sample" || detection.Digest != "bbb" {
		t.Fatalf("unexpected detection payload %+v", detection)
	}

	var summary SummaryRecord
	if err := json.Unmarshal(records[3].Payload, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RecordsWritten != 4 {
		t.Fatalf("expected records_written=4, got %d", summary.RecordsWritten)
	}
	if w.FilesSeen() != 3 {
		t.Fatalf("expected FilesSeen=3, got %d", w.FilesSeen())
	}
	if info, err := os.Stat(path); err != nil || info.Mode().Perm() != 0600 {
		t.Fatalf("expected 0600 report file, got %v %v", info, err)
	}
}

func TestEventProducesOneRecordPerFinding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	w, err := New(&config.Config{OutputFileName: path}, testStart())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	w.WriteEvent(scanner.Event{
		Path:     "/scan/tool.exe",
		Matched:  true,
		Flagged:  true,
		FileType: "exe",
		Similar:  &scanner.Similarity{Algorithm: "tlsh", Name: "Family-X"},
	})
	w.Close()

	records := readNDJSONRecords(t, path)
	if len(records) != 4 {
		t.Fatalf("expected start plus three records, got %d", len(records))
	}
	for i, want := range []string{RecordDetection, RecordFlagged, RecordSimilar} {
		if records[i+1].RecordType != want {
			t.Fatalf("record %d: expected %s, got %s", i+1, want, records[i+1].RecordType)
		}
	}
}

func TestCSVOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	w, err := New(&config.Config{OutputFileName: path, OutputFormat: "CSV"}, testStart())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	w.WriteEvent(scanner.Event{
		Path:      "/scan/bad, file.bin",
		Size:      12,
		Digest:    "bbb",
		Algorithm: "md5",
		Matched:   true,
		Similar:   &scanner.Similarity{Name: "Family-X", Distance: 9},
	})
	w.WriteSummary(SummaryRecord{})
	w.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header, start, detection, similar and summary rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	detection := rows[2]
	if detection[0] != RecordDetection || detection[3] != "/scan/bad, file.bin" || detection[4] != "12" || detection[6] != "bbb" {
		t.Fatalf("unexpected detection row %v", detection)
	}
	if detection[10] != "Family-X" || detection[11] != "9" {
		t.Fatalf("unexpected similarity columns %v", detection)
	}
	if rows[1][0] != RecordScanStart || !strings.Contains(rows[1][13], `"algorithm":"md5"`) {
		t.Fatalf("expected start payload column, got %v", rows[1])
	}
	if rows[4][0] != RecordSummary {
		t.Fatalf("expected summary last, got %v", rows[4])
	}
}

func TestWriteEventConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.ndjson")
	w, err := New(&config.Config{OutputFileName: path}, testStart())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.WriteEvent(scanner.Event{Path: fmt.Sprintf("/scan/file-%d", i), Matched: true})
		}(i)
	}
	wg.Wait()
	w.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := range 5 {
		if !strings.Contains(string(content), fmt.Sprintf("file-%d", i)) {
			t.Fatalf("missing entry %d", i)
		}
	}
	if w.RecordsWritten() != 6 {
		t.Fatalf("expected 6 records, got %d", w.RecordsWritten())
	}
}

func TestOutputRotation(t *testing.T) {
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "out.ndjson")
	w, err := New(&config.Config{OutputFileName: base, MaxOutputFileSize: 300}, testStart())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	long := strings.Repeat("a", 150)
	for i := 0; i < 5; i++ {
		w.WriteEvent(scanner.Event{Path: "/scan/" + long, Matched: true})
	}
	w.Close()

	if _, err := os.Stat(base); err != nil {
		t.Fatalf("missing base file: %v", err)
	}
	rotated := strings.TrimSuffix(base, ".ndjson") + ".1.ndjson"
	if _, err := os.Stat(rotated); err != nil {
		t.Fatalf("rotation file not created")
	}
	records := readNDJSONRecords(t, rotated)
	if len(records) == 0 || records[0].RecordType != RecordScanStart {
		t.Fatal("rotated file should open with a scan_start record")
	}
}

func TestNoFileKeepsCounters(t *testing.T) {
	w, err := New(&config.Config{}, testStart())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	w.WriteEvent(scanner.Event{Path: "/scan/a", Matched: true})
	w.WriteSummary(SummaryRecord{})
	w.Close()
	if w.FilesSeen() != 1 {
		t.Fatalf("expected FilesSeen=1, got %d", w.FilesSeen())
	}
	if w.RecordsWritten() != 0 {
		t.Fatalf("expected no records without a file, got %d", w.RecordsWritten())
	}
}

func TestNewFailsOnUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.ndjson")
	if _, err := New(&config.Config{OutputFileName: path}, testStart()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestShouldSync(t *testing.T) {
	w := &Writer{}
	if !w.shouldSync() {
		t.Fatal("expected sync before the first flush")
	}

	w.lastSyncAt = time.Now()
	w.recordsSinceSync = flushEveryRecords
	if !w.shouldSync() {
		t.Fatal("expected sync at flush threshold")
	}

	w.recordsSinceSync = 2
	w.lastSyncAt = time.Now().Add(-flushMaxInterval - time.Millisecond)
	if !w.shouldSync() {
		t.Fatal("expected time-based sync")
	}

	w.recordsSinceSync = 2
	w.lastSyncAt = time.Now()
	if w.shouldSync() {
		t.Fatal("expected no sync when below thresholds")
	}
}

func TestRecordTypes(t *testing.T) {
	if got := recordTypes(scanner.Event{Path: "x"}); len(got) != 0 {
		t.Fatalf("clean file should produce nothing, got %v", got)
	}
	got := recordTypes(scanner.Event{Matched: true, Err: errors.New("x")})
	if len(got) != 1 || got[0] != RecordUnreadable {
		t.Fatalf("unreadable files only produce an unreadable record, got %v", got)
	}
}

func readNDJSONRecords(t *testing.T, path string) []ndjsonTestRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var records []ndjsonTestRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec ndjsonTestRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode ndjson: %v", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan ndjson: %v", err)
	}
	return records
}
