package output

import (
	"time"

	"hashsweep/scanner"
	"hashsweep/systeminfo"
)

// SchemaVersion is stamped on every record so consumers can detect layout changes.
const SchemaVersion = "1.0.0"

const (
	RecordScanStart  = "scan_start"
	RecordDetection  = "detection"
	RecordFlagged    = "flagged"
	RecordSimilar    = "similar"
	RecordUnreadable = "unreadable"
	RecordSummary    = "summary"
)

// Record is one NDJSON line.
type Record struct {
	RecordType    string `json:"record_type"`
	SchemaVersion string `json:"schema_version"`
	Timestamp     string `json:"timestamp"`
	Payload       any    `json:"payload"`
}

type StartRecord struct {
	Version         string              `json:"version"`
	StartTime       string              `json:"start_time"`
	Roots           []string            `json:"roots"`
	Algorithm       string              `json:"algorithm"`
	Signatures      int                 `json:"signatures"`
	FuzzySignatures bool                `json:"fuzzy_signatures"`
	Host            systeminfo.HostInfo `json:"host"`
}

// FileRecord describes a file that is worth reporting.
type FileRecord struct {
	Path      string              `json:"path"`
	Size      int64               `json:"size"`
	Algorithm string              `json:"algorithm,omitempty"`
	Digest    string              `json:"digest,omitempty"`
	Signature string              `json:"signature,omitempty"`
	FileType  string              `json:"file_type,omitempty"`
	MIME      string              `json:"mime_type,omitempty"`
	Similar   *scanner.Similarity `json:"similar,omitempty"`
	Times     *scanner.FileTimes  `json:"times,omitempty"`
	FileID    string              `json:"file_id,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type SummaryRecord struct {
	scanner.Summary
	StartTime      string   `json:"start_time"`
	EndTime        string   `json:"end_time"`
	Roots          []string `json:"roots"`
	TotalFiles     int      `json:"total_files,omitempty"`
	RecordsWritten int64    `json:"records_written"`
}

func newFileRecord(ev scanner.Event) FileRecord {
	rec := FileRecord{
		Path:      ev.Path,
		Size:      ev.Size,
		Algorithm: ev.Algorithm,
		Digest:    ev.Digest,
		Signature: ev.Signature,
		FileType:  ev.FileType,
		MIME:      ev.MIME,
		Similar:   ev.Similar,
		Times:     ev.Times,
		FileID:    ev.FileID,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}

// recordTypes lists the records an event produces. Clean files produce none.
func recordTypes(ev scanner.Event) []string {
	if ev.Err != nil {
		return []string{RecordUnreadable}
	}
	var types []string
	if ev.Matched {
		types = append(types, RecordDetection)
	}
	if ev.Flagged {
		types = append(types, RecordFlagged)
	}
	if ev.Similar != nil {
		types = append(types, RecordSimilar)
	}
	return types
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
