// Package output writes the scan report as NDJSON or CSV, rotating files by
// size, and mirrors every record to OTLP when an endpoint is configured.
package output

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hashsweep/config"
	"hashsweep/logger"
	"hashsweep/scanner"
)

const (
	flushEveryRecords = 64
	flushMaxInterval  = 2 * time.Second
)

var csvHeader = []string{
	"record_type",
	"schema_version",
	"timestamp",
	"path",
	"size",
	"algorithm",
	"digest",
	"signature",
	"file_type",
	"mime_type",
	"similar_name",
	"similar_distance",
	"error",
	"payload",
}

type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	csvw    *csv.Writer
	otel    *otelLogger
	start   *StartRecord
	base    string
	ext     string
	index   int
	format  string
	maxSize int64
	written int64

	recordsSinceSync int
	lastSyncAt       time.Time

	filesSeen      atomic.Int64
	recordsWritten atomic.Int64
}

// New opens the report file and writes the scan_start record. An empty output
// file name disables the file but keeps OTLP export.
func New(cfg *config.Config, start StartRecord) (*Writer, error) {
	w := &Writer{
		format: strings.ToLower(cfg.OutputFormat),
		start:  &start,
	}
	if w.format == "" {
		w.format = "json"
	}
	w.maxSize = cfg.MaxOutputFileSize

	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}

	if name := strings.TrimSpace(cfg.OutputFileName); name != "" {
		w.ext = filepath.Ext(name)
		w.base = strings.TrimSuffix(name, w.ext)
		if err := w.openFile(); err != nil {
			return nil, err
		}
	}
	w.otel.Emit(RecordScanStart, start)
	return w, nil
}

func (w *Writer) openFile() error {
	name := w.base + w.ext
	if w.index > 0 {
		name = fmt.Sprintf("%s.%d%s", w.base, w.index, w.ext)
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening report %s: %w", name, err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 64*1024)
	w.csvw = nil
	w.written = 0

	if w.format == "csv" {
		w.csvw = csv.NewWriter(w.buf)
		if err := w.csvw.Write(csvHeader); err != nil {
			return err
		}
	}
	if w.start != nil {
		if err := w.writeLocked(RecordScanStart, *w.start); err != nil {
			return err
		}
	}
	w.flush()
	return nil
}

// WriteEvent records one scanned file. Clean files are only counted.
func (w *Writer) WriteEvent(ev scanner.Event) {
	w.filesSeen.Add(1)
	types := recordTypes(ev)
	if len(types) == 0 {
		return
	}
	rec := newFileRecord(ev)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, recordType := range types {
		if err := w.writeLocked(recordType, rec); err != nil {
			logger.Warnf("Failed to write %s record for %s: %v", recordType, ev.Path, err)
		}
		w.otel.Emit(recordType, rec)
	}
	if ev.Matched || w.shouldSync() {
		w.flush()
	}
	w.rotateIfNeeded()
}

// WriteSummary records the end-of-scan counters.
func (w *Writer) WriteSummary(sum SummaryRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sum.RecordsWritten = w.recordsWritten.Load()
	if w.buf != nil {
		sum.RecordsWritten++
	}
	if err := w.writeLocked(RecordSummary, sum); err != nil {
		logger.Warnf("Failed to write summary record: %v", err)
	}
	w.otel.Emit(RecordSummary, sum)
	w.flush()
}

// FilesSeen is the number of events passed to WriteEvent.
func (w *Writer) FilesSeen() int64 {
	return w.filesSeen.Load()
}

// RecordsWritten counts records written to report files, across rotations.
func (w *Writer) RecordsWritten() int64 {
	return w.recordsWritten.Load()
}

func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeFile()
	if w.otel != nil {
		w.otel.Shutdown()
		w.otel = nil
	}
}

func (w *Writer) writeLocked(recordType string, payload any) error {
	if w.buf == nil {
		return nil
	}
	var (
		n   int
		err error
	)
	if w.csvw != nil {
		n, err = w.writeCSVRow(recordType, payload)
	} else {
		n, err = w.writeJSONLine(recordType, payload)
	}
	if err != nil {
		return err
	}
	w.written += int64(n)
	w.recordsSinceSync++
	w.recordsWritten.Add(1)
	return nil
}

func (w *Writer) writeJSONLine(recordType string, payload any) (int, error) {
	line, err := jsonMarshal(Record{
		RecordType:    recordType,
		SchemaVersion: SchemaVersion,
		Timestamp:     timestamp(),
		Payload:       payload,
	})
	if err != nil {
		return 0, err
	}
	line = append(line, '\n')
	return w.buf.Write(line)
}

func (w *Writer) writeCSVRow(recordType string, payload any) (int, error) {
	row := make([]string, len(csvHeader))
	row[0] = recordType
	row[1] = SchemaVersion
	row[2] = timestamp()
	if rec, ok := payload.(FileRecord); ok {
		row[3] = rec.Path
		row[4] = strconv.FormatInt(rec.Size, 10)
		row[5] = rec.Algorithm
		row[6] = rec.Digest
		row[7] = rec.Signature
		row[8] = rec.FileType
		row[9] = rec.MIME
		if rec.Similar != nil {
			row[10] = rec.Similar.Name
			row[11] = strconv.Itoa(rec.Similar.Distance)
		}
		row[12] = rec.Error
	} else {
		row[13] = jsonString(payload)
	}
	if err := w.csvw.Write(row); err != nil {
		return 0, err
	}
	n := len(row)
	for _, field := range row {
		n += len(field)
	}
	return n, nil
}

// shouldSync flushes when nothing was flushed yet, every flushEveryRecords
// records, and at least every flushMaxInterval.
func (w *Writer) shouldSync() bool {
	if w.lastSyncAt.IsZero() || w.recordsSinceSync >= flushEveryRecords {
		return true
	}
	return time.Since(w.lastSyncAt) >= flushMaxInterval
}

func (w *Writer) rotateIfNeeded() {
	if w.file == nil || w.maxSize <= 0 || w.written < w.maxSize {
		return
	}
	w.closeFile()
	w.index++
	if err := w.openFile(); err != nil {
		logger.Errorf("Report rotation failed, further records are dropped: %v", err)
		w.file, w.buf, w.csvw = nil, nil, nil
	}
}

func (w *Writer) closeFile() {
	if w.file == nil {
		return
	}
	w.flush()
	_ = w.file.Sync()
	_ = w.file.Close()
	w.file, w.buf, w.csvw = nil, nil, nil
}

func (w *Writer) flush() {
	if w.csvw != nil {
		w.csvw.Flush()
	}
	if w.buf != nil {
		_ = w.buf.Flush()
	}
	w.recordsSinceSync = 0
	w.lastSyncAt = time.Now()
}

func jsonString(value any) string {
	if value == nil {
		return ""
	}
	bytes, err := jsonMarshal(value)
	if err != nil {
		return ""
	}
	return string(bytes)
}
