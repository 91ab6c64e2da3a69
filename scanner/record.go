package scanner

import "time"

// Event describes one regular file visited by a walk.
type Event struct {
	Path      string
	Size      int64
	Digest    string
	Algorithm string
	Matched   bool
	// Signature is the name of the matching known-bad entry, if it has one.
	Signature string
	FileType  string
	MIME      string
	Flagged   bool
	Similar   *Similarity
	Times     *FileTimes
	// FileID identifies the underlying file across hard links and renames.
	FileID string
	// Err wraps ErrFileUnreadable when the file could not be hashed.
	Err error
}

// Similarity is the closest fuzzy entry within its distance bound.
type Similarity struct {
	Algorithm string `json:"algorithm"`
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	Distance  int    `json:"distance"`
}

// Summary holds the counters of one walk.
type Summary struct {
	Root        string        `json:"root,omitempty"`
	Algorithm   string        `json:"algorithm"`
	FilesSeen   int64         `json:"files_seen"`
	FilesHashed int64         `json:"files_hashed"`
	Unreadable  int64         `json:"unreadable"`
	Matched     int64         `json:"matched"`
	Flagged     int64         `json:"flagged"`
	Similar     int64         `json:"similar"`
	BytesHashed int64         `json:"bytes_hashed"`
	SkippedDirs int64         `json:"skipped_dirs"`
	Duration    time.Duration `json:"duration_ns"`
	Cancelled   bool          `json:"cancelled,omitempty"`
}

func (s *Summary) record(ev Event) {
	s.FilesSeen++
	if ev.Err != nil {
		s.Unreadable++
		return
	}
	s.FilesHashed++
	s.BytesHashed += ev.Size
	if ev.Matched {
		s.Matched++
	}
	if ev.Flagged {
		s.Flagged++
	}
	if ev.Similar != nil {
		s.Similar++
	}
}

// Merge adds the counters of other into s. Root is cleared when the two
// summaries cover different roots.
func (s *Summary) Merge(other Summary) {
	if s.Root != other.Root {
		s.Root = ""
	}
	if s.Algorithm == "" {
		s.Algorithm = other.Algorithm
	}
	s.FilesSeen += other.FilesSeen
	s.FilesHashed += other.FilesHashed
	s.Unreadable += other.Unreadable
	s.Matched += other.Matched
	s.Flagged += other.Flagged
	s.Similar += other.Similar
	s.BytesHashed += other.BytesHashed
	s.SkippedDirs += other.SkippedDirs
	s.Duration += other.Duration
	s.Cancelled = s.Cancelled || other.Cancelled
}
