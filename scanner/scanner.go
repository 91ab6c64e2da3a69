// Package scanner walks a directory tree and reports every regular file whose
// digest is in a known-bad set.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hashsweep/hasher"
	"hashsweep/logger"
	"hashsweep/signatures"
	"hashsweep/tracing"
	"hashsweep/utils"

	"golang.org/x/time/rate"
)

// DefaultFuzzyMinSize is the smallest file given a fuzzy digest. TLSH cannot
// summarise inputs much shorter than this.
const DefaultFuzzyMinSize = 256

type Options struct {
	Signatures *signatures.Set
	// Hash.Algorithm defaults to the set's algorithm and must match it.
	Hash   hasher.Options
	Filter *utils.PathFilter
	// MaxFileSize skips larger files when positive.
	MaxFileSize int64
	// MaxIOPerSecond limits how many files are opened per second when positive.
	MaxIOPerSecond int
	// FlagTypes lists header-detected extensions (exe, elf, zip, ...) to flag.
	FlagTypes    []string
	Fuzzy        bool
	FuzzyMinSize int64
	FuzzyMaxSize int64
}

// Scanner is safe for concurrent use. Walks started by Scan and Stream run
// one at a time; CountFiles may run alongside them.
type Scanner struct {
	set         *signatures.Set
	hashOpts    hasher.Options
	filter      *utils.PathFilter
	maxFileSize int64
	limiter     *rate.Limiter
	flagTypes   map[string]struct{}

	fuzzyAlgorithms []string
	fuzzyMinSize    int64
	fuzzyMaxSize    int64

	running   sync.Mutex
	processed atomic.Int64
	current   atomic.Pointer[string]

	mu      sync.Mutex
	summary Summary
	live    Summary
}

func New(opts Options) (*Scanner, error) {
	if opts.Signatures == nil {
		return nil, errors.New("scanner: no signature set")
	}
	hashOpts := opts.Hash
	hashOpts.Algorithm = strings.ToLower(strings.TrimSpace(hashOpts.Algorithm))
	if hashOpts.Algorithm == "" {
		hashOpts.Algorithm = opts.Signatures.Algorithm()
	}
	if hashOpts.Algorithm != opts.Signatures.Algorithm() {
		return nil, fmt.Errorf("scanner: algorithm %s does not match signature set algorithm %s",
			hashOpts.Algorithm, opts.Signatures.Algorithm())
	}
	if _, err := hasher.New(hashOpts.Algorithm); err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}
	if hashOpts.ChunkSize < 0 {
		return nil, fmt.Errorf("scanner: invalid chunk size %d", hashOpts.ChunkSize)
	}
	hashOpts.HeadBytes = headerSize

	s := &Scanner{
		set:          opts.Signatures,
		hashOpts:     hashOpts,
		filter:       opts.Filter,
		maxFileSize:  opts.MaxFileSize,
		flagTypes:    make(map[string]struct{}),
		fuzzyMinSize: opts.FuzzyMinSize,
		fuzzyMaxSize: opts.FuzzyMaxSize,
	}
	if s.filter == nil {
		s.filter = utils.NewPathFilter(nil, nil)
	}
	if opts.MaxIOPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxIOPerSecond), opts.MaxIOPerSecond)
	}
	for _, t := range opts.FlagTypes {
		t = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), ".")
		if t != "" {
			s.flagTypes[t] = struct{}{}
		}
	}
	if opts.Fuzzy {
		if opts.Signatures.HasFuzzy() {
			s.fuzzyAlgorithms = opts.Signatures.FuzzyAlgorithms()
		} else {
			logger.Info("Fuzzy matching enabled but no fuzzy signatures are loaded")
		}
	}
	if s.fuzzyMinSize <= 0 {
		s.fuzzyMinSize = DefaultFuzzyMinSize
	}
	return s, nil
}

// Scan returns the absolute paths beneath root whose digest is known-bad, in
// walk order. A cancelled scan returns the matches found so far together with
// the context's error.
func (s *Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	matches := []string{}
	err = s.run(ctx, abs, func(ev Event) error {
		if ev.Matched {
			matches = append(matches, ev.Path)
		}
		return nil
	})
	return matches, err
}

// Stream validates root and then walks it in a background goroutine, sending
// one Event per file. The channel is unbuffered and is closed when the walk
// finishes or ctx is cancelled.
func (s *Scanner) Stream(ctx context.Context, root string) (<-chan Event, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	events := make(chan Event)
	go func() {
		defer close(events)
		err := s.run(ctx, abs, func(ev Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Warnf("Error walking path %s: %v", abs, err)
		}
	}()
	return events, nil
}

// CountFiles returns how many files a scan of root would visit, applying the
// same filters without hashing anything.
func (s *Scanner) CountFiles(ctx context.Context, root string) (int, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return 0, err
	}
	total := 0
	err = s.walkFiles(ctx, abs, nil, func(string, fs.FileInfo, error) error {
		total++
		return nil
	})
	return total, err
}

// Processed is the number of files handled by the current or last walk.
func (s *Scanner) Processed() int64 {
	return s.processed.Load()
}

// Current is the path of the file most recently handed to the hasher.
func (s *Scanner) Current() string {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return ""
}

// Progress returns the counters of the walk in progress, or of the last walk
// once it has finished.
func (s *Scanner) Progress() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Summary returns the counters of the last completed walk.
func (s *Scanner) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Scanner) run(ctx context.Context, root string, emit func(Event) error) error {
	s.running.Lock()
	defer s.running.Unlock()
	s.processed.Store(0)

	ctx, endTask := tracing.StartTask(ctx, "scan_root")
	defer endTask()
	tracing.Log(ctx, "root", root)

	summary := Summary{Root: root, Algorithm: s.hashOpts.Algorithm}
	s.publish(summary)
	start := time.Now()
	err := s.walkFiles(ctx, root, &summary, func(path string, info fs.FileInfo, statErr error) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				// Wait fails early when the deadline would pass first.
				<-ctx.Done()
				return ctx.Err()
			}
		}
		s.current.Store(&path)
		ev := s.processFile(ctx, path, info, statErr)
		summary.record(ev)
		s.publish(summary)
		s.processed.Add(1)
		return emit(ev)
	})
	summary.Duration = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			summary.Cancelled = true
		}
	}

	s.mu.Lock()
	s.summary = summary
	s.live = summary
	s.mu.Unlock()
	return err
}

func (s *Scanner) publish(summary Summary) {
	s.mu.Lock()
	s.live = summary
	s.mu.Unlock()
}

type visitFunc func(path string, info fs.FileInfo, statErr error) error

// walkFiles calls visit for every file a scan should hash. visit receives a
// non-nil statErr when the file was listed but could not be examined.
func (s *Scanner) walkFiles(ctx context.Context, root string, summary *Summary, visit visitFunc) error {
	return walkLexical(ctx, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return invalidPath(path, err)
			}
			if path == root {
				return unreadable("scan", root, err)
			}
			logger.Warnf("Failed to access %s: %v", path, err)
			if summary != nil {
				summary.SkippedDirs++
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !s.filter.ShouldDescend(path) {
				return fs.SkipDir
			}
			return nil
		}
		if !s.filter.ShouldInclude(path) {
			return nil
		}
		info, ok, statErr := s.candidate(path, d)
		if !ok {
			return nil
		}
		return visit(path, info, statErr)
	})
}

// candidate resolves the file info for a directory entry and reports whether
// the entry should be hashed. Symlinks are followed to regular files only;
// devices, pipes and sockets are skipped.
func (s *Scanner) candidate(path string, d fs.DirEntry) (fs.FileInfo, bool, error) {
	var (
		info fs.FileInfo
		err  error
	)
	switch mode := d.Type(); {
	case mode.IsRegular():
		info, err = d.Info()
	case mode&fs.ModeSymlink != 0:
		info, err = os.Stat(path)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	if info.IsDir() {
		logger.Debugf("Not following directory link %s", path)
		return nil, false, nil
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}
	if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
		logger.Debugf("Skipping %s: %d bytes exceeds max file size", path, info.Size())
		return nil, false, nil
	}
	return info, true, nil
}

func resolveRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", invalidPath(root, errors.New("empty path"))
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", invalidPath(root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", invalidPath(abs, err)
	}
	if !info.IsDir() {
		return "", invalidPath(abs, errNotDirectory)
	}
	if err := checkListable(abs); err != nil {
		return "", unreadable("scan", abs, err)
	}
	return abs, nil
}

// checkListable reads one entry of dir so an unreadable root fails before a
// walk starts.
func checkListable(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
