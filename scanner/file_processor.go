package scanner

import (
	"context"
	"io/fs"

	"hashsweep/fuzzy"
	"hashsweep/hasher"
	"hashsweep/logger"
	"hashsweep/tracing"

	"github.com/h2non/filetype"
)

// headerSize is the number of leading bytes filetype needs to classify
// every type it knows.
const headerSize = 261

func (s *Scanner) processFile(ctx context.Context, path string, info fs.FileInfo, statErr error) Event {
	defer tracing.StartRegion(ctx, "process_file")()

	ev := Event{Path: path, Algorithm: s.hashOpts.Algorithm}
	if statErr != nil {
		ev.Err = unreadable("stat", path, statErr)
		logger.Warnf("Skipping unreadable file %s: %v", path, statErr)
		return ev
	}
	ev.Size = info.Size()

	res, err := hasher.Sum(path, s.hashOpts)
	if err != nil {
		ev.Err = unreadable("hash", path, err)
		logger.Warnf("Skipping unreadable file %s: %v", path, err)
		return ev
	}
	ev.Digest, ev.Size = res.Digest, res.Size

	if name, ok := s.set.Lookup(res.Digest); ok {
		ev.Matched = true
		ev.Signature = name
		logger.Debugf("Known-bad digest %s at %s", res.Digest, path)
	}

	ev.FileType, ev.MIME = classify(res.Head)
	if ev.FileType != "" {
		_, ev.Flagged = s.flagTypes[ev.FileType]
	}

	ev.Similar = s.similarity(ctx, path, ev.Size)

	if ev.Matched || ev.Flagged || ev.Similar != nil {
		ts, err := fileTimes(path)
		if err != nil {
			logger.Debugf("Failed to read file times for %s: %v", path, err)
		} else {
			ev.Times = ts
		}
		ev.FileID = fileID(path, info)
	}
	return ev
}

// classify returns the extension and MIME type detected from a file header.
func classify(head []byte) (string, string) {
	if len(head) == 0 {
		return "", ""
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "", ""
	}
	return kind.Extension, kind.MIME.Value
}

func (s *Scanner) similarity(ctx context.Context, path string, size int64) *Similarity {
	if len(s.fuzzyAlgorithms) == 0 || size < s.fuzzyMinSize {
		return nil
	}
	if s.fuzzyMaxSize > 0 && size > s.fuzzyMaxSize {
		return nil
	}
	defer tracing.StartRegion(ctx, "fuzzy_hash")()

	var best *Similarity
	for _, name := range s.fuzzyAlgorithms {
		h, ok := fuzzy.Lookup(name)
		if !ok {
			continue
		}
		digest, err := h.HashFile(path)
		if err != nil {
			logger.Debugf("Fuzzy hash %s failed for %s: %v", name, path, err)
			continue
		}
		entry, distance, ok := s.set.Similar(name, digest)
		if !ok {
			continue
		}
		if best == nil || distance < best.Distance {
			best = &Similarity{Algorithm: name, Name: entry.Name, Digest: digest, Distance: distance}
		}
	}
	return best
}
