// Package signatures holds the immutable set of known-bad digests a scan is
// compared against.
package signatures

import (
	"fmt"
	"sort"
	"strings"

	"hashsweep/fuzzy"
	"hashsweep/hasher"

	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"
)

// Entry is a single known-bad digest.
type Entry struct {
	Digest string `yaml:"digest" json:"digest"`
	Name   string `yaml:"name" json:"name,omitempty"`
}

// FuzzyEntry matches files whose similarity digest is within MaxDistance.
type FuzzyEntry struct {
	Algorithm   string `yaml:"algorithm" json:"algorithm,omitempty"`
	Digest      string `yaml:"tlsh" json:"tlsh"`
	Name        string `yaml:"name" json:"name,omitempty"`
	MaxDistance int    `yaml:"max_distance" json:"max_distance,omitempty"`
}

// DefaultMaxDistance applies to fuzzy entries that do not set one.
const DefaultMaxDistance = 30

// Set is read-only after construction and safe for concurrent use.
type Set struct {
	algorithm string
	names     map[string]string
	filter    *xorfilter.Xor8
	fuzzy     []FuzzyEntry
}

// Builder accumulates entries before freezing them into a Set.
type Builder struct {
	algorithm string
	names     map[string]string
	fuzzy     []FuzzyEntry
}

func NewBuilder(algorithm string) (*Builder, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if hasher.DigestLength(algorithm) == 0 {
		return nil, fmt.Errorf("unsupported signature algorithm: %s", algorithm)
	}
	return &Builder{algorithm: algorithm, names: make(map[string]string)}, nil
}

// Add inserts a digest. It rejects anything that is not lowercase hex of the
// algorithm's digest length, since membership is an exact string match.
func (b *Builder) Add(digest, name string) error {
	digest = strings.TrimSpace(digest)
	if err := validateDigest(digest, b.algorithm); err != nil {
		return err
	}
	if existing, ok := b.names[digest]; ok && existing != "" && name == "" {
		return nil
	}
	b.names[digest] = name
	return nil
}

// AddFuzzy inserts a similarity entry after checking its algorithm is known.
func (b *Builder) AddFuzzy(entry FuzzyEntry) error {
	if entry.Algorithm == "" {
		entry.Algorithm = "tlsh"
	}
	entry.Algorithm = strings.ToLower(entry.Algorithm)
	if _, ok := fuzzy.Lookup(entry.Algorithm); !ok {
		return fmt.Errorf("unsupported fuzzy algorithm: %s", entry.Algorithm)
	}
	if strings.TrimSpace(entry.Digest) == "" {
		return fmt.Errorf("fuzzy entry %q has no digest", entry.Name)
	}
	if entry.MaxDistance <= 0 {
		entry.MaxDistance = DefaultMaxDistance
	}
	b.fuzzy = append(b.fuzzy, entry)
	return nil
}

func (b *Builder) Len() int { return len(b.names) }

// Build freezes the builder. The builder must not be reused afterwards.
func (b *Builder) Build() (*Set, error) {
	set := &Set{
		algorithm: b.algorithm,
		names:     b.names,
		fuzzy:     b.fuzzy,
	}
	if len(b.names) == 0 {
		return set, nil
	}
	seen := make(map[uint64]struct{}, len(b.names))
	keys := make([]uint64, 0, len(b.names))
	for digest := range b.names {
		key := xxhash.Sum64String(digest)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	filter, err := xorfilter.Populate(keys)
	if err != nil {
		return nil, fmt.Errorf("building signature filter: %w", err)
	}
	set.filter = filter
	return set, nil
}

// Algorithm is the digest algorithm all entries were produced with.
func (s *Set) Algorithm() string {
	if s == nil {
		return ""
	}
	return s.algorithm
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Contains reports whether digest is a known-bad entry.
func (s *Set) Contains(digest string) bool {
	_, ok := s.Lookup(digest)
	return ok
}

// Lookup returns the entry name for digest and whether it is present.
func (s *Set) Lookup(digest string) (string, bool) {
	if s == nil || s.filter == nil {
		return "", false
	}
	if !s.filter.Contains(xxhash.Sum64String(digest)) {
		return "", false
	}
	name, ok := s.names[digest]
	return name, ok
}

// Entries returns a sorted copy of the exact entries.
func (s *Set) Entries() []Entry {
	if s == nil {
		return nil
	}
	entries := make([]Entry, 0, len(s.names))
	for digest, name := range s.names {
		entries = append(entries, Entry{Digest: digest, Name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Digest < entries[j].Digest })
	return entries
}

// HasFuzzy reports whether any similarity entries are loaded.
func (s *Set) HasFuzzy() bool {
	return s != nil && len(s.fuzzy) > 0
}

// FuzzyAlgorithms lists the distinct similarity algorithms in use.
func (s *Set) FuzzyAlgorithms() []string {
	if s == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, entry := range s.fuzzy {
		if _, ok := seen[entry.Algorithm]; ok {
			continue
		}
		seen[entry.Algorithm] = struct{}{}
		out = append(out, entry.Algorithm)
	}
	sort.Strings(out)
	return out
}

// Similar returns the closest fuzzy entry of the given algorithm within its
// distance bound. Entries that cannot be compared are ignored.
func (s *Set) Similar(algorithm, digest string) (FuzzyEntry, int, bool) {
	if s == nil || digest == "" {
		return FuzzyEntry{}, 0, false
	}
	h, ok := fuzzy.Lookup(algorithm)
	if !ok {
		return FuzzyEntry{}, 0, false
	}
	var (
		best     FuzzyEntry
		bestDist int
		found    bool
	)
	for _, entry := range s.fuzzy {
		if entry.Algorithm != h.Name() {
			continue
		}
		d, err := h.Distance(digest, entry.Digest)
		if err != nil || d > entry.MaxDistance {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = entry, d, true
		}
	}
	return best, bestDist, found
}

func validateDigest(digest, algorithm string) error {
	want := hasher.DigestLength(algorithm)
	if len(digest) != want {
		return fmt.Errorf("digest %q has length %d, %s digests have %d", digest, len(digest), algorithm, want)
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
			return fmt.Errorf("digest %q contains uppercase hex; digests are compared case-sensitively in lowercase", digest)
		default:
			return fmt.Errorf("digest %q is not hexadecimal", digest)
		}
	}
	return nil
}
