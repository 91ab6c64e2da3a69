package signatures

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hashsweep/logger"

	"gopkg.in/yaml.v3"
)

// Built-in md5 entries: the EICAR test file and the string "test".
var builtin = []Entry{
	{Digest: "44d88612fea8a8f36de82e1278abb02f", Name: "EICAR-Test-File"},
	{Digest: "098f6bcd4621d373cade4e832627b4f6", Name: "Sample-Test-String"},
}

const builtinAlgorithm = "md5"

type yamlDatabase struct {
	Algorithm  string       `yaml:"algorithm"`
	Signatures []Entry      `yaml:"signatures"`
	Fuzzy      []FuzzyEntry `yaml:"fuzzy"`
}

// Default returns the built-in md5 set.
func Default() *Set {
	set, err := Load(builtinAlgorithm, true)
	if err != nil {
		// The built-in entries are constants; failure here is a programming error.
		panic(err)
	}
	return set
}

// Load builds a set for algorithm from the given database files. Built-in
// entries are included when withBuiltin is set and the algorithm is md5.
func Load(algorithm string, withBuiltin bool, paths ...string) (*Set, error) {
	b, err := NewBuilder(algorithm)
	if err != nil {
		return nil, err
	}
	if withBuiltin {
		if b.algorithm == builtinAlgorithm {
			for _, entry := range builtin {
				if err := b.Add(entry.Digest, entry.Name); err != nil {
					return nil, err
				}
			}
		} else {
			logger.Debugf("Built-in signatures are %s; skipping for %s scans", builtinAlgorithm, b.algorithm)
		}
	}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := b.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// LoadFile merges one database file, choosing the parser by extension.
func (b *Builder) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read signature file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return b.loadYAML(path, data)
	default:
		return b.loadText(path, data)
	}
}

func (b *Builder) loadYAML(path string, data []byte) error {
	var db yamlDatabase
	if err := yaml.Unmarshal(data, &db); err != nil {
		return fmt.Errorf("invalid signature file %s: %w", path, err)
	}
	if algo := strings.ToLower(strings.TrimSpace(db.Algorithm)); algo != "" && algo != b.algorithm {
		return fmt.Errorf("signature file %s uses %s, scan uses %s", path, algo, b.algorithm)
	}
	added := 0
	for i, entry := range db.Signatures {
		if err := b.Add(entry.Digest, entry.Name); err != nil {
			logger.Warnf("Skipping signature %d in %s: %v", i+1, path, err)
			continue
		}
		added++
	}
	for i, entry := range db.Fuzzy {
		if err := b.AddFuzzy(entry); err != nil {
			logger.Warnf("Skipping fuzzy signature %d in %s: %v", i+1, path, err)
		}
	}
	logger.Debugf("Loaded %d signatures and %d fuzzy entries from %s", added, len(db.Fuzzy), path)
	return nil
}

// loadText reads one digest per line with an optional name after whitespace.
// Blank lines and lines starting with '#' are ignored.
func (b *Builder) loadText(path string, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	added := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if err := b.Add(fields[0], strings.Join(fields[1:], " ")); err != nil {
			logger.Warnf("Skipping %s:%d: %v", path, lineNo, err)
			continue
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading signature file %s: %w", path, err)
	}
	logger.Debugf("Loaded %d signatures from %s", added, path)
	return nil
}
