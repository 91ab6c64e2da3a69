package utils

import (
	"path/filepath"
	"regexp"
	"strings"

	"hashsweep/logger"
)

const regexPrefix = "re:"

// PathFilter decides which files are hashed and which directories are
// descended into. Patterns prefixed with "re:" are regular expressions matched
// against the full path; all others are globs matched against the base name.
type PathFilter struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
}

func NewPathFilter(includePatterns, excludePatterns []string) *PathFilter {
	f := &PathFilter{}
	f.includeGlobs, f.includeRegex = splitPatterns(includePatterns)
	f.excludeGlobs, f.excludeRegex = splitPatterns(excludePatterns)
	return f
}

// ShouldInclude reports whether a file should be hashed.
func (f *PathFilter) ShouldInclude(path string) bool {
	if f == nil {
		return true
	}
	if (len(f.includeGlobs) > 0 || len(f.includeRegex) > 0) && !matches(path, f.includeGlobs, f.includeRegex) {
		return false
	}
	return !f.excluded(path)
}

// ShouldDescend reports whether a directory should be walked. Include patterns
// only apply to files, so only exclusions prune directories.
func (f *PathFilter) ShouldDescend(path string) bool {
	if f == nil {
		return true
	}
	return !f.excluded(path)
}

func (f *PathFilter) excluded(path string) bool {
	return (len(f.excludeGlobs) > 0 || len(f.excludeRegex) > 0) && matches(path, f.excludeGlobs, f.excludeRegex)
}

func matches(path string, globs []string, regexes []*regexp.Regexp) bool {
	base := filepath.Base(path)
	for _, pattern := range globs {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func splitPatterns(patterns []string) ([]string, []*regexp.Regexp) {
	var (
		globs   []string
		regexes []*regexp.Regexp
	)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(pattern, regexPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				logger.Warnf("Ignoring invalid pattern %q: %v", pattern, err)
				continue
			}
			regexes = append(regexes, re)
			continue
		}
		if _, err := filepath.Match(pattern, ""); err != nil {
			logger.Warnf("Ignoring invalid glob %q: %v", pattern, err)
			continue
		}
		globs = append(globs, pattern)
	}
	return globs, regexes
}
