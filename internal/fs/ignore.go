package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root file holding extra ignore patterns, one per line.
const IgnoreFileName = ".hyperignore"

// builtinIgnorePatterns are always applied.
var builtinIgnorePatterns = []string{IgnoreFileName}

// ignorePattern is a parsed glob with its matching strategy.
type ignorePattern struct {
	glob      string
	matchPath bool // against the root-relative path instead of the base name
}

// IgnoreMatcher decides which entries stay out of the index. Patterns
// without '/' match an entry's base name; patterns with '/' match its
// slash-separated path relative to the watched root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings plus the
// builtin ones. Blank lines, comments and malformed globs are dropped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range append(append([]string(nil), builtinIgnorePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if _, err := filepath.Match(raw, ""); err != nil {
			continue
		}
		m.patterns = append(m.patterns, ignorePattern{
			glob:      raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return m
}

// Patterns returns the active globs in the order they are tried.
func (m *IgnoreMatcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.glob
	}
	return out
}

// Match reports whether the entry at relativePath is ignored. A bare entry
// name is a valid relativePath.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	slashed := filepath.ToSlash(relativePath)
	base := filepath.Base(relativePath)

	for _, p := range m.patterns {
		target := base
		if p.matchPath {
			target = slashed
		}
		if ok, _ := filepath.Match(p.glob, target); ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns its raw lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}

// LoadIgnorePatterns combines configured patterns with those from the root's
// ignore file.
func LoadIgnorePatterns(root string, configured []string) ([]string, error) {
	extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return append(append([]string(nil), configured...), extra...), nil
}
