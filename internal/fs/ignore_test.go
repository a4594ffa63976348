package fs

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines, comments and bad globs", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "[", "*.upload-in-progress"})
		want := []string{IgnoreFileName, "*.upload-in-progress"}
		if got := m.Patterns(); !slices.Equal(got, want) {
			t.Errorf("Patterns() = %q, want %q", got, want)
		}
	})

	t.Run("classifies path vs basename patterns", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"*.part", "drafts/*"})
		if m.patterns[1].matchPath {
			t.Error("*.part should not be a path pattern")
		}
		if !m.patterns[2].matchPath {
			t.Error("drafts/* should be a path pattern")
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"upload marker on bare name", []string{"*.upload-in-progress"}, "clip.mp4.upload-in-progress", true},
		{"upload marker in subdirectory", []string{"*.upload-in-progress"}, filepath.Join("news", "a.upload-in-progress"), true},
		{"finished upload", []string{"*.upload-in-progress"}, "clip.mp4", false},
		{"ignore file always ignored", nil, IgnoreFileName, true},
		{"path pattern matches relative path", []string{"news/tmp"}, filepath.Join("news", "tmp"), true},
		{"path pattern does not match base name", []string{"news/tmp"}, "tmp", false},
		{"path pattern with glob", []string{"news/*.part"}, filepath.Join("news", "x.part"), true},
		{"question mark is one char", []string{"?.tmp"}, "ab.tmp", false},
		{"character class", []string{"*.[oa]"}, "main.o", true},
		{"no extra patterns", nil, "anything.txt", false},
		{"empty path", []string{"*"}, "", false},
		{"second pattern matches", []string{"*.log", "*.tmp"}, "data.tmp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads raw lines", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		content := "*.log\n# comment\n\n*.tmp\nnews/tmp\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		lines, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(lines) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(lines))
		}
		if m := NewIgnoreMatcher(lines); len(m.patterns) != 4 {
			t.Errorf("expected 4 parsed patterns, got %d", len(m.patterns))
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		lines, err := ParseIgnoreFile(filepath.Join(t.TempDir(), IgnoreFileName))
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if lines != nil {
			t.Errorf("expected nil, got %v", lines)
		}
	})
}

func TestLoadIgnorePatterns(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("*.part\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadIgnorePatterns(root, []string{"*.upload-in-progress"})
	if err != nil {
		t.Fatalf("LoadIgnorePatterns() error = %v", err)
	}
	want := []string{"*.upload-in-progress", "*.part"}
	if !slices.Equal(got, want) {
		t.Errorf("LoadIgnorePatterns() = %q, want %q", got, want)
	}
}
