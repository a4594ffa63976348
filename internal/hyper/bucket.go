package hyper

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Bucket is a rooted, slash-delimited logical path such as "/news/".
// The zero value is not a valid bucket; build one with ParseBucket.
type Bucket string

// ParseBucket normalises s into a Bucket. Leading and trailing slashes are
// added, repeated slashes collapsed, and "." or ".." segments rejected.
func ParseBucket(s string) (Bucket, error) {
	segs, err := splitSegments(s)
	if err != nil {
		return "", fmt.Errorf("parsing bucket %q: %w", s, err)
	}
	if len(segs) == 0 {
		return "", fmt.Errorf("parsing bucket %q: %w", s, ErrInvalidPath)
	}
	return Bucket("/" + strings.Join(segs, "/") + "/"), nil
}

// String returns the bucket's canonical string form.
func (b Bucket) String() string { return string(b) }

// Name returns the last path segment of the bucket.
func (b Bucket) Name() string {
	segs := b.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Segments returns the bucket's path segments from root to leaf.
func (b Bucket) Segments() []string {
	trimmed := strings.Trim(string(b), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// AllSuperpaths returns every ancestor of b in root-to-leaf order, followed
// by b itself. Concatenating the segments of the last element gives b.
func (b Bucket) AllSuperpaths() []Bucket {
	segs := b.Segments()
	out := make([]Bucket, 0, len(segs))
	var sb strings.Builder
	sb.WriteByte('/')
	for _, seg := range segs {
		sb.WriteString(seg)
		sb.WriteByte('/')
		out = append(out, Bucket(sb.String()))
	}
	return out
}

// Dir returns the physical directory of the bucket under root.
func (b Bucket) Dir(root string) string {
	return filepath.Join(root, filepath.FromSlash(strings.Trim(string(b), "/")))
}

// splitSegments splits a slash path into its non-empty segments and rejects
// traversal segments.
func splitSegments(s string) ([]string, error) {
	var segs []string
	for _, seg := range strings.Split(filepath.ToSlash(s), "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, ErrInvalidPath
		}
		segs = append(segs, seg)
	}
	return segs, nil
}
