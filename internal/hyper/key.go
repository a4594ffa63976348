package hyper

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Key identifies a directory chain below a bucket, relative to the bucket
// directory and separated by slashes. The empty Key is the bucket root.
type Key string

// RootKey is the key of files stored directly in the bucket directory.
const RootKey Key = ""

// ParseKey normalises s into a Key.
func ParseKey(s string) (Key, error) {
	segs, err := splitSegments(s)
	if err != nil {
		return "", fmt.Errorf("parsing key %q: %w", s, err)
	}
	return Key(strings.Join(segs, "/")), nil
}

// KeyFromBucket derives the Key of the physical directory dir inside bucket b.
// The result depends only on the cleaned paths, never on how dir was reached.
func KeyFromBucket(root string, b Bucket, dir string) (Key, error) {
	base := b.Dir(root)
	rel, err := filepath.Rel(base, filepath.Clean(dir))
	if err != nil {
		return "", fmt.Errorf("key for %s: %w", dir, err)
	}
	if rel == "." {
		return RootKey, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key for %s outside bucket %s: %w", dir, b, ErrInvalidPath)
	}
	return ParseKey(filepath.ToSlash(rel))
}

func (k Key) String() string { return string(k) }

// IsRoot reports whether k is the bucket root key.
func (k Key) IsRoot() bool { return k == RootKey }

// Segments returns the key's path segments.
func (k Key) Segments() []string {
	if k.IsRoot() {
		return nil
	}
	return strings.Split(string(k), "/")
}

// Base returns the last segment of the key.
func (k Key) Base() string {
	i := strings.LastIndexByte(string(k), '/')
	return string(k)[i+1:]
}

// Parent returns the key one level up. The parent of a top-level key is RootKey.
func (k Key) Parent() Key {
	i := strings.LastIndexByte(string(k), '/')
	if i < 0 {
		return RootKey
	}
	return k[:i]
}

// Join appends a segment to the key.
func (k Key) Join(name string) Key {
	if k.IsRoot() {
		return Key(name)
	}
	return Key(string(k) + "/" + name)
}

// IsWithin reports whether k equals prefix or is nested below it.
func (k Key) IsWithin(prefix Key) bool {
	if prefix.IsRoot() || k == prefix {
		return true
	}
	return strings.HasPrefix(string(k), string(prefix)+"/")
}

// Rebase replaces the prefix from with to. The boolean is false when k is
// not within from.
func (k Key) Rebase(from, to Key) (Key, bool) {
	if !k.IsWithin(from) || from.IsRoot() {
		return k, false
	}
	rest := strings.TrimPrefix(string(k), string(from))
	return Key(string(to) + rest), true
}

// Dir returns the physical directory of the key under root.
func (k Key) Dir(root string, b Bucket) string {
	return filepath.Join(b.Dir(root), filepath.FromSlash(string(k)))
}
