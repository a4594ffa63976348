package content

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Renamed is the outcome of normalising a path component.
type Renamed int

const (
	// Unchanged means the name was already valid.
	Unchanged Renamed = iota
	// Yes means a new, invalid name was replaced by a sanitised one.
	Yes
	// NeedRestore means an existing entry was renamed to an invalid name and
	// the caller should roll the rename back.
	NeedRestore
)

func (r Renamed) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Yes:
		return "renamed"
	case NeedRestore:
		return "need_restore"
	default:
		return "unknown"
	}
}

var (
	validName = regexp.MustCompile(`^[a-zA-Z0-9_@][A-Za-z0-9:@_-]+$`)
	validExt  = regexp.MustCompile(`^\.[A-Za-z0-9]+$`)
)

// ValidPath reports whether name is an acceptable directory name.
func ValidPath(name string) bool {
	return validName.MatchString(name)
}

// ValidFile reports whether name is an acceptable file name: a valid stem
// followed by an optional alphanumeric extension.
func ValidFile(name string) bool {
	stem, ext := SplitExt(name)
	if ext != "" && !validExt.MatchString(ext) {
		return false
	}
	return validName.MatchString(stem)
}

// NormalizePath checks a directory name. An invalid new name is sanitised;
// an invalid rename target is reported as NeedRestore and returned unchanged.
func NormalizePath(name string, isNew bool) (string, Renamed) {
	if ValidPath(name) {
		return name, Unchanged
	}
	if !isNew {
		return name, NeedRestore
	}
	return sanitize(name), Yes
}

// NormalizeFile is NormalizePath for file names. Only the stem has to match
// the name pattern; the extension is reduced to its alphanumeric characters.
func NormalizeFile(name string, isNew bool) (string, Renamed) {
	if ValidFile(name) {
		return name, Unchanged
	}
	if !isNew {
		return name, NeedRestore
	}
	stem, ext := SplitExt(name)
	return sanitize(stem) + sanitizeExt(ext), Yes
}

// PhysicalName builds a randomised on-disk name from id, keeping the
// lowercased, sanitised extension of original.
func PhysicalName(id, original string) string {
	_, ext := SplitExt(original)
	base := strings.ToLower(id)
	if !ValidPath(base) {
		base = sanitize(base)
	}
	return base + strings.ToLower(sanitizeExt(ext))
}

// SplitExt splits name into stem and extension. A leading dot does not start
// an extension.
func SplitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// sanitize maps s onto the name pattern: compatibility decomposition, combining
// marks dropped, every other disallowed rune replaced by '_'.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case allowed(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || out[0] == ':' || out[0] == '-' {
		out = "_" + out
	}
	for len(out) < 2 {
		out += "_"
	}
	return out
}

func sanitizeExt(ext string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(strings.TrimPrefix(ext, ".")) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "." + b.String()
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ':' || r == '@' || r == '_' || r == '-':
		return true
	}
	return false
}
