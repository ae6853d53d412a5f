// Package pathutil provides path manipulation for archive names as catalogs
// record them: relative, backslash separated ("data\\AREA000A.bif").
package pathutil

import (
	"path/filepath"
	"strings"
)

// ToSlash converts a recorded name to forward slashes.
func ToSlash(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// FromSlash converts a slash-separated path to the recorded form.
func FromSlash(path string) string {
	return strings.ReplaceAll(path, "/", `\`)
}

// Components returns the non-empty components of a recorded name.
// "." components are dropped.
func Components(name string) []string {
	parts := strings.Split(ToSlash(name), "/")
	out := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Base returns the last component of a recorded name.
// If name has no components, it returns ".".
func Base(name string) string {
	parts := Components(name)
	if len(parts) == 0 {
		return "."
	}
	return parts[len(parts)-1]
}

// OSPath converts a recorded name to a relative OS path.
func OSPath(name string) string {
	return filepath.FromSlash(ToSlash(name))
}

// WithExt replaces the extension of the last component of name.
func WithExt(name, ext string) string {
	slash := strings.LastIndexAny(name, `\/`)
	dot := strings.LastIndexByte(name, '.')
	if dot <= slash {
		return name + ext
	}
	return name[:dot] + ext
}

// Equal reports whether two recorded names refer to the same archive,
// ignoring case and separator style.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.Join(Components(a), "/"), strings.Join(Components(b), "/"))
}

// IsLocal reports whether name stays below the folder it is resolved
// against: it is not absolute and no component is "..".
func IsLocal(name string) bool {
	s := ToSlash(name)
	if strings.HasPrefix(s, "/") || filepath.VolumeName(s) != "" {
		return false
	}
	for _, p := range Components(s) {
		if p == ".." {
			return false
		}
	}
	return true
}
