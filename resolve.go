package bif

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/bif/internal/pathutil"
)

// searchSubdirs are the folders below the catalog's folder searched for
// archives, in order, after the catalog's folder itself.
var searchSubdirs = []string{"cache", "cd1", "cd2", "cd3", "cd4", "cd5", "cd6", "cd7", "cdall"}

// compressedExt is the extension of the legacy compressed variant of an
// archive filename.
const compressedExt = ".cbf"

// resolver finds archive files named relative to a catalog.
type resolver struct {
	base  string   // folder containing the catalog
	extra []string // caller-declared search roots, searched last
}

// roots returns every candidate folder in search order.
func (r resolver) roots() []string {
	out := make([]string, 0, 1+len(searchSubdirs)+len(r.extra))
	out = append(out, r.base)
	for _, sub := range searchSubdirs {
		out = append(out, filepath.Join(r.base, sub))
	}
	return append(out, r.extra...)
}

// resolve returns the absolute path of the archive recorded as name.
// Names that would leave the search roots never resolve.
func (r resolver) resolve(name string) (string, bool) {
	if !pathutil.IsLocal(name) {
		return "", false
	}
	variants := []string{name}
	if ext := filepath.Ext(pathutil.Base(name)); !strings.EqualFold(ext, compressedExt) {
		variants = append(variants, pathutil.WithExt(name, compressedExt))
	}
	for _, root := range r.roots() {
		for _, v := range variants {
			if p, ok := findFile(root, v); ok {
				if abs, err := filepath.Abs(p); err == nil {
					return abs, true
				}
				return p, true
			}
		}
	}
	return "", false
}

// target returns where a new archive recorded as name is created.
func (r resolver) target(name string) string {
	return filepath.Join(r.base, pathutil.OSPath(name))
}

// findFile looks for the recorded name below root, first exactly and then
// matching each path component case-insensitively.
func findFile(root, name string) (string, bool) {
	exact := filepath.Join(root, pathutil.OSPath(name))
	if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
		return exact, true
	}

	dir := root
	parts := pathutil.Components(name)
	if len(parts) == 0 {
		return "", false
	}
	for i, part := range parts {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", false
		}
		found := false
		for _, e := range entries {
			if !strings.EqualFold(e.Name(), part) {
				continue
			}
			last := i == len(parts)-1
			if last && !e.Type().IsRegular() {
				continue
			}
			if !last && !e.IsDir() {
				continue
			}
			dir = filepath.Join(dir, e.Name())
			found = true
			break
		}
		if !found {
			return "", false
		}
	}
	return dir, true
}
