//go:build !unix

package platform

import (
	"fmt"
	"io/fs"
	"os"
)

// OpenFileNoFollow opens name below root for reading without following a
// final symbolic link. Returns ErrSymlink if name is one.
func OpenFileNoFollow(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrSymlink)
	}
	return root.Open(name)
}
