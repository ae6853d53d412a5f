//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// OpenFileNoFollow opens name below root for reading without following a
// final symbolic link. Returns ErrSymlink if name is one.
func OpenFileNoFollow(root *os.Root, name string) (*os.File, error) {
	f, err := root.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, fmt.Errorf("%s: %w", name, ErrSymlink)
		}
		return nil, err
	}
	return f, nil
}
