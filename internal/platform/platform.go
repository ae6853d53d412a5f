// Package platform isolates the operating-system specific parts of file
// handling: owner lookup and opening files without following symlinks.
package platform

import "errors"

// ErrSymlink is returned when a symbolic link is opened where a regular
// file is required.
var ErrSymlink = errors.New("symbolic links not supported")
