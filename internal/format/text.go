package format

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"

	"github.com/meigma/bif/internal/biftype"
)

// DecodeString converts a NUL-terminated Windows-1252 field to UTF-8.
func DecodeString(b []byte) string {
	b = CString(b)
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// EncodeString converts s to Windows-1252 without a terminator.
func EncodeString(s string) ([]byte, error) {
	out, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not representable in the catalog codepage", biftype.ErrRange, s)
	}
	return out, nil
}
