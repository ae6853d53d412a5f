package bif

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the 16-bit resource type code stored in catalogs and archives.
type Type uint16

// Well-known resource types.
const (
	TypeBMP  Type = 0x0001
	TypeMVE  Type = 0x0002
	TypeWAV  Type = 0x0004
	TypeWFX  Type = 0x0005
	TypePLT  Type = 0x0006
	TypeBAM  Type = 0x03e8
	TypeWED  Type = 0x03e9
	TypeCHU  Type = 0x03ea
	TypeTIS  Type = 0x03eb
	TypeMOS  Type = 0x03ec
	TypeITM  Type = 0x03ed
	TypeSPL  Type = 0x03ee
	TypeBCS  Type = 0x03ef
	TypeIDS  Type = 0x03f0
	TypeCRE  Type = 0x03f1
	TypeARE  Type = 0x03f2
	TypeDLG  Type = 0x03f3
	Type2DA  Type = 0x03f4
	TypeGAM  Type = 0x03f5
	TypeSTO  Type = 0x03f6
	TypeWMP  Type = 0x03f7
	TypeEFF  Type = 0x03f8
	TypeBS   Type = 0x03f9
	TypeCHR  Type = 0x03fa
	TypeVVC  Type = 0x03fb
	TypeVEF  Type = 0x03fc
	TypePRO  Type = 0x03fd
	TypeBIO  Type = 0x03fe
	TypeWBM  Type = 0x03ff
	TypeFNT  Type = 0x0400
	TypeGUI  Type = 0x0402
	TypeSQL  Type = 0x0403
	TypePVRZ Type = 0x0404
	TypeGLSL Type = 0x0405
	TypeMENU Type = 0x0408
	TypeLUA  Type = 0x0409
	TypeTTF  Type = 0x040a
	TypePNG  Type = 0x040b
	TypeBAH  Type = 0x044c
	TypeINI  Type = 0x0802
	TypeSRC  Type = 0x0803
)

var typeExts = map[Type]string{
	TypeBMP: "BMP", TypeMVE: "MVE", TypeWAV: "WAV", TypeWFX: "WFX", TypePLT: "PLT",
	TypeBAM: "BAM", TypeWED: "WED", TypeCHU: "CHU", TypeTIS: "TIS", TypeMOS: "MOS",
	TypeITM: "ITM", TypeSPL: "SPL", TypeBCS: "BCS", TypeIDS: "IDS", TypeCRE: "CRE",
	TypeARE: "ARE", TypeDLG: "DLG", Type2DA: "2DA", TypeGAM: "GAM", TypeSTO: "STO",
	TypeWMP: "WMP", TypeEFF: "EFF", TypeBS: "BS", TypeCHR: "CHR", TypeVVC: "VVC",
	TypeVEF: "VEF", TypePRO: "PRO", TypeBIO: "BIO", TypeWBM: "WBM", TypeFNT: "FNT",
	TypeGUI: "GUI", TypeSQL: "SQL", TypePVRZ: "PVRZ", TypeGLSL: "GLSL", TypeMENU: "MENU",
	TypeLUA: "LUA", TypeTTF: "TTF", TypePNG: "PNG", TypeBAH: "BAH", TypeINI: "INI",
	TypeSRC: "SRC",
}

var extTypes = func() map[string]Type {
	m := make(map[string]Type, len(typeExts))
	for t, ext := range typeExts {
		m[ext] = t
	}
	return m
}()

// unknownExtPrefix marks extensions synthesized for unregistered type codes.
const unknownExtPrefix = "0X"

// Extension returns the file extension for the type, without a dot.
// Unregistered codes map to "0X" followed by four hex digits.
func (t Type) Extension() string {
	if ext, ok := typeExts[t]; ok {
		return ext
	}
	return fmt.Sprintf("%s%04X", unknownExtPrefix, uint16(t))
}

func (t Type) String() string {
	return t.Extension()
}

// TypeForExtension returns the type code for an extension (with or without
// the leading dot, case-insensitive).
func TypeForExtension(ext string) (Type, bool) {
	ext = strings.ToUpper(strings.TrimPrefix(ext, "."))
	if t, ok := extTypes[ext]; ok {
		return t, true
	}
	if hex, ok := strings.CutPrefix(ext, unknownExtPrefix); ok && len(hex) == 4 {
		v, err := strconv.ParseUint(hex, 16, 16)
		if err == nil {
			return Type(v), true
		}
	}
	return 0, false
}

// ResourceKey returns the case-insensitive lookup key "NAME.EXT".
func ResourceKey(name string, t Type) string {
	return strings.ToUpper(name) + "." + t.Extension()
}

// SplitResourceName splits "NAME.EXT" into its base name and type code.
func SplitResourceName(resource string) (string, Type, error) {
	i := strings.LastIndexByte(resource, '.')
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: resource name %q has no extension", ErrNotFound, resource)
	}
	name, ext := resource[:i], resource[i+1:]
	if len(name) > maxResourceName {
		return "", 0, fmt.Errorf("%w: resource name %q longer than %d characters", ErrRange, name, maxResourceName)
	}
	t, ok := TypeForExtension(ext)
	if !ok {
		return "", 0, fmt.Errorf("%w: unknown resource type %q", ErrNotFound, ext)
	}
	return strings.ToUpper(name), t, nil
}

// maxResourceName is the length of the NUL-padded name field.
const maxResourceName = 8
