// Package zarr implements an in-memory chunked n-dimensional array used as
// the backing store for virtual microscopy datasets. Chunks are stored
// sparsely: a chunk that was never assigned or loaded reads as zeros, which
// is how incomplete acquisitions surface as zero-filled planes.
package zarr

import (
	"encoding/binary"
	"fmt"
)

// DType represents an element data type.
type DType string

// Supported element types.
const (
	Bool    DType = "bool"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d is one of the supported element types.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// Code returns the numpy-style type code for d in the given byte order,
// e.g. "<u2" for little-endian Uint16. Single-byte types use the "|" prefix.
func (d DType) Code(order binary.ByteOrder) string {
	var kind string
	switch d {
	case Bool:
		kind = "b"
	case Int8, Int16, Int32, Int64:
		kind = "i"
	case Uint8, Uint16, Uint32, Uint64:
		kind = "u"
	case Float32, Float64:
		kind = "f"
	default:
		return ""
	}
	size := d.Size()
	if size == 1 {
		return fmt.Sprintf("|%s1", kind)
	}
	prefix := "<"
	if order == binary.BigEndian {
		prefix = ">"
	}
	return fmt.Sprintf("%s%s%d", prefix, kind, size)
}

// ParseDType parses a dtype string into an element type and byte order.
// Both numpy-style codes (e.g. "<f4", ">u2", "|b1") and plain names
// (e.g. "uint16") are accepted. Plain names and single-byte codes default
// to little-endian.
func ParseDType(s string) (DType, binary.ByteOrder, error) {
	if len(s) < 2 {
		return "", nil, fmt.Errorf("invalid dtype: %q", s)
	}

	var order binary.ByteOrder = binary.LittleEndian
	code := s
	switch s[0] {
	case '<', '|':
		code = s[1:]
	case '>':
		order = binary.BigEndian
		code = s[1:]
	default:
		if d := DType(s); d.Valid() {
			return d, order, nil
		}
		return "", nil, fmt.Errorf("unsupported dtype: %q", s)
	}

	switch code {
	case "b1":
		return Bool, order, nil
	case "i1":
		return Int8, order, nil
	case "u1":
		return Uint8, order, nil
	case "i2":
		return Int16, order, nil
	case "u2":
		return Uint16, order, nil
	case "i4":
		return Int32, order, nil
	case "u4":
		return Uint32, order, nil
	case "i8":
		return Int64, order, nil
	case "u8":
		return Uint64, order, nil
	case "f4":
		return Float32, order, nil
	case "f8":
		return Float64, order, nil
	}
	return "", nil, fmt.Errorf("unsupported dtype: %q", s)
}
