package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Convert reads the dense array contents into dest, which must be a pointer
// to a slice whose element type matches the array dtype (e.g. *[]uint16 for
// a Uint16 array). The slice is reallocated to the full element count.
func (a *Array) Convert(dest interface{}) error {
	raw, err := a.Read()
	if err != nil {
		return err
	}
	return Decode(a.dtype, a.order, raw, dest)
}

// Decode converts raw bytes in the given dtype and byte order into dest,
// a pointer to a slice of the matching Go type.
func Decode(dtype DType, order binary.ByteOrder, src []byte, dest interface{}) error {
	size := dtype.Size()
	if size == 0 {
		return fmt.Errorf("zarr: invalid dtype %q", dtype)
	}
	if len(src)%size != 0 {
		return fmt.Errorf("zarr: %d bytes is not a whole number of %q elements", len(src), dtype)
	}
	n := len(src) / size

	switch out := dest.(type) {
	case *[]uint8:
		if dtype != Uint8 && dtype != Bool {
			return convertMismatch(dtype, dest)
		}
		*out = make([]uint8, n)
		copy(*out, src)
	case *[]int8:
		if dtype != Int8 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]int8, n)
		for i := 0; i < n; i++ {
			(*out)[i] = int8(src[i])
		}
	case *[]uint16:
		if dtype != Uint16 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]uint16, n)
		for i := 0; i < n; i++ {
			(*out)[i] = order.Uint16(src[i*2:])
		}
	case *[]int16:
		if dtype != Int16 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]int16, n)
		for i := 0; i < n; i++ {
			(*out)[i] = int16(order.Uint16(src[i*2:]))
		}
	case *[]uint32:
		if dtype != Uint32 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]uint32, n)
		for i := 0; i < n; i++ {
			(*out)[i] = order.Uint32(src[i*4:])
		}
	case *[]int32:
		if dtype != Int32 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]int32, n)
		for i := 0; i < n; i++ {
			(*out)[i] = int32(order.Uint32(src[i*4:]))
		}
	case *[]uint64:
		if dtype != Uint64 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]uint64, n)
		for i := 0; i < n; i++ {
			(*out)[i] = order.Uint64(src[i*8:])
		}
	case *[]int64:
		if dtype != Int64 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]int64, n)
		for i := 0; i < n; i++ {
			(*out)[i] = int64(order.Uint64(src[i*8:]))
		}
	case *[]float32:
		if dtype != Float32 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]float32, n)
		for i := 0; i < n; i++ {
			(*out)[i] = math.Float32frombits(order.Uint32(src[i*4:]))
		}
	case *[]float64:
		if dtype != Float64 {
			return convertMismatch(dtype, dest)
		}
		*out = make([]float64, n)
		for i := 0; i < n; i++ {
			(*out)[i] = math.Float64frombits(order.Uint64(src[i*8:]))
		}
	case *[]bool:
		if dtype != Bool {
			return convertMismatch(dtype, dest)
		}
		*out = make([]bool, n)
		for i := 0; i < n; i++ {
			(*out)[i] = src[i] != 0
		}
	default:
		return fmt.Errorf("zarr: unsupported destination type %T", dest)
	}
	return nil
}

func convertMismatch(dtype DType, dest interface{}) error {
	return fmt.Errorf("zarr: cannot decode %q data into %T", dtype, dest)
}
