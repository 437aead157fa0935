package mmstack

import (
	"encoding/binary"

	"github.com/ziw-liu/iohub/zarr"
)

// Plane is one 2-D image plane in row-major order, returned as the raw
// bytes read from disk. Typed accessors decode into the matching element
// type.
type Plane struct {
	Height int
	Width  int
	DType  zarr.DType
	Order  binary.ByteOrder
	Data   []byte
}

// Len returns the number of pixels.
func (p *Plane) Len() int { return p.Height * p.Width }

func (p *Plane) Uint8() ([]uint8, error) {
	var out []uint8
	err := zarr.Decode(p.DType, p.Order, p.Data, &out)
	return out, err
}

func (p *Plane) Uint16() ([]uint16, error) {
	var out []uint16
	err := zarr.Decode(p.DType, p.Order, p.Data, &out)
	return out, err
}

func (p *Plane) Uint32() ([]uint32, error) {
	var out []uint32
	err := zarr.Decode(p.DType, p.Order, p.Data, &out)
	return out, err
}

func (p *Plane) Int16() ([]int16, error) {
	var out []int16
	err := zarr.Decode(p.DType, p.Order, p.Data, &out)
	return out, err
}

func (p *Plane) Float32() ([]float32, error) {
	var out []float32
	err := zarr.Decode(p.DType, p.Order, p.Data, &out)
	return out, err
}

func (p *Plane) Float64() ([]float64, error) {
	var out []float64
	err := zarr.Decode(p.DType, p.Order, p.Data, &out)
	return out, err
}
