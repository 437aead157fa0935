package zarr

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// ChunkLoader fetches the raw bytes of one chunk on demand. The index holds
// one coordinate per chunked (leading) dimension. Loaders are called outside
// the array lock and may be invoked concurrently.
type ChunkLoader func(index []int) ([]byte, error)

// Spec describes the geometry of an Array.
//
// The chunk layout is plane-oriented: every leading dimension is chunked
// with extent 1 and the trailing two dimensions are stored whole, so one
// chunk holds exactly one 2-D plane. This matches how microscopy datasets
// are written (one TIFF page per plane) and is the only layout supported.
// A leading dimension may be zero, giving an array with no planes.
type Spec struct {
	Shape  []int
	Chunks []int
	DType  DType
	Order  binary.ByteOrder // nil defaults to little-endian
}

// Array is an in-memory chunked n-dimensional array. Assigned chunks live in
// a sparse map; reading an absent chunk synthesizes zeros, or fetches it
// through the loader when one is configured. Arrays are safe for concurrent
// use.
type Array struct {
	shape  []int
	chunks []int
	dtype  DType
	order  binary.ByteOrder
	loader ChunkLoader

	mu    sync.RWMutex
	store map[int][]byte
}

// Zeros creates an array of the given geometry with no chunks materialized.
// Every plane reads as zeros until assigned via SetPlane.
func Zeros(spec Spec) (*Array, error) {
	return newArray(spec, nil)
}

// NewLazy creates an array whose absent chunks are fetched through loader at
// read time. Loaded chunks are not retained; callers cache planes if repeated
// reads matter.
func NewLazy(spec Spec, loader ChunkLoader) (*Array, error) {
	if loader == nil {
		return nil, fmt.Errorf("zarr: nil chunk loader")
	}
	return newArray(spec, loader)
}

func newArray(spec Spec, loader ChunkLoader) (*Array, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	order := spec.Order
	if order == nil {
		order = binary.LittleEndian
	}
	a := &Array{
		shape:  append([]int(nil), spec.Shape...),
		chunks: append([]int(nil), spec.Chunks...),
		dtype:  spec.DType,
		order:  order,
		loader: loader,
		store:  make(map[int][]byte),
	}
	return a, nil
}

func validateSpec(spec Spec) error {
	if !spec.DType.Valid() {
		return fmt.Errorf("zarr: invalid dtype %q", spec.DType)
	}
	rank := len(spec.Shape)
	if rank < 2 {
		return fmt.Errorf("zarr: rank %d array, need at least 2 dimensions", rank)
	}
	if len(spec.Chunks) != rank {
		return fmt.Errorf("zarr: chunk rank %d does not match shape rank %d", len(spec.Chunks), rank)
	}
	for i, n := range spec.Shape {
		if n < 0 {
			return fmt.Errorf("zarr: shape dimension %d is %d", i, n)
		}
	}
	if spec.Shape[rank-2] == 0 || spec.Shape[rank-1] == 0 {
		return fmt.Errorf("zarr: plane dimensions %v must be non-empty", spec.Shape[rank-2:])
	}
	for i := 0; i < rank-2; i++ {
		if spec.Chunks[i] != 1 {
			return fmt.Errorf("zarr: leading chunk dimension %d is %d, must be 1", i, spec.Chunks[i])
		}
	}
	if spec.Chunks[rank-2] != spec.Shape[rank-2] || spec.Chunks[rank-1] != spec.Shape[rank-1] {
		return fmt.Errorf("zarr: trailing chunk dimensions %v must cover the whole plane %v",
			spec.Chunks[rank-2:], spec.Shape[rank-2:])
	}
	return nil
}

// Shape returns a copy of the array shape.
func (a *Array) Shape() []int {
	return append([]int(nil), a.shape...)
}

// Chunks returns a copy of the chunk shape.
func (a *Array) Chunks() []int {
	return append([]int(nil), a.chunks...)
}

// DType returns the element type.
func (a *Array) DType() DType {
	return a.dtype
}

// Order returns the byte order of the stored bytes.
func (a *Array) Order() binary.ByteOrder {
	return a.order
}

// Size returns the total number of elements.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.shape {
		n *= d
	}
	return n
}

// PlaneElems returns the number of elements in one plane.
func (a *Array) PlaneElems() int {
	rank := len(a.shape)
	return a.shape[rank-2] * a.shape[rank-1]
}

// PlaneBytes returns the byte size of one plane.
func (a *Array) PlaneBytes() int {
	return a.PlaneElems() * a.dtype.Size()
}

// NumPlanes returns the number of chunks in the grid.
func (a *Array) NumPlanes() int {
	n := 1
	for i := 0; i < len(a.shape)-2; i++ {
		n *= a.shape[i]
	}
	return n
}

// Materialized returns the number of chunks currently held in memory.
func (a *Array) Materialized() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.store)
}

// planeIndex converts leading-dimension coordinates to a linear chunk index.
func (a *Array) planeIndex(index []int) (int, error) {
	lead := len(a.shape) - 2
	if len(index) != lead {
		return 0, fmt.Errorf("zarr: got %d plane coordinates, want %d", len(index), lead)
	}
	linear := 0
	for i, c := range index {
		if c < 0 || c >= a.shape[i] {
			return 0, fmt.Errorf("zarr: coordinate %d out of range [0, %d) on dimension %d", c, a.shape[i], i)
		}
		linear = linear*a.shape[i] + c
	}
	return linear, nil
}

// SetPlane assigns one plane. The data length must equal PlaneBytes; the
// bytes are copied in.
func (a *Array) SetPlane(index []int, data []byte) error {
	linear, err := a.planeIndex(index)
	if err != nil {
		return err
	}
	if len(data) != a.PlaneBytes() {
		return fmt.Errorf("zarr: plane is %d bytes, want %d", len(data), a.PlaneBytes())
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	a.mu.Lock()
	a.store[linear] = buf
	a.mu.Unlock()
	return nil
}

// Plane reads one plane by its leading-dimension coordinates. Assigned
// chunks are returned as a copy; absent chunks come from the loader when one
// is configured, and otherwise read as zeros.
func (a *Array) Plane(index ...int) ([]byte, error) {
	linear, err := a.planeIndex(index)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	stored, ok := a.store[linear]
	a.mu.RUnlock()
	if ok {
		buf := make([]byte, len(stored))
		copy(buf, stored)
		return buf, nil
	}
	if a.loader != nil {
		data, err := a.loader(append([]int(nil), index...))
		if err != nil {
			return nil, fmt.Errorf("zarr: loading plane %v: %w", index, err)
		}
		if len(data) != a.PlaneBytes() {
			return nil, fmt.Errorf("zarr: loader returned %d bytes for plane %v, want %d", len(data), index, a.PlaneBytes())
		}
		return data, nil
	}
	return make([]byte, a.PlaneBytes()), nil
}

// Read returns the dense array contents as one C-order byte slice.
func (a *Array) Read() ([]byte, error) {
	planeBytes := a.PlaneBytes()
	out := make([]byte, a.NumPlanes()*planeBytes)
	lead := len(a.shape) - 2
	index := make([]int, lead)
	for linear := 0; linear < a.NumPlanes(); linear++ {
		plane, err := a.Plane(index...)
		if err != nil {
			return nil, err
		}
		copy(out[linear*planeBytes:], plane)
		increment(index, a.shape[:lead])
	}
	return out, nil
}

// Dense returns a detached copy with every plane materialized. Mutating the
// source afterwards does not affect the copy, and vice versa.
func (a *Array) Dense() (*Array, error) {
	out, err := Zeros(Spec{Shape: a.shape, Chunks: a.chunks, DType: a.dtype, Order: a.order})
	if err != nil {
		return nil, err
	}
	lead := len(a.shape) - 2
	index := make([]int, lead)
	for linear := 0; linear < a.NumPlanes(); linear++ {
		plane, err := a.Plane(index...)
		if err != nil {
			return nil, err
		}
		if err := out.SetPlane(append([]int(nil), index...), plane); err != nil {
			return nil, err
		}
		increment(index, a.shape[:lead])
	}
	return out, nil
}

// increment advances a multi-dimensional index in row-major order.
func increment(index, dims []int) {
	for i := len(index) - 1; i >= 0; i-- {
		index[i]++
		if index[i] < dims[i] {
			return
		}
		index[i] = 0
	}
}
