// Package xarr provides labeled-dimension views over zarr arrays. A view
// renames, reorders, inserts or selects away dimensions without copying the
// backing data; reads route through the view's axis mapping.
//
// Views keep the backing array's two plane axes as their trailing
// dimensions. Operations that would move a plane axis into the leading
// block, or select on one, are rejected.
package xarr

import (
	"fmt"

	"github.com/ziw-liu/iohub/zarr"
)

// DataArray is a named view over a zarr array with one label per dimension.
type DataArray struct {
	name  string
	dims  []string
	sizes []int
	axes  []int       // axes[i] is the backing axis of dims[i], or -1 when inserted by ExpandDims
	sel   map[int]int // backing axes fixed by Sel
	base  *zarr.Array
}

// New wraps base with one label per backing dimension.
func New(name string, base *zarr.Array, dims ...string) (*DataArray, error) {
	if base == nil {
		return nil, fmt.Errorf("xarr: nil backing array")
	}
	shape := base.Shape()
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("xarr: %d dimension names for a rank %d array", len(dims), len(shape))
	}
	seen := make(map[string]bool, len(dims))
	axes := make([]int, len(dims))
	for i, d := range dims {
		if d == "" {
			return nil, fmt.Errorf("xarr: empty dimension name at %d", i)
		}
		if seen[d] {
			return nil, fmt.Errorf("xarr: duplicate dimension name %q", d)
		}
		seen[d] = true
		axes[i] = i
	}
	return &DataArray{
		name:  name,
		dims:  append([]string(nil), dims...),
		sizes: shape,
		axes:  axes,
		base:  base,
	}, nil
}

// Name returns the array name.
func (d *DataArray) Name() string { return d.name }

// Dims returns the dimension names in order.
func (d *DataArray) Dims() []string { return append([]string(nil), d.dims...) }

// Shape returns the view's shape.
func (d *DataArray) Shape() []int { return append([]int(nil), d.sizes...) }

// Size returns the extent of the named dimension.
func (d *DataArray) Size(dim string) (int, error) {
	i := d.find(dim)
	if i < 0 {
		return 0, fmt.Errorf("xarr: no dimension %q in %v", dim, d.dims)
	}
	return d.sizes[i], nil
}

// DType returns the element type of the backing array.
func (d *DataArray) DType() zarr.DType { return d.base.DType() }

func (d *DataArray) find(dim string) int {
	for i, name := range d.dims {
		if name == dim {
			return i
		}
	}
	return -1
}

func (d *DataArray) clone() *DataArray {
	out := &DataArray{
		name:  d.name,
		dims:  append([]string(nil), d.dims...),
		sizes: append([]int(nil), d.sizes...),
		axes:  append([]int(nil), d.axes...),
		base:  d.base,
	}
	if d.sel != nil {
		out.sel = make(map[int]int, len(d.sel))
		for k, v := range d.sel {
			out.sel[k] = v
		}
	}
	return out
}

// ExpandDims prepends size-1 dimensions with the given names.
func (d *DataArray) ExpandDims(dims ...string) (*DataArray, error) {
	out := d.clone()
	for i := len(dims) - 1; i >= 0; i-- {
		name := dims[i]
		if name == "" {
			return nil, fmt.Errorf("xarr: empty dimension name")
		}
		if out.find(name) >= 0 {
			return nil, fmt.Errorf("xarr: dimension %q already exists", name)
		}
		out.dims = append([]string{name}, out.dims...)
		out.sizes = append([]int{1}, out.sizes...)
		out.axes = append([]int{-1}, out.axes...)
	}
	return out, nil
}

// Transpose reorders the dimensions. The order must be a permutation of the
// current dimension names that keeps the two plane axes trailing.
func (d *DataArray) Transpose(order ...string) (*DataArray, error) {
	if len(order) != len(d.dims) {
		return nil, fmt.Errorf("xarr: transpose order has %d names, array has %d dimensions",
			len(order), len(d.dims))
	}
	out := d.clone()
	used := make(map[int]bool, len(order))
	for i, name := range order {
		j := d.find(name)
		if j < 0 {
			return nil, fmt.Errorf("xarr: no dimension %q in %v", name, d.dims)
		}
		if used[j] {
			return nil, fmt.Errorf("xarr: dimension %q repeated in transpose order", name)
		}
		used[j] = true
		out.dims[i] = d.dims[j]
		out.sizes[i] = d.sizes[j]
		out.axes[i] = d.axes[j]
	}
	if err := out.checkPlaneAxes(); err != nil {
		return nil, err
	}
	return out, nil
}

// Sel fixes the named dimension at one index and drops it from the view.
func (d *DataArray) Sel(dim string, index int) (*DataArray, error) {
	i := d.find(dim)
	if i < 0 {
		return nil, fmt.Errorf("xarr: no dimension %q in %v", dim, d.dims)
	}
	if i >= len(d.dims)-2 {
		return nil, fmt.Errorf("xarr: cannot select on plane dimension %q", dim)
	}
	if index < 0 || index >= d.sizes[i] {
		return nil, fmt.Errorf("xarr: index %d out of range [0, %d) on %q", index, d.sizes[i], dim)
	}
	out := d.clone()
	if axis := out.axes[i]; axis >= 0 {
		if out.sel == nil {
			out.sel = make(map[int]int)
		}
		out.sel[axis] = index
	}
	out.dims = append(out.dims[:i], out.dims[i+1:]...)
	out.sizes = append(out.sizes[:i], out.sizes[i+1:]...)
	out.axes = append(out.axes[:i], out.axes[i+1:]...)
	return out, nil
}

// checkPlaneAxes verifies the backing plane axes are still the trailing two
// view dimensions, in order.
func (d *DataArray) checkPlaneAxes() error {
	rank := len(d.dims)
	baseRank := len(d.base.Shape())
	if rank < 2 || d.axes[rank-2] != baseRank-2 || d.axes[rank-1] != baseRank-1 {
		return fmt.Errorf("xarr: plane dimensions must stay trailing")
	}
	return nil
}

// Plane reads one plane by leading-dimension coordinates, mapping them onto
// the backing array.
func (d *DataArray) Plane(coords ...int) ([]byte, error) {
	lead := len(d.dims) - 2
	if len(coords) != lead {
		return nil, fmt.Errorf("xarr: got %d coordinates, want %d", len(coords), lead)
	}
	baseLead := len(d.base.Shape()) - 2
	baseCoords := make([]int, baseLead)
	for axis, v := range d.sel {
		baseCoords[axis] = v
	}
	for i := 0; i < lead; i++ {
		c := coords[i]
		if c < 0 || c >= d.sizes[i] {
			return nil, fmt.Errorf("xarr: coordinate %d out of range [0, %d) on %q", c, d.sizes[i], d.dims[i])
		}
		if d.axes[i] >= 0 {
			baseCoords[d.axes[i]] = c
		}
	}
	return d.base.Plane(baseCoords...)
}

// AsZarr returns a lazy zarr array with the view's shape. Reads pass
// through this view into the backing array.
func (d *DataArray) AsZarr() (*zarr.Array, error) {
	rank := len(d.dims)
	chunks := make([]int, rank)
	for i := range chunks {
		chunks[i] = 1
	}
	chunks[rank-2] = d.sizes[rank-2]
	chunks[rank-1] = d.sizes[rank-1]
	view := d.clone()
	return zarr.NewLazy(zarr.Spec{
		Shape:  append([]int(nil), d.sizes...),
		Chunks: chunks,
		DType:  d.base.DType(),
		Order:  d.base.Order(),
	}, func(index []int) ([]byte, error) {
		return view.Plane(index...)
	})
}

// Read returns the view's dense contents in C order.
func (d *DataArray) Read() ([]byte, error) {
	arr, err := d.AsZarr()
	if err != nil {
		return nil, err
	}
	return arr.Read()
}
