package mmstack

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ziw-liu/iohub/xarr"
	"github.com/ziw-liu/iohub/zarr"
)

// canonicalAxes is the axis order of the whole-dataset view: position,
// time, channel, slice, then the plane axes.
var canonicalAxes = []string{"R", "T", "C", "Z", "Y", "X"}

// SeriesReader presents an MMStack dataset as one labeled 6-D array in
// canonical axis order, with every axis present even when the acquisition
// varied nothing along it. Planes are loaded lazily through the coordinate
// index; planes the acquisition never recorded read as zeros.
type SeriesReader struct {
	r     *Reader
	name  string
	axes  string
	xdata *xarr.DataArray
}

// OpenSeries opens the dataset at path as a single labeled array. The
// native axes and declared extents come from the first file's OME-XML,
// falling back to the summary block; each axis spans the larger of its
// declared extent and what the coordinate index observed.
func OpenSeries(ctx context.Context, path string, opts ...Option) (*SeriesReader, error) {
	r, err := Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}

	raw := r.seriesAxes
	declared := r.seriesShape
	if !validSeriesAxes(raw) {
		raw = "RTCZYX"
		declared = nil
	}

	extent := map[string]int{
		"R": max1(r.idx.positions),
		"T": max1(r.idx.frames),
		"C": max1(r.idx.channels),
		"Z": max1(r.idx.slices),
		"Y": r.height,
		"X": r.width,
	}
	// The declared shape pads the view, the index floors it: declared but
	// never-acquired planes read as zeros, and every indexed plane stays
	// addressable when a file declares less than it recorded. The plane
	// axes keep the pixel geometry of the pages themselves.
	if len(declared) == len(raw) {
		for i, ch := range raw {
			ax := string(ch)
			if ax == "Y" || ax == "X" {
				continue
			}
			extent[ax] = max(extent[ax], declared[i])
		}
	}

	// The backing array carries the file's native axes, plus any axis the
	// index observed more than one value on even when the file's metadata
	// never declared it.
	var native []string
	for _, ax := range canonicalAxes[:4] {
		if extent[ax] > 1 && !strings.Contains(raw, ax) {
			native = append(native, ax)
		}
	}
	for _, ch := range raw {
		native = append(native, string(ch))
	}

	shape := make([]int, len(native))
	chunks := make([]int, len(native))
	for i, ax := range native {
		shape[i] = extent[ax]
		chunks[i] = 1
	}
	chunks[len(chunks)-2] = shape[len(shape)-2]
	chunks[len(chunks)-1] = shape[len(shape)-1]

	lead := append([]string(nil), native[:len(native)-2]...)
	planeBytes := r.height * r.width * r.dtype.Size()
	backing, err := zarr.NewLazy(zarr.Spec{
		Shape:  shape,
		Chunks: chunks,
		DType:  r.dtype,
		Order:  r.order,
	}, func(index []int) ([]byte, error) {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		var coord Coord
		for i, ax := range lead {
			switch ax {
			case "R":
				coord.P = index[i]
			case "T":
				coord.T = index[i]
			case "C":
				coord.C = index[i]
			case "Z":
				coord.Z = index[i]
			}
		}
		entry, ok := r.idx.entries[coord]
		if !ok {
			return make([]byte, planeBytes), nil
		}
		return r.readPlaneBytes(entry)
	})
	if err != nil {
		return nil, err
	}

	name := filepath.Base(r.dir)
	da, err := xarr.New(name, backing, native...)
	if err != nil {
		return nil, err
	}
	nativeSet := make(map[string]bool, len(native))
	for _, ax := range native {
		nativeSet[ax] = true
	}
	var missing []string
	for _, ax := range canonicalAxes {
		if !nativeSet[ax] {
			missing = append(missing, ax)
		}
	}
	if len(missing) > 0 {
		da, err = da.ExpandDims(missing...)
		if err != nil {
			return nil, err
		}
	}
	xdata, err := da.Transpose(canonicalAxes...)
	if err != nil {
		return nil, err
	}

	r.opts.logger.Debug("opened series", "name", name, "axes", raw, "shape", xdata.Shape())
	return &SeriesReader{r: r, name: name, axes: raw, xdata: xdata}, nil
}

// validSeriesAxes reports whether s names a subset of the canonical axes,
// without repeats and ending in the plane axes.
func validSeriesAxes(s string) bool {
	if len(s) < 2 || !strings.HasSuffix(s, "YX") {
		return false
	}
	seen := make(map[rune]bool, len(s))
	for _, ch := range s {
		if !strings.ContainsRune("RTCZYX", ch) || seen[ch] {
			return false
		}
		seen[ch] = true
	}
	return true
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Name returns the dataset name, taken from its directory.
func (s *SeriesReader) Name() string {
	return s.name
}

// Axes returns the native axes declared by the dataset's files.
func (s *SeriesReader) Axes() string {
	return s.axes
}

// XData returns the canonical labeled view of the whole dataset.
func (s *SeriesReader) XData() *xarr.DataArray {
	return s.xdata
}

// Shape returns the canonical (R, T, C, Z, Y, X) shape.
func (s *SeriesReader) Shape() []int {
	return s.xdata.Shape()
}

// Len returns the number of positions in the canonical view, which is at
// least one.
func (s *SeriesReader) Len() int {
	return s.xdata.Shape()[0]
}

// Contains reports whether position p is within the canonical view.
func (s *SeriesReader) Contains(p int) bool {
	return p >= 0 && p < s.Len()
}

// Item returns the labeled (T, C, Z, Y, X) view of one position.
func (s *SeriesReader) Item(p int) (*xarr.DataArray, error) {
	if !s.Contains(p) {
		return nil, &PositionError{Position: p, Count: s.Len()}
	}
	return s.xdata.Sel("R", p)
}

// ItemData returns one position's view as a lazy zarr array.
func (s *SeriesReader) ItemData(p int) (*zarr.Array, error) {
	item, err := s.Item(p)
	if err != nil {
		return nil, err
	}
	return item.AsZarr()
}

// SeriesWalkFunc is called once per position by Walk. item is nil when err
// is non-nil.
type SeriesWalkFunc func(position int, item *xarr.DataArray, err error) error

// Walk visits every position of the canonical view in order. ErrStopWalk
// from fn ends the walk early without error.
func (s *SeriesReader) Walk(fn SeriesWalkFunc) error {
	for p := 0; p < s.Len(); p++ {
		item, err := s.Item(p)
		if werr := fn(p, item, err); werr != nil {
			if IsStopWalk(werr) {
				return nil
			}
			return werr
		}
	}
	return nil
}

// SetItem rejects writes; MMStack datasets are read-only.
func (s *SeriesReader) SetItem(int, *xarr.DataArray) error {
	return ErrReadOnly
}

// DeleteItem rejects deletions; MMStack datasets are read-only.
func (s *SeriesReader) DeleteItem(int) error {
	return ErrReadOnly
}

// Reader returns the underlying coordinate-indexed reader.
func (s *SeriesReader) Reader() *Reader {
	return s.r
}

// Close closes the underlying reader.
func (s *SeriesReader) Close() error {
	return s.r.Close()
}
