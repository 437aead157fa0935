package mmstack

import (
	"context"
	stdbinary "encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ziw-liu/iohub/internal/mmap"
	"github.com/ziw-liu/iohub/internal/tiff"
	"github.com/ziw-liu/iohub/zarr"
)

// Reader is an open MMStack dataset indexed by coordinate. Position arrays
// are materialized on first access and cached for the reader's lifetime.
// Readers are safe for concurrent use.
type Reader struct {
	dir   string
	files []string
	opts  *options

	meta        *metadata
	rawSummary  string
	seriesAxes  string
	seriesShape []int
	dtype       zarr.DType
	order       stdbinary.ByteOrder
	height      int
	width       int

	idx *index

	mu               sync.Mutex
	arrays           map[int]*zarr.Array
	materializations int
	closed           bool
}

// Open indexes the MMStack dataset at path, which may be a dataset
// directory or any one of its OME-TIFF files. All sibling OME-TIFF files
// are scanned: a multi-file acquisition is one dataset regardless of which
// file is named.
func Open(ctx context.Context, path string, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}

	files, dir, err := findDatasetFiles(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		dir:    dir,
		files:  files,
		opts:   o,
		arrays: make(map[int]*zarr.Array),
	}
	if err := r.readFirstFile(); err != nil {
		return nil, err
	}

	idx, err := buildIndex(ctx, files, o)
	if err != nil {
		return nil, err
	}
	r.idx = idx

	o.logger.Debug("dataset indexed", "dir", dir, "files", len(files),
		"planes", len(idx.entries), "positions", idx.positions)

	if o.preload {
		for p := 0; p < idx.positions; p++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := r.GetZarr(p); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// findDatasetFiles resolves path to the sorted OME-TIFF files of one
// dataset directory.
func findDatasetFiles(path string) (files []string, dir string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	dir = path
	if !info.IsDir() {
		if !strings.Contains(filepath.Base(path), "ome.tif") {
			return nil, "", fmt.Errorf("%w: %s", ErrNotOMETIFF, path)
		}
		dir = filepath.Dir(path)
	}
	files, err = filepath.Glob(filepath.Join(dir, "*.ome.tif"))
	if err != nil {
		return nil, "", err
	}
	if len(files) == 0 {
		return nil, "", fmt.Errorf("%w in %s", ErrNoTIFFFiles, dir)
	}
	sort.Strings(files)
	return files, dir, nil
}

// readFirstFile pulls the acquisition summary and the pixel geometry from
// the dataset's first file. The element type always comes from the first
// page's tags; summary blocks misstate it often enough to be useless.
func (r *Reader) readFirstFile() error {
	first := r.files[0]
	f, err := tiff.Open(first)
	if err != nil {
		return &MetadataError{Path: first, Block: "tiff header", Err: err}
	}
	defer f.Close()

	summary, ok := f.SummaryJSON()
	if !ok {
		return &MetadataError{Path: first, Block: "summary"}
	}
	meta, err := normalizeSummary(first, []byte(summary))
	if err != nil {
		return err
	}

	if f.NumPages() == 0 {
		return &MetadataError{Path: first, Block: "pages", Err: errors.New("file has no pages")}
	}
	page, err := f.Page(0)
	if err != nil {
		return &MetadataError{Path: first, Block: "pages", Err: err}
	}
	dtype, err := page.DType()
	if err != nil {
		return &MetadataError{Path: first, Block: "pages", Err: err}
	}

	r.meta = meta
	r.rawSummary = summary
	r.dtype = dtype
	r.order = f.ByteOrder()
	r.height = meta.height
	r.width = meta.width
	if r.height == 0 {
		r.height = page.Height
	}
	if r.width == 0 {
		r.width = page.Width
	}
	if axes, shape, err := f.Series(); err == nil {
		r.seriesAxes = axes
		r.seriesShape = shape
	}
	return nil
}

// GetImage reads the single plane recorded at the given coordinate.
func (r *Reader) GetImage(p, t, c, z int) (*Plane, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	coord := Coord{P: p, T: t, C: c, Z: z}
	entry, ok := r.idx.entries[coord]
	if !ok {
		return nil, &CoordError{Position: p, Time: t, Channel: c, Slice: z}
	}
	data, err := r.readPlaneBytes(entry)
	if err != nil {
		return nil, fmt.Errorf("reading image %v from %s: %w", coord, entry.File, err)
	}
	return &Plane{
		Height: r.height,
		Width:  r.width,
		DType:  r.dtype,
		Order:  r.order,
		Data:   data,
	}, nil
}

// GetZarr returns the cached 5-D array (time, channel, slice, height,
// width) of one position, materializing it on first access. Planes the
// acquisition never recorded read as zeros.
func (r *Reader) GetZarr(p int) (*zarr.Array, error) {
	if p < 0 || p >= r.idx.positions {
		return nil, &PositionError{Position: p, Count: r.idx.positions}
	}

	r.mu.Lock()
	if arr, ok := r.arrays[p]; ok {
		r.mu.Unlock()
		return arr, nil
	}
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	arr, err := r.materializePosition(p)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.arrays[p]; ok {
		return existing, nil
	}
	r.arrays[p] = arr
	r.materializations++
	return arr, nil
}

// GetArray returns a detached dense copy of one position's array.
func (r *Reader) GetArray(p int) (*zarr.Array, error) {
	arr, err := r.GetZarr(p)
	if err != nil {
		return nil, err
	}
	return arr.Dense()
}

func (r *Reader) materializePosition(p int) (*zarr.Array, error) {
	frames, channels, slices := r.idx.positionExtents(p)
	arr, err := zarr.Zeros(zarr.Spec{
		Shape:  []int{frames, channels, slices, r.height, r.width},
		Chunks: []int{1, 1, 1, r.height, r.width},
		DType:  r.dtype,
		Order:  r.order,
	})
	if err != nil {
		return nil, err
	}

	n := 0
	for coord, entry := range r.idx.entries {
		if coord.P != p {
			continue
		}
		data, err := r.readPlaneBytes(entry)
		if err != nil {
			return nil, fmt.Errorf("reading plane %v from %s: %w", coord, entry.File, err)
		}
		if err := arr.SetPlane([]int{coord.T, coord.C, coord.Z}, data); err != nil {
			return nil, err
		}
		n++
	}
	r.opts.logger.Debug("materialized position", "position", p, "planes", n)
	return arr, nil
}

// readPlaneBytes reads one plane's pixel data at its corrected offset.
func (r *Reader) readPlaneBytes(entry IndexEntry) ([]byte, error) {
	n := r.height * r.width * r.dtype.Size()
	f, err := os.Open(entry.File)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if r.opts.noMmap {
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, entry.Offset); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return mmap.ReadAt(f, entry.Offset, n, mmap.RandomAccess)
}

// NumPositions returns the number of positions observed in the index.
func (r *Reader) NumPositions() int {
	return r.idx.positions
}

// NumPlanes returns the number of planes recorded in the index, which is
// smaller than the extent grid when coordinates were never acquired.
func (r *Reader) NumPlanes() int {
	return len(r.idx.entries)
}

// Len returns the number of positions.
func (r *Reader) Len() int {
	return r.idx.positions
}

// Contains reports whether position p is within the dataset.
func (r *Reader) Contains(p int) bool {
	return p >= 0 && p < r.idx.positions
}

// Extents returns the dataset-wide axis extents observed in the index.
func (r *Reader) Extents() (positions, frames, channels, slices int) {
	return r.idx.positions, r.idx.frames, r.idx.channels, r.idx.slices
}

// PositionExtents returns the axis extents of the pages recorded under one
// position, which can be smaller than the dataset-wide extents in an
// interrupted acquisition.
func (r *Reader) PositionExtents(p int) (frames, channels, slices int, err error) {
	if p < 0 || p >= r.idx.positions {
		return 0, 0, 0, &PositionError{Position: p, Count: r.idx.positions}
	}
	frames, channels, slices = r.idx.positionExtents(p)
	return frames, channels, slices, nil
}

// PlaneSize returns the pixel dimensions of every plane.
func (r *Reader) PlaneSize() (height, width int) {
	return r.height, r.width
}

// DType returns the pixel element type, taken from the first page's tags.
func (r *Reader) DType() zarr.DType {
	return r.dtype
}

// ByteOrder returns the byte order of the dataset's pixel data.
func (r *Reader) ByteOrder() stdbinary.ByteOrder {
	return r.order
}

// MMVersion returns the Micro-Manager version string from the summary.
func (r *Reader) MMVersion() string {
	return r.meta.version
}

// ChannelNames returns the normalized channel names.
func (r *Reader) ChannelNames() []string {
	return append([]string(nil), r.meta.channelNames...)
}

// ZStepUm returns the axial step between slices in micrometers, or zero
// when the summary recorded none.
func (r *Reader) ZStepUm() float64 {
	return r.meta.zStepUm
}

// StagePositions returns the normalized stage position list. It is empty
// for single-position acquisitions and for version 1.4.22 datasets.
func (r *Reader) StagePositions() []StagePosition {
	out := make([]StagePosition, len(r.meta.stagePositions))
	for i, pos := range r.meta.stagePositions {
		out[i] = pos
		out[i].Devices = make(map[string][]float64, len(pos.Devices))
		for dev, vals := range pos.Devices {
			out[i].Devices[dev] = append([]float64(nil), vals...)
		}
	}
	return out
}

// PositionLabels returns one label per position, taken from the stage
// position list when it covers every position and generated otherwise.
func (r *Reader) PositionLabels() []string {
	labels := make([]string, r.idx.positions)
	for p := range labels {
		if p < len(r.meta.stagePositions) && r.meta.stagePositions[p].Label != "" {
			labels[p] = r.meta.stagePositions[p].Label
		} else {
			labels[p] = fmt.Sprintf("Pos%d", p)
		}
	}
	return labels
}

// SummaryMetadata returns the raw summary JSON of the first file.
func (r *Reader) SummaryMetadata() string {
	return r.rawSummary
}

// Files returns the dataset's files in scan order.
func (r *Reader) Files() []string {
	return append([]string(nil), r.files...)
}

// Dir returns the dataset directory.
func (r *Reader) Dir() string {
	return r.dir
}

// SetItem rejects writes; MMStack datasets are read-only.
func (r *Reader) SetItem(int, *zarr.Array) error {
	return ErrReadOnly
}

// DeleteItem rejects deletions; MMStack datasets are read-only.
func (r *Reader) DeleteItem(int) error {
	return ErrReadOnly
}

// Close marks the reader closed. Already-cached position arrays stay
// readable; operations that would touch the files return ErrClosed.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
