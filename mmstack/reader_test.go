package mmstack

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziw-liu/iohub/internal/mmtest"
	"github.com/ziw-liu/iohub/zarr"
)

const (
	testW = 4
	testH = 4
)

func gradSeed(p, t, c, z int) uint16 {
	return uint16(p*1000 + t*100 + c*10 + z)
}

func grad(p, t, c, z int) []byte {
	return mmtest.GradientPlaneU16(testW, testH, gradSeed(p, t, c, z))
}

// writeTwoPositionDataset writes the standard fixture: position 0 with a
// full 2x2 time/channel grid and position 1 with three time points of one
// channel, of which t=1 was never acquired. The summary understates the
// frame count on purpose.
func writeTwoPositionDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ds := &mmtest.Dataset{
		Width:  testW,
		Height: testH,
		Bits:   16,
		Format: 1,
		SummaryJSON: mmtest.Summary{
			Version:   "2.0.1 20230712",
			Positions: 2,
			Frames:    2,
			Channels:  2,
			Slices:    1,
			Height:    testH,
			Width:     testW,
			ChNames:   []string{"GFP", "mCherry"},
			ZStepUm:   0.5,
			StagePositions: []string{
				mmtest.ModernStagePosition("Pos-A", 0, 0, "XYStage", 100, 200, "ZStage", 50),
				mmtest.ModernStagePosition("Pos-B", 0, 1, "XYStage", 300, 400, "ZStage", 60),
			},
		}.JSON(),
		Description: mmtest.OMEXML(2, 3, 2, 1, testH, testW, "uint16"),
		Files: []mmtest.File{
			{
				Name: "img_MMStack_Pos0.ome.tif",
				Planes: []mmtest.Plane{
					{Position: 0, Time: 0, Channel: 0, Slice: 0, Pix: grad(0, 0, 0, 0)},
					{Position: 0, Time: 0, Channel: 1, Slice: 0, Pix: grad(0, 0, 1, 0)},
					{Position: 0, Time: 1, Channel: 0, Slice: 0, Pix: grad(0, 1, 0, 0)},
					{Position: 0, Time: 1, Channel: 1, Slice: 0, Pix: grad(0, 1, 1, 0)},
				},
			},
			{
				Name: "img_MMStack_Pos1.ome.tif",
				Planes: []mmtest.Plane{
					{Position: 1, Time: 0, Channel: 0, Slice: 0, Pix: grad(1, 0, 0, 0)},
					{Position: 1, Time: 1, Channel: 0, Slice: 0, Pix: grad(1, 1, 0, 0), OmitOffset: true},
					{Position: 1, Time: 2, Channel: 0, Slice: 0, Pix: grad(1, 2, 0, 0)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)
	return dir
}

func openTestDataset(t *testing.T, opts ...Option) *Reader {
	t.Helper()
	r, err := Open(context.Background(), writeTwoPositionDataset(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpenDirectory(t *testing.T) {
	r := openTestDataset(t)

	positions, frames, channels, slices := r.Extents()
	assert.Equal(t, 2, positions)
	assert.Equal(t, 3, frames) // the observed t=2 page beats the summary's two frames
	assert.Equal(t, 2, channels)
	assert.Equal(t, 1, slices)

	h, w := r.PlaneSize()
	assert.Equal(t, testH, h)
	assert.Equal(t, testW, w)
	assert.Equal(t, zarr.Uint16, r.DType())
	assert.Equal(t, []string{"GFP", "mCherry"}, r.ChannelNames())
	assert.Equal(t, 0.5, r.ZStepUm())
	assert.Equal(t, "2.0.1 20230712", r.MMVersion())
	assert.Len(t, r.Files(), 2)
	assert.Equal(t, []string{"Pos-A", "Pos-B"}, r.PositionLabels())
	assert.NotEmpty(t, r.SummaryMetadata())

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 6, r.NumPlanes()) // seven pages minus the zero-offset one
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(1))
	assert.False(t, r.Contains(2))
	assert.False(t, r.Contains(-1))
}

func TestOpenSingleFile(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	r, err := Open(context.Background(), filepath.Join(dir, "img_MMStack_Pos1.ome.tif"))
	require.NoError(t, err)
	defer r.Close()

	// Opening one file still indexes the sibling files of the dataset.
	assert.Equal(t, 2, r.NumPositions())
	assert.Len(t, r.Files(), 2)
}

func TestOpenErrors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent"))
		require.Error(t, err)
	})

	t.Run("not an ome-tiff", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
		_, err := Open(context.Background(), path)
		require.ErrorIs(t, err, ErrNotOMETIFF)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := Open(context.Background(), t.TempDir())
		require.ErrorIs(t, err, ErrNoTIFFFiles)
	})
}

func TestOptionValidation(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	_, err := Open(context.Background(), dir, WithScanWorkers(0))
	require.Error(t, err)
	_, err = Open(context.Background(), dir, WithLogger(nil))
	require.Error(t, err)
	_, err = Open(context.Background(), dir, WithDuplicates(DuplicatePolicy(42)))
	require.Error(t, err)
}

func TestGetImage(t *testing.T) {
	r := openTestDataset(t)

	img, err := r.GetImage(1, 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, testH, img.Height)
	assert.Equal(t, testW, img.Width)
	assert.Equal(t, zarr.Uint16, img.DType)
	assert.Equal(t, grad(1, 2, 0, 0), img.Data)

	vals, err := img.Uint16()
	require.NoError(t, err)
	require.Len(t, vals, testW*testH)
	assert.Equal(t, gradSeed(1, 2, 0, 0), vals[0])
	assert.Equal(t, gradSeed(1, 2, 0, 0)+15, vals[15])

	// t=1 of position 1 is in the index map with a zero offset, so the
	// coordinate does not exist.
	_, err = r.GetImage(1, 1, 0, 0)
	var cerr *CoordError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.Position)
	assert.Equal(t, 1, cerr.Time)

	_, err = r.GetImage(0, 0, 0, 5)
	require.Error(t, err)
}

func TestGetImageWithoutMmap(t *testing.T) {
	r := openTestDataset(t, WithoutMmap())
	img, err := r.GetImage(0, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(0, 1, 1, 0), img.Data)
}

func TestGetZarr(t *testing.T) {
	r := openTestDataset(t)

	arr0, err := r.GetZarr(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1, testH, testW}, arr0.Shape())
	assert.Equal(t, []int{1, 1, 1, testH, testW}, arr0.Chunks())

	plane, err := arr0.Plane(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(0, 1, 1, 0), plane)

	// Position 1 never recorded a second channel, so its array is narrower
	// than the dataset-wide extents.
	arr1, err := r.GetZarr(1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 1, testH, testW}, arr1.Shape())

	plane, err = arr1.Plane(2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(1, 2, 0, 0), plane)

	// The dropped t=1 plane reads as zeros.
	plane, err = arr1.Plane(1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testW*testH*2), plane)

	_, err = r.GetZarr(2)
	var perr *PositionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Count)
	_, err = r.GetZarr(-1)
	require.Error(t, err)
}

func TestGetZarrCaching(t *testing.T) {
	r := openTestDataset(t)

	a, err := r.GetZarr(0)
	require.NoError(t, err)
	b, err := r.GetZarr(0)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, r.materializations)

	dense, err := r.GetArray(0)
	require.NoError(t, err)
	assert.NotSame(t, a, dense)
	got, err := dense.Read()
	require.NoError(t, err)
	want, err := a.Read()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// GetArray went through the cache, not a second materialization.
	assert.Equal(t, 1, r.materializations)
}

func TestPositionExtents(t *testing.T) {
	r := openTestDataset(t)

	frames, channels, slices, err := r.PositionExtents(0)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 1}, [3]int{frames, channels, slices})

	frames, channels, slices, err = r.PositionExtents(1)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 1, 1}, [3]int{frames, channels, slices})

	_, _, _, err = r.PositionExtents(2)
	require.Error(t, err)
}

func TestReadOnly(t *testing.T) {
	r := openTestDataset(t)

	require.ErrorIs(t, r.SetItem(0, nil), ErrReadOnly)
	require.ErrorIs(t, r.DeleteItem(0), ErrReadOnly)

	// Rejected writes leave the dataset untouched.
	arr, err := r.GetZarr(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1, testH, testW}, arr.Shape())
}

func TestStagePositionsCopied(t *testing.T) {
	r := openTestDataset(t)

	sp := r.StagePositions()
	require.Len(t, sp, 2)
	sp[0].Devices["XYStage"][0] = 999

	again := r.StagePositions()
	assert.Equal(t, 100.0, again[0].Devices["XYStage"][0])
}

func TestClose(t *testing.T) {
	r := openTestDataset(t)

	cached, err := r.GetZarr(0)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.GetImage(0, 0, 0, 0)
	require.ErrorIs(t, err, ErrClosed)
	_, err = r.GetZarr(1)
	require.ErrorIs(t, err, ErrClosed)

	// The cached array stays readable.
	arr, err := r.GetZarr(0)
	require.NoError(t, err)
	assert.Same(t, cached, arr)
	_, err = r.GetArray(0)
	require.NoError(t, err)
}

func writeDuplicateDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ds := &mmtest.Dataset{
		Width:  testW,
		Height: testH,
		Bits:   16,
		Format: 1,
		SummaryJSON: mmtest.Summary{
			Version:   "2.0.1",
			Positions: 1,
			Frames:    1,
			Channels:  1,
			Slices:    1,
			Height:    testH,
			Width:     testW,
			ChNames:   []string{"BF"},
		}.JSON(),
		Files: []mmtest.File{
			{
				Name: "a_MMStack.ome.tif",
				Planes: []mmtest.Plane{
					{Pix: mmtest.GradientPlaneU16(testW, testH, 7)},
				},
			},
			{
				Name: "b_MMStack.ome.tif",
				Planes: []mmtest.Plane{
					{Pix: mmtest.GradientPlaneU16(testW, testH, 42)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)
	return dir
}

func TestDuplicatePolicies(t *testing.T) {
	dir := writeDuplicateDataset(t)

	t.Run("last wins", func(t *testing.T) {
		r, err := Open(context.Background(), dir)
		require.NoError(t, err)
		defer r.Close()
		img, err := r.GetImage(0, 0, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, mmtest.GradientPlaneU16(testW, testH, 42), img.Data)
	})

	t.Run("first wins", func(t *testing.T) {
		r, err := Open(context.Background(), dir, WithDuplicates(FirstWins))
		require.NoError(t, err)
		defer r.Close()
		img, err := r.GetImage(0, 0, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, mmtest.GradientPlaneU16(testW, testH, 7), img.Data)
	})

	t.Run("error on conflict", func(t *testing.T) {
		_, err := Open(context.Background(), dir, WithDuplicates(ErrorOnConflict))
		var merr *MetadataError
		require.ErrorAs(t, err, &merr)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("last wins stays deterministic with workers", func(t *testing.T) {
		r, err := Open(context.Background(), dir, WithScanWorkers(8))
		require.NoError(t, err)
		defer r.Close()
		img, err := r.GetImage(0, 0, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, mmtest.GradientPlaneU16(testW, testH, 42), img.Data)
	})
}

func TestParallelScanMatchesSequential(t *testing.T) {
	dir := writeTwoPositionDataset(t)

	seq, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer seq.Close()
	par, err := Open(context.Background(), dir, WithScanWorkers(4))
	require.NoError(t, err)
	defer par.Close()

	sp, sf, sc, ss := seq.Extents()
	pp, pf, pc, ps := par.Extents()
	assert.Equal(t, [4]int{sp, sf, sc, ss}, [4]int{pp, pf, pc, ps})

	a, err := seq.GetImage(1, 2, 0, 0)
	require.NoError(t, err)
	b, err := par.GetImage(1, 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestOpenCanceledContext(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)

	_, err = Open(ctx, dir, WithScanWorkers(4))
	require.ErrorIs(t, err, context.Canceled)
}

func TestPreload(t *testing.T) {
	r := openTestDataset(t, WithPreload())
	assert.Equal(t, 2, r.materializations)

	_, err := r.GetZarr(0)
	require.NoError(t, err)
	_, err = r.GetZarr(1)
	require.NoError(t, err)
	assert.Equal(t, 2, r.materializations)
}

func TestWalk(t *testing.T) {
	r := openTestDataset(t)

	var visited []int
	err := r.Walk(func(p int, arr *zarr.Array, err error) error {
		require.NoError(t, err)
		require.NotNil(t, arr)
		visited = append(visited, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, visited)

	count := 0
	err = r.Walk(func(int, *zarr.Array, error) error {
		count++
		return ErrStopWalk
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	boom := errors.New("boom")
	err = r.Walk(func(int, *zarr.Array, error) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestDebugLogging(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})

	r, err := Open(context.Background(), dir, WithLogger(logger))
	require.NoError(t, err)
	defer r.Close()
	assert.Contains(t, buf.String(), "dataset indexed")

	_, err = r.GetZarr(0)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "materialized position")
}

func TestMissingSummary(t *testing.T) {
	dir := t.TempDir()
	ds := &mmtest.Dataset{
		Width:  testW,
		Height: testH,
		Bits:   16,
		Format: 1,
		Files: []mmtest.File{
			{
				Name: "img_MMStack.ome.tif",
				Planes: []mmtest.Plane{
					{Pix: mmtest.GradientPlaneU16(testW, testH, 1)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)

	_, err = Open(context.Background(), dir)
	var merr *MetadataError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "summary", merr.Block)
}

func TestCorruptIndexMap(t *testing.T) {
	dir := t.TempDir()
	summary := mmtest.Summary{
		Version:   "2.0.1",
		Positions: 2,
		Frames:    1,
		Channels:  1,
		Slices:    1,
		Height:    testH,
		Width:     testW,
		ChNames:   []string{"BF"},
		StagePositions: []string{
			mmtest.ModernStagePosition("A", 0, 0, "XY", 1, 2, "Z", 3),
			mmtest.ModernStagePosition("B", 0, 1, "XY", 4, 5, "Z", 6),
		},
	}.JSON()
	ds := &mmtest.Dataset{
		Width:       testW,
		Height:      testH,
		Bits:        16,
		Format:      1,
		SummaryJSON: summary,
		Files: []mmtest.File{
			{
				Name: "img_MMStack_Pos0.ome.tif",
				Planes: []mmtest.Plane{
					{Pix: mmtest.GradientPlaneU16(testW, testH, 1)},
				},
			},
			{
				Name:       "img_MMStack_Pos1.ome.tif",
				NoIndexMap: true,
				Planes: []mmtest.Plane{
					{Position: 1, Pix: mmtest.GradientPlaneU16(testW, testH, 2)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)

	_, err = Open(context.Background(), dir)
	var merr *MetadataError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "index map", merr.Block)
	assert.Contains(t, merr.Path, "Pos1")
}
