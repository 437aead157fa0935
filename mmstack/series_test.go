package mmstack

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziw-liu/iohub/internal/mmtest"
	"github.com/ziw-liu/iohub/xarr"
)

func TestOpenSeries(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, filepath.Base(dir), s.Name())
	// Two OME Image elements with DimensionOrder XYCZT.
	assert.Equal(t, "RTZCYX", s.Axes())

	// The canonical view always carries all six axes; here the declared
	// and observed extents agree.
	assert.Equal(t, []string{"R", "T", "C", "Z", "Y", "X"}, s.XData().Dims())
	assert.Equal(t, []int{2, 3, 2, 1, testH, testW}, s.Shape())

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(1))
	assert.False(t, s.Contains(2))

	plane, err := s.XData().Plane(1, 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(1, 2, 0, 0), plane)
}

func TestSeriesItem(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	item, err := s.Item(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"T", "C", "Z", "Y", "X"}, item.Dims())
	// Items are padded to the dataset-wide extents, unlike GetZarr.
	assert.Equal(t, []int{3, 2, 1, testH, testW}, item.Shape())

	plane, err := item.Plane(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(1, 0, 0, 0), plane)

	// Never-acquired planes read as zeros: the dropped t=1 page and the
	// channel position 1 never recorded.
	plane, err = item.Plane(1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testW*testH*2), plane)
	plane, err = item.Plane(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testW*testH*2), plane)

	data, err := s.ItemData(1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1, testH, testW}, data.Shape())
	plane, err = data.Plane(2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(1, 2, 0, 0), plane)

	_, err = s.Item(2)
	var perr *PositionError
	require.ErrorAs(t, err, &perr)
	_, err = s.Item(-1)
	require.Error(t, err)
}

func TestSeriesSummaryFallback(t *testing.T) {
	dir := t.TempDir()
	ds := &mmtest.Dataset{
		Width:  testW,
		Height: testH,
		Bits:   16,
		Format: 1,
		SummaryJSON: mmtest.Summary{
			Version:   "2.0.1",
			Positions: 1,
			Frames:    2,
			Channels:  1,
			Slices:    2,
			Height:    testH,
			Width:     testW,
			ChNames:   []string{"BF"},
		}.JSON(),
		Files: []mmtest.File{
			{
				Name: "img_MMStack.ome.tif",
				Planes: []mmtest.Plane{
					{Time: 0, Slice: 0, Pix: grad(0, 0, 0, 0)},
					{Time: 0, Slice: 1, Pix: grad(0, 0, 0, 1)},
					{Time: 1, Slice: 0, Pix: grad(0, 1, 0, 0)},
					{Time: 1, Slice: 1, Pix: grad(0, 1, 0, 1)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)

	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	// No OME-XML in the description: axes come from the summary block.
	assert.Equal(t, "RTCZYX", s.Axes())
	assert.Equal(t, []int{1, 2, 1, 2, testH, testW}, s.Shape())

	plane, err := s.XData().Plane(0, 1, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, grad(0, 1, 0, 1), plane)
}

func TestSeriesAxisPromotion(t *testing.T) {
	dir := t.TempDir()
	ds := &mmtest.Dataset{
		Width:  testW,
		Height: testH,
		Bits:   16,
		Format: 1,
		SummaryJSON: mmtest.Summary{
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
		}.JSON(),
		// One OME Image element even though two positions were recorded.
		Description: mmtest.OMEXML(1, 1, 1, 1, testH, testW, "uint16"),
		Files: []mmtest.File{
			{
				Name: "img_MMStack_Pos0.ome.tif",
				Planes: []mmtest.Plane{
					{Position: 0, Pix: grad(0, 0, 0, 0)},
				},
			},
			{
				Name: "img_MMStack_Pos1.ome.tif",
				Planes: []mmtest.Plane{
					{Position: 1, Pix: grad(1, 0, 0, 0)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)

	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	// The files' metadata never declared a position axis, but the index
	// observed two positions, so the view grows an R axis anyway.
	assert.Equal(t, "TZCYX", s.Axes())
	assert.Equal(t, []int{2, 1, 1, 1, testH, testW}, s.Shape())

	plane, err := s.XData().Plane(1, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(1, 0, 0, 0), plane)
}

func TestSeriesDeclaredShape(t *testing.T) {
	dir := t.TempDir()
	ds := &mmtest.Dataset{
		Width:  testW,
		Height: testH,
		Bits:   16,
		Format: 1,
		SummaryJSON: mmtest.Summary{
			Version:   "2.0.1",
			Positions: 1,
			Frames:    3,
			Channels:  1,
			Slices:    1,
			Height:    testH,
			Width:     testW,
			ChNames:   []string{"BF"},
		}.JSON(),
		Description: mmtest.OMEXML(1, 3, 1, 1, testH, testW, "uint16"),
		Files: []mmtest.File{
			{
				Name: "img_MMStack.ome.tif",
				Planes: []mmtest.Plane{
					{Time: 0, Pix: grad(0, 0, 0, 0)},
					{Time: 1, Pix: grad(0, 1, 0, 0)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)

	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	// Three declared frames, two acquired: the view spans the declaration
	// while the coordinate reader keeps reporting what it indexed.
	assert.Equal(t, []int{1, 3, 1, 1, testH, testW}, s.Shape())
	size, err := s.XData().Size("T")
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	_, frames, _, _ := s.Reader().Extents()
	assert.Equal(t, 2, frames)

	plane, err := s.XData().Plane(0, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(0, 1, 0, 0), plane)

	// The declared but never-acquired frame reads as zeros.
	plane, err = s.XData().Plane(0, 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testW*testH*2), plane)
}

func TestSeriesSinglePosition(t *testing.T) {
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
		Description: mmtest.OMEXML(1, 1, 1, 1, testH, testW, "uint16"),
		Files: []mmtest.File{
			{
				Name: "img_MMStack.ome.tif",
				Planes: []mmtest.Plane{
					{Pix: grad(0, 0, 0, 0)},
				},
			},
		},
	}
	_, err := ds.Write(dir)
	require.NoError(t, err)

	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	// A single-image OME block has no R axis; the canonical view expands
	// one in.
	assert.Equal(t, "TZCYX", s.Axes())
	assert.Equal(t, []int{1, 1, 1, 1, testH, testW}, s.Shape())
	assert.Equal(t, 1, s.Len())

	plane, err := s.XData().Plane(0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, grad(0, 0, 0, 0), plane)
}

func TestSeriesReadOnly(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	require.ErrorIs(t, s.SetItem(0, nil), ErrReadOnly)
	require.ErrorIs(t, s.DeleteItem(0), ErrReadOnly)
}

func TestSeriesWalk(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	var visited []int
	err = s.Walk(func(p int, item *xarr.DataArray, err error) error {
		require.NoError(t, err)
		require.NotNil(t, item)
		visited = append(visited, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, visited)

	count := 0
	err = s.Walk(func(int, *xarr.DataArray, error) error {
		count++
		return ErrStopWalk
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSeriesClose(t *testing.T) {
	dir := writeTwoPositionDataset(t)
	s, err := OpenSeries(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, s.Close())

	// Views still exist, but loading a recorded plane now fails.
	item, err := s.Item(0)
	require.NoError(t, err)
	_, err = item.Plane(0, 0, 0)
	require.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, 2, s.Reader().NumPositions())
}
