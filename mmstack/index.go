package mmstack

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ziw-liu/iohub/internal/tiff"
)

// Byte offsets in a Micro-Manager index map point at a page's IFD block, not
// at its pixel data. The IFD is a 2-byte entry count, 12 bytes per tag and a
// 4-byte next-IFD pointer, and the pixel data follows it directly. The first
// page of a file carries 17 tags and every later page 13, so pixel data
// starts a fixed distance past the recorded offset.
const (
	firstPageDataOffset = 2 + 17*12 + 4 // 210
	laterPageDataOffset = 2 + 13*12 + 4 // 162
)

// Coord identifies one image plane within a dataset.
type Coord struct {
	P int // position
	T int // time point
	C int // channel
	Z int // slice
}

// IndexEntry locates a plane's pixel data on disk.
type IndexEntry struct {
	File   string
	Page   int
	Offset int64
}

// index is the dataset-wide coordinate lookup. Extents are the maximum
// observed index plus one per axis, so they reflect the pages actually
// recorded rather than what the summary block promised.
type index struct {
	entries   map[Coord]IndexEntry
	positions int
	frames    int
	channels  int
	slices    int
}

// pageEntry is one retained index-map row of a single file, with the byte
// offset already corrected to point at pixel data.
type pageEntry struct {
	coord  Coord
	page   int
	offset int64
}

// scanIndexFile reads one file's index map and returns its retained rows.
// Rows with a non-positive offset mark pages the acquisition never wrote
// and are dropped; the remaining rows keep their original page number so
// coordinates stay aligned with their offsets.
func scanIndexFile(path string) ([]pageEntry, error) {
	f, err := tiff.Open(path)
	if err != nil {
		return nil, &MetadataError{Path: path, Block: "tiff header", Err: err}
	}
	defer f.Close()

	m := f.IndexMap()
	if m == nil {
		return nil, &MetadataError{Path: path, Block: "index map"}
	}

	entries := make([]pageEntry, 0, m.Len())
	first := true
	for page := 0; page < m.Len(); page++ {
		offset := m.Offset[page]
		if offset <= 0 {
			continue
		}
		if first {
			offset += firstPageDataOffset
			first = false
		} else {
			offset += laterPageDataOffset
		}
		entries = append(entries, pageEntry{
			coord: Coord{
				P: m.Position[page],
				T: m.Frame[page],
				C: m.Channel[page],
				Z: m.Slice[page],
			},
			page:   page,
			offset: offset,
		})
	}
	return entries, nil
}

// buildIndex scans every file's index map and merges the results. Scanning
// may run on several workers, but merging always happens in the given file
// order so the duplicate policy resolves the same way on every run.
func buildIndex(ctx context.Context, files []string, o *options) (*index, error) {
	scanned := make([][]pageEntry, len(files))

	if o.scanWorkers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.scanWorkers)
		var mu sync.Mutex
		for i, path := range files {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				entries, err := scanIndexFile(path)
				if err != nil {
					return err
				}
				mu.Lock()
				scanned[i] = entries
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			entries, err := scanIndexFile(path)
			if err != nil {
				return nil, err
			}
			scanned[i] = entries
		}
	}

	ix := &index{entries: make(map[Coord]IndexEntry)}
	for i, entries := range scanned {
		if err := ix.merge(files[i], entries, o.duplicates); err != nil {
			return nil, err
		}
		o.logger.Debug("indexed file", "path", files[i], "pages", len(entries))
	}
	return ix, nil
}

func (ix *index) merge(file string, entries []pageEntry, policy DuplicatePolicy) error {
	for _, e := range entries {
		if prev, ok := ix.entries[e.coord]; ok {
			switch policy {
			case FirstWins:
				continue
			case ErrorOnConflict:
				return &MetadataError{Path: file, Block: "index map",
					Err: &duplicateCoordError{coord: e.coord, firstFile: prev.File}}
			}
		}
		ix.entries[e.coord] = IndexEntry{File: file, Page: e.page, Offset: e.offset}
		ix.positions = max(ix.positions, e.coord.P+1)
		ix.frames = max(ix.frames, e.coord.T+1)
		ix.channels = max(ix.channels, e.coord.C+1)
		ix.slices = max(ix.slices, e.coord.Z+1)
	}
	return nil
}

// positionExtents returns the per-axis extents of the pages recorded under
// one position. A position with no pages at all has zero extents.
func (ix *index) positionExtents(p int) (frames, channels, slices int) {
	for coord := range ix.entries {
		if coord.P != p {
			continue
		}
		frames = max(frames, coord.T+1)
		channels = max(channels, coord.C+1)
		slices = max(slices, coord.Z+1)
	}
	return frames, channels, slices
}

type duplicateCoordError struct {
	coord     Coord
	firstFile string
}

func (e *duplicateCoordError) Error() string {
	return fmt.Sprintf("duplicate entry for coordinate %v, first recorded by %s",
		e.coord, e.firstFile)
}

func (c Coord) String() string {
	return fmt.Sprintf("(p=%d, t=%d, c=%d, z=%d)", c.P, c.T, c.C, c.Z)
}
