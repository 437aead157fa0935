// Package mmstack reads Micro-Manager multi-file OME-TIFF ("MMStack")
// datasets as randomly indexable, lazily loaded multi-dimensional arrays
// keyed by position, time, channel and slice.
package mmstack

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNoTIFFFiles = errors.New("no OME-TIFF files found")
	ErrNotOMETIFF  = errors.New("not an OME-TIFF file")
	ErrReadOnly    = errors.New("dataset is read-only")
	ErrClosed      = errors.New("reader is closed")
)

// MetadataError reports a missing or corrupt metadata block in one of the
// dataset's files. Construction fails on the first such error; there is no
// partially indexed reader.
type MetadataError struct {
	Path  string
	Block string
	Err   error
}

func (e *MetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid %s block: %v", e.Path, e.Block, e.Err)
	}
	return fmt.Sprintf("%s: missing %s block", e.Path, e.Block)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// CoordError reports a coordinate that no file in the dataset recorded a
// page for.
type CoordError struct {
	Position int
	Time     int
	Channel  int
	Slice    int
}

func (e *CoordError) Error() string {
	return fmt.Sprintf("no image at coordinate (p=%d, t=%d, c=%d, z=%d)",
		e.Position, e.Time, e.Channel, e.Slice)
}

// PositionError reports a position index outside the dataset.
type PositionError struct {
	Position int
	Count    int
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position %d out of range [0, %d)", e.Position, e.Count)
}
