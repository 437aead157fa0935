// Package tiff implements the narrow slice of TIFF needed to read
// Micro-Manager OME-TIFF files: classic (non-Big) TIFF headers, IFD chains,
// strip-based page data, and the Micro-Manager metadata blocks embedded at
// fixed offsets in the file header region.
package tiff

import (
	stdbinary "encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/ziw-liu/iohub/internal/binary"
)

// Classic TIFF header magic values.
const (
	magicClassic = 42
	magicBig     = 43
)

var (
	// ErrNotTIFF is returned when a file does not start with a TIFF header.
	ErrNotTIFF = errors.New("tiff: not a TIFF file")
	// ErrBigTIFF is returned for BigTIFF files, which this reader does not support.
	ErrBigTIFF = errors.New("tiff: BigTIFF files are not supported")
)

// File is an open TIFF file with its page table and any Micro-Manager
// metadata blocks parsed up front. Page pixel data is read on demand.
type File struct {
	path  string
	f     *os.File
	br    *binary.Reader
	order stdbinary.ByteOrder

	pages []Page

	summary  string
	indexMap *IndexMap
	display  string
	comments string
}

// Open parses the TIFF header, the IFD chain and the Micro-Manager metadata
// blocks of the file at path. The file handle stays open for page reads until
// Close.
func Open(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := parse(osf, path)
	if err != nil {
		osf.Close()
		return nil, err
	}
	return f, nil
}

func parse(osf *os.File, path string) (*File, error) {
	head := make([]byte, 8)
	if _, err := osf.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotTIFF, path)
	}

	var order stdbinary.ByteOrder
	switch {
	case head[0] == 'I' && head[1] == 'I':
		order = stdbinary.LittleEndian
	case head[0] == 'M' && head[1] == 'M':
		order = stdbinary.BigEndian
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotTIFF, path)
	}

	switch magic := order.Uint16(head[2:4]); magic {
	case magicClassic:
	case magicBig:
		return nil, fmt.Errorf("%w: %s", ErrBigTIFF, path)
	default:
		return nil, fmt.Errorf("%w: %s has magic %d", ErrNotTIFF, path, magic)
	}

	f := &File{
		path:  path,
		f:     osf,
		br:    binary.NewReader(osf, order),
		order: order,
	}

	firstIFD := int64(order.Uint32(head[4:8]))
	if err := f.readPages(firstIFD); err != nil {
		return nil, err
	}
	f.readMMBlocks()
	return f, nil
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

// Path returns the path the file was opened from.
func (f *File) Path() string {
	return f.path
}

// ByteOrder returns the byte order declared in the TIFF header.
func (f *File) ByteOrder() stdbinary.ByteOrder {
	return f.order
}

// NumPages returns the number of IFDs in the file.
func (f *File) NumPages() int {
	return len(f.pages)
}

// Page returns the page at the given zero-based index.
func (f *File) Page(i int) (*Page, error) {
	if i < 0 || i >= len(f.pages) {
		return nil, fmt.Errorf("tiff: page %d out of range [0, %d)", i, len(f.pages))
	}
	return &f.pages[i], nil
}

// SummaryJSON returns the Micro-Manager summary metadata block, if present.
func (f *File) SummaryJSON() (string, bool) {
	return f.summary, f.summary != ""
}

// IndexMap returns the Micro-Manager coordinate index block, or nil when the
// file carries none.
func (f *File) IndexMap() *IndexMap {
	return f.indexMap
}

// DisplayJSON returns the Micro-Manager display-settings block, if present.
func (f *File) DisplayJSON() (string, bool) {
	return f.display, f.display != ""
}

// CommentsJSON returns the Micro-Manager comments block, if present.
func (f *File) CommentsJSON() (string, bool) {
	return f.comments, f.comments != ""
}

// readPages walks the IFD chain from the given offset.
func (f *File) readPages(offset int64) error {
	seen := make(map[int64]bool)
	for offset != 0 {
		if seen[offset] {
			return fmt.Errorf("tiff: IFD chain loops back to offset %d in %s", offset, f.path)
		}
		seen[offset] = true

		page, next, err := f.readIFD(offset)
		if err != nil {
			return err
		}
		f.pages = append(f.pages, *page)
		offset = next
	}
	return nil
}
