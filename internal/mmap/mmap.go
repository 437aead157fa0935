// Package mmap provides read-only memory-mapped file access with a plain
// read fallback on platforms without unix mmap.
package mmap

import (
	"fmt"
	"os"
)

type Options uint

const (
	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << 0

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess Options = 1 << 1

	// Prefault is a hint requesting the entire file to be loaded in memory
	// for fastest access. Maps to MAP_POPULATE on Linux.
	Prefault Options = 1 << 2
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Map memory-maps the whole file read-only.
func Map(f *os.File, opt Options) ([]byte, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if int64(int(size)) != size {
		return nil, fmt.Errorf("mmap: %s is too large to map on this platform", f.Name())
	}
	return mapFile(f, int(size), opt)
}

// Unmap releases a mapping returned by Map.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unmapFile(b)
}

// ReadAt copies n bytes at offset out of a scoped mapping of f. The mapping
// is released before returning, on the error paths included, so callers never
// hold a view into the file.
func ReadAt(f *os.File, offset int64, n int, opt Options) (data []byte, err error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+int64(n) > fi.Size() {
		return nil, fmt.Errorf("mmap: read [%d, %d) outside file of %d bytes", offset, offset+int64(n), fi.Size())
	}
	b, err := Map(f, opt)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := Unmap(b); uerr != nil && err == nil {
			data, err = nil, uerr
		}
	}()
	data = make([]byte, n)
	copy(data, b[offset:])
	return data, nil
}
