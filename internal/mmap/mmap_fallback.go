//go:build !unix

package mmap

import (
	"io"
	"os"
)

// Plain reads stand in for mmap on platforms without unix mmap; the returned
// slice is an ordinary buffer and Unmap is a no-op.
func mapFile(f *os.File, size int, _ Options) ([]byte, error) {
	b := make([]byte, size)
	if _, err := f.ReadAt(b, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return b, nil
}

func unmapFile(b []byte) error {
	return nil
}
