//go:build unix

package mmap

import (
	"errors"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestMapAdviseFailureUnmaps(t *testing.T) {
	f := writeTempFile(t, []byte("0123456789abcdef"))

	boom := errors.New("boom")
	unmapped := false
	madvise = func([]byte, int) error { return boom }
	munmap = func(b []byte) error {
		unmapped = true
		return unix.Munmap(b)
	}
	defer func() { madvise, munmap = unix.Madvise, unix.Munmap }()

	if _, err := Map(f, RandomAccess); !errors.Is(err, boom) {
		t.Fatalf("Map returned %v, want the advise error", err)
	}
	if !unmapped {
		t.Fatal("failed advise left the mapping in place")
	}
}

func TestMapAdviseNotImplemented(t *testing.T) {
	f := writeTempFile(t, []byte("0123456789abcdef"))

	madvise = func([]byte, int) error { return syscall.ENOSYS }
	defer func() { madvise = unix.Madvise }()

	b, err := Map(f, SequentialAccess)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := Unmap(b); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
}
