package binary

import (
	"encoding/binary"
	"fmt"
)

// Writer builds a binary file image in memory with a fixed byte order.
// Writes append at the end; PadTo zero-fills up to a precomputed offset so
// sections land exactly where a layout pass placed them.
type Writer struct {
	buf   []byte
	order binary.ByteOrder
}

// NewWriter creates an empty writer with the given byte order.
func NewWriter(order binary.ByteOrder) *Writer {
	return &Writer{order: order}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the accumulated file image.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// WriteUint16 appends a 16-bit value.
func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteUint32 appends a 32-bit value.
func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteString appends the bytes of s.
func (w *Writer) WriteString(s string) {
	w.buf = append(w.buf, s...)
}

// WriteASCII appends s followed by a NUL terminator, the layout TIFF uses
// for ASCII tag values.
func (w *Writer) WriteASCII(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// PadTo zero-fills up to off. It fails when the writer is already past off,
// which means the layout pass under-counted a section.
func (w *Writer) PadTo(off int64) error {
	if int64(len(w.buf)) > off {
		return fmt.Errorf("binary: layout overrun: at %d, expected %d", len(w.buf), off)
	}
	for int64(len(w.buf)) < off {
		w.buf = append(w.buf, 0)
	}
	return nil
}

// ByteOrder returns the writer's byte order.
func (w *Writer) ByteOrder() binary.ByteOrder {
	return w.order
}
