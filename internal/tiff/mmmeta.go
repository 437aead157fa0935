package tiff

import (
	"strings"
)

// Micro-Manager block magic numbers. The four header slots sit at fixed
// offsets 8..39, between the standard TIFF header and the summary JSON that
// starts at byte 40.
const (
	indexMapHeaderMagic = 54773648
	displayHeaderMagic  = 483765892
	commentsHeaderMagic = 99384722
	summaryHeaderMagic  = 2355492

	indexMapBlockMagic = 3453623
	displayBlockMagic  = 347834724
	commentsBlockMagic = 84720485
)

// mmHeaderOffset is where the Micro-Manager header slots begin.
const mmHeaderOffset = 8

// IndexMap is the per-file coordinate index Micro-Manager appends to each
// OME-TIFF: five parallel arrays with one entry per page, in page order.
// Offsets point at the page's IFD region, not the pixel data.
type IndexMap struct {
	Channel  []int
	Slice    []int
	Frame    []int
	Position []int
	Offset   []int64
}

// Len returns the number of page entries.
func (m *IndexMap) Len() int {
	return len(m.Offset)
}

// readMMBlocks parses the Micro-Manager metadata blocks. Files without them
// (plain OME-TIFFs) leave every block unset; the caller decides whether that
// is an error.
func (f *File) readMMBlocks() {
	r := f.br.At(mmHeaderOffset)

	var slots [8]uint32
	for i := range slots {
		v, err := r.ReadUint32()
		if err != nil {
			return
		}
		slots[i] = v
	}
	indexHeader, indexOffset := slots[0], slots[1]
	displayHeader, displayOffset := slots[2], slots[3]
	commentsHeader, commentsOffset := slots[4], slots[5]
	summaryHeader, summaryLength := slots[6], slots[7]

	if summaryHeader != summaryHeaderMagic || indexHeader != indexMapHeaderMagic {
		return
	}

	if buf, err := r.ReadBytes(int(summaryLength)); err == nil {
		f.summary = trimJSON(buf)
	}
	f.indexMap = f.readIndexMap(int64(indexOffset))

	// Display settings and comments are informational; tolerate their
	// absence in truncated or older files.
	if displayHeader == displayHeaderMagic {
		f.display = f.readJSONBlock(int64(displayOffset), displayBlockMagic)
	}
	if commentsHeader == commentsHeaderMagic {
		f.comments = f.readJSONBlock(int64(commentsOffset), commentsBlockMagic)
	}
}

func (f *File) readIndexMap(offset int64) *IndexMap {
	r := f.br.At(offset)
	magic, err := r.ReadUint32()
	if err != nil || magic != indexMapBlockMagic {
		return nil
	}
	count, err := r.ReadUint32()
	if err != nil {
		return nil
	}

	m := &IndexMap{
		Channel:  make([]int, count),
		Slice:    make([]int, count),
		Frame:    make([]int, count),
		Position: make([]int, count),
		Offset:   make([]int64, count),
	}
	for i := 0; i < int(count); i++ {
		var entry [5]uint32
		for j := range entry {
			v, err := r.ReadUint32()
			if err != nil {
				return nil
			}
			entry[j] = v
		}
		m.Channel[i] = int(entry[0])
		m.Slice[i] = int(entry[1])
		m.Frame[i] = int(entry[2])
		m.Position[i] = int(entry[3])
		m.Offset[i] = int64(entry[4])
	}
	return m
}

func (f *File) readJSONBlock(offset int64, magic uint32) string {
	r := f.br.At(offset)
	got, err := r.ReadUint32()
	if err != nil || got != magic {
		return ""
	}
	length, err := r.ReadUint32()
	if err != nil {
		return ""
	}
	buf, err := r.ReadBytes(int(length))
	if err != nil {
		return ""
	}
	return trimJSON(buf)
}

func trimJSON(buf []byte) string {
	return strings.TrimRight(string(buf), "\x00 \t\r\n")
}
