// Package mmtest writes synthetic Micro-Manager MMStack OME-TIFF files for
// tests. The files are structurally faithful: little-endian classic TIFF
// header, Micro-Manager header slots with summary JSON at byte 40, a
// 17-entry first IFD and 13-entry later IFDs with pixel data immediately
// after each IFD block, and the coordinate index map appended at the end of
// the file. Byte offsets recorded in the index map point at IFD starts, so
// readers that skip fixed-size IFD blocks land exactly on pixel data.
package mmtest

import (
	"bytes"
	stdbinary "encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"

	"github.com/ziw-liu/iohub/internal/binary"
)

// Micro-Manager block magics, as written by the acquisition engine.
const (
	indexMapHeaderMagic = 54773648
	displayHeaderMagic  = 483765892
	commentsHeaderMagic = 99384722
	summaryHeaderMagic  = 2355492

	indexMapBlockMagic = 3453623
	displayBlockMagic  = 347834724
	commentsBlockMagic = 84720485
)

// IFD geometry. First pages carry four extra descriptive tags.
const (
	firstPageTags = 17
	laterPageTags = 13
)

const (
	defaultSoftware = "Micro-Manager 2.0"
	defaultDateTime = "2024:06:01 12:00:00"
)

// Plane is one page of a fixture file.
type Plane struct {
	Position int
	Time     int
	Channel  int
	Slice    int
	// Pix holds raw little-endian pixel bytes of length Width*Height*bytes.
	Pix []byte
	// OmitOffset writes a zero byte offset for this page in the index map,
	// marking the page as absent the way interrupted acquisitions do.
	OmitOffset bool
}

// File describes one fixture file of a dataset.
type File struct {
	Name   string
	Planes []Plane
	// NoIndexMap corrupts the index-map header slot so the file parses as
	// a TIFF without Micro-Manager blocks.
	NoIndexMap bool
}

// Dataset describes a complete fixture dataset.
type Dataset struct {
	Width  int
	Height int
	// Bits is the TIFF BitsPerSample value (8, 16 or 32).
	Bits int
	// Format is the TIFF SampleFormat value (1 unsigned, 2 signed, 3 float).
	Format int
	// Compression is the TIFF compression scheme (default 1, none). Only
	// uncompressed files keep the fixed IFD-to-pixel distance that the
	// index map relies on.
	Compression int
	// SummaryJSON is the complete summary metadata block.
	SummaryJSON string
	// Description is the first page's ImageDescription. Typically OME-XML;
	// a placeholder is written when empty.
	Description string
	Files       []File
}

// Write materializes every file of the dataset under dir and returns the
// written paths in file order.
func (d *Dataset) Write(dir string) ([]string, error) {
	if d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("mmtest: invalid plane size %dx%d", d.Width, d.Height)
	}
	if d.Bits%8 != 0 || d.Bits == 0 {
		return nil, fmt.Errorf("mmtest: unsupported bits per sample %d", d.Bits)
	}
	paths := make([]string, 0, len(d.Files))
	for _, file := range d.Files {
		path := filepath.Join(dir, file.Name)
		data, err := d.encodeFile(file)
		if err != nil {
			return nil, fmt.Errorf("mmtest: encoding %s: %w", file.Name, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// pageLayout holds the precomputed offsets of one page's sections.
type pageLayout struct {
	ifdOff  int64
	pixOff  int64
	strip   []byte
	descOff int64
	softOff int64
	dateOff int64
	xresOff int64
	yresOff int64
	metaOff int64
	meta    string
	next    int64
	first   bool
}

func (d *Dataset) encodeFile(file File) ([]byte, error) {
	planeBytes := d.Width * d.Height * d.Bits / 8
	compression := d.Compression
	if compression == 0 {
		compression = 1
	}
	description := d.Description
	if description == "" {
		description = "none"
	}

	summary := []byte(d.SummaryJSON)
	if len(summary)%2 != 0 {
		summary = append(summary, ' ')
	}

	// First pass: lay out every page.
	layouts := make([]pageLayout, len(file.Planes))
	cur := int64(40 + len(summary))
	for i, plane := range file.Planes {
		if len(plane.Pix) != planeBytes {
			return nil, fmt.Errorf("page %d has %d pixel bytes, want %d", i, len(plane.Pix), planeBytes)
		}
		strip, err := encodeStrip(plane.Pix, compression)
		if err != nil {
			return nil, err
		}

		l := &layouts[i]
		l.first = i == 0
		l.strip = strip
		l.meta = pageMetaJSON(plane)

		ifdSize := int64(2 + laterPageTags*12 + 4)
		if l.first {
			ifdSize = 2 + firstPageTags*12 + 4
		}
		l.ifdOff = cur
		l.pixOff = cur + ifdSize
		aux := l.pixOff + int64(len(strip))
		aux = align2(aux)
		if l.first {
			l.descOff = aux
			aux += align2(int64(len(description) + 1))
			l.softOff = aux
			aux += align2(int64(len(defaultSoftware) + 1))
			l.dateOff = aux
			aux += align2(int64(len(defaultDateTime) + 1))
		}
		l.xresOff = aux
		aux += 8
		l.yresOff = aux
		aux += 8
		l.metaOff = aux
		aux += align2(int64(len(l.meta) + 1))
		cur = aux
	}
	for i := range layouts {
		if i+1 < len(layouts) {
			layouts[i].next = layouts[i+1].ifdOff
		}
	}

	displayJSON := `{"Channels":[]}`
	commentsJSON := `{"Summary":"synthetic dataset"}`
	displayOff := cur
	commentsOff := align2(displayOff + 8 + int64(len(displayJSON)))
	indexMapOff := align2(commentsOff + 8 + int64(len(commentsJSON)))

	// Second pass: serialize.
	w := binary.NewWriter(stdbinary.LittleEndian)

	// TIFF header.
	w.WriteString("II")
	w.WriteUint16(42)
	firstIFD := uint32(40 + len(summary))
	if len(file.Planes) == 0 {
		firstIFD = 0
	}
	w.WriteUint32(firstIFD)

	// Micro-Manager header slots.
	indexHeader := uint32(indexMapHeaderMagic)
	if file.NoIndexMap {
		indexHeader = 0
	}
	w.WriteUint32(indexHeader)
	w.WriteUint32(uint32(indexMapOff))
	w.WriteUint32(displayHeaderMagic)
	w.WriteUint32(uint32(displayOff))
	w.WriteUint32(commentsHeaderMagic)
	w.WriteUint32(uint32(commentsOff))
	w.WriteUint32(summaryHeaderMagic)
	w.WriteUint32(uint32(len(summary)))
	w.WriteBytes(summary)

	for _, l := range layouts {
		if err := w.PadTo(l.ifdOff); err != nil {
			return nil, err
		}
		d.writeIFD(w, &l, compression, description)
		if err := w.PadTo(l.pixOff); err != nil {
			return nil, err
		}
		w.WriteBytes(l.strip)
		if l.first {
			if err := w.PadTo(l.descOff); err != nil {
				return nil, err
			}
			w.WriteASCII(description)
			if err := w.PadTo(l.softOff); err != nil {
				return nil, err
			}
			w.WriteASCII(defaultSoftware)
			if err := w.PadTo(l.dateOff); err != nil {
				return nil, err
			}
			w.WriteASCII(defaultDateTime)
		}
		if err := w.PadTo(l.xresOff); err != nil {
			return nil, err
		}
		w.WriteUint32(72)
		w.WriteUint32(1)
		w.WriteUint32(72)
		w.WriteUint32(1)
		if err := w.PadTo(l.metaOff); err != nil {
			return nil, err
		}
		w.WriteASCII(l.meta)
	}

	if err := w.PadTo(displayOff); err != nil {
		return nil, err
	}
	w.WriteUint32(displayBlockMagic)
	w.WriteUint32(uint32(len(displayJSON)))
	w.WriteString(displayJSON)

	if err := w.PadTo(commentsOff); err != nil {
		return nil, err
	}
	w.WriteUint32(commentsBlockMagic)
	w.WriteUint32(uint32(len(commentsJSON)))
	w.WriteString(commentsJSON)

	if err := w.PadTo(indexMapOff); err != nil {
		return nil, err
	}
	w.WriteUint32(indexMapBlockMagic)
	w.WriteUint32(uint32(len(file.Planes)))
	for i, plane := range file.Planes {
		w.WriteUint32(uint32(plane.Channel))
		w.WriteUint32(uint32(plane.Slice))
		w.WriteUint32(uint32(plane.Time))
		w.WriteUint32(uint32(plane.Position))
		if plane.OmitOffset {
			w.WriteUint32(0)
		} else {
			w.WriteUint32(uint32(layouts[i].ifdOff))
		}
	}

	return w.Bytes(), nil
}

// writeIFD serializes one page's IFD block.
func (d *Dataset) writeIFD(w *binary.Writer, l *pageLayout, compression int, description string) {
	short := func(tag, v uint16) {
		w.WriteUint16(tag)
		w.WriteUint16(3)
		w.WriteUint32(1)
		w.WriteUint16(v)
		w.WriteUint16(0)
	}
	long := func(tag uint16, v uint32) {
		w.WriteUint16(tag)
		w.WriteUint16(4)
		w.WriteUint32(1)
		w.WriteUint32(v)
	}
	ref := func(tag, typ uint16, count uint32, off int64) {
		w.WriteUint16(tag)
		w.WriteUint16(typ)
		w.WriteUint32(count)
		w.WriteUint32(uint32(off))
	}

	count := uint16(laterPageTags)
	if l.first {
		count = firstPageTags
	}
	w.WriteUint16(count)

	short(256, uint16(d.Width))
	short(257, uint16(d.Height))
	short(258, uint16(d.Bits))
	short(259, uint16(compression))
	short(262, 1)
	if l.first {
		ref(270, 2, uint32(len(description)+1), l.descOff)
	}
	long(273, uint32(l.pixOff))
	short(277, 1)
	short(278, uint16(d.Height))
	long(279, uint32(len(l.strip)))
	ref(282, 5, 1, l.xresOff)
	ref(283, 5, 1, l.yresOff)
	if l.first {
		short(296, 2)
		ref(305, 2, uint32(len(defaultSoftware)+1), l.softOff)
		ref(306, 2, uint32(len(defaultDateTime)+1), l.dateOff)
	}
	format := d.Format
	if format == 0 {
		format = 1
	}
	short(339, uint16(format))
	ref(51123, 2, uint32(len(l.meta)+1), l.metaOff)

	w.WriteUint32(uint32(l.next))
}

func pageMetaJSON(plane Plane) string {
	return fmt.Sprintf(
		`{"FrameIndex":%d,"ChannelIndex":%d,"SliceIndex":%d,"PositionIndex":%d}`,
		plane.Time, plane.Channel, plane.Slice, plane.Position,
	)
}

func encodeStrip(pix []byte, compression int) ([]byte, error) {
	switch compression {
	case 1:
		return pix, nil
	case 8, 32946:
		var out bytes.Buffer
		zw := zlib.NewWriter(&out)
		if _, err := zw.Write(pix); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported fixture compression %d", compression)
	}
}

func align2(v int64) int64 {
	if v%2 != 0 {
		return v + 1
	}
	return v
}

// Summary builds the summary metadata JSON common to fixture datasets.
type Summary struct {
	Version   string
	Positions int
	Frames    int
	Channels  int
	Slices    int
	Height    int
	Width     int
	ChNames   []string
	// OmitChNames drops the ChNames key entirely, as some beta-era files do.
	OmitChNames bool
	ZStepUm     float64
	// StagePositions holds raw JSON objects, one per stage position.
	StagePositions []string
}

// JSON serializes the summary block.
func (s Summary) JSON() string {
	fields := map[string]interface{}{
		"MicroManagerVersion": s.Version,
		"Positions":           s.Positions,
		"Frames":              s.Frames,
		"Channels":            s.Channels,
		"Slices":              s.Slices,
		"Height":              s.Height,
		"Width":               s.Width,
		"z-step_um":           s.ZStepUm,
	}
	if !s.OmitChNames {
		fields["ChNames"] = s.ChNames
	}
	if len(s.StagePositions) > 0 {
		raw := make([]json.RawMessage, len(s.StagePositions))
		for i, sp := range s.StagePositions {
			raw[i] = json.RawMessage(sp)
		}
		fields["StagePositions"] = raw
	}
	out, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return string(out)
}

// ModernStagePosition builds a stage-position entry in the layout written by
// release builds of Micro-Manager 2.
func ModernStagePosition(label string, gridRow, gridCol int, xyStage string, x, y float64, zStage string, z float64) string {
	entry := map[string]interface{}{
		"Label":          label,
		"GridRow":        gridRow,
		"GridCol":        gridCol,
		"DefaultXYStage": xyStage,
		"DefaultZStage":  zStage,
		"DevicePositions": []map[string]interface{}{
			{"Device": xyStage, "Position_um": []float64{x, y}},
			{"Device": zStage, "Position_um": []float64{z}},
		},
	}
	out, err := json.Marshal(entry)
	if err != nil {
		panic(err)
	}
	return string(out)
}

// BetaStagePosition builds a stage-position entry in the layout written by
// Micro-Manager 2 beta builds.
func BetaStagePosition(label string, gridRow, gridCol int, xyStage string, x, y float64, zStage string, z float64) string {
	entry := map[string]interface{}{
		"label":   label,
		"gridRow": gridRow,
		"gridCol": gridCol,
		"subpositions": []map[string]interface{}{
			{"stageName": xyStage, "x": x, "y": y, "z": 0},
			{"stageName": zStage, "x": 0, "y": 0, "z": z},
		},
	}
	out, err := json.Marshal(entry)
	if err != nil {
		panic(err)
	}
	return string(out)
}

// OMEXML builds a minimal OME-XML description with one Image element per
// position.
func OMEXML(images, sizeT, sizeC, sizeZ, sizeY, sizeX int, pixelType string) string {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">`)
	for i := 0; i < images; i++ {
		fmt.Fprintf(&b,
			`<Image ID="Image:%d" Name="Pos%d"><Pixels BigEndian="false" DimensionOrder="XYCZT" ID="Pixels:%d" SizeC="%d" SizeT="%d" SizeX="%d" SizeY="%d" SizeZ="%d" Type="%s"/></Image>`,
			i, i, i, sizeC, sizeT, sizeX, sizeY, sizeZ, pixelType)
	}
	b.WriteString(`</OME>`)
	return b.String()
}

// ConstPlaneU16 fills a little-endian uint16 plane with one value.
func ConstPlaneU16(width, height int, v uint16) []byte {
	buf := make([]byte, width*height*2)
	for i := 0; i < width*height; i++ {
		stdbinary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// GradientPlaneU16 fills a little-endian uint16 plane with seed+index values,
// making planes distinguishable in round-trip tests.
func GradientPlaneU16(width, height int, seed uint16) []byte {
	buf := make([]byte, width*height*2)
	for i := 0; i < width*height; i++ {
		stdbinary.LittleEndian.PutUint16(buf[i*2:], seed+uint16(i))
	}
	return buf
}
