package tiff

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/ziw-liu/iohub/zarr"
)

// TIFF tag IDs used by this reader.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagXResolution      = 282
	tagYResolution      = 283
	tagSoftware         = 305
	tagSampleFormat     = 339
	tagMMMetadata       = 51123
)

// TIFF compression schemes understood by ReadData.
const (
	CompressionNone         = 1
	CompressionAdobeDeflate = 8
	CompressionDeflate      = 32946
)

// Sample format values from the SampleFormat tag.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// Page holds the parsed tags of one IFD. Pixel data is not read until
// ReadData is called.
type Page struct {
	// IFDOffset is the file offset of the IFD this page was parsed from.
	IFDOffset int64
	// NumTags is the entry count of the IFD.
	NumTags int

	Width           int
	Height          int
	BitsPerSample   int
	SamplesPerPixel int
	SampleFormat    int
	Compression     int
	Photometric     int
	RowsPerStrip    int
	StripOffsets    []int64
	StripByteCounts []int64
	XResolution     float64
	YResolution     float64
	Description     string
	Software        string
	MMMetadata      string

	file *File
}

// readIFD parses one IFD into a Page and returns the offset of the next IFD
// in the chain (zero at the end).
func (f *File) readIFD(offset int64) (*Page, int64, error) {
	r := f.br.At(offset)

	count, err := r.ReadUint16()
	if err != nil {
		return nil, 0, fmt.Errorf("tiff: reading IFD at %d in %s: %w", offset, f.path, err)
	}

	page := &Page{
		IFDOffset:       offset,
		NumTags:         int(count),
		BitsPerSample:   8,
		SamplesPerPixel: 1,
		SampleFormat:    sampleFormatUint,
		Compression:     CompressionNone,
		file:            f,
	}

	for i := 0; i < int(count); i++ {
		tag, err := r.ReadUint16()
		if err != nil {
			return nil, 0, fmt.Errorf("tiff: reading IFD entry %d at %d: %w", i, offset, err)
		}
		typ, err := r.ReadUint16()
		if err != nil {
			return nil, 0, err
		}
		n, err := r.ReadUint32()
		if err != nil {
			return nil, 0, err
		}
		raw, err := r.ReadBytes(4)
		if err != nil {
			return nil, 0, err
		}
		if err := page.applyTag(tag, typ, n, raw); err != nil {
			return nil, 0, fmt.Errorf("tiff: tag %d at IFD %d in %s: %w", tag, offset, f.path, err)
		}
	}

	next, err := r.ReadUint32()
	if err != nil {
		return nil, 0, fmt.Errorf("tiff: reading next-IFD pointer at %d: %w", offset, err)
	}
	if page.RowsPerStrip == 0 {
		page.RowsPerStrip = page.Height
	}
	return page, int64(next), nil
}

// applyTag stores one recognized IFD entry on the page. Unknown tags are
// skipped.
func (p *Page) applyTag(tag, typ uint16, n uint32, raw []byte) error {
	switch tag {
	case tagImageWidth:
		v, err := p.file.tagUint(typ, n, raw)
		p.Width = int(v)
		return err
	case tagImageLength:
		v, err := p.file.tagUint(typ, n, raw)
		p.Height = int(v)
		return err
	case tagBitsPerSample:
		v, err := p.file.tagUint(typ, n, raw)
		p.BitsPerSample = int(v)
		return err
	case tagCompression:
		v, err := p.file.tagUint(typ, n, raw)
		p.Compression = int(v)
		return err
	case tagPhotometric:
		v, err := p.file.tagUint(typ, n, raw)
		p.Photometric = int(v)
		return err
	case tagImageDescription:
		s, err := p.file.tagString(typ, n, raw)
		p.Description = s
		return err
	case tagStripOffsets:
		vals, err := p.file.tagUints(typ, n, raw)
		p.StripOffsets = toInt64s(vals)
		return err
	case tagSamplesPerPixel:
		v, err := p.file.tagUint(typ, n, raw)
		p.SamplesPerPixel = int(v)
		return err
	case tagRowsPerStrip:
		v, err := p.file.tagUint(typ, n, raw)
		p.RowsPerStrip = int(v)
		return err
	case tagStripByteCounts:
		vals, err := p.file.tagUints(typ, n, raw)
		p.StripByteCounts = toInt64s(vals)
		return err
	case tagXResolution:
		v, err := p.file.tagRational(typ, raw)
		p.XResolution = v
		return err
	case tagYResolution:
		v, err := p.file.tagRational(typ, raw)
		p.YResolution = v
		return err
	case tagSoftware:
		s, err := p.file.tagString(typ, n, raw)
		p.Software = s
		return err
	case tagSampleFormat:
		v, err := p.file.tagUint(typ, n, raw)
		p.SampleFormat = int(v)
		return err
	case tagMMMetadata:
		s, err := p.file.tagString(typ, n, raw)
		p.MMMetadata = s
		return err
	}
	return nil
}

// typeSize returns the byte size of one value of a TIFF field type.
func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	default:
		return 0
	}
}

// tagBytes resolves a field's value bytes, following the offset indirection
// when the value does not fit in the 4-byte inline slot.
func (f *File) tagBytes(typ uint16, n uint32, raw []byte) ([]byte, error) {
	size := typeSize(typ)
	if size == 0 {
		return nil, fmt.Errorf("unknown field type %d", typ)
	}
	total := size * int(n)
	if total <= 4 {
		return raw[:total], nil
	}
	off := int64(f.order.Uint32(raw))
	return f.br.At(off).ReadBytes(total)
}

// tagUint reads the first value of an integer field.
func (f *File) tagUint(typ uint16, n uint32, raw []byte) (uint64, error) {
	vals, err := f.tagUints(typ, n, raw)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("empty field")
	}
	return vals[0], nil
}

// tagUints reads all values of an integer field.
func (f *File) tagUints(typ uint16, n uint32, raw []byte) ([]uint64, error) {
	size := typeSize(typ)
	buf, err := f.tagBytes(typ, n, raw)
	if err != nil {
		return nil, err
	}
	vals := make([]uint64, n)
	for i := range vals {
		chunk := buf[i*size : (i+1)*size]
		switch size {
		case 1:
			vals[i] = uint64(chunk[0])
		case 2:
			vals[i] = uint64(f.order.Uint16(chunk))
		case 4:
			vals[i] = uint64(f.order.Uint32(chunk))
		default:
			return nil, fmt.Errorf("field type %d is not an integer type", typ)
		}
	}
	return vals, nil
}

// tagString reads an ASCII or byte field, trimming the NUL terminator.
func (f *File) tagString(typ uint16, n uint32, raw []byte) (string, error) {
	buf, err := f.tagBytes(typ, n, raw)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

// tagRational reads the first value of a RATIONAL field as a float.
func (f *File) tagRational(typ uint16, raw []byte) (float64, error) {
	if typ != 5 && typ != 10 {
		return 0, fmt.Errorf("field type %d is not rational", typ)
	}
	buf, err := f.tagBytes(typ, 1, raw)
	if err != nil {
		return 0, err
	}
	num := f.order.Uint32(buf[0:4])
	den := f.order.Uint32(buf[4:8])
	if den == 0 {
		return 0, nil
	}
	return float64(num) / float64(den), nil
}

func toInt64s(vals []uint64) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}

// DType maps the page's sample format and bit depth to an element type.
func (p *Page) DType() (zarr.DType, error) {
	switch p.SampleFormat {
	case sampleFormatUint:
		switch p.BitsPerSample {
		case 8:
			return zarr.Uint8, nil
		case 16:
			return zarr.Uint16, nil
		case 32:
			return zarr.Uint32, nil
		}
	case sampleFormatInt:
		switch p.BitsPerSample {
		case 8:
			return zarr.Int8, nil
		case 16:
			return zarr.Int16, nil
		case 32:
			return zarr.Int32, nil
		}
	case sampleFormatFloat:
		switch p.BitsPerSample {
		case 32:
			return zarr.Float32, nil
		case 64:
			return zarr.Float64, nil
		}
	}
	return "", fmt.Errorf("tiff: unsupported pixel type: sample format %d, %d bits", p.SampleFormat, p.BitsPerSample)
}

// DataSize returns the decoded pixel data size of the page in bytes.
func (p *Page) DataSize() (int, error) {
	dtype, err := p.DType()
	if err != nil {
		return 0, err
	}
	return p.Width * p.Height * p.SamplesPerPixel * dtype.Size(), nil
}

// ReadData reads and decodes the page's pixel data, concatenating strips.
// Uncompressed and deflate-compressed pages are supported.
func (p *Page) ReadData() ([]byte, error) {
	if p.file == nil || p.file.f == nil {
		return nil, fmt.Errorf("tiff: file is closed")
	}
	if len(p.StripOffsets) == 0 {
		return nil, fmt.Errorf("tiff: page at %d has no strip offsets", p.IFDOffset)
	}
	if len(p.StripByteCounts) != len(p.StripOffsets) {
		return nil, fmt.Errorf("tiff: page at %d has %d strip offsets but %d byte counts",
			p.IFDOffset, len(p.StripOffsets), len(p.StripByteCounts))
	}

	want, err := p.DataSize()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, want)
	for i, off := range p.StripOffsets {
		strip, err := p.file.br.At(off).ReadBytes(int(p.StripByteCounts[i]))
		if err != nil {
			return nil, fmt.Errorf("tiff: reading strip %d of page at %d: %w", i, p.IFDOffset, err)
		}
		decoded, err := p.decodeStrip(strip)
		if err != nil {
			return nil, fmt.Errorf("tiff: decoding strip %d of page at %d: %w", i, p.IFDOffset, err)
		}
		out = append(out, decoded...)
	}
	if len(out) != want {
		return nil, fmt.Errorf("tiff: page at %d decoded to %d bytes, want %d", p.IFDOffset, len(out), want)
	}
	return out, nil
}

func (p *Page) decodeStrip(strip []byte) ([]byte, error) {
	switch p.Compression {
	case CompressionNone:
		return strip, nil
	case CompressionAdobeDeflate, CompressionDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(strip))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compression scheme %d", p.Compression)
	}
}
