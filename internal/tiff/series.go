package tiff

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// omeRoot mirrors the fragment of the OME-XML schema this reader consumes.
// Unqualified field names match elements in any namespace.
type omeRoot struct {
	Images []omeImage `xml:"Image"`
}

type omeImage struct {
	Name   string    `xml:"Name,attr"`
	Pixels omePixels `xml:"Pixels"`
}

type omePixels struct {
	DimensionOrder string `xml:"DimensionOrder,attr"`
	SizeC          int    `xml:"SizeC,attr"`
	SizeT          int    `xml:"SizeT,attr"`
	SizeX          int    `xml:"SizeX,attr"`
	SizeY          int    `xml:"SizeY,attr"`
	SizeZ          int    `xml:"SizeZ,attr"`
	Type           string `xml:"Type,attr"`
}

// summaryDims is the slice of the Micro-Manager summary block needed to
// reconstruct series geometry when no OME-XML is present.
type summaryDims struct {
	Positions int `json:"Positions"`
	Frames    int `json:"Frames"`
	Channels  int `json:"Channels"`
	Slices    int `json:"Slices"`
	Height    int `json:"Height"`
	Width     int `json:"Width"`
}

// Series derives the axis labels and shape of the dataset the file belongs
// to. The OME-XML block in the first page's description is authoritative;
// files with a stripped or unparseable description fall back to the
// Micro-Manager summary dimensions. Axis labels follow the usual microscopy
// convention: R position, T time, C channel, Z slice, then Y and X.
func (f *File) Series() (axes string, shape []int, err error) {
	if len(f.pages) > 0 {
		if desc := f.pages[0].Description; strings.Contains(desc, "<OME") {
			axes, shape, err = seriesFromOME(desc)
			if err == nil {
				return axes, shape, nil
			}
		}
	}
	if f.summary != "" {
		return f.seriesFromSummary()
	}
	if err != nil {
		return "", nil, err
	}
	return "", nil, fmt.Errorf("tiff: %s carries no series metadata", f.path)
}

func seriesFromOME(desc string) (string, []int, error) {
	var root omeRoot
	if err := xml.Unmarshal([]byte(desc), &root); err != nil {
		return "", nil, fmt.Errorf("tiff: parsing OME-XML: %w", err)
	}
	if len(root.Images) == 0 {
		return "", nil, fmt.Errorf("tiff: OME-XML has no Image elements")
	}
	px := root.Images[0].Pixels
	if px.SizeX <= 0 || px.SizeY <= 0 {
		return "", nil, fmt.Errorf("tiff: OME-XML declares empty plane %dx%d", px.SizeX, px.SizeY)
	}

	order := px.DimensionOrder
	if len(order) != 5 || !strings.HasPrefix(order, "XY") {
		return "", nil, fmt.Errorf("tiff: unsupported dimension order %q", order)
	}

	sizes := map[byte]int{
		'T': max1(px.SizeT),
		'C': max1(px.SizeC),
		'Z': max1(px.SizeZ),
		'Y': px.SizeY,
		'X': px.SizeX,
	}

	// DimensionOrder lists axes fastest-first; reversing yields the
	// outermost-first axis string of the stored array.
	var axes strings.Builder
	if len(root.Images) > 1 {
		axes.WriteByte('R')
	}
	for i := len(order) - 1; i >= 0; i-- {
		axes.WriteByte(order[i])
	}

	label := axes.String()
	shape := make([]int, len(label))
	for i := 0; i < len(label); i++ {
		if label[i] == 'R' {
			shape[i] = len(root.Images)
			continue
		}
		size, ok := sizes[label[i]]
		if !ok {
			return "", nil, fmt.Errorf("tiff: unsupported axis %q in dimension order %q", label[i], order)
		}
		shape[i] = size
	}
	return label, shape, nil
}

func (f *File) seriesFromSummary() (string, []int, error) {
	var dims summaryDims
	if err := json.Unmarshal([]byte(f.summary), &dims); err != nil {
		return "", nil, fmt.Errorf("tiff: parsing summary dimensions: %w", err)
	}
	if dims.Height <= 0 || dims.Width <= 0 {
		return "", nil, fmt.Errorf("tiff: summary declares empty plane %dx%d", dims.Width, dims.Height)
	}
	shape := []int{
		max1(dims.Positions),
		max1(dims.Frames),
		max1(dims.Channels),
		max1(dims.Slices),
		dims.Height,
		dims.Width,
	}
	return "RTCZYX", shape, nil
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
