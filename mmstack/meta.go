package mmstack

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StagePosition is one entry of the acquisition's position list, normalized
// across the summary layouts that different Micro-Manager generations wrote.
// Devices maps each stage device name to its recorded coordinates in
// micrometers.
type StagePosition struct {
	Label          string
	GridRow        int
	GridCol        int
	DefaultXYStage string
	DefaultZStage  string
	Devices        map[string][]float64
}

// rawSummary mirrors the fields of the acquisition summary block consumed
// here. The block carries many more keys than these.
type rawSummary struct {
	MicroManagerVersion string            `json:"MicroManagerVersion"`
	Positions           int               `json:"Positions"`
	Frames              int               `json:"Frames"`
	Channels            int               `json:"Channels"`
	Slices              int               `json:"Slices"`
	Height              int               `json:"Height"`
	Width               int               `json:"Width"`
	ChNames             []string          `json:"ChNames"`
	ZStepUm             float64           `json:"z-step_um"`
	StagePositions      []json.RawMessage `json:"StagePositions"`
}

type metadata struct {
	version        string
	positions      int
	frames         int
	channels       int
	slices         int
	height         int
	width          int
	zStepUm        float64
	channelNames   []string
	stagePositions []StagePosition
}

// normalizeSummary parses the summary JSON of the first dataset file and
// normalizes the version-dependent parts. Beta releases wrote camelCase
// stage positions with explicit subposition lists and sometimes omitted
// channel names; 1.4.22 recorded no usable stage positions at all; every
// later release wrote PascalCase stage positions with device position
// lists. Stage positions are only recorded for multi-position acquisitions.
func normalizeSummary(path string, raw []byte) (*metadata, error) {
	var s rawSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, &MetadataError{Path: path, Block: "summary", Err: err}
	}

	m := &metadata{
		version:   s.MicroManagerVersion,
		positions: s.Positions,
		frames:    s.Frames,
		channels:  s.Channels,
		slices:    s.Slices,
		height:    s.Height,
		width:     s.Width,
		zStepUm:   s.ZStepUm,
	}

	switch {
	case strings.Contains(s.MicroManagerVersion, "beta"):
		if s.Positions > 1 {
			for i, rawPos := range s.StagePositions {
				pos, err := parseBetaStagePosition(rawPos)
				if err != nil {
					return nil, &MetadataError{Path: path, Block: "summary",
						Err: fmt.Errorf("stage position %d: %w", i, err)}
				}
				m.stagePositions = append(m.stagePositions, pos)
			}
		}
		if s.ChNames == nil {
			m.channelNames = make([]string, s.Channels)
		} else {
			m.channelNames = s.ChNames
		}

	case s.MicroManagerVersion == "1.4.22":
		m.channelNames = s.ChNames

	default:
		if s.Positions > 1 {
			if len(s.StagePositions) < s.Positions {
				return nil, &MetadataError{Path: path, Block: "summary",
					Err: fmt.Errorf("summary declares %d positions but lists %d stage positions",
						s.Positions, len(s.StagePositions))}
			}
			for i := 0; i < s.Positions; i++ {
				pos, err := parseModernStagePosition(s.StagePositions[i])
				if err != nil {
					return nil, &MetadataError{Path: path, Block: "summary",
						Err: fmt.Errorf("stage position %d: %w", i, err)}
				}
				m.stagePositions = append(m.stagePositions, pos)
			}
		}
		m.channelNames = s.ChNames
	}

	return m, nil
}

type rawModernPosition struct {
	Label           string `json:"Label"`
	GridRow         int    `json:"GridRow"`
	GridCol         int    `json:"GridCol"`
	DefaultXYStage  string `json:"DefaultXYStage"`
	DefaultZStage   string `json:"DefaultZStage"`
	DevicePositions []struct {
		Device     string    `json:"Device"`
		PositionUm floatList `json:"Position_um"`
	} `json:"DevicePositions"`
}

func parseModernStagePosition(raw json.RawMessage) (StagePosition, error) {
	var p rawModernPosition
	if err := json.Unmarshal(raw, &p); err != nil {
		return StagePosition{}, err
	}
	out := StagePosition{
		Label:          p.Label,
		GridRow:        p.GridRow,
		GridCol:        p.GridCol,
		DefaultXYStage: p.DefaultXYStage,
		DefaultZStage:  p.DefaultZStage,
		Devices:        make(map[string][]float64, len(p.DevicePositions)),
	}
	for _, dev := range p.DevicePositions {
		out.Devices[dev.Device] = []float64(dev.PositionUm)
	}
	return out, nil
}

type rawBetaPosition struct {
	Label        string `json:"label"`
	GridRow      int    `json:"gridRow"`
	GridCol      int    `json:"gridCol"`
	Subpositions []struct {
		StageName string  `json:"stageName"`
		X         float64 `json:"x"`
		Y         float64 `json:"y"`
		Z         float64 `json:"z"`
	} `json:"subpositions"`
}

func parseBetaStagePosition(raw json.RawMessage) (StagePosition, error) {
	var p rawBetaPosition
	if err := json.Unmarshal(raw, &p); err != nil {
		return StagePosition{}, err
	}
	out := StagePosition{
		Label:   p.Label,
		GridRow: p.GridRow,
		GridCol: p.GridCol,
		Devices: make(map[string][]float64, len(p.Subpositions)),
	}
	for _, sub := range p.Subpositions {
		// Beta files can repeat stage names; the last subposition for a
		// stage wins.
		values := make([]float64, 0, 3)
		for _, v := range [3]float64{sub.X, sub.Y, sub.Z} {
			if v != 0 {
				values = append(values, v)
			}
		}
		out.Devices[sub.StageName] = values
	}
	return out, nil
}

// floatList accepts both a JSON array and a bare number. Single-axis stage
// devices appear both ways in the wild.
type floatList []float64

func (f *floatList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var s []float64
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = s
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = floatList{v}
	return nil
}
