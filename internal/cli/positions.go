package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziw-liu/iohub/mmstack"
)

// newPositionsCmd creates the positions command, which lists every stage
// position with its recorded coordinates and indexed extents.
func newPositionsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "positions <dataset-dir>",
		Short: "List stage positions and per-position extents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			opts, err := cfg.readerOptions(logger)
			if err != nil {
				return err
			}

			r, err := mmstack.Open(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			defer r.Close()

			labels := r.PositionLabels()
			stages := r.StagePositions()

			fmt.Println(styleNumber.Render(fmt.Sprintf("%d", r.NumPositions())) + styleDim.Render(" positions"))
			for p := 0; p < r.NumPositions(); p++ {
				printNewline()
				printTitle(fmt.Sprintf("Position %d  %s", p, labels[p]))
				if p < len(stages) {
					printStageDevices(stages[p])
				}
				frames, channels, slices, err := r.PositionExtents(p)
				if err != nil {
					return err
				}
				// All-zero extents mark a position inside the grid that no
				// index map recorded a page for.
				if frames == 0 && channels == 0 && slices == 0 {
					printDetail("no planes indexed")
					continue
				}
				printDetail("extent: %d frames, %d channels, %d slices", frames, channels, slices)
			}
			return nil
		},
	}
}

// printStageDevices prints one detail line per stage device, in sorted
// device order so output is stable.
func printStageDevices(pos mmstack.StagePosition) {
	if pos.GridRow != 0 || pos.GridCol != 0 {
		printDetail("grid: row %d, col %d", pos.GridRow, pos.GridCol)
	}
	devices := make([]string, 0, len(pos.Devices))
	for dev := range pos.Devices {
		devices = append(devices, dev)
	}
	sort.Strings(devices)
	for _, dev := range devices {
		vals := make([]string, len(pos.Devices[dev]))
		for i, v := range pos.Devices[dev] {
			vals[i] = fmt.Sprintf("%.2f", v)
		}
		printDetail("%s: %s", dev, strings.Join(vals, ", "))
	}
}
