package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziw-liu/iohub/mmstack"
)

// newInfoCmd creates the info command, which opens a dataset and prints a
// one-screen summary of its acquisition geometry and pixel format.
func newInfoCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "info <dataset-dir>",
		Short: "Summarize an MMStack dataset",
		Long: `Summarize an MMStack dataset: file count, acquisition extents,
plane geometry, pixel format, and channel names.

The extents reflect the coordinates actually present in the index maps,
which may exceed what the acquisition summary declared.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			opts, err := cfg.readerOptions(logger)
			if err != nil {
				return err
			}

			prog := newProgress(logger)
			r, err := mmstack.Open(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			defer r.Close()
			prog.done(fmt.Sprintf("Indexed %d files", len(r.Files())))

			positions, frames, channels, slices := r.Extents()
			height, width := r.PlaneSize()

			printTitle("MMStack dataset")
			printKeyValue("Directory", r.Dir())
			printKeyValue("Version", r.MMVersion())
			printKeyValue("Files", fmt.Sprintf("%d", len(r.Files())))
			printKeyValue("Positions", fmt.Sprintf("%d", positions))
			printKeyValue("Frames", fmt.Sprintf("%d", frames))
			if names := r.ChannelNames(); len(names) > 0 {
				printKeyValue("Channels", fmt.Sprintf("%d (%s)", channels, strings.Join(names, ", ")))
			} else {
				printKeyValue("Channels", fmt.Sprintf("%d", channels))
			}
			printKeyValue("Slices", fmt.Sprintf("%d", slices))
			if step := r.ZStepUm(); step != 0 {
				printKeyValue("Z step", fmt.Sprintf("%g um", step))
			}
			printKeyValue("Plane", fmt.Sprintf("%d x %d", height, width))
			printKeyValue("Dtype", string(r.DType()))
			printKeyValue("Order", fmt.Sprintf("%v", r.ByteOrder()))
			printKeyValue("Planes", fmt.Sprintf("%d", r.NumPlanes()))

			if total := positions * frames * channels * slices; r.NumPlanes() < total {
				printNewline()
				printWarning("%d of %d grid slots have no plane", total-r.NumPlanes(), total)
			}
			return nil
		},
	}
}
