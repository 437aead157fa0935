package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziw-liu/iohub/mmstack"
)

// newSeriesCmd creates the series command, which opens a dataset as a
// single dimension-ordered array and prints the resulting view.
func newSeriesCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "series <dataset-dir>",
		Short: "Show the dimension-ordered view of a dataset",
		Long: `Show the dimension-ordered view of a dataset.

The view stitches every position into one canonical (R, T, C, Z, Y, X)
array, expanding axes the files never declared and padding each position
to the dataset-wide extents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			opts, err := cfg.readerOptions(logger)
			if err != nil {
				return err
			}

			s, err := mmstack.OpenSeries(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			defer s.Close()

			view := s.XData()
			dims := view.Dims()
			shape := view.Shape()
			sized := make([]string, len(dims))
			for i, dim := range dims {
				sized[i] = fmt.Sprintf("%s=%d", dim, shape[i])
			}

			printTitle(fmt.Sprintf("Series %s", s.Name()))
			printKeyValue("Native", s.Axes())
			printKeyValue("Shape", strings.Join(sized, " "))
			printKeyValue("Dtype", string(view.DType()))
			printKeyValue("Positions", fmt.Sprintf("%d", s.Len()))
			return nil
		},
	}
}
