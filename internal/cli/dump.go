package cli

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziw-liu/iohub/mmstack"
	"github.com/ziw-liu/iohub/zarr"
)

// dumpOpts holds the command-line flags for the dump command.
type dumpOpts struct {
	position int    // position index
	time     int    // time point index
	channel  int    // channel index
	slice    int    // z-slice index
	output   string // output file path, "-" for stdout
}

// newDumpCmd creates the dump command, which writes the raw pixel bytes of
// one plane to a file or stdout.
func newDumpCmd(cfg *Config) *cobra.Command {
	var opts dumpOpts

	cmd := &cobra.Command{
		Use:   "dump <dataset-dir>",
		Short: "Write the pixel data of a single plane",
		Long: `Write the pixel data of a single plane, selected by position,
time point, channel, and z-slice.

The bytes are written exactly as stored, in the dataset's byte order.
An output path ending in .png encodes a grayscale PNG instead.
Use -o - to stream raw bytes to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			readerOpts, err := cfg.readerOptions(logger)
			if err != nil {
				return err
			}

			r, err := mmstack.Open(cmd.Context(), args[0], readerOpts...)
			if err != nil {
				return err
			}
			defer r.Close()

			plane, err := r.GetImage(opts.position, opts.time, opts.channel, opts.slice)
			if err != nil {
				return err
			}

			if opts.output == "-" {
				_, err := os.Stdout.Write(plane.Data)
				return err
			}

			path := opts.output
			if path == "" {
				path = defaultDumpPath(opts.position, opts.time, opts.channel, opts.slice)
			}
			if strings.HasSuffix(strings.ToLower(path), ".png") {
				if err := writePNG(path, plane); err != nil {
					return err
				}
			} else if err := os.WriteFile(path, plane.Data, 0o644); err != nil {
				return fmt.Errorf("write plane: %w", err)
			}

			printSuccess("Dumped plane %d x %d (%s, %d bytes)", plane.Height, plane.Width, plane.DType, len(plane.Data))
			printFile(path)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.position, "position", "p", 0, "position index")
	cmd.Flags().IntVarP(&opts.time, "time", "t", 0, "time point index")
	cmd.Flags().IntVarP(&opts.channel, "channel", "c", 0, "channel index")
	cmd.Flags().IntVarP(&opts.slice, "slice", "z", 0, "z-slice index")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (derived from the coordinate if empty, - for stdout)")

	return cmd
}

// defaultDumpPath derives an output file name from a plane coordinate.
func defaultDumpPath(p, t, c, z int) string {
	return fmt.Sprintf("p%03d_t%03d_c%03d_z%03d.raw", p, t, c, z)
}

// writePNG encodes an unsigned 8- or 16-bit plane as a grayscale PNG.
// PNG stores 16-bit samples big-endian, so values are re-packed from the
// dataset's byte order.
func writePNG(path string, plane *mmstack.Plane) error {
	rect := image.Rect(0, 0, plane.Width, plane.Height)
	var img image.Image
	switch plane.DType {
	case zarr.Uint8:
		gray := image.NewGray(rect)
		copy(gray.Pix, plane.Data)
		img = gray
	case zarr.Uint16:
		vals, err := plane.Uint16()
		if err != nil {
			return err
		}
		gray := image.NewGray16(rect)
		for i, v := range vals {
			gray.Pix[2*i] = byte(v >> 8)
			gray.Pix[2*i+1] = byte(v)
		}
		img = gray
	default:
		return fmt.Errorf("png output supports uint8 and uint16 planes, not %s", plane.DType)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write plane: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
