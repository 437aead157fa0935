package cli

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version string // semantic version (e.g., "v1.2.3")
	commit  string // git commit SHA
	date    string // build timestamp
)

// SetVersion sets the version information displayed by --version.
// This is typically called by the main package with values injected via
// ldflags at build time.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the iohub CLI and returns an error if any command fails.
// This is the main entry point for the CLI application.
//
// The function sets up the root command with all subcommands (info,
// positions, series, dump), configures logging based on the --verbose flag,
// and executes the command tree. With --config, reader settings are loaded
// from a TOML file before any command runs.
//
// Logging:
//   - Default: info level (logs to stderr)
//   - With --verbose (-v): debug level
//
// The logger is attached to the context and accessible to all commands via
// loggerFromContext.
func Execute(ctx context.Context) error {
	var (
		verbose    bool
		configPath string
	)
	cfg := defaultConfig()

	root := &cobra.Command{
		Use:          "iohub",
		Short:        "iohub inspects Micro-Manager MMStack OME-TIFF datasets",
		Long:         `iohub is a CLI tool for inspecting multi-file OME-TIFF datasets written by Micro-Manager, reporting acquisition extents, stage positions, and per-plane pixel data without loading whole stacks into memory.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(os.Stderr, level)))
			if configPath != "" {
				loaded, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return nil
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("iohub %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML reader config file")

	root.AddCommand(newInfoCmd(&cfg))
	root.AddCommand(newPositionsCmd(&cfg))
	root.AddCommand(newSeriesCmd(&cfg))
	root.AddCommand(newDumpCmd(&cfg))

	return root.ExecuteContext(ctx)
}
