package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/ziw-liu/iohub/mmstack"
)

// Config holds reader settings shared by every command. It can be loaded
// from a TOML file via the --config flag; flag defaults apply otherwise.
type Config struct {
	// Duplicates selects the policy for coordinates indexed more than once:
	// "last", "first", or "error".
	Duplicates string `toml:"duplicates"`

	// ScanWorkers is the number of files indexed concurrently.
	ScanWorkers int `toml:"scan_workers"`

	// NoMmap disables memory-mapped reads in favor of plain file I/O.
	NoMmap bool `toml:"no_mmap"`

	// Preload materializes every position during open.
	Preload bool `toml:"preload"`
}

// defaultConfig returns the settings used when no config file is given.
func defaultConfig() Config {
	return Config{Duplicates: "last", ScanWorkers: 1}
}

// loadConfig reads and decodes a TOML config file.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// parseDuplicates maps a config string onto a duplicate policy.
func parseDuplicates(s string) (mmstack.DuplicatePolicy, error) {
	switch s {
	case "", "last":
		return mmstack.LastWins, nil
	case "first":
		return mmstack.FirstWins, nil
	case "error":
		return mmstack.ErrorOnConflict, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q (want last, first, or error)", s)
	}
}

// readerOptions converts the config into reader options, attaching the
// command's logger so scan progress surfaces in verbose output.
func (c Config) readerOptions(logger *log.Logger) ([]mmstack.Option, error) {
	policy, err := parseDuplicates(c.Duplicates)
	if err != nil {
		return nil, err
	}
	opts := []mmstack.Option{
		mmstack.WithLogger(logger),
		mmstack.WithDuplicates(policy),
	}
	if c.ScanWorkers > 1 {
		opts = append(opts, mmstack.WithScanWorkers(c.ScanWorkers))
	}
	if c.NoMmap {
		opts = append(opts, mmstack.WithoutMmap())
	}
	if c.Preload {
		opts = append(opts, mmstack.WithPreload())
	}
	return opts, nil
}
