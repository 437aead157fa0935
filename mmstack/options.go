package mmstack

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// DuplicatePolicy decides which entry survives when two files record a page
// for the same coordinate.
type DuplicatePolicy int

const (
	// LastWins keeps the entry from the file scanned last. Files are
	// scanned in sorted path order, so this favors later acquisition
	// files, matching how Micro-Manager appends to a dataset.
	LastWins DuplicatePolicy = iota

	// FirstWins keeps the entry from the file scanned first.
	FirstWins

	// ErrorOnConflict fails construction on the first duplicate.
	ErrorOnConflict
)

func (p DuplicatePolicy) String() string {
	switch p {
	case LastWins:
		return "last-wins"
	case FirstWins:
		return "first-wins"
	case ErrorOnConflict:
		return "error"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// Option configures a Reader.
type Option func(*options) error

type options struct {
	logger      *log.Logger
	duplicates  DuplicatePolicy
	scanWorkers int
	preload     bool
	noMmap      bool
}

func defaultOptions() *options {
	return &options{
		logger:      log.New(io.Discard),
		duplicates:  LastWins,
		scanWorkers: 1,
	}
}

func (o *options) apply(opts []Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger sets the logger used for scan and materialization progress.
// The default discards all output.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return fmt.Errorf("mmstack: nil logger")
		}
		o.logger = logger
		return nil
	}
}

// WithDuplicates sets the policy for coordinates recorded by more than one
// file. The default is LastWins.
func WithDuplicates(policy DuplicatePolicy) Option {
	return func(o *options) error {
		switch policy {
		case LastWins, FirstWins, ErrorOnConflict:
			o.duplicates = policy
			return nil
		default:
			return fmt.Errorf("mmstack: unknown duplicate policy %d", int(policy))
		}
	}
}

// WithScanWorkers sets how many files are scanned concurrently while the
// index is built. Results are merged in sorted path order regardless of the
// worker count, so the duplicate policy stays deterministic. The default
// is 1.
func WithScanWorkers(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("mmstack: scan workers must be at least 1, got %d", n)
		}
		o.scanWorkers = n
		return nil
	}
}

// WithPreload materializes every position array during Open instead of on
// first access.
func WithPreload() Option {
	return func(o *options) error {
		o.preload = true
		return nil
	}
}

// WithoutMmap reads pixel data with plain file reads instead of memory
// mapping.
func WithoutMmap() Option {
	return func(o *options) error {
		o.noMmap = true
		return nil
	}
}
