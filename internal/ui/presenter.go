// Package ui renders mirror progress and configures console logging.
package ui

import (
	"io"

	"github.com/bamsammich/ftpmirror/internal/event"
	"github.com/bamsammich/ftpmirror/internal/stats"
)

// Event is re-exported for presenters.
type Event = event.Event

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     *stats.Collector
	LocalRoot string
	Quiet     bool
	Verbose   bool
	// Progress enables periodic progress lines on ErrWriter.
	Progress bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // returns the presenter for the output mode
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	return &plainPresenter{
		w:         cfg.Writer,
		errW:      cfg.ErrWriter,
		stats:     cfg.Stats,
		localRoot: cfg.LocalRoot,
		verbose:   cfg.Verbose,
		progress:  cfg.Progress,
	}
}
