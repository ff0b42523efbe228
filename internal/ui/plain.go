package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/ftpmirror/internal/event"
	"github.com/bamsammich/ftpmirror/internal/stats"
)

const progressEvery = 5 // seconds

// plainPresenter prints one line per file outcome to w and, when enabled,
// periodic progress to errW.
type plainPresenter struct {
	w         io.Writer
	errW      io.Writer
	stats     *stats.Collector
	localRoot string
	verbose   bool
	progress  bool
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			ticks++
			if p.progress && ticks%progressEvery == 0 {
				p.printProgress()
			}
		}
	}
}

//nolint:revive // cyclomatic: one case per event type
func (p *plainPresenter) handleEvent(ev Event) {
	path := StripRoot(p.localRoot, ev.Path)
	switch ev.Type {
	case event.WalkComplete:
		fmt.Fprintf(p.errW, "found %s files, %s\n", FormatCount(ev.Total), FormatBytes(ev.TotalSize))
	case event.FileCompleted:
		fmt.Fprintf(p.w, "get     %s  %s\n", path, FormatBytes(ev.Size))
	case event.FileRejected:
		fmt.Fprintf(p.w, "reject  %s  %s\n", path, ev.Reason)
	case event.FileFailed:
		reason := ev.Reason
		if reason == "" && ev.Error != nil {
			reason = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "fail    %s  %s\n", path, reason)
	case event.Purged:
		fmt.Fprintf(p.w, "purge   %s  %s\n", path, ev.Reason)
	case event.FileSkipped:
		if p.verbose {
			fmt.Fprintf(p.w, "skip    %s  %s\n", path, ev.Reason)
		}
	case event.DirCreated:
		if p.verbose {
			fmt.Fprintf(p.w, "mkdir   %s\n", path)
		}
	case event.Unsupported:
		if p.verbose {
			fmt.Fprintf(p.w, "ignore  %s  unsupported entry (%s)\n", path, ev.Reason)
		}
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	done := snap.FilesTransferred + snap.FilesSkipped + snap.FilesRejected + snap.FilesFailed
	fmt.Fprintf(p.errW, "progress: %s/%s files  %s  %s\n",
		FormatCount(done), FormatCount(snap.FilesListed),
		FormatBytes(snap.BytesTransferred),
		FormatRate(p.stats.RollingSpeed(10)),
	)
}

func (p *plainPresenter) Summary() string {
	return completionSummary(p.stats.Snapshot())
}

// completionSummary builds the final summary line, e.g.
// done ✓  transferred 12  skipped 300  rejected 4  purged 1  size 2.1 MiB  avg 1.0 MiB/s  time 3s  errors 0
func completionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesTransferred) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.Failures() > 0 {
		icon = "✗"
	}

	return fmt.Sprintf("done %s  transferred %s  skipped %s  rejected %s  purged %s  size %s  avg %s  time %s  errors %d",
		icon,
		FormatCount(snap.FilesTransferred),
		FormatCount(snap.FilesSkipped),
		FormatCount(snap.FilesRejected),
		FormatCount(snap.Purged),
		FormatBytes(snap.BytesTransferred),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
		snap.Failures(),
	)
}
