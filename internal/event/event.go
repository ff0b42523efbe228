package event

import (
	"log/slog"
	"time"
)

// Type identifies the kind of event.
type Type int

const (
	WalkStarted Type = iota + 1
	WalkComplete
	DirCreated
	FileStarted
	FileCompleted
	FileRejected
	FileSkipped
	FileFailed
	Purged
	Unsupported
	StateChanged
)

var typeNames = [...]string{
	WalkStarted:   "WalkStarted",
	WalkComplete:  "WalkComplete",
	DirCreated:    "DirCreated",
	FileStarted:   "FileStarted",
	FileCompleted: "FileCompleted",
	FileRejected:  "FileRejected",
	FileSkipped:   "FileSkipped",
	FileFailed:    "FileFailed",
	Purged:        "Purged",
	Unsupported:   "Unsupported",
	StateChanged:  "StateChanged",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
type Event struct {
	Timestamp time.Time
	Error     error
	Type      Type
	Path      string // local path, or remote path for walk-level events
	Reason    string // one-line human-readable explanation
	Size      int64  // file size
	Total     int64  // total files (WalkComplete)
	TotalSize int64  // total bytes (WalkComplete)
}

// LogValue renders the event as a group of attrs for structured logs.
func (e Event) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs, slog.String("type", e.Type.String()), slog.String("path", e.Path))
	if e.Size > 0 {
		attrs = append(attrs, slog.Int64("size", e.Size))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	if e.Type == WalkComplete {
		attrs = append(attrs, slog.Int64("total", e.Total), slog.Int64("total_size", e.TotalSize))
	}
	return slog.GroupValue(attrs...)
}
