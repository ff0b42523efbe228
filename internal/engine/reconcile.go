package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/afero"

	"github.com/bamsammich/ftpmirror/internal/event"
	"github.com/bamsammich/ftpmirror/internal/ledger"
	"github.com/bamsammich/ftpmirror/internal/tree"
)

// ReconcileConfig controls the orphan purge.
type ReconcileConfig struct {
	FS     afero.Fs
	Ledger *ledger.Ledger
	Walk   *tree.Result
	Mapper tree.Mapper
	Emit   func(event.Event)
}

func (c ReconcileConfig) emit(e event.Event) {
	if c.Emit != nil {
		c.Emit(e)
	}
}

// PurgeOrphans removes every ledgered path that the walk no longer lists,
// both from disk and from the ledger. Records below a subtree the walk
// failed to enumerate are kept, as are records outside the local root.
// Files go first, then directories deepest first. A path that cannot be
// removed keeps its record and is retried on the next run.
//
//nolint:revive // cognitive-complexity: sequential filter-then-delete logic
func PurgeOrphans(ctx context.Context, cfg ReconcileConfig) (int, error) {
	listed := make(map[string]struct{}, len(cfg.Walk.Entries))
	for _, e := range cfg.Walk.Entries {
		if e.LocalPath != "" {
			listed[e.LocalPath] = struct{}{}
		}
	}
	failed := cfg.Walk.FailedLocal(cfg.Mapper)
	root := cfg.Mapper.LocalRoot

	var files, dirs []string
	for _, rec := range cfg.Ledger.Records() {
		if _, ok := listed[rec.Name]; ok {
			continue
		}
		if rec.Name == root || !tree.Within(rec.Name, root) {
			continue
		}
		if underAny(rec.Name, failed) {
			continue
		}
		if rec.IsDir {
			dirs = append(dirs, rec.Name)
		} else {
			files = append(files, rec.Name)
		}
	}

	purged := 0
	var errs []error

	remove := func(name string, rm func(string) error) {
		if err := rm(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("purge %s: %w", name, err))
			return
		}
		if _, err := cfg.Ledger.Remove(name); err != nil {
			// Stays dirty in memory and is persisted by the final flush.
			errs = append(errs, err)
		}
		purged++
		cfg.emit(event.Event{Type: event.Purged, Path: name, Reason: "no longer on remote"})
	}

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		remove(name, cfg.FS.Remove)
	}

	// Directories bottom-up (deepest first).
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, name := range dirs {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		remove(name, cfg.FS.RemoveAll)
	}

	return purged, errors.Join(errs...)
}

func underAny(name string, dirs []string) bool {
	for _, d := range dirs {
		if tree.Within(name, d) {
			return true
		}
	}
	return false
}
