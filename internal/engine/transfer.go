package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/ftpmirror/internal/event"
	"github.com/bamsammich/ftpmirror/internal/filter"
	"github.com/bamsammich/ftpmirror/internal/ledger"
	"github.com/bamsammich/ftpmirror/internal/platform"
	"github.com/bamsammich/ftpmirror/internal/tree"
)

// errShortTransfer marks a download whose byte count differs from the
// size reported by the server.
var errShortTransfer = errors.New("short transfer")

// walk enumerates the remote tree and materializes its directories.
func (r *run) walk(ctx context.Context) (*tree.Result, error) {
	if err := r.fs.MkdirAll(r.mapper.LocalRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create local root: %w", err)
	}

	r.emit(ctx, event.Event{Type: event.WalkStarted, Path: r.mapper.RemoteRoot})
	w := tree.NewWalker(r.sess, r.mapper)
	w.Logger = r.log
	res, err := w.Walk(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range res.Failed {
		r.emit(ctx, event.Event{Type: event.FileFailed, Path: p, Reason: "could not be listed"})
	}
	r.stats.AddWalkFailures(int64(len(res.Failed)))
	r.stats.SetTotals(res.Totals.Files, res.Totals.Size)
	r.emit(ctx, event.Event{
		Type:      event.WalkComplete,
		Path:      r.mapper.RemoteRoot,
		Total:     res.Totals.Files,
		TotalSize: res.Totals.Size,
	})
	r.log.Info("walk complete",
		"files", res.Totals.Files,
		"folders", res.Totals.Folders,
		"bytes", res.Totals.Size,
		"failed", len(res.Failed),
	)

	r.sweepStaged(r.mapper.LocalRoot)
	for _, e := range res.Dirs() {
		r.materialize(ctx, e)
	}
	for _, e := range res.Entries {
		if e.Kind == tree.KindOther {
			r.emit(ctx, event.Event{Type: event.Unsupported, Path: e.RemotePath, Reason: e.Raw})
		}
	}
	return res, nil
}

// stagedName matches names produced by stagingPath.
var stagedName = regexp.MustCompile(`^\..+\.[0-9a-f]{8}\.part$`)

// sweepStaged removes staging files left in dir by an earlier run that was
// killed before it could clean up.
func (r *run) sweepStaged(dir string) {
	infos, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		r.log.Debug("cannot list for staged files", "path", dir, "error", err)
		return
	}
	for _, info := range infos {
		if !info.Mode().IsRegular() || !stagedName.MatchString(info.Name()) {
			continue
		}
		p := filepath.Join(dir, info.Name())
		if err := r.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("cannot remove stale staging file", "path", p, "error", err)
			continue
		}
		r.log.Debug("removed stale staging file", "path", p)
	}
}

// materialize creates the local directory for e and records it. A file
// previously mirrored at the same path is evicted first.
func (r *run) materialize(ctx context.Context, e *tree.Entry) {
	prev, found := r.ledger.Get(e.LocalPath)
	if found && !bool(prev.IsDir) {
		if _, err := r.ledger.Remove(e.LocalPath); err != nil {
			r.log.Warn("ledger write failed", "path", e.LocalPath, "error", err)
		}
		found = false
	}
	if info, err := r.fs.Stat(e.LocalPath); err == nil && !info.IsDir() {
		if err := r.fs.Remove(e.LocalPath); err != nil {
			r.log.Warn("cannot replace file with directory", "path", e.LocalPath, "error", err)
			return
		}
	}
	if err := r.fs.MkdirAll(e.LocalPath, 0o755); err != nil {
		r.log.Warn("cannot create directory", "path", e.LocalPath, "error", err)
		return
	}
	r.sweepStaged(e.LocalPath)
	if err := r.ledger.Put(ledger.DirRecord(e.LocalPath, e.AggregateSize, e.Files, e.Folders)); err != nil {
		r.log.Warn("ledger write failed", "path", e.LocalPath, "error", err)
	}
	if !found {
		r.stats.AddDirsCreated(1)
		r.emit(ctx, event.Event{Type: event.DirCreated, Path: e.LocalPath})
	}
}

// transferAll downloads admitted files one at a time over the session
// while up to Verifiers downloads are checked concurrently.
func (r *run) transferAll(ctx context.Context, res *tree.Result) error {
	var g errgroup.Group
	g.SetLimit(r.cfg.Verifiers)

	for _, e := range res.Files() {
		if ctx.Err() != nil {
			break
		}
		t := filter.NewTarget(e, r.mapper.RemoteRoot)

		d := r.pipeline.Admit(ctx, t)
		if !d.Allow {
			r.skipped(ctx, t, d)
			continue
		}

		r.emit(ctx, event.Event{Type: event.FileStarted, Path: t.LocalPath, Size: t.Size, Reason: d.Reason})
		staged, err := r.download(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.failed(ctx, t, err)
			continue
		}

		g.Go(func() error {
			defer r.tmp.Deregister(staged)
			r.accepted(ctx, t, r.pipeline.Accept(ctx, t, staged))
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

// download retrieves t into a staging file beside its destination and
// returns the staging path.
func (r *run) download(ctx context.Context, t filter.Target) (string, error) {
	staged := stagingPath(t.LocalPath)
	f, err := r.fs.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	r.tmp.Register(staged)
	platform.Preallocate(f, t.Size)

	cw := &countingWriter{w: f}
	var w io.Writer = cw
	if r.limiter != nil {
		w = newRateLimitedWriter(ctx, cw, r.limiter)
	}

	err = r.sess.Retrieve(ctx, t.RemotePath, w)
	if syncErr := f.Sync(); syncErr != nil && err == nil {
		err = syncErr
	}
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err == nil && cw.n != t.Size {
		err = fmt.Errorf("%w: got %d of %d bytes", errShortTransfer, cw.n, t.Size)
	}
	r.stats.AddBytesTransferred(cw.n)
	if err != nil {
		r.discard(staged)
		return "", err
	}
	return staged, nil
}

func (r *run) discard(staged string) {
	if err := r.fs.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("cannot remove staging file", "path", staged, "error", err)
	}
	r.tmp.Deregister(staged)
}

func (r *run) skipped(ctx context.Context, t filter.Target, d filter.Decision) {
	if d.Cause.Retryable() {
		r.failed(ctx, t, errors.New(d.Reason))
		return
	}
	if d.Cause == filter.CauseSynced {
		r.stats.AddFilesSkipped(1)
		r.log.Debug("skip", "path", t.LocalPath, "reason", d.Reason)
		r.emit(ctx, event.Event{Type: event.FileSkipped, Path: t.LocalPath, Size: t.Size, Reason: d.Reason})
		return
	}
	r.stats.AddFilesRejected(1)
	r.log.Info("reject", "path", t.LocalPath, "cause", d.Cause.String(), "reason", d.Reason, "evicted", d.Evicted)
	r.emit(ctx, event.Event{Type: event.FileRejected, Path: t.LocalPath, Size: t.Size, Reason: d.Reason})
}

func (r *run) failed(ctx context.Context, t filter.Target, err error) {
	r.stats.AddFilesFailed(1)
	r.log.Warn("transfer failed", "path", t.RemotePath, "error", err)
	r.emit(ctx, event.Event{Type: event.FileFailed, Path: t.LocalPath, Size: t.Size, Reason: err.Error(), Error: err})
}

func (r *run) accepted(ctx context.Context, t filter.Target, d filter.Decision) {
	switch {
	case d.Allow:
		r.stats.AddFilesTransferred(1)
		r.log.Debug("transferred", "path", t.LocalPath, "size", t.Size)
		r.emit(ctx, event.Event{Type: event.FileCompleted, Path: t.LocalPath, Size: t.Size, Reason: d.Reason})
	case d.Cause.Retryable():
		r.failed(ctx, t, errors.New(d.Reason))
	default:
		r.stats.AddFilesRejected(1)
		r.log.Info("reject", "path", t.LocalPath, "cause", d.Cause.String(), "reason", d.Reason, "evicted", d.Evicted)
		r.emit(ctx, event.Event{Type: event.FileRejected, Path: t.LocalPath, Size: t.Size, Reason: d.Reason})
	}
}

// stagingPath returns a hidden, unique sibling of dst.
func stagingPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()[:8]+".part")
}
