// Package tree enumerates a remote directory tree through a stateful
// transport session.
package tree

import (
	"context"
	"log/slog"

	"github.com/bamsammich/ftpmirror/internal/transport"
)

// Result is the flattened output of one walk.
type Result struct {
	// Entries in depth-first order, each directory before its children.
	Entries []*Entry
	// Failed holds remote paths whose subtree (or single file) could not be
	// enumerated. Their absence from Entries says nothing about the remote.
	Failed []string
	Totals Totals
}

// Files returns the file entries in walk order.
func (r *Result) Files() []*Entry {
	var out []*Entry
	for _, e := range r.Entries {
		if e.Kind == KindFile {
			out = append(out, e)
		}
	}
	return out
}

// Dirs returns the directory entries in walk order.
func (r *Result) Dirs() []*Entry {
	var out []*Entry
	for _, e := range r.Entries {
		if e.IsDir() {
			out = append(out, e)
		}
	}
	return out
}

// Walker performs depth-first walks. It is not safe for concurrent use
// because it drives the session's directory cursor.
type Walker struct {
	Session transport.Session
	Logger  *slog.Logger
	Mapper  Mapper
}

// NewWalker returns a walker for the given roots.
func NewWalker(sess transport.Session, m Mapper) *Walker {
	return &Walker{Session: sess, Mapper: m}
}

func (w *Walker) log() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Walk enumerates the tree below the mapper's remote root. Transport
// failures are absorbed per subtree; only context cancellation is returned.
func (w *Walker) Walk(ctx context.Context) (*Result, error) {
	res := &Result{}
	totals, _, err := w.visit(ctx, w.Mapper.RemoteRoot, res)
	res.Totals = totals
	return res, err
}

// visit walks dir, whose path ends in "/". entered reports whether the
// cursor was moved into dir and must be restored by the caller.
//
//nolint:revive // cognitive-complexity: one switch per listing type
func (w *Walker) visit(ctx context.Context, dir string, res *Result) (totals Totals, entered bool, err error) {
	if err := ctx.Err(); err != nil {
		return totals, false, err
	}
	if err := w.Session.ChangeDir(dir); err != nil {
		w.log().Warn("cannot enter directory, treating subtree as empty", "path", dir, "error", err)
		res.Failed = append(res.Failed, dir)
		return totals, false, nil
	}

	listing, err := w.Session.List()
	if err != nil {
		w.log().Warn("cannot list directory, treating subtree as empty", "path", dir, "error", err)
		res.Failed = append(res.Failed, dir)
		return totals, true, nil
	}

	for _, l := range listing {
		if err := ctx.Err(); err != nil {
			return totals, true, err
		}
		if l.Name == "." || l.Name == ".." {
			continue
		}
		if !safeName(l.Name) {
			w.log().Warn("skipping entry with unsafe name", "dir", dir, "name", l.Name)
			continue
		}

		switch l.Type {
		case transport.TypeDir:
			sub := dir + l.Name + "/"
			local, mapErr := w.Mapper.Local(sub)
			if mapErr != nil {
				w.log().Warn("skipping directory", "path", sub, "error", mapErr)
				continue
			}
			e := &Entry{Kind: KindDirectory, RemotePath: sub, LocalPath: local, Name: l.Name, Raw: l.Raw}
			res.Entries = append(res.Entries, e)

			subTotals, subEntered, subErr := w.visit(ctx, sub, res)
			if subErr != nil {
				return totals, true, subErr
			}
			if subEntered && !w.restore(dir) {
				// Cursor is lost, so the rest of this listing cannot be trusted.
				res.Failed = append(res.Failed, dir)
				return totals, true, nil
			}
			e.AggregateSize = subTotals.Size
			e.Files = subTotals.Files
			e.Folders = subTotals.Folders
			totals.add(subTotals)
			totals.Folders++

		case transport.TypeFile:
			fp := dir + l.Name
			e, ok := w.statFile(fp, l)
			if !ok {
				res.Failed = append(res.Failed, fp)
				continue
			}
			res.Entries = append(res.Entries, e)
			totals.Size += e.Size
			totals.Files++

		default:
			w.log().Info("skipping unsupported entry", "path", dir+l.Name, "type", l.Type.String(), "line", l.Raw)
			res.Entries = append(res.Entries, &Entry{
				Kind:       KindOther,
				RemotePath: dir + l.Name,
				Name:       l.Name,
				Raw:        l.Raw,
			})
		}
	}
	return totals, true, nil
}

// restore moves the cursor from a child back to dir.
func (w *Walker) restore(dir string) bool {
	err := w.Session.ChangeDirToParent()
	if err == nil {
		return true
	}
	w.log().Debug("cdup failed, changing directory absolutely", "path", dir, "error", err)
	if err := w.Session.ChangeDir(dir); err != nil {
		w.log().Warn("cannot restore directory cursor", "path", dir, "error", err)
		return false
	}
	return true
}

// statFile fetches exact size and modify time; the listing line is not
// trusted for either.
func (w *Walker) statFile(fp string, l transport.Listing) (*Entry, bool) {
	local, err := w.Mapper.Local(fp)
	if err != nil {
		w.log().Warn("skipping file", "path", fp, "error", err)
		return nil, false
	}
	size, err := w.Session.FileSize(fp)
	if err != nil {
		w.log().Warn("cannot stat file size, skipping", "path", fp, "error", err)
		return nil, false
	}
	mtime, err := w.Session.ModTime(fp)
	if err != nil {
		w.log().Warn("cannot stat file mtime, skipping", "path", fp, "error", err)
		return nil, false
	}
	return &Entry{
		Kind:       KindFile,
		RemotePath: fp,
		LocalPath:  local,
		Name:       l.Name,
		Raw:        l.Raw,
		Size:       size,
		ModTime:    mtime.UTC(),
	}, true
}

// FailedLocal maps the failed remote paths to local paths, dropping any
// that cannot be mapped.
func (r *Result) FailedLocal(m Mapper) []string {
	out := make([]string, 0, len(r.Failed))
	for _, p := range r.Failed {
		if local, err := m.Local(p); err == nil {
			out = append(out, local)
		}
	}
	return out
}
