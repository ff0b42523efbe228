// Package ledger persists the set of locally materialized paths and their
// remote fingerprints so repeated runs only transfer what changed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Ledger is the in-memory view of a Store. Every mutation is written
// through; a failed write leaves the ledger dirty until the next Flush.
// Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	records map[string]Record
	dirty   bool
}

// Open loads the ledger from store. An undecodable JSON ledger is moved
// aside and the run starts from an empty ledger.
func Open(store Store) (*Ledger, error) {
	recs, err := store.Load()
	if err != nil {
		js, ok := store.(*JSONStore)
		if !errors.Is(err, ErrCorrupt) || !ok {
			return nil, err
		}
		dst, qerr := js.Quarantine()
		if qerr != nil {
			return nil, fmt.Errorf("%w (quarantine failed: %w)", err, qerr)
		}
		slog.Warn("ledger unreadable, starting empty", "path", store.Path(), "moved_to", dst, "error", err)
		recs = nil
	}

	l := &Ledger{store: store, records: make(map[string]Record, len(recs))}
	for _, r := range recs {
		if r.Name == "" {
			continue
		}
		l.records[r.Name] = r
	}
	return l, nil
}

// Path returns the backing store location.
func (l *Ledger) Path() string { return l.store.Path() }

// Get returns the record for a local path.
func (l *Ledger) Get(name string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[name]
	return r, ok
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Put inserts or replaces a record. Writing an identical record is a no-op.
func (l *Ledger) Put(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.records[r.Name]; ok && old == r {
		return nil
	}
	l.records[r.Name] = r
	return l.persistLocked()
}

// Remove deletes the record for name and reports whether one existed.
func (l *Ledger) Remove(name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[name]; !ok {
		return false, nil
	}
	delete(l.records, name)
	return true, l.persistLocked()
}

// Records returns a snapshot sorted by name.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedLocked()
}

// Dirty reports whether in-memory state has not been persisted.
func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Flush persists pending state, if any.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}
	return l.persistLocked()
}

// FlushRetry calls Flush up to attempts times, doubling backoff between
// attempts.
func (l *Ledger) FlushRetry(ctx context.Context, attempts int, backoff time.Duration) error {
	attempts = max(attempts, 1)
	var err error
	for i := range attempts {
		if err = l.Flush(); err == nil {
			return nil
		}
		slog.Warn("ledger flush failed", "path", l.Path(), "attempt", i+1, "error", err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush ledger: %w", errors.Join(err, ctx.Err()))
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("flush ledger after %d attempts: %w", attempts, err)
}

// Close releases the store. It does not flush.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) persistLocked() error {
	if err := l.store.Save(l.sortedLocked()); err != nil {
		l.dirty = true
		return err
	}
	l.dirty = false
	return nil
}

func (l *Ledger) sortedLocked() []Record {
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func trimSep(p string) string {
	if len(p) > 1 {
		return strings.TrimRight(p, `/\`)
	}
	return p
}
