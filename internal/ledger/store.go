package ledger

import (
	"errors"
	"fmt"
)

// Store persists the full record list. Every Save replaces the previous
// content wholesale.
type Store interface {
	Load() ([]Record, error)
	Save(records []Record) error
	Path() string
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
)

// ErrCorrupt marks a ledger whose content could not be decoded.
var ErrCorrupt = errors.New("corrupt ledger")

// Error is a ledger persistence failure.
type Error struct {
	Err  error
	Op   string
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultPath returns the ledger location for a local root: a sibling of
// the root named "<root>_checksum.json" (or ".db" for SQLite).
func DefaultPath(localRoot string, b Backend) string {
	root := trimSep(localRoot)
	if b == BackendSQLite {
		return root + "_checksum.db"
	}
	return root + "_checksum.json"
}
