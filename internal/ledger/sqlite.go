package ledger

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps the ledger in a SQLite database. Save replaces the
// record table inside one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and binds it to
// localRoot. Opening a database created for a different root fails.
func OpenSQLite(path, localRoot string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &Error{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.init(localRoot); err != nil {
		db.Close()
		return nil, &Error{Op: "init", Path: path, Err: err}
	}
	return s, nil
}

func (s *SQLiteStore) init(localRoot string) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			name    TEXT PRIMARY KEY,
			isdir   INTEGER NOT NULL,
			size    INTEGER NOT NULL,
			mtime   INTEGER NOT NULL,
			file    INTEGER NOT NULL,
			folder  INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var stored string
	row := s.db.QueryRow("SELECT value FROM meta WHERE key = 'local_root'")
	if err := row.Scan(&stored); err == nil {
		if stored != localRoot {
			return fmt.Errorf("ledger root mismatch: stored %s, got %s", stored, localRoot)
		}
		return nil
	}
	if _, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('local_root', ?), ('job', ?)",
		localRoot, JobID(localRoot)); err != nil {
		return fmt.Errorf("store meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Load() ([]Record, error) {
	rows, err := s.db.Query("SELECT name, isdir, size, mtime, file, folder FROM records ORDER BY name")
	if err != nil {
		return nil, &Error{Op: "read", Path: s.path, Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var isDir int
		if err := rows.Scan(&r.Name, &isDir, &r.Size, &r.MTime, &r.Files, &r.Folders); err != nil {
			return nil, &Error{Op: "read", Path: s.path, Err: err}
		}
		r.IsDir = isDir != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "read", Path: s.path, Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) Save(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &Error{Op: "write", Path: s.path, Err: fmt.Errorf("begin tx: %w", err)}
	}
	if _, err := tx.Exec("DELETE FROM records"); err != nil {
		tx.Rollback()
		return &Error{Op: "write", Path: s.path, Err: err}
	}

	stmt, err := tx.Prepare("INSERT INTO records (name, isdir, size, mtime, file, folder) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return &Error{Op: "write", Path: s.path, Err: fmt.Errorf("prepare: %w", err)}
	}
	defer stmt.Close()

	for _, r := range records {
		isDir := 0
		if r.IsDir {
			isDir = 1
		}
		if _, err := stmt.Exec(r.Name, isDir, r.Size, r.MTime, r.Files, r.Folders); err != nil {
			tx.Rollback()
			return &Error{Op: "write", Path: s.path, Err: fmt.Errorf("insert %s: %w", r.Name, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "write", Path: s.path, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// JobID is a short stable identifier for a local root.
func JobID(localRoot string) string {
	digest := blake3.Sum256([]byte(localRoot))
	return hex.EncodeToString(digest[:8])
}
