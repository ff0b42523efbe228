package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var _ Store = (*JSONStore)(nil)

// JSONStore keeps the ledger as an indented JSON array. Writes go to a
// temporary sibling that is synced and renamed over the target.
type JSONStore struct {
	fs   afero.Fs
	path string
}

// NewJSONStore returns a store at path on fs.
func NewJSONStore(fs afero.Fs, path string) *JSONStore {
	return &JSONStore{fs: fs, path: path}
}

func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) Load() ([]Record, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "read", Path: s.path, Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &Error{Op: "decode", Path: s.path, Err: fmt.Errorf("%w: %w", ErrCorrupt, err)}
	}
	return records, nil
}

func (s *JSONStore) Save(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return &Error{Op: "encode", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "mkdir", Path: dir, Err: err}
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(s.path), uuid.New().String()[:8]))
	if err := s.writeSynced(tmp, data); err != nil {
		_ = s.fs.Remove(tmp)
		return &Error{Op: "write", Path: tmp, Err: err}
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return &Error{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}

func (s *JSONStore) writeSynced(name string, data []byte) error {
	f, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Quarantine moves an undecodable ledger aside so it is not overwritten.
func (s *JSONStore) Quarantine() (string, error) {
	dst := s.path + ".corrupt"
	if err := s.fs.Rename(s.path, dst); err != nil {
		return "", &Error{Op: "quarantine", Path: s.path, Err: err}
	}
	return dst, nil
}

func (s *JSONStore) Close() error { return nil }
