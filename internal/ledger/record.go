package ledger

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// mtimeLayout is the MDTM timestamp layout, stored as an integer.
const mtimeLayout = "20060102150405"

// Flag is a boolean that is written as 0/1 and read from 0/1 or true/false.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "1", "true":
		*f = true
	case "0", "false", "null":
		*f = false
	default:
		return fmt.Errorf("invalid isdir value %s", b)
	}
	return nil
}

// Record is one locally materialized path.
type Record struct {
	Name    string `json:"name"`
	IsDir   Flag   `json:"isdir"`
	Size    int64  `json:"size"`
	MTime   int64  `json:"mtime,omitempty"`
	Files   int64  `json:"file,omitempty"`
	Folders int64  `json:"folder,omitempty"`
}

// FileRecord builds the record for a synced file.
func FileRecord(name string, size int64, modTime time.Time) Record {
	return Record{Name: name, Size: size, MTime: FormatMTime(modTime)}
}

// DirRecord builds the record for a materialized directory.
func DirRecord(name string, size, files, folders int64) Record {
	return Record{Name: name, IsDir: true, Size: size, Files: files, Folders: folders}
}

// Matches reports whether the record carries the given fingerprint.
func (r Record) Matches(size int64, modTime time.Time) bool {
	return !bool(r.IsDir) && r.Size == size && r.MTime == FormatMTime(modTime)
}

// FormatMTime encodes t as the integer YYYYMMDDhhmmss in UTC. Sub-second
// precision is dropped since MDTM does not reliably carry it.
func FormatMTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	n, _ := strconv.ParseInt(t.UTC().Format(mtimeLayout), 10, 64) //nolint:errcheck // layout is all digits
	return n
}

// ParseMTime decodes an integer produced by FormatMTime.
func ParseMTime(v int64) (time.Time, error) {
	return time.ParseInLocation(mtimeLayout, strconv.FormatInt(v, 10), time.UTC)
}
