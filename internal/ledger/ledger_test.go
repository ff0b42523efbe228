package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ftpmirror/internal/ledger"
)

var mtime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func TestMTime_RoundTrip(t *testing.T) {
	v := ledger.FormatMTime(mtime.Add(300 * time.Millisecond))
	assert.Equal(t, int64(20240309140507), v)

	back, err := ledger.ParseMTime(v)
	require.NoError(t, err)
	assert.True(t, back.Equal(mtime))

	assert.Equal(t, int64(0), ledger.FormatMTime(time.Time{}))
}

func TestMTime_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	assert.Equal(t, int64(20240309140507), ledger.FormatMTime(mtime.In(loc)))
}

func TestRecord_Matches(t *testing.T) {
	r := ledger.FileRecord("/m/a.txt", 10, mtime)
	assert.True(t, r.Matches(10, mtime))
	assert.False(t, r.Matches(11, mtime))
	assert.False(t, r.Matches(10, mtime.Add(time.Second)))

	d := ledger.DirRecord("/m/d", 10, 1, 0)
	assert.False(t, d.Matches(10, time.Time{}))
}

func TestJSONStore_FormatAndOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	l, err := ledger.Open(ledger.NewJSONStore(fs, "/m_checksum.json"))
	require.NoError(t, err)

	require.NoError(t, l.Put(ledger.FileRecord("/m/b.txt", 3, mtime)))
	require.NoError(t, l.Put(ledger.DirRecord("/m/a", 7, 2, 1)))

	data, err := afero.ReadFile(fs, "/m_checksum.json")
	require.NoError(t, err)
	want := `[
    {
        "name": "/m/a",
        "isdir": 1,
        "size": 7,
        "file": 2,
        "folder": 1
    },
    {
        "name": "/m/b.txt",
        "isdir": 0,
        "size": 3,
        "mtime": 20240309140507
    }
]
`
	assert.Equal(t, want, string(data))
}

func TestJSONStore_ReadsBooleanIsDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	doc := `[{"name":"/m/d","isdir":true,"size":1,"file":1,"folder":0},
	         {"name":"/m/f","isdir":false,"size":1,"mtime":20240309140507}]`
	require.NoError(t, afero.WriteFile(fs, "/l.json", []byte(doc), 0o644))

	l, err := ledger.Open(ledger.NewJSONStore(fs, "/l.json"))
	require.NoError(t, err)

	d, ok := l.Get("/m/d")
	require.True(t, ok)
	assert.True(t, bool(d.IsDir))
	f, ok := l.Get("/m/f")
	require.True(t, ok)
	assert.False(t, bool(f.IsDir))
	assert.True(t, f.Matches(1, mtime))
}

func TestJSONStore_MissingAndEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	l, err := ledger.Open(ledger.NewJSONStore(fs, "/none.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())

	require.NoError(t, afero.WriteFile(fs, "/empty.json", []byte("  \n"), 0o644))
	l, err = ledger.Open(ledger.NewJSONStore(fs, "/empty.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestOpen_QuarantinesCorruptLedger(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/l.json", []byte("{not json"), 0o644))

	l, err := ledger.Open(ledger.NewJSONStore(fs, "/l.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())

	moved, err := afero.ReadFile(fs, "/l.json.corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(moved))
	_, err = fs.Stat("/l.json")
	assert.Error(t, err)
}

func TestLedger_PutIdenticalDoesNotRewrite(t *testing.T) {
	st := &countingStore{}
	l, err := ledger.Open(st)
	require.NoError(t, err)

	r := ledger.FileRecord("/m/a", 1, mtime)
	require.NoError(t, l.Put(r))
	require.NoError(t, l.Put(r))
	assert.Equal(t, 1, st.saves)

	removed, err := l.Remove("/m/missing")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, st.saves)

	removed, err = l.Remove("/m/a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 2, st.saves)
	assert.Empty(t, st.last)
}

func TestLedger_FailedWriteStaysDirtyUntilFlush(t *testing.T) {
	st := &countingStore{failures: 1}
	l, err := ledger.Open(st)
	require.NoError(t, err)

	err = l.Put(ledger.FileRecord("/m/a", 1, mtime))
	var le *ledger.Error
	require.ErrorAs(t, err, &le)
	assert.True(t, l.Dirty())

	_, ok := l.Get("/m/a")
	assert.True(t, ok, "record kept in memory after failed write")

	require.NoError(t, l.Flush())
	assert.False(t, l.Dirty())
	require.Len(t, st.last, 1)
	assert.Equal(t, "/m/a", st.last[0].Name)
}

func TestLedger_FlushRetry(t *testing.T) {
	st := &countingStore{failures: 3}
	l, err := ledger.Open(st)
	require.NoError(t, err)
	_ = l.Put(ledger.FileRecord("/m/a", 1, mtime))

	require.NoError(t, l.FlushRetry(context.Background(), 3, time.Millisecond))
	assert.False(t, l.Dirty())

	st.failures = 10
	_ = l.Put(ledger.FileRecord("/m/b", 1, mtime))
	err = l.FlushRetry(context.Background(), 3, time.Millisecond)
	require.Error(t, err)
	assert.True(t, l.Dirty())
}

func TestLedger_FlushCleanIsNoop(t *testing.T) {
	st := &countingStore{}
	l, err := ledger.Open(st)
	require.NoError(t, err)
	require.NoError(t, l.Flush())
	assert.Equal(t, 0, st.saves)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "l.db")

	st, err := ledger.OpenSQLite(path, "/m")
	require.NoError(t, err)
	l, err := ledger.Open(st)
	require.NoError(t, err)
	require.NoError(t, l.Put(ledger.FileRecord("/m/b", 3, mtime)))
	require.NoError(t, l.Put(ledger.DirRecord("/m/a", 3, 1, 0)))
	_, err = l.Remove("/m/b")
	require.NoError(t, err)
	require.NoError(t, l.Put(ledger.FileRecord("/m/a/c", 3, mtime)))
	require.NoError(t, l.Close())

	st, err = ledger.OpenSQLite(path, "/m")
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.Load()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/m/a", recs[0].Name)
	assert.True(t, bool(recs[0].IsDir))
	assert.Equal(t, int64(1), recs[0].Files)
	assert.Equal(t, "/m/a/c", recs[1].Name)
	assert.True(t, recs[1].Matches(3, mtime))
}

func TestSQLiteStore_RootMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l.db")
	st, err := ledger.OpenSQLite(path, "/m")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = ledger.OpenSQLite(path, "/other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root mismatch")
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "/data/mirror_checksum.json", ledger.DefaultPath("/data/mirror/", ledger.BackendJSON))
	assert.Equal(t, "/data/mirror_checksum.db", ledger.DefaultPath("/data/mirror", ledger.BackendSQLite))
}

func TestJobID_Stable(t *testing.T) {
	assert.Equal(t, ledger.JobID("/m"), ledger.JobID("/m"))
	assert.NotEqual(t, ledger.JobID("/m"), ledger.JobID("/n"))
	assert.Len(t, ledger.JobID("/m"), 16)
}

type countingStore struct {
	last     []ledger.Record
	saves    int
	failures int
}

func (s *countingStore) Load() ([]ledger.Record, error) { return nil, nil }

func (s *countingStore) Save(r []ledger.Record) error {
	if s.failures > 0 {
		s.failures--
		return &ledger.Error{Op: "write", Path: "mem", Err: errors.New("disk full")}
	}
	s.saves++
	s.last = r
	return nil
}

func (s *countingStore) Path() string { return "mem" }
func (s *countingStore) Close() error { return nil }
