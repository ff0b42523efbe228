package tree_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ftpmirror/internal/transport"
	"github.com/bamsammich/ftpmirror/internal/transport/transporttest"
	"github.com/bamsammich/ftpmirror/internal/tree"
)

var mtime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestServer builds:
//
//	/a/1.txt     (10 bytes)
//	/a/b/2.bin   (5 bytes)
//	/c.txt       (3 bytes)
func newTestServer() *transporttest.Server {
	srv := transporttest.NewServer()
	srv.AddFile("/a/1.txt", make([]byte, 10), mtime)
	srv.AddFile("/a/b/2.bin", make([]byte, 5), mtime.Add(time.Hour))
	srv.AddFile("/c.txt", make([]byte, 3), mtime)
	return srv
}

func walk(t *testing.T, srv *transporttest.Server, remoteRoot, localRoot string) (*tree.Result, *transporttest.Session) {
	t.Helper()
	sess, err := srv.Dial(context.Background(), transport.Endpoint{})
	require.NoError(t, err)
	w := tree.NewWalker(sess, tree.NewMapper(remoteRoot, localRoot))
	res, err := w.Walk(context.Background())
	require.NoError(t, err)
	return res, sess.(*transporttest.Session)
}

func remotePaths(entries []*tree.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.RemotePath)
	}
	return out
}

func TestWalk_DepthFirstDirectoriesFirst(t *testing.T) {
	res, _ := walk(t, newTestServer(), "/", "/mirror")

	assert.Equal(t, []string{
		"/a/",
		"/a/1.txt",
		"/a/b/",
		"/a/b/2.bin",
		"/c.txt",
	}, remotePaths(res.Entries))
	assert.Empty(t, res.Failed)
}

func TestWalk_AggregatesFoldBottomUp(t *testing.T) {
	res, _ := walk(t, newTestServer(), "/", "/mirror")

	a, b := res.Entries[0], res.Entries[2]
	assert.Equal(t, tree.KindDirectory, a.Kind)
	assert.Equal(t, int64(15), a.AggregateSize)
	assert.Equal(t, int64(2), a.Files)
	assert.Equal(t, int64(1), a.Folders)

	assert.Equal(t, int64(5), b.AggregateSize)
	assert.Equal(t, int64(1), b.Files)
	assert.Equal(t, int64(0), b.Folders)

	assert.Equal(t, tree.Totals{Size: 18, Files: 3, Folders: 2}, res.Totals)
}

func TestWalk_FileStatsComeFromRoundTrips(t *testing.T) {
	res, _ := walk(t, newTestServer(), "/", "/mirror")

	bin := res.Entries[3]
	assert.Equal(t, tree.KindFile, bin.Kind)
	assert.Equal(t, int64(5), bin.Size, "listing reports -1, size must come from SIZE")
	assert.Equal(t, mtime.Add(time.Hour), bin.ModTime)
	assert.Equal(t, "bin", bin.Ext())
}

func TestWalk_LocalPathTranslation(t *testing.T) {
	local := t.TempDir()
	res, _ := walk(t, newTestServer(), "/a", local)

	assert.Equal(t, []string{"/a/1.txt", "/a/b/", "/a/b/2.bin"}, remotePaths(res.Entries))
	assert.Equal(t, filepath.Join(local, "1.txt"), res.Entries[0].LocalPath)
	assert.Equal(t, filepath.Join(local, "b"), res.Entries[1].LocalPath)
	assert.Equal(t, filepath.Join(local, "b", "2.bin"), res.Entries[2].LocalPath)
}

func TestWalk_RestoresCursor(t *testing.T) {
	_, sess := walk(t, newTestServer(), "/", "/mirror")
	assert.Equal(t, "/", sess.Cwd())

	_, sess = walk(t, newTestServer(), "/a/", "/mirror")
	assert.Equal(t, "/a", sess.Cwd())
}

func TestWalk_ListFailureEmptiesSubtree(t *testing.T) {
	srv := newTestServer()
	srv.FailList("/a/b", nil)

	res, sess := walk(t, srv, "/", "/mirror")

	assert.Equal(t, []string{"/a/", "/a/1.txt", "/a/b/", "/c.txt"}, remotePaths(res.Entries))
	assert.Equal(t, []string{"/a/b/"}, res.Failed)
	assert.Equal(t, int64(10), res.Entries[0].AggregateSize)
	assert.Equal(t, "/", sess.Cwd(), "cursor must survive a failed listing")
}

func TestWalk_ChdirFailureEmptiesSubtree(t *testing.T) {
	srv := newTestServer()
	srv.FailChdir("/a", nil)

	res, _ := walk(t, srv, "/", "/mirror")

	assert.Equal(t, []string{"/a/", "/c.txt"}, remotePaths(res.Entries))
	assert.Equal(t, []string{"/a/"}, res.Failed)
	assert.Equal(t, tree.Totals{Size: 3, Files: 1, Folders: 1}, res.Totals)
}

func TestWalk_RootFailure(t *testing.T) {
	srv := newTestServer()
	srv.FailChdir("/", nil)

	res, _ := walk(t, srv, "/", "/mirror")
	assert.Empty(t, res.Entries)
	assert.Equal(t, []string{"/"}, res.Failed)
	assert.Equal(t, []string{"/mirror"}, res.FailedLocal(tree.NewMapper("/", "/mirror")))
}

func TestWalk_StatFailureSkipsOnlyThatFile(t *testing.T) {
	srv := newTestServer()
	srv.FailStat("/a/1.txt", nil)

	res, _ := walk(t, srv, "/", "/mirror")

	assert.Equal(t, []string{"/a/", "/a/b/", "/a/b/2.bin", "/c.txt"}, remotePaths(res.Entries))
	assert.Equal(t, []string{"/a/1.txt"}, res.Failed)
}

func TestWalk_UnsupportedEntriesReported(t *testing.T) {
	srv := transporttest.NewServer()
	srv.AddFile("/real.txt", []byte("x"), mtime)
	srv.AddSymlink("/link.txt", "real.txt")
	srv.AddOther("/fifo")

	res, _ := walk(t, srv, "/", "/mirror")

	require.Len(t, res.Entries, 3)
	var kinds []tree.Kind
	for _, e := range res.Entries {
		kinds = append(kinds, e.Kind)
	}
	assert.ElementsMatch(t, []tree.Kind{tree.KindFile, tree.KindOther, tree.KindOther}, kinds)
	assert.Len(t, res.Files(), 1)
	assert.Empty(t, res.Dirs())
}

func TestWalk_Cancelled(t *testing.T) {
	sess, err := newTestServer().Dial(context.Background(), transport.Endpoint{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = tree.NewWalker(sess, tree.NewMapper("/", "/mirror")).Walk(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapper_RejectsEscapes(t *testing.T) {
	m := tree.NewMapper("/pub", "/mirror")

	_, err := m.Local("/etc/passwd")
	assert.ErrorIs(t, err, tree.ErrUnsafePath)

	_, err = m.Local("/pub/../etc/")
	assert.ErrorIs(t, err, tree.ErrUnsafePath)

	local, err := m.Local("/pub/")
	require.NoError(t, err)
	assert.Equal(t, "/mirror", local)
}

func TestWithin(t *testing.T) {
	assert.True(t, tree.Within("/m/a", "/m/a"))
	assert.True(t, tree.Within("/m/a/b.txt", "/m/a"))
	assert.True(t, tree.Within("/m/a/b.txt", "/m/a/"))
	assert.False(t, tree.Within("/m/ab", "/m/a"))
}
