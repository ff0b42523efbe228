package transport

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeConn struct {
	io.Reader
	io.WriteCloser
	closeRead func() error
}

func (p *pipeConn) Close() error {
	err := p.WriteCloser.Close()
	if rerr := p.closeRead(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// newMemSFTP serves an in-memory filesystem over a pipe and returns a
// session connected to it.
func newMemSFTP(t *testing.T) (*SFTPSession, *sftp.Client) {
	t.Helper()
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()

	server := sftp.NewRequestServer(
		&pipeConn{Reader: sr, WriteCloser: sw, closeRead: sr.Close},
		sftp.InMemHandler(),
	)
	go func() { _ = server.Serve() }()
	t.Cleanup(func() { _ = server.Close() })

	// Closing the client's writer also closes its reader so the receive
	// loop returns instead of waiting on the server.
	client, err := sftp.NewClientPipe(cr, &pipeConn{WriteCloser: cw, closeRead: cr.Close})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return newSFTPSession(client, nil), client
}

func writeRemote(t *testing.T, c *sftp.Client, p string, data []byte) {
	t.Helper()
	f, err := c.Create(p)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestSFTPSession_Cursor(t *testing.T) {
	sess, c := newMemSFTP(t)
	require.NoError(t, c.MkdirAll("/pub/sub"))
	writeRemote(t, c, "/pub/a.txt", []byte("hello"))

	require.NoError(t, sess.ChangeDir("/pub"))
	cwd, err := sess.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/pub", cwd)

	listing, err := sess.List()
	require.NoError(t, err)
	types := make(map[string]EntryType)
	for _, l := range listing {
		types[l.Name] = l.Type
	}
	assert.Equal(t, TypeFile, types["a.txt"])
	assert.Equal(t, TypeDir, types["sub"])

	require.NoError(t, sess.ChangeDir("sub"))
	cwd, _ = sess.CurrentDir()
	assert.Equal(t, "/pub/sub", cwd)

	require.NoError(t, sess.ChangeDirToParent())
	cwd, _ = sess.CurrentDir()
	assert.Equal(t, "/pub", cwd)

	err = sess.ChangeDir("a.txt")
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpChdir, te.Op)
	cwd, _ = sess.CurrentDir()
	assert.Equal(t, "/pub", cwd, "failed chdir leaves the cursor alone")

	err = sess.ChangeDir("/missing")
	require.ErrorAs(t, err, &te)
	assert.False(t, IsLoginError(err))
}

func TestSFTPSession_StatAndRetrieve(t *testing.T) {
	sess, c := newMemSFTP(t)
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	require.NoError(t, c.MkdirAll("/data"))
	writeRemote(t, c, "/data/f.bin", payload)

	require.NoError(t, sess.ChangeDir("/data"))

	size, err := sess.FileSize("f.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	_, err = sess.ModTime("/data/f.bin")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sess.Retrieve(context.Background(), "f.bin", &buf))
	assert.Equal(t, payload, buf.Bytes())

	_, err = sess.FileSize("nope.bin")
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpSize, te.Op)

	err = sess.Retrieve(context.Background(), "nope.bin", io.Discard)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpRetrieve, te.Op)
}

func TestSFTPSession_Quit(t *testing.T) {
	sess, _ := newMemSFTP(t)

	done := make(chan error, 1)
	go func() { done <- sess.Quit() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Quit did not return")
	}

	_, err := sess.List()
	assert.Error(t, err)
}
