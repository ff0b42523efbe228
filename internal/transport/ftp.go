package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jlaffaye/ftp"
)

// anonymousUser is used when no credentials are given.
const anonymousUser = "anonymous"

var _ Session = (*FTPSession)(nil)

// FTPSession is a Session over a single FTP control connection.
type FTPSession struct {
	conn *ftp.ServerConn
	addr string
}

// DialFTP connects and logs in. The server connection negotiates binary
// transfer mode on login.
func DialFTP(ctx context.Context, ep Endpoint) (Session, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if ep.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(ep.Timeout))
	}
	if !ep.Passive {
		// The client library only implements passive data connections.
		slog.Warn("active mode is not supported by the ftp backend, using passive", "addr", ep.Addr())
	}

	conn, err := ftp.Dial(ep.Addr(), opts...)
	if err != nil {
		return nil, opError(OpDial, ep.Addr(), err)
	}

	user, pass := ep.User, ep.Password
	if user == "" {
		user = anonymousUser
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, opError(OpLogin, ep.Addr(), err)
	}

	return &FTPSession{conn: conn, addr: ep.Addr()}, nil
}

func (s *FTPSession) ChangeDir(path string) error {
	return opError(OpChdir, path, s.conn.ChangeDir(path))
}

func (s *FTPSession) ChangeDirToParent() error {
	return opError(OpChdir, "..", s.conn.ChangeDirToParent())
}

func (s *FTPSession) CurrentDir() (string, error) {
	dir, err := s.conn.CurrentDir()
	if err != nil {
		return "", opError("pwd", "", err)
	}
	return dir, nil
}

func (s *FTPSession) List() ([]Listing, error) {
	entries, err := s.conn.List("")
	if err != nil {
		return nil, opError(OpList, "", err)
	}
	out := make([]Listing, 0, len(entries))
	for _, e := range entries {
		out = append(out, ftpEntryToListing(e))
	}
	return out, nil
}

func (s *FTPSession) FileSize(path string) (int64, error) {
	n, err := s.conn.FileSize(path)
	if err != nil {
		return 0, opError(OpSize, path, err)
	}
	return n, nil
}

func (s *FTPSession) ModTime(path string) (time.Time, error) {
	t, err := s.conn.GetTime(path)
	if err != nil {
		return time.Time{}, opError(OpMDTM, path, err)
	}
	return t.UTC(), nil
}

func (s *FTPSession) Retrieve(ctx context.Context, path string, w io.Writer) error {
	resp, err := s.conn.Retr(path)
	if err != nil {
		return opError(OpRetrieve, path, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = resp.Close() })
	defer stop()

	_, copyErr := io.Copy(w, resp)
	closeErr := resp.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			copyErr = ctx.Err()
		}
		return opError(OpRetrieve, path, copyErr)
	}
	// Closing the response reads the transfer-complete reply.
	if closeErr != nil && ctx.Err() == nil {
		return opError(OpRetrieve, path, fmt.Errorf("finish transfer: %w", closeErr))
	}
	return nil
}

func (s *FTPSession) Quit() error {
	return opError(OpQuit, s.addr, s.conn.Quit())
}

func ftpEntryToListing(e *ftp.Entry) Listing {
	l := Listing{
		Name:    e.Name,
		Size:    int64(e.Size), //nolint:gosec // G115: listing sizes fit in int64
		ModTime: e.Time.UTC(),
		Raw:     e.Name,
	}
	switch e.Type {
	case ftp.EntryTypeFile:
		l.Type = TypeFile
	case ftp.EntryTypeFolder:
		l.Type = TypeDir
	case ftp.EntryTypeLink:
		l.Type = TypeLink
		l.Raw = e.Name + " -> " + e.Target
	default:
		l.Type = TypeOther
	}
	return l
}
