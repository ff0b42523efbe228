package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var _ Session = (*SFTPSession)(nil)

// SFTPSession emulates a stateful FTP-style cursor on top of SFTP, which
// is itself path-addressed.
type SFTPSession struct {
	client *sftp.Client
	conn   io.Closer
	cwd    string
}

// DialSFTP opens an SSH connection and starts the sftp subsystem.
func DialSFTP(ctx context.Context, ep Endpoint) (Session, error) {
	sshClient, err := DialSSH(ctx, ep)
	if err != nil {
		return nil, err
	}
	return NewSFTPSession(sshClient)
}

// NewSFTPSession wraps an established SSH connection. The session owns
// sshClient and closes it on Quit.
func NewSFTPSession(sshClient *ssh.Client) (*SFTPSession, error) {
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, opError(OpLogin, "", fmt.Errorf("sftp client: %w", err))
	}
	return newSFTPSession(client, sshClient), nil
}

// newSFTPSession starts the cursor at the server's working directory.
// conn, if set, is closed after the client on Quit.
func newSFTPSession(client *sftp.Client, conn io.Closer) *SFTPSession {
	cwd, err := client.Getwd()
	if err != nil || cwd == "" {
		cwd = "/"
	}
	return &SFTPSession{client: client, conn: conn, cwd: cwd}
}

func (s *SFTPSession) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *SFTPSession) ChangeDir(p string) error {
	target := s.resolve(p)
	info, err := s.client.Stat(target)
	if err != nil {
		return opError(OpChdir, target, err)
	}
	if !info.IsDir() {
		return opError(OpChdir, target, fmt.Errorf("not a directory"))
	}
	s.cwd = target
	return nil
}

func (s *SFTPSession) ChangeDirToParent() error {
	return s.ChangeDir("..")
}

func (s *SFTPSession) CurrentDir() (string, error) {
	return s.cwd, nil
}

func (s *SFTPSession) List() ([]Listing, error) {
	infos, err := s.client.ReadDir(s.cwd)
	if err != nil {
		return nil, opError(OpList, s.cwd, err)
	}
	out := make([]Listing, 0, len(infos))
	for _, info := range infos {
		out = append(out, fileInfoToListing(info))
	}
	return out, nil
}

func (s *SFTPSession) FileSize(p string) (int64, error) {
	info, err := s.client.Stat(s.resolve(p))
	if err != nil {
		return 0, opError(OpSize, p, err)
	}
	return info.Size(), nil
}

func (s *SFTPSession) ModTime(p string) (time.Time, error) {
	info, err := s.client.Stat(s.resolve(p))
	if err != nil {
		return time.Time{}, opError(OpMDTM, p, err)
	}
	return info.ModTime().UTC(), nil
}

func (s *SFTPSession) Retrieve(ctx context.Context, p string, w io.Writer) error {
	f, err := s.client.Open(s.resolve(p))
	if err != nil {
		return opError(OpRetrieve, p, err)
	}
	defer f.Close()
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	if _, err := io.Copy(w, f); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return opError(OpRetrieve, p, err)
	}
	return nil
}

func (s *SFTPSession) Quit() error {
	err := s.client.Close()
	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	return opError(OpQuit, "", err)
}

// fileInfoToListing converts os.FileInfo from SFTP to a Listing.
func fileInfoToListing(info os.FileInfo) Listing {
	l := Listing{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
		Raw:     fmt.Sprintf("%s %d %s", info.Mode(), info.Size(), info.Name()),
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		l.Type = TypeLink
	case info.IsDir():
		l.Type = TypeDir
	case info.Mode().IsRegular():
		l.Type = TypeFile
	default:
		l.Type = TypeOther
	}
	return l
}
