package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Protocol identifies a transport backend.
type Protocol string

const (
	ProtocolFTP  Protocol = "ftp"
	ProtocolSFTP Protocol = "sftp"
)

// DefaultPort returns the well-known port for the protocol.
func (p Protocol) DefaultPort() int {
	if p == ProtocolSFTP {
		return 22
	}
	return 21
}

// EntryType classifies one line of a directory listing.
type EntryType int

const (
	TypeOther EntryType = iota
	TypeFile
	TypeDir
	TypeLink
)

func (t EntryType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeLink:
		return "symlink"
	default:
		return "other"
	}
}

// Listing is one child of a listed directory. Size and ModTime come from
// the listing line and are not trusted for files; callers stat them.
type Listing struct {
	ModTime time.Time
	Name    string
	Raw     string
	Size    int64
	Type    EntryType
}

// Endpoint is everything needed to open a session.
type Endpoint struct {
	Protocol Protocol
	Host     string
	User     string
	Password string
	KeyFile  string
	Port     int
	Timeout  time.Duration
	Passive  bool
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Session is a logged-in, stateful connection with a remote working
// directory cursor. Implementations are not safe for concurrent use.
type Session interface {
	// ChangeDir moves the cursor to path (absolute or relative to the cursor).
	ChangeDir(path string) error

	// ChangeDirToParent moves the cursor one level up.
	ChangeDirToParent() error

	// CurrentDir returns the absolute cursor path.
	CurrentDir() (string, error)

	// List returns the children of the cursor directory.
	List() ([]Listing, error)

	// FileSize returns the exact size of a remote file in bytes.
	FileSize(path string) (int64, error)

	// ModTime returns the modify time of a remote file in UTC.
	ModTime(path string) (time.Time, error)

	// Retrieve streams the remote file at path into w.
	Retrieve(ctx context.Context, path string, w io.Writer) error

	// Quit ends the session and releases the connection.
	Quit() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, ep Endpoint) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	return f(ctx, ep)
}

// ErrUnsupportedProtocol is returned by NewDialer for unknown protocols.
var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// NewDialer returns the dialer for a protocol.
//
//nolint:ireturn // returns the dialer for the protocol
func NewDialer(p Protocol) (Dialer, error) {
	switch p {
	case ProtocolFTP, "":
		return DialerFunc(DialFTP), nil
	case ProtocolSFTP:
		return DialerFunc(DialSFTP), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, p)
	}
}

// Error is a failed transport operation. Everything except login is
// recoverable at file or subtree granularity.
type Error struct {
	Err  error
	Op   string
	Path string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}

// IsLoginError reports whether err came from connecting or authenticating.
func IsLoginError(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Op == OpDial || te.Op == OpLogin
}

// Operation names used in Error.Op.
const (
	OpDial     = "dial"
	OpLogin    = "login"
	OpChdir    = "cwd"
	OpList     = "list"
	OpSize     = "size"
	OpMDTM     = "mdtm"
	OpRetrieve = "retr"
	OpQuit     = "quit"
)
