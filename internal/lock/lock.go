// Package lock guarantees a single mirror session per remote endpoint.
//
// The lock is a Unix-domain socket bound at a path derived from the
// endpoint. A live holder accepts connections and answers with its PID; a
// socket file nobody is listening on is stale and gets replaced.
//
// Locks live in one host-wide directory so that instances run by
// different users still exclude each other. Checking a socket, unlinking
// a stale one and binding a fresh one happen under an exclusive advisory
// lock on a guard file next to the socket.
package lock

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zeebo/blake3"
)

// ErrHeld is returned when another live process holds the lock.
var ErrHeld = errors.New("endpoint locked by another instance")

const pingTimeout = time.Second

// Lock is a held endpoint lock.
type Lock struct {
	ln   net.Listener
	path string
	once sync.Once
}

// DirEnv overrides the lock directory.
const DirEnv = "FTPMIRROR_LOCK_DIR"

// Dir returns the host-wide lock directory: $FTPMIRROR_LOCK_DIR if set,
// otherwise defaultDir.
func Dir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	return defaultDir()
}

// Name returns the socket file name for an endpoint.
func Name(host string, port int) string {
	digest := blake3.Sum256([]byte(net.JoinHostPort(strings.ToLower(host), strconv.Itoa(port))))
	return hex.EncodeToString(digest[:8]) + ".sock"
}

// Acquire takes the lock for host:port in dir. If a live process holds it
// the error wraps ErrHeld and names the holder's PID.
func Acquire(dir, host string, port int) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	// Shared between users, sticky so nobody unlinks another's guard.
	// Fails harmlessly when dir belongs to someone else.
	_ = os.Chmod(dir, 0o777|os.ModeSticky)
	path := filepath.Join(dir, Name(host, port))

	unlock, err := guard(path)
	if err != nil {
		return nil, fmt.Errorf("guard lock %s: %w", path, err)
	}
	defer unlock()

	for range 2 {
		ln, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o666)
			l := &Lock{ln: ln, path: path}
			go l.serve()
			return l, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("bind lock %s: %w", path, err)
		}

		pid, alive := ping(path)
		if alive {
			return nil, fmt.Errorf("%w (%s:%d, pid %d)", ErrHeld, host, port, pid)
		}
		slog.Debug("removing stale lock", "path", path)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (%s:%d, lost race for %s)", ErrHeld, host, port, path)
}

// Path returns the socket path.
func (l *Lock) Path() string { return l.path }

// Release closes the socket and removes it. Safe to call more than once.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		if unlock, gerr := guard(l.path); gerr == nil {
			defer unlock()
		}
		err = l.ln.Close()
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	})
	return err
}

func (l *Lock) serve() {
	pid := strconv.Itoa(os.Getpid()) + "\n"
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(pingTimeout))
		_, _ = conn.Write([]byte(pid))
		_ = conn.Close()
	}
}

// ping reports whether a process is listening at path and, if it
// answered, its PID.
func ping(path string) (int, bool) {
	conn, err := net.DialTimeout("unix", path, pingTimeout)
	if err != nil {
		return 0, false
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(pingTimeout))
	line, _ := bufio.NewReader(conn).ReadString('\n') //nolint:errcheck // the holder may close without answering
	pid, _ := strconv.Atoi(strings.TrimSpace(line))   //nolint:errcheck // pid is informational
	return pid, true
}

// Holder returns the PID of the live process holding the lock for
// host:port, or false if the lock is free.
func Holder(dir, host string, port int) (int, bool) {
	return ping(filepath.Join(dir, Name(host, port)))
}
