// Package transporttest provides an in-memory remote tree that satisfies
// transport.Session, for tests that must not talk to a real server.
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bamsammich/ftpmirror/internal/transport"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

type node struct {
	modTime time.Time
	data    []byte
	target  string
	typ     transport.EntryType
}

// Server is an in-memory remote file tree.
type Server struct {
	// LoginErr, when set, makes every Dial fail with a login error.
	LoginErr error

	nodes map[string]*node

	failChdir    map[string]error
	failList     map[string]error
	failStat     map[string]error
	failRetrieve map[string]error

	retrieved []string
	sessions  []*Session
	mu        sync.Mutex
}

// NewServer returns an empty tree containing only "/".
func NewServer() *Server {
	return &Server{
		nodes: map[string]*node{
			"/": {typ: transport.TypeDir},
		},
		failChdir:    make(map[string]error),
		failList:     make(map[string]error),
		failStat:     make(map[string]error),
		failRetrieve: make(map[string]error),
	}
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func (s *Server) mkdirAllLocked(p string) {
	for dir := p; dir != "/"; dir = path.Dir(dir) {
		if _, ok := s.nodes[dir]; !ok {
			s.nodes[dir] = &node{typ: transport.TypeDir}
		}
	}
}

// AddDir creates a directory and its parents.
func (s *Server) AddDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(clean(p))
}

// AddFile creates or replaces a file, creating parents as needed.
func (s *Server) AddFile(p string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.mkdirAllLocked(path.Dir(p))
	s.nodes[p] = &node{typ: transport.TypeFile, data: bytes.Clone(data), modTime: modTime.UTC()}
}

// AddSymlink creates a symbolic link entry.
func (s *Server) AddSymlink(p, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.mkdirAllLocked(path.Dir(p))
	s.nodes[p] = &node{typ: transport.TypeLink, target: target}
}

// AddOther creates an entry of an unsupported type (device, socket, ...).
func (s *Server) AddOther(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.mkdirAllLocked(path.Dir(p))
	s.nodes[p] = &node{typ: transport.TypeOther}
}

// Remove deletes a node and everything below it.
func (s *Server) Remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	for k := range s.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(s.nodes, k)
		}
	}
}

// Touch changes the modify time of a file.
func (s *Server) Touch(p string, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[clean(p)]; ok {
		n.modTime = modTime.UTC()
	}
}

// FailChdir makes changing into p fail. A nil err uses ErrInjected.
func (s *Server) FailChdir(p string, err error) { s.inject(s.failChdir, p, err) }

// FailList makes listing p fail.
func (s *Server) FailList(p string, err error) { s.inject(s.failList, p, err) }

// FailStat makes size and mtime requests for p fail.
func (s *Server) FailStat(p string, err error) { s.inject(s.failStat, p, err) }

// FailRetrieve makes downloading p fail after a partial write.
func (s *Server) FailRetrieve(p string, err error) { s.inject(s.failRetrieve, p, err) }

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.failChdir)
	clear(s.failList)
	clear(s.failStat)
	clear(s.failRetrieve)
}

func (s *Server) inject(m map[string]error, p string, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m[clean(p)] = err
}

// Retrieved returns the paths downloaded so far, in order.
func (s *Server) Retrieved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.retrieved...)
}

// ResetRetrieved clears the download log.
func (s *Server) ResetRetrieved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrieved = nil
}

// Sessions returns every session opened against the server.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Session(nil), s.sessions...)
}

// Dial implements transport.Dialer.
//
//nolint:ireturn // satisfies transport.Dialer
func (s *Server) Dial(_ context.Context, ep transport.Endpoint) (transport.Session, error) {
	if s.LoginErr != nil {
		return nil, &transport.Error{Op: transport.OpLogin, Path: ep.Addr(), Err: s.LoginErr}
	}
	sess := &Session{srv: s, cwd: "/"}
	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()
	return sess, nil
}

// Session is a cursor over a Server.
type Session struct {
	srv    *Server
	cwd    string
	closed bool
}

var _ transport.Session = (*Session)(nil)

// Closed reports whether Quit was called.
func (c *Session) Closed() bool {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.closed
}

// Cwd returns the cursor without a round trip.
func (c *Session) Cwd() string {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.cwd
}

func (c *Session) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(c.cwd, p)
}

func (c *Session) ChangeDir(p string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	target := c.resolve(p)
	if err, ok := c.srv.failChdir[target]; ok {
		return &transport.Error{Op: transport.OpChdir, Path: target, Err: err}
	}
	n, ok := c.srv.nodes[target]
	if !ok || n.typ != transport.TypeDir {
		return &transport.Error{Op: transport.OpChdir, Path: target, Err: os.ErrNotExist}
	}
	c.cwd = target
	return nil
}

func (c *Session) ChangeDirToParent() error {
	return c.ChangeDir("..")
}

func (c *Session) CurrentDir() (string, error) {
	return c.Cwd(), nil
}

func (c *Session) List() ([]transport.Listing, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err, ok := c.srv.failList[c.cwd]; ok {
		return nil, &transport.Error{Op: transport.OpList, Path: c.cwd, Err: err}
	}

	// Servers commonly include the self and parent entries.
	out := []transport.Listing{
		{Name: ".", Type: transport.TypeDir, Raw: "drwxr-xr-x 2 ftp ftp 4096 Jan 01 00:00 ."},
		{Name: "..", Type: transport.TypeDir, Raw: "drwxr-xr-x 2 ftp ftp 4096 Jan 01 00:00 .."},
	}
	var names []string
	for p := range c.srv.nodes {
		if p != "/" && path.Dir(p) == c.cwd {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	for _, p := range names {
		n := c.srv.nodes[p]
		l := transport.Listing{
			Name:    path.Base(p),
			Type:    n.typ,
			ModTime: n.modTime,
			// Listing sizes are deliberately wrong; callers must stat.
			Size: -1,
			Raw:  fmt.Sprintf("%s %s", n.typ, path.Base(p)),
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *Session) fileLocked(op, p string) (*node, error) {
	abs := c.resolve(p)
	if err, ok := c.srv.failStat[abs]; ok && (op == transport.OpSize || op == transport.OpMDTM) {
		return nil, &transport.Error{Op: op, Path: abs, Err: err}
	}
	n, ok := c.srv.nodes[abs]
	if !ok || n.typ != transport.TypeFile {
		return nil, &transport.Error{Op: op, Path: abs, Err: os.ErrNotExist}
	}
	return n, nil
}

func (c *Session) FileSize(p string) (int64, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	n, err := c.fileLocked(transport.OpSize, p)
	if err != nil {
		return 0, err
	}
	return int64(len(n.data)), nil
}

func (c *Session) ModTime(p string) (time.Time, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	n, err := c.fileLocked(transport.OpMDTM, p)
	if err != nil {
		return time.Time{}, err
	}
	return n.modTime, nil
}

func (c *Session) Retrieve(ctx context.Context, p string, w io.Writer) error {
	c.srv.mu.Lock()
	n, err := c.fileLocked(transport.OpRetrieve, p)
	abs := c.resolve(p)
	failErr, fail := c.srv.failRetrieve[abs]
	var data []byte
	if err == nil {
		data = bytes.Clone(n.data)
		c.srv.retrieved = append(c.srv.retrieved, abs)
	}
	c.srv.mu.Unlock()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: transport.OpRetrieve, Path: abs, Err: err}
	}

	if fail {
		// Write half the payload so callers see a torn transfer.
		_, _ = w.Write(data[:len(data)/2])
		return &transport.Error{Op: transport.OpRetrieve, Path: abs, Err: failErr}
	}
	if _, err := w.Write(data); err != nil {
		return &transport.Error{Op: transport.OpRetrieve, Path: abs, Err: err}
	}
	return nil
}

func (c *Session) Quit() error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.closed = true
	return nil
}
