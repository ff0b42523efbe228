package tree

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a walked entry.
type Kind int

const (
	KindOther Kind = iota
	KindDirectory
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "other"
	}
}

// Entry is one node discovered during a walk. Directory paths end in "/".
type Entry struct {
	ModTime    time.Time
	RemotePath string
	LocalPath  string
	Name       string
	Raw        string

	Size int64

	// Directory aggregates, folded in bottom-up after the subtree is walked.
	AggregateSize int64
	Files         int64
	Folders       int64

	Kind Kind
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.Kind == KindDirectory }

// Ext returns the lower-cased extension without the dot.
func (e *Entry) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(e.Name), "."))
}

// Totals are the aggregate counts of a subtree.
type Totals struct {
	Size    int64
	Files   int64
	Folders int64
}

func (t *Totals) add(o Totals) {
	t.Size += o.Size
	t.Files += o.Files
	t.Folders += o.Folders
}

// ErrUnsafePath is returned when a remote name would escape the local root.
var ErrUnsafePath = errors.New("unsafe path")

// Mapper translates remote paths below RemoteRoot into local paths below
// LocalRoot.
type Mapper struct {
	RemoteRoot string
	LocalRoot  string
}

// NewMapper normalizes both roots.
func NewMapper(remoteRoot, localRoot string) Mapper {
	if !strings.HasPrefix(remoteRoot, "/") {
		remoteRoot = "/" + remoteRoot
	}
	if !strings.HasSuffix(remoteRoot, "/") {
		remoteRoot += "/"
	}
	return Mapper{RemoteRoot: remoteRoot, LocalRoot: filepath.Clean(localRoot)}
}

// Local returns the local path for a remote path. Paths outside the remote
// root or resolving outside the local root are rejected.
func (m Mapper) Local(remotePath string) (string, error) {
	if !strings.HasPrefix(remotePath, m.RemoteRoot) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrUnsafePath, remotePath, m.RemoteRoot)
	}
	rel := strings.TrimSuffix(strings.TrimPrefix(remotePath, m.RemoteRoot), "/")
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrUnsafePath, remotePath)
		}
	}
	local := filepath.Join(m.LocalRoot, filepath.FromSlash(rel))
	r, err := filepath.Rel(m.LocalRoot, local)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, remotePath)
	}
	return local, nil
}

// Within reports whether local is p itself or lies below p.
func Within(local, p string) bool {
	if local == p {
		return true
	}
	return strings.HasPrefix(local, strings.TrimSuffix(p, string(filepath.Separator))+string(filepath.Separator))
}

// safeName reports whether a listed name can be used as a single path segment.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
