package engine

import (
	"sync"

	"github.com/spf13/afero"
)

// tmpRegistry tracks staged downloads so they can be removed if the run
// ends before they are accepted or discarded.
type tmpRegistry struct {
	fs    afero.Fs
	mu    sync.Mutex
	paths map[string]struct{}
}

func newTmpRegistry(fs afero.Fs) *tmpRegistry {
	return &tmpRegistry{fs: fs, paths: make(map[string]struct{})}
}

// Register adds a staged file path.
func (r *tmpRegistry) Register(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path] = struct{}{}
}

// Deregister removes a staged file path.
func (r *tmpRegistry) Deregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

// Len returns the number of tracked paths.
func (r *tmpRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Cleanup removes all registered files and returns how many existed.
func (r *tmpRegistry) Cleanup() int {
	r.mu.Lock()
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	r.paths = make(map[string]struct{})
	r.mu.Unlock()

	removed := 0
	for _, p := range paths {
		if err := r.fs.Remove(p); err == nil {
			removed++
		}
	}
	return removed
}
