package filter

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// compiledPattern is an rsync-style glob matched with doublestar.
type compiledPattern struct {
	glob     string
	original string
	dirOnly  bool // pattern ends with /
}

// compilePattern converts an rsync-style glob into a doublestar pattern.
// A leading "/" or any inner "/" anchors the pattern to the mirror root;
// otherwise it matches the basename at any depth.
func compilePattern(pattern string) (*compiledPattern, error) {
	cp := &compiledPattern{original: pattern}

	if strings.HasSuffix(pattern, "/") {
		cp.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	anchored := false
	if strings.HasPrefix(pattern, "/") {
		anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	} else if strings.Contains(pattern, "/") {
		anchored = true
	}
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern %q", cp.original)
	}
	if !anchored {
		pattern = "**/" + pattern
	}

	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", cp.original)
	}
	cp.glob = pattern
	return cp, nil
}

// match tests whether a relative path matches this pattern.
func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if cp.dirOnly && !isDir {
		return false
	}
	ok, err := doublestar.Match(cp.glob, relPath)
	return err == nil && ok
}
