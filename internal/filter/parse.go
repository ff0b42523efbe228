package filter

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// LoadFile appends the rules in a filter file to the chain, in file order.
// Each non-blank line not starting with '#' is one rule: "+ PATTERN"
// includes, "- PATTERN" or a bare PATTERN excludes.
func (c *Chain) LoadFile(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		include, pattern, ok := parseRuleLine(sc.Text())
		if !ok {
			continue
		}
		add := c.AddExclude
		if include {
			add = c.AddInclude
		}
		if err := add(pattern); err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read filter file %s: %w", path, err)
	}
	return nil
}

func parseRuleLine(line string) (include bool, pattern string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return false, "", false
	}
	if rest, found := strings.CutPrefix(line, "+ "); found {
		return true, strings.TrimSpace(rest), true
	}
	if rest, found := strings.CutPrefix(line, "- "); found {
		return false, strings.TrimSpace(rest), true
	}
	return false, line, true
}
