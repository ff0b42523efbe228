// Package filter decides which remote files are mirrored. A Chain holds
// operator exclude/include globs; a Pipeline applies the endpoint policy
// before and after each download.
package filter

import "strings"

// Rule represents a single include or exclude glob.
type Rule struct {
	Pattern *compiledPattern
	Include bool // true=include, false=exclude
}

// Chain holds an ordered list of glob rules. First match wins.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: false})
	return nil
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: true})
	return nil
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return c == nil || len(c.rules) == 0
}

// Excluded reports whether a file, or any directory above it, is excluded.
// The matching pattern is returned for reporting.
func (c *Chain) Excluded(relPath string) (string, bool) {
	if c.Empty() {
		return "", false
	}
	parts := strings.Split(strings.Trim(relPath, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if p, hit := c.excludedBy(strings.Join(parts[:i], "/"), true); hit {
			return p, true
		}
	}
	return c.excludedBy(strings.Join(parts, "/"), false)
}

func (c *Chain) excludedBy(relPath string, isDir bool) (string, bool) {
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Pattern.original, !rule.Include
		}
	}
	return "", false
}
