// Package policy loads the per-endpoint retention window and filter rules.
package policy

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/bamsammich/ftpmirror/internal/classify"
)

// Pattern is a content regular expression. The empty pattern is kept so
// white-list and black-list can treat it differently.
type Pattern struct {
	re     *regexp.Regexp
	Source string
}

// CompilePattern compiles src. An empty src yields an empty pattern.
func CompilePattern(src string) (Pattern, error) {
	if src == "" {
		return Pattern{}, nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", src, err)
	}
	return Pattern{Source: src, re: re}, nil
}

// Empty reports whether the pattern has no source.
func (p Pattern) Empty() bool { return p.Source == "" }

// Match reports whether the pattern occurs anywhere in b. The empty
// pattern matches everything.
func (p Pattern) Match(b []byte) bool {
	if p.re == nil {
		return true
	}
	return p.re.Match(b)
}

// Rule is one entry of a policy's ordered rule list.
type Rule struct {
	// SuffixAllow holds lower-case extensions without dots. Empty matches
	// every extension.
	SuffixAllow      []string
	ContentWhiteList []Pattern
	ContentBlackList []Pattern
	FileTypeAllow    []classify.Signature
	SizeMinKB        int64
	// SizeMaxKB <= 0 means no upper bound.
	SizeMaxKB int64
}

// MatchesExt reports whether the rule applies to the extension.
func (r *Rule) MatchesExt(ext string) bool {
	if len(r.SuffixAllow) == 0 {
		return true
	}
	return slices.Contains(r.SuffixAllow, strings.ToLower(ext))
}

// SizeKB rounds a byte count up to whole KiB.
func SizeKB(size int64) int64 {
	return int64(math.Ceil(float64(size) / 1024))
}

// SizeAllowed reports whether size falls within [SizeMinKB, SizeMaxKB]
// after rounding up to KiB.
func (r *Rule) SizeAllowed(size int64) bool {
	kb := SizeKB(size)
	if kb < r.SizeMinKB {
		return false
	}
	return r.SizeMaxKB <= 0 || kb <= r.SizeMaxKB
}

// WhiteListed reports whether content passes the white-list. An empty list
// passes, as does any empty pattern.
func (r *Rule) WhiteListed(content []byte) bool {
	if len(r.ContentWhiteList) == 0 {
		return true
	}
	for _, p := range r.ContentWhiteList {
		if p.Match(content) {
			return true
		}
	}
	return false
}

// BlackListed returns the first non-empty black-list pattern found in
// content.
func (r *Rule) BlackListed(content []byte) (Pattern, bool) {
	for _, p := range r.ContentBlackList {
		if !p.Empty() && p.Match(content) {
			return p, true
		}
	}
	return Pattern{}, false
}

func (r *Rule) String() string {
	suffixes := "*"
	if len(r.SuffixAllow) > 0 {
		suffixes = strings.Join(r.SuffixAllow, ",")
	}
	return fmt.Sprintf("rule[%s %d-%dKB]", suffixes, r.SizeMinKB, r.SizeMaxKB)
}

// Policy is the resolved configuration for one (host, port).
type Policy struct {
	Host  string
	Rules []Rule
	Port  int
	// CacheDays is the retention window; 0 keeps everything.
	CacheDays int
}

// Empty returns the policy that filters nothing.
func Empty() *Policy { return &Policy{} }

// Filtering reports whether the policy can reject anything.
func (p *Policy) Filtering() bool {
	return p.CacheDays > 0 || len(p.Rules) > 0
}

// RuleFor returns the first rule applying to ext. With no rules at all it
// returns (nil, true): everything is admitted unfiltered. With rules but no
// match it returns (nil, false).
func (p *Policy) RuleFor(ext string) (*Rule, bool) {
	if len(p.Rules) == 0 {
		return nil, true
	}
	for i := range p.Rules {
		if p.Rules[i].MatchesExt(ext) {
			return &p.Rules[i], true
		}
	}
	return nil, false
}

// AgeDays is the number of whole days from the start of modTime's UTC date
// to now.
func AgeDays(modTime, now time.Time) int {
	m := modTime.UTC()
	day := time.Date(m.Year(), m.Month(), m.Day(), 0, 0, 0, 0, time.UTC)
	return int(now.Sub(day) / (24 * time.Hour))
}

// Expired reports whether modTime falls outside the retention window.
func (p *Policy) Expired(modTime, now time.Time) bool {
	return p.CacheDays > 0 && AgeDays(modTime, now) > p.CacheDays
}
