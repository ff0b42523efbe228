package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/bamsammich/ftpmirror/internal/classify"
	"github.com/bamsammich/ftpmirror/internal/ledger"
	"github.com/bamsammich/ftpmirror/internal/policy"
	"github.com/bamsammich/ftpmirror/internal/scan"
	"github.com/bamsammich/ftpmirror/internal/tree"
)

// Target is a remote file under consideration.
type Target struct {
	ModTime    time.Time
	RemotePath string
	LocalPath  string
	// Rel is the remote path relative to the mirror root.
	Rel  string
	Ext  string
	Size int64
}

// NewTarget builds a Target from a walked file entry.
func NewTarget(e *tree.Entry, remoteRoot string) Target {
	return Target{
		ModTime:    e.ModTime,
		RemotePath: e.RemotePath,
		LocalPath:  e.LocalPath,
		Rel:        strings.TrimPrefix(e.RemotePath, remoteRoot),
		Ext:        e.Ext(),
		Size:       e.Size,
	}
}

// Cause classifies a Decision.
type Cause int

const (
	CauseNone Cause = iota
	CauseRetention
	CauseExcluded
	CauseNoRule
	CauseSize
	CauseSynced
	CauseChanged
	CauseRevalidated
	CauseMissing
	CauseMalware
	CauseScanError
	CauseContent
	CauseFileType
	CauseIO
	CauseInterrupted
)

var causeNames = [...]string{
	CauseNone:        "ok",
	CauseRetention:   "retention",
	CauseExcluded:    "excluded",
	CauseNoRule:      "no-rule",
	CauseSize:        "size",
	CauseSynced:      "synced",
	CauseChanged:     "changed",
	CauseRevalidated: "revalidation-failed",
	CauseMissing:     "missing",
	CauseMalware:     "malware",
	CauseScanError:   "scan-error",
	CauseContent:     "content",
	CauseFileType:    "file-type",
	CauseIO:          "io",
	CauseInterrupted: "interrupted",
}

func (c Cause) String() string {
	if int(c) < len(causeNames) {
		return causeNames[c]
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// Verdict reports whether c is a judgement on the file's content, as
// opposed to a failure to inspect it.
func (c Cause) Verdict() bool {
	return c == CauseMalware || c == CauseContent || c == CauseFileType
}

// Retryable reports whether c is an inspection or I/O failure. The file
// keeps its record and local copy and is looked at again next run.
func (c Cause) Retryable() bool {
	return c == CauseScanError || c == CauseIO || c == CauseInterrupted
}

// Decision is the outcome of one pipeline stage. A deny is a normal
// outcome, not an error.
type Decision struct {
	Reason  string
	Cause   Cause
	Allow   bool
	Evicted bool // the ledger record and local copy were removed
}

func allow(c Cause, format string, args ...any) Decision {
	return Decision{Allow: true, Cause: c, Reason: fmt.Sprintf(format, args...)}
}

func deny(c Cause, format string, args ...any) Decision {
	return Decision{Cause: c, Reason: fmt.Sprintf(format, args...)}
}

// Pipeline is consulted before and after each download.
type Pipeline interface {
	// Admit decides whether t should be downloaded.
	Admit(ctx context.Context, t Target) Decision
	// Accept checks the downloaded bytes at staged. On allow, the file is
	// in place at t.LocalPath and ledgered.
	Accept(ctx context.Context, t Target, staged string) Decision
}

var _ Pipeline = (*PolicyPipeline)(nil)

// PolicyPipeline is the policy-driven Pipeline.
type PolicyPipeline struct {
	fs         afero.Fs
	policy     *policy.Policy
	ledger     *ledger.Ledger
	classifier *classify.Classifier
	scanner    scan.Scanner
	excludes   *Chain
	now        func() time.Time
	logger     *slog.Logger
	revalidate bool
}

// Options configures a PolicyPipeline. Zero values pick defaults: the OS
// filesystem, the empty policy, no scanner, no excludes, time.Now.
type Options struct {
	FS         afero.Fs
	Policy     *policy.Policy
	Ledger     *ledger.Ledger
	Scanner    scan.Scanner
	Excludes   *Chain
	Now        func() time.Time
	Logger     *slog.Logger
	Revalidate bool
}

// NewPolicyPipeline returns a pipeline. Ledger is required.
func NewPolicyPipeline(o Options) *PolicyPipeline {
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	if o.Policy == nil {
		o.Policy = policy.Empty()
	}
	if o.Scanner == nil {
		o.Scanner = scan.Nop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &PolicyPipeline{
		fs:         o.FS,
		policy:     o.Policy,
		ledger:     o.Ledger,
		classifier: classify.New(o.FS),
		scanner:    o.Scanner,
		excludes:   o.Excludes,
		now:        o.Now,
		logger:     o.Logger,
		revalidate: o.Revalidate,
	}
}

func (p *PolicyPipeline) Admit(ctx context.Context, t Target) Decision {
	if p.policy.Expired(t.ModTime, p.now()) {
		return p.evicted(t, deny(CauseRetention, "older than %d days (modified %s)",
			p.policy.CacheDays, t.ModTime.UTC().Format(time.DateOnly)))
	}

	if pat, hit := p.excludes.Excluded(t.Rel); hit {
		return p.evicted(t, deny(CauseExcluded, "excluded by %q", pat))
	}

	rule, ok := p.policy.RuleFor(t.Ext)
	if !ok {
		return p.evicted(t, deny(CauseNoRule, "no rule for extension %q", t.Ext))
	}

	if rule != nil && !rule.SizeAllowed(t.Size) {
		return p.evicted(t, deny(CauseSize, "size %s (%dKB) outside [%d, %s]KB",
			humanize.IBytes(uint64(t.Size)), policy.SizeKB(t.Size), rule.SizeMinKB, maxKB(rule))) //nolint:gosec // G115: sizes are non-negative
	}

	rec, found := p.ledger.Get(t.LocalPath)
	if !found {
		return allow(CauseNone, "new file")
	}
	if !rec.Matches(t.Size, t.ModTime) {
		if was, err := ledger.ParseMTime(rec.MTime); err == nil {
			return p.evicted(t, allow(CauseChanged, "changed remotely (was %s, %s)",
				humanize.IBytes(uint64(rec.Size)), was.Format(time.DateTime))) //nolint:gosec // G115: sizes are non-negative
		}
		return p.evicted(t, allow(CauseChanged, "changed remotely"))
	}
	if !p.revalidate {
		return deny(CauseSynced, "already synced")
	}

	if _, err := p.fs.Stat(t.LocalPath); err != nil {
		return p.evicted(t, allow(CauseMissing, "local copy missing"))
	}
	d := p.check(ctx, t.LocalPath, rule)
	switch {
	case d.Allow:
		return deny(CauseSynced, "already synced")
	case d.Cause.Verdict():
		return p.evicted(t, allow(CauseRevalidated, "local copy failed revalidation: %s", d.Reason))
	default:
		return deny(d.Cause, "revalidation incomplete: %s", d.Reason)
	}
}

func (p *PolicyPipeline) Accept(ctx context.Context, t Target, staged string) Decision {
	rule, _ := p.policy.RuleFor(t.Ext)

	if d := p.check(ctx, staged, rule); !d.Allow {
		p.discard(staged)
		if d.Cause == CauseInterrupted {
			return d
		}
		return p.evicted(t, d)
	}

	if staged != t.LocalPath {
		if err := p.fs.Rename(staged, t.LocalPath); err != nil {
			p.discard(staged)
			return deny(CauseIO, "move into place: %v", err)
		}
	}

	if err := p.ledger.Put(ledger.FileRecord(t.LocalPath, t.Size, t.ModTime)); err != nil {
		// The record stays in memory and is retried by the final flush.
		p.logger.Warn("ledger write failed", "path", t.LocalPath, "error", err)
	}
	return allow(CauseNone, "accepted (%s)", humanize.IBytes(uint64(t.Size))) //nolint:gosec // G115: sizes are non-negative
}

// check runs the post-download rules against the file at path.
func (p *PolicyPipeline) check(ctx context.Context, path string, rule *policy.Rule) Decision {
	if err := ctx.Err(); err != nil {
		return deny(CauseInterrupted, "interrupted: %v", err)
	}
	v, err := p.scanner.Scan(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return deny(CauseInterrupted, "interrupted: %v", ctxErr)
		}
		return deny(CauseScanError, "scan failed: %v", err)
	}
	if !v.Clean() {
		return deny(CauseMalware, "malware: %s", v)
	}

	if rule == nil {
		return allow(CauseNone, "no rule")
	}

	isText, err := p.classifier.IsText(path)
	if err != nil {
		return deny(CauseIO, "classify: %v", err)
	}

	if isText {
		content, err := p.classifier.ReadAll(path)
		if err != nil {
			return deny(CauseIO, "read: %v", err)
		}
		if !rule.WhiteListed(content) {
			return deny(CauseContent, "content does not match white-list")
		}
		if pat, hit := rule.BlackListed(content); hit {
			return deny(CauseContent, "content matches black-list %q", pat.Source)
		}
		return allow(CauseNone, "text content allowed")
	}

	ok, err := p.classifier.MatchAny(path, rule.FileTypeAllow)
	if err != nil {
		return deny(CauseIO, "match signatures: %v", err)
	}
	if !ok {
		known, _ := p.classifier.Identify(path) //nolint:errcheck // reporting only
		return deny(CauseFileType, "file type not allowed (%s, %s)", known.Name, p.classifier.Detect(path))
	}
	return allow(CauseNone, "file type allowed")
}

// evicted removes the ledger record and local copy for t, then returns d
// marked as evicted.
func (p *PolicyPipeline) evicted(t Target, d Decision) Decision {
	rec, found := p.ledger.Get(t.LocalPath)
	if _, err := p.ledger.Remove(t.LocalPath); err != nil {
		p.logger.Warn("ledger write failed", "path", t.LocalPath, "error", err)
	}

	var err error
	if found && bool(rec.IsDir) {
		err = p.fs.RemoveAll(t.LocalPath)
	} else {
		err = p.fs.Remove(t.LocalPath)
	}
	switch {
	case err == nil:
		d.Evicted = true
	case errors.Is(err, os.ErrNotExist):
		d.Evicted = found
	default:
		p.logger.Warn("cannot remove local copy", "path", t.LocalPath, "error", err)
		d.Evicted = found
	}
	return d
}

func (p *PolicyPipeline) discard(staged string) {
	if err := p.fs.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("cannot remove staged file", "path", staged, "error", err)
	}
}

func maxKB(r *policy.Rule) string {
	if r.SizeMaxKB <= 0 {
		return "∞"
	}
	return fmt.Sprint(r.SizeMaxKB)
}
