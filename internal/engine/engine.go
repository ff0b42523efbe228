// Package engine mirrors a remote tree into a local directory: it walks
// the remote, purges orphans, filters and transfers files, and keeps the
// ledger current so repeated runs are incremental.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/bamsammich/ftpmirror/internal/event"
	"github.com/bamsammich/ftpmirror/internal/filter"
	"github.com/bamsammich/ftpmirror/internal/ledger"
	"github.com/bamsammich/ftpmirror/internal/lock"
	"github.com/bamsammich/ftpmirror/internal/policy"
	"github.com/bamsammich/ftpmirror/internal/scan"
	"github.com/bamsammich/ftpmirror/internal/stats"
	"github.com/bamsammich/ftpmirror/internal/transport"
	"github.com/bamsammich/ftpmirror/internal/tree"
)

// State is a phase of a mirror run.
type State int

const (
	Idle State = iota
	Walking
	Reconciling
	Transferring
	Finalizing
	Done
	Faulted
)

var stateNames = [...]string{
	Idle:         "idle",
	Walking:      "walking",
	Reconciling:  "reconciling",
	Transferring: "transferring",
	Finalizing:   "finalizing",
	Done:         "done",
	Faulted:      "faulted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Defaults.
const (
	DefaultVerifiers     = 2
	DefaultFlushAttempts = 3
	DefaultFlushBackoff  = 200 * time.Millisecond
)

// Config describes a mirror run.
type Config struct {
	// Dialer opens the transport session. Defaults to the protocol's dialer.
	Dialer   transport.Dialer
	Endpoint transport.Endpoint

	RemoteRoot string
	LocalRoot  string

	// FS is the local filesystem. Defaults to the OS filesystem.
	FS afero.Fs

	// Ledger overrides LedgerBackend/LedgerPath with an already open ledger
	// that the caller owns.
	Ledger        *ledger.Ledger
	LedgerBackend ledger.Backend
	LedgerPath    string

	// Pipeline overrides the policy-driven pipeline built from Policy,
	// Scanner, Excludes and Revalidate.
	Pipeline   filter.Pipeline
	Policy     *policy.Policy
	Scanner    scan.Scanner
	Excludes   *filter.Chain
	Revalidate bool

	// LockDir holds endpoint lock sockets. Empty disables locking.
	LockDir string

	Events chan<- event.Event
	Logger *slog.Logger
	// Stats receives the run's counters. Defaults to a fresh collector.
	Stats *stats.Collector

	BWLimit       int64 // bytes per second, 0 = unlimited
	Verifiers     int
	FlushAttempts int
	FlushBackoff  time.Duration
}

// Result is the outcome of a mirror run.
type Result struct {
	Err   error
	Stats stats.Snapshot
	State State
}

// Partial reports whether the run finished but some files or subtrees
// could not be processed.
func (r Result) Partial() bool {
	return r.Err == nil && r.Stats.Failures() > 0
}

// ErrFaulted wraps run-level failures.
var ErrFaulted = errors.New("mirror run failed")

// Run executes one mirror run, blocking until complete. The caller owns
// cfg.Events and closes it after Run returns.
func Run(ctx context.Context, cfg Config) Result {
	r := newRun(cfg)
	err := r.execute(ctx)
	if err != nil {
		r.setState(Faulted)
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrFaulted, err)
		}
	} else {
		r.setState(Done)
	}
	return Result{Err: err, Stats: r.stats.Snapshot(), State: r.state}
}

type run struct {
	cfg      Config
	fs       afero.Fs
	log      *slog.Logger
	stats    *stats.Collector
	mapper   tree.Mapper
	ledger   *ledger.Ledger
	pipeline filter.Pipeline
	sess     transport.Session
	tmp      *tmpRegistry
	limiter  *rate.Limiter
	state    State
}

func newRun(cfg Config) *run {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Verifiers <= 0 {
		cfg.Verifiers = DefaultVerifiers
	}
	if cfg.FlushAttempts <= 0 {
		cfg.FlushAttempts = DefaultFlushAttempts
	}
	if cfg.FlushBackoff <= 0 {
		cfg.FlushBackoff = DefaultFlushBackoff
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.RemoteRoot == "" {
		cfg.RemoteRoot = "/"
	}
	r := &run{
		cfg:    cfg,
		fs:     cfg.FS,
		log:    cfg.Logger,
		stats:  cfg.Stats,
		mapper: tree.NewMapper(cfg.RemoteRoot, cfg.LocalRoot),
		tmp:    newTmpRegistry(cfg.FS),
		state:  Idle,
	}
	if cfg.BWLimit > 0 {
		r.limiter = NewBWLimiter(cfg.BWLimit)
	}
	return r
}

func (r *run) setState(s State) {
	if r.state == s {
		return
	}
	r.log.Debug("state change", "from", r.state.String(), "to", s.String())
	r.state = s
	r.emit(context.Background(), event.Event{Type: event.StateChanged, Reason: s.String()})
}

// emit delivers an event, giving up if ctx is done.
func (r *run) emit(ctx context.Context, e event.Event) {
	if r.cfg.Events == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case r.cfg.Events <- e:
	case <-ctx.Done():
	}
}

//nolint:revive // cognitive-complexity: linear state machine
func (r *run) execute(ctx context.Context) (err error) {
	if r.cfg.LocalRoot == "" {
		return errors.New("local root is required")
	}

	if r.cfg.LockDir != "" {
		l, lockErr := lock.Acquire(r.cfg.LockDir, r.cfg.Endpoint.Host, r.cfg.Endpoint.Port)
		if lockErr != nil {
			return lockErr
		}
		defer func() {
			if relErr := l.Release(); relErr != nil {
				r.log.Warn("release lock", "error", relErr)
			}
		}()
	}

	if err := r.dial(ctx); err != nil {
		return err
	}
	if err := r.openLedger(); err != nil {
		_ = r.sess.Quit()
		return err
	}
	r.buildPipeline()

	// Finalizing always runs once the session and ledger are up.
	defer func() {
		if finErr := r.finalize(); finErr != nil && err == nil {
			err = finErr
		}
	}()

	r.setState(Walking)
	res, err := r.walk(ctx)
	if err != nil {
		return err
	}

	r.setState(Reconciling)
	purged, purgeErr := PurgeOrphans(ctx, ReconcileConfig{
		FS:     r.fs,
		Ledger: r.ledger,
		Walk:   res,
		Mapper: r.mapper,
		Emit:   func(e event.Event) { r.emit(ctx, e) },
	})
	r.stats.AddPurged(int64(purged))
	if purgeErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.log.Warn("purge incomplete", "error", purgeErr)
	}

	r.setState(Transferring)
	return r.transferAll(ctx, res)
}

func (r *run) dial(ctx context.Context) error {
	d := r.cfg.Dialer
	if d == nil {
		var err error
		if d, err = transport.NewDialer(r.cfg.Endpoint.Protocol); err != nil {
			return err
		}
	}
	sess, err := d.Dial(ctx, r.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("connect %s: %w", r.cfg.Endpoint.Addr(), err)
	}
	r.sess = sess
	r.log.Info("connected", "addr", r.cfg.Endpoint.Addr(), "protocol", string(r.cfg.Endpoint.Protocol))
	return nil
}

func (r *run) openLedger() error {
	if r.cfg.Ledger != nil {
		r.ledger = r.cfg.Ledger
		return nil
	}
	path := r.cfg.LedgerPath
	if path == "" {
		path = ledger.DefaultPath(r.mapper.LocalRoot, r.cfg.LedgerBackend)
	}

	var store ledger.Store
	switch r.cfg.LedgerBackend {
	case ledger.BackendSQLite:
		s, err := ledger.OpenSQLite(path, r.mapper.LocalRoot)
		if err != nil {
			return err
		}
		store = s
	case ledger.BackendJSON, "":
		store = ledger.NewJSONStore(r.fs, path)
	default:
		return fmt.Errorf("unknown ledger backend %q", r.cfg.LedgerBackend)
	}

	l, err := ledger.Open(store)
	if err != nil {
		_ = store.Close()
		return err
	}
	r.ledger = l
	r.log.Debug("ledger opened", "path", path, "records", l.Len())
	return nil
}

func (r *run) buildPipeline() {
	if r.cfg.Pipeline != nil {
		r.pipeline = r.cfg.Pipeline
		return
	}
	r.pipeline = filter.NewPolicyPipeline(filter.Options{
		FS:         r.fs,
		Policy:     r.cfg.Policy,
		Ledger:     r.ledger,
		Scanner:    r.cfg.Scanner,
		Excludes:   r.cfg.Excludes,
		Logger:     r.log,
		Revalidate: r.cfg.Revalidate,
	})
}

// finalize flushes the ledger, closes the session and removes leftover
// staged files. Only a ledger flush failure is reported.
func (r *run) finalize() error {
	r.setState(Finalizing)

	if n := r.tmp.Cleanup(); n > 0 {
		r.log.Debug("removed leftover staged files", "count", n)
	}

	if r.ledger.Dirty() {
		r.log.Debug("flushing ledger", "records", r.ledger.Len())
	}
	// Flushing must not be cut short by a cancelled run context.
	flushErr := r.ledger.FlushRetry(context.Background(), r.cfg.FlushAttempts, r.cfg.FlushBackoff)

	if err := r.sess.Quit(); err != nil {
		r.log.Debug("quit", "error", err)
	}
	if r.cfg.Ledger == nil {
		if err := r.ledger.Close(); err != nil {
			r.log.Warn("close ledger", "error", err)
		}
	}
	return flushErr
}
