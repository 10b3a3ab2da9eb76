// Package syncer propagates the local outbox to the remote service and
// hydrates the local mirror from it. Every cycle is client initiated.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/courtside/internal/account"
	"github.com/MarcoPoloResearchLab/courtside/internal/remote"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
	"go.uber.org/zap"
)

const (
	defaultInterval        = 30 * time.Second
	defaultPullConcurrency = 3
	defaultPageSize        = 500
)

var noOpLogger = zap.NewNop()

// Store is the slice of store.Manager the engine drives.
type Store interface {
	EnsureReady(ctx context.Context) error
	Get(ctx context.Context, collection store.Collection, id string) (store.Record, error)
	Scan(ctx context.Context, collection store.Collection, filter store.ScanFilter) ([]store.Record, error)
	PendingEntries(ctx context.Context, userID string, now time.Time, force bool) ([]store.OutboxEntry, error)
	Acknowledge(ctx context.Context, collection store.Collection, id string, upToSeq int64) (int64, error)
	MarkFailed(ctx context.Context, seqs []int64, cause error, nextAttempt time.Time) error
	DropPending(ctx context.Context, collection store.Collection, id string) error
	PurgeIfClean(ctx context.Context, collection store.Collection, id string) (bool, error)
	Merge(ctx context.Context, collection store.Collection, id string, decide store.MergeFunc) (store.MergeDecision, error)
	LogConflict(ctx context.Context, conflict store.Conflict) error
}

// IdentitySource resolves the signed-in user whose rows are synced.
type IdentitySource interface {
	Current(requireProfile bool) (account.Identity, error)
}

// State is the engine's current activity.
type State int32

const (
	StateIdle State = iota
	StatePushing
	StatePulling
	StateBootstrapping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePushing:
		return "pushing"
	case StatePulling:
		return "pulling"
	case StateBootstrapping:
		return "bootstrapping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config wires an Engine.
type Config struct {
	Store    Store
	Remote   remote.Client
	Identity IdentitySource
	// Interval between automatic cycles.
	Interval time.Duration
	Backoff  Backoff
	// PullConcurrency bounds how many tables are fetched at once.
	PullConcurrency int
	PageSize        int
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Result counts what one cycle moved.
type Result struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
	Purged int `json:"purged"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	State      State     `json:"state"`
	Running    bool      `json:"auto_sync_running"`
	LastSyncAt time.Time `json:"last_sync_at"`
	LastResult Result    `json:"last_result"`
	LastError  string    `json:"last_error,omitempty"`
}

// Engine runs push and pull cycles. At most one cycle runs at a time.
type Engine struct {
	store       Store
	remote      remote.Client
	identity    IdentitySource
	interval    time.Duration
	backoff     Backoff
	concurrency int
	pageSize    int
	clock       func() time.Time
	logger      *zap.Logger

	cycle   sync.Mutex
	running atomic.Bool
	state   atomic.Int32
	wake    chan struct{}

	statusMu sync.Mutex
	status   Status
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("syncer: store is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("syncer: remote client is required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("syncer: identity source is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	concurrency := cfg.PullConcurrency
	if concurrency <= 0 {
		concurrency = defaultPullConcurrency
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		store:       cfg.Store,
		remote:      cfg.Remote,
		identity:    cfg.Identity,
		interval:    interval,
		backoff:     cfg.Backoff.withDefaults(),
		concurrency: concurrency,
		pageSize:    pageSize,
		clock:       clock,
		logger:      logger,
		wake:        make(chan struct{}, 1),
	}, nil
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	status := e.status
	status.State = e.State()
	status.Running = e.running.Load()
	return status
}

// Notify wakes the automatic loop. It never blocks.
func (e *Engine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// StartAutoSync waits for the store, then runs cycles in the background:
// once immediately, then on every Interval and on every Notify. A second
// call while the loop runs is a no-op. The loop stops when ctx is done.
func (e *Engine) StartAutoSync(ctx context.Context) error {
	if err := e.store.EnsureReady(ctx); err != nil {
		return err
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	go e.loop(ctx)
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.running.Store(false)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("auto sync started", zap.Duration("interval", e.interval))
	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("auto sync stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		case <-e.wake:
			e.tick(ctx)
		}
	}
}

// tick runs a cycle unless one is already in flight.
func (e *Engine) tick(ctx context.Context) {
	if !e.cycle.TryLock() {
		return
	}
	defer e.cycle.Unlock()
	_, err := e.runCycle(ctx, false)
	switch {
	case err == nil:
	case errors.Is(err, account.ErrUnauthenticated):
		e.logger.Debug("auto sync skipped: signed out")
	case errors.Is(err, context.Canceled):
	default:
		e.logger.Warn("auto sync cycle failed", zap.Error(err))
	}
}

// SyncNow runs one push pass, ignoring retry backoff, then one pull pass.
// It waits for an in-flight cycle to finish first.
func (e *Engine) SyncNow(ctx context.Context) (Result, error) {
	if err := e.store.EnsureReady(ctx); err != nil {
		return Result{}, err
	}
	e.cycle.Lock()
	defer e.cycle.Unlock()
	return e.runCycle(ctx, true)
}

// Bootstrap hydrates the mirror from the remote service. Local rows with
// pending changes survive; other local rows the remote no longer has are
// purged.
func (e *Engine) Bootstrap(ctx context.Context) (Result, error) {
	if err := e.store.EnsureReady(ctx); err != nil {
		return Result{}, err
	}
	e.cycle.Lock()
	defer e.cycle.Unlock()

	identity, err := e.identity.Current(false)
	if err != nil {
		return Result{}, err
	}
	e.setState(StateBootstrapping)
	defer e.setState(StateIdle)

	pulled, purged, err := e.pull(ctx, identity.UserID, true)
	result := Result{Pulled: pulled, Purged: purged}
	e.record(result, err)
	return result, err
}

func (e *Engine) runCycle(ctx context.Context, force bool) (Result, error) {
	identity, err := e.identity.Current(false)
	if err != nil {
		return Result{}, err
	}
	defer e.setState(StateIdle)

	var result Result
	e.setState(StatePushing)
	pushed, pushErr := e.push(ctx, identity.UserID, force)
	result.Pushed = pushed
	if errors.Is(pushErr, remote.ErrUnauthorized) || ctx.Err() != nil {
		e.record(result, pushErr)
		return result, pushErr
	}

	e.setState(StatePulling)
	pulled, _, pullErr := e.pull(ctx, identity.UserID, false)
	result.Pulled = pulled

	err = pushErr
	if err == nil {
		err = pullErr
	}
	e.record(result, err)
	return result, err
}

func (e *Engine) setState(state State) {
	e.state.Store(int32(state))
}

func (e *Engine) record(result Result, err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.LastSyncAt = e.clock().UTC()
	e.status.LastResult = result
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	e.logger.Error("sync operation failed", allFields...)
}
