package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/clock"
	"github.com/roach88/ratingsync/internal/rating"
)

// RecordSource is the part of the record store the engine drives.
// Implemented by *store.Records and *store.Store.
type RecordSource interface {
	GetUnsynced(ctx context.Context) ([]rating.Record, error)
	MarkSynced(ctx context.Context, id int64) error
	IncrementSyncAttempt(ctx context.Context, id int64) (int, error)
	CountUnsynced(ctx context.Context) (int, error)
}

// Engine runs sync passes over a RecordSource.
//
// Thread-safety model:
//   - SyncData/ForceSync: safe from any goroutine; at most one pass runs
//   - Run: must be called from exactly one goroutine
//   - LastSyncTime/LastSummary/Syncing: safe from any goroutine
type Engine struct {
	records RecordSource
	client  Deliverer
	bus     *bus.Bus
	cfg     Config
	budget  RetryBudget
	passIDs PassIDGenerator
	clock   clock.Clock
	online  func() bool
	rand    func() float64
	logger  *slog.Logger
	metrics *Metrics

	syncing atomic.Bool

	mu          sync.Mutex
	lastSync    time.Time
	lastSummary Summary
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithConfig sets the retry policy. Default: DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithBus connects the engine to the message bus. Run reads triggers from it
// and completed passes are published to it.
func WithBus(b *bus.Bus) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

// WithClock sets the clock used for backoff decisions.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithOnline sets the connectivity check. Default: always online.
func WithOnline(fn func() bool) Option {
	return func(e *Engine) {
		e.online = fn
	}
}

// WithPassIDs sets the pass id generator. Default: UUIDv7Generator.
func WithPassIDs(g PassIDGenerator) Option {
	return func(e *Engine) {
		e.passIDs = g
	}
}

// WithRand sets the jitter source, a function returning values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(e *Engine) {
		e.rand = fn
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine delivering records from records through client.
func New(records RecordSource, client Deliverer, opts ...Option) *Engine {
	e := &Engine{
		records: records,
		client:  client,
		cfg:     DefaultConfig(),
		passIDs: UUIDv7Generator{},
		clock:   clock.System{},
		online:  func() bool { return true },
		rand:    defaultRand,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.budget = NewRetryBudget(e.cfg.MaxRetries)
	return e
}

// Config returns the retry policy in use.
func (e *Engine) Config() Config {
	return e.cfg
}

// SyncData runs one sync pass.
//
// It is a no-op (nil error) when offline or when another pass is running;
// the returned Summary's Outcome tells which. Per-record failures are
// aggregated into the Summary. The only error returned is a failure to
// enumerate unsynced records, wrapping ErrEnumerate.
func (e *Engine) SyncData(ctx context.Context) (Summary, error) {
	return e.run(ctx, false)
}

// ForceSync runs a pass that ignores both the retry budget and backoff, so
// abandoned records get another attempt. Attempt counts keep increasing.
func (e *Engine) ForceSync(ctx context.Context) (Summary, error) {
	return e.run(ctx, true)
}

// Syncing reports whether a pass is in progress.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// LastSyncTime returns when the last pass finished, or the zero time.
func (e *Engine) LastSyncTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastSummary returns the summary of the last pass that ran.
func (e *Engine) LastSummary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSummary
}

func (e *Engine) run(ctx context.Context, force bool) (Summary, error) {
	if !e.online() {
		e.logger.Debug("sync skipped: offline")
		return Summary{Outcome: OutcomeOffline, Forced: force}, nil
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Debug("sync skipped: pass already in progress")
		return Summary{Outcome: OutcomeBusy, Forced: force}, nil
	}
	defer e.syncing.Store(false)

	sum := Summary{
		PassID:  e.passIDs.Generate(),
		Outcome: OutcomeCompleted,
		Forced:  force,
		Started: e.clock.Now(),
	}

	logger := e.logger.With("pass_id", sum.PassID)

	recs, err := e.records.GetUnsynced(ctx)
	if err != nil {
		logger.Error("sync pass aborted", "error", err)
		return sum, fmt.Errorf("sync pass %s: %w: %w", sum.PassID, ErrEnumerate, err)
	}
	logger.Debug("sync pass started", "unsynced", len(recs), "forced", force)

	for _, rec := range recs {
		if ctx.Err() != nil {
			sum.Outcome = OutcomeCancelled
			break
		}
		e.visit(ctx, logger, rec, &sum)
	}

	end := e.clock.Now()
	sum.Duration = durationSince(sum.Started, end)

	e.mu.Lock()
	e.lastSync = end
	e.lastSummary = sum
	e.mu.Unlock()

	e.metrics.observePass(sum)
	if n, err := e.records.CountUnsynced(ctx); err == nil {
		e.metrics.setPending(n)
	}

	logger.Info("sync pass complete", "summary", sum)

	if e.bus != nil {
		e.bus.Publish(bus.Message{Type: bus.SyncCompleted, Summary: sum})
	}
	return sum, nil
}

// visit decides and performs the action for one record.
func (e *Engine) visit(ctx context.Context, logger *slog.Logger, rec rating.Record, sum *Summary) {
	if !sum.Forced {
		if err := e.budget.Check(rec.ID, rec.SyncAttempts); err != nil {
			logger.Debug("record abandoned", "id", rec.ID, "attempts", rec.SyncAttempts)
			sum.Abandoned++
			return
		}
		if wait, ok := e.backingOff(rec); ok {
			logger.Debug("record backing off", "id", rec.ID, "attempts", rec.SyncAttempts, "wait", wait)
			sum.Skipped++
			return
		}
	}

	err := e.client.Deliver(ctx, rec)
	if err == nil {
		e.markSynced(ctx, logger, rec, sum)
		return
	}

	if ctx.Err() != nil {
		// Torn down mid-request: leave the record as it was.
		sum.Outcome = OutcomeCancelled
		return
	}

	attempts, incErr := e.records.IncrementSyncAttempt(ctx, rec.ID)
	if incErr != nil {
		logger.Error("increment attempt failed", "id", rec.ID, "error", incErr)
		sum.Errors = append(sum.Errors, incErr.Error())
	}
	logger.Warn("delivery failed", "id", rec.ID, "attempts", attempts, "error", err)
	sum.Failed++
}

func (e *Engine) markSynced(ctx context.Context, logger *slog.Logger, rec rating.Record, sum *Summary) {
	if err := e.records.MarkSynced(ctx, rec.ID); err != nil {
		// Delivered but not marked: the next pass delivers it again.
		logger.Error("mark synced failed", "id", rec.ID, "error", err)
		sum.Errors = append(sum.Errors, err.Error())
		sum.Failed++
		return
	}
	logger.Debug("record synced", "id", rec.ID)
	sum.Success++
}

// backingOff reports whether rec must still wait, and how long the wait is.
func (e *Engine) backingOff(rec rating.Record) (time.Duration, bool) {
	if rec.SyncAttempts == 0 || rec.LastSyncAttempt == nil {
		return 0, false
	}
	wait := e.cfg.jittered(e.cfg.Backoff(rec.SyncAttempts), e.rand())
	elapsed := e.clock.Now().Sub(*rec.LastSyncAttempt)
	return wait, elapsed < wait
}

func durationSince(start, end time.Time) time.Duration {
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
