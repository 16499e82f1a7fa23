package connectivity

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/engine"
	"github.com/roach88/ratingsync/internal/kv"
)

// DefaultSettleDelay is the wait between going online and syncing.
const DefaultSettleDelay = time.Second

// Syncer runs a sync pass. Implemented by *engine.Engine.
type Syncer interface {
	SyncData(ctx context.Context) (engine.Summary, error)
}

// Coordinator is the Connectivity Coordinator.
//
// Thread-safety: all methods are safe for concurrent use.
type Coordinator struct {
	syncer   Syncer
	sinks    []StatusSink
	notifier Notifier
	bus      *bus.Bus
	profile  *kv.Store
	settle   time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	online  bool
	pending *time.Timer
	closed  bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStatusSink adds a status surface. May be given more than once.
func WithStatusSink(s StatusSink) Option {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, s)
	}
}

// WithNotifier sets the notifier. Default: LogNotifier on the logger.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithBus publishes CONNECTIVITY messages on b.
func WithBus(b *bus.Bus) Option {
	return func(c *Coordinator) {
		c.bus = b
	}
}

// WithProfile persists connection_online in the profile and restores the
// initial state from it.
func WithProfile(p *kv.Store) Option {
	return func(c *Coordinator) {
		c.profile = p
	}
}

// WithSettleDelay sets the delay before syncing after going online.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.settle = d
	}
}

// WithInitial sets the starting state when the profile has none.
// Default: online.
func WithInitial(online bool) Option {
	return func(c *Coordinator) {
		c.online = online
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a Coordinator. The initial state is taken from the profile
// when one is set and holds a value; setting it does not notify.
func New(syncer Syncer, opts ...Option) *Coordinator {
	c := &Coordinator{
		syncer: syncer,
		settle: DefaultSettleDelay,
		logger: slog.Default(),
		online: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	if c.profile != nil {
		if v, ok := c.profile.Get(kv.KeyConnectionOnline); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				c.online = b
			}
		}
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	for _, s := range c.sinks {
		s.ConnectionStatus(c.online)
	}
	return c
}

// IsOnline reports the current state.
func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records the connectivity observed by a caller. Repeating the
// current state does nothing. Returns true on a transition.
func (c *Coordinator) SetOnline(online bool) bool {
	c.mu.Lock()
	if c.closed || c.online == online {
		c.mu.Unlock()
		return false
	}
	c.online = online
	c.cancelPending()
	if online && c.syncer != nil {
		c.schedule()
	}
	// Side effects run under the lock so observers see transitions in order.
	for _, s := range c.sinks {
		s.ConnectionStatus(online)
	}
	msg := MessageOffline
	if online {
		msg = MessageOnline
	}
	c.notifier.Notify(online, msg)
	c.mu.Unlock()

	c.logger.Info("connectivity changed", "online", online)
	if c.bus != nil {
		c.bus.Publish(bus.Message{Type: bus.Connectivity, Online: &online})
	}
	if c.profile != nil {
		if err := c.profile.Set(kv.KeyConnectionOnline, strconv.FormatBool(online)); err != nil {
			c.logger.Warn("persist connectivity failed", "error", err)
		}
	}
	return true
}

// schedule arms the settle timer. Caller holds mu.
func (c *Coordinator) schedule() {
	var t *time.Timer
	c.wg.Add(1)
	t = time.AfterFunc(c.settle, func() {
		defer c.wg.Done()

		c.mu.Lock()
		current := c.pending == t && c.online && !c.closed
		if current {
			c.pending = nil
		}
		c.mu.Unlock()
		if !current {
			return
		}

		if _, err := c.syncer.SyncData(c.ctx); err != nil {
			c.logger.Error("sync after reconnect failed", "error", err)
		}
	})
	c.pending = t
}

// cancelPending stops the settle timer. A timer that already fired finds
// itself superseded and returns. Caller holds mu.
func (c *Coordinator) cancelPending() {
	if c.pending != nil && c.pending.Stop() {
		c.wg.Done()
	}
	c.pending = nil
}

// Run blocks until ctx is cancelled, then closes the Coordinator.
func (c *Coordinator) Run(ctx context.Context) error {
	<-ctx.Done()
	c.Close()
	return ctx.Err()
}

// Close cancels a scheduled sync, stops an in-flight one and waits for it.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancelPending()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
