package assetcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/clock"
	"github.com/roach88/ratingsync/internal/store"
)

// Response headers added by the Manager.
const (
	HeaderSource    = "X-Ratingsync-Source"
	HeaderSynthetic = "X-Ratingsync-Synthetic"
)

// ErrNotInstalled is returned by Activate when no generation is installed.
var ErrNotInstalled = errors.New("no cache generation installed")

// ErrNoStore is returned by lifecycle calls on a Manager created without a
// store. Such a Manager still proxies the origin and serves fallbacks.
var ErrNoStore = errors.New("asset cache has no store")

// generation is the unit ServeHTTP reads atomically.
type generation struct {
	name     string
	manifest Manifest
}

// Manager is the Asset Cache Manager.
//
// Thread-safety model:
//   - ServeHTTP: safe from any goroutine
//   - Start/Install/Activate/Update: serialized internally
type Manager struct {
	store   *store.Store
	origin  *url.URL
	client  *http.Client
	proxy   *httputil.ReverseProxy
	bus     *bus.Bus
	online  func() bool
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	maxBody int64

	revalidate singleflight.Group
	background sync.WaitGroup

	lifecycle sync.Mutex
	manifest  Manifest
	installed string

	// configured mirrors manifest for readers that must not wait on an
	// installation in progress.
	configured atomic.Pointer[Manifest]

	mu    sync.RWMutex
	state State

	active atomic.Pointer[generation]
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus sets the bus SW_ACTIVATED is published on.
func WithBus(b *bus.Bus) Option {
	return func(m *Manager) {
		m.bus = b
	}
}

// WithOnline sets the connectivity check used to decide on background
// revalidation. Default: always online.
func WithOnline(fn func() bool) Option {
	return func(m *Manager) {
		m.online = fn
	}
}

// WithHTTPClient sets the client used to fetch from the origin.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.client = c
	}
}

// WithClock sets the clock used to stamp stored responses.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithMaxBodySize sets the largest origin response that may be cached.
// Default: DefaultMaxBodySize.
func WithMaxBodySize(n int64) Option {
	return func(m *Manager) {
		m.maxBody = n
	}
}

// New creates a Manager for the origin server at originURL, storing
// generations in st. The manifest is validated. A nil st gives an uncached
// Manager that never installs a generation.
func New(st *store.Store, originURL string, manifest Manifest, opts ...Option) (*Manager, error) {
	origin, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", originURL, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", originURL)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		store:    st,
		origin:   origin,
		client:   http.DefaultClient,
		online:   func() bool { return true },
		clock:    clock.System{},
		logger:   slog.Default(),
		maxBody:  DefaultMaxBodySize,
		manifest: manifest,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.configured.Store(&manifest)

	m.proxy = httputil.NewSingleHostReverseProxy(origin)
	m.proxy.Transport = m.client.Transport
	m.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		m.logger.Warn("origin unreachable", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, to) {
		return &TransitionError{From: m.state, To: to}
	}
	m.logger.Debug("cache lifecycle", "from", m.state.String(), "to", to.String())
	m.state = to
	return nil
}

// rollback returns to a state held before a failed step. It bypasses the
// transition table, which only lists forward moves.
func (m *Manager) rollback(to State, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Warn("cache lifecycle rolled back", "from", m.state.String(), "to", to.String(), "error", cause)
	m.state = to
}

// Active returns the name of the generation serving requests, or "".
func (m *Manager) Active() string {
	if g := m.active.Load(); g != nil {
		return g.name
	}
	return ""
}

// Version returns the manifest version of the active generation, or "".
func (m *Manager) Version() string {
	if g := m.active.Load(); g != nil {
		return g.manifest.Version
	}
	return ""
}

// Manifest returns the manifest most recently installed or configured.
func (m *Manager) Manifest() Manifest {
	return *m.configured.Load()
}

// Start installs the configured manifest unless its generation was fully
// installed by an earlier run, then activates it.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.store == nil {
		return ErrNoStore
	}
	name, err := GenerationName(m.manifest)
	if err != nil {
		return err
	}
	installed, err := m.store.CacheInstalled(ctx, name)
	if err != nil {
		return fmt.Errorf("start cache: %w", err)
	}
	if installed {
		m.logger.Info("cache generation already installed", "generation", name)
		if err := m.setState(StateInstalled); err != nil {
			return err
		}
		m.installed = name
		return m.activate(ctx)
	}

	partial, err := m.store.HasCache(ctx, name)
	if err != nil {
		return fmt.Errorf("start cache: %w", err)
	}
	if partial {
		m.logger.Warn("cache generation incomplete, installing again", "generation", name)
	}
	if _, err := m.install(ctx, m.manifest); err != nil {
		return err
	}
	return m.activate(ctx)
}

// Install fetches the configured manifest into its generation.
func (m *Manager) Install(ctx context.Context) (InstallReport, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.install(ctx, m.manifest)
}

// Activate makes the installed generation the only one.
func (m *Manager) Activate(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.activate(ctx)
}

// Update installs and activates manifest if it yields a new generation.
// Returns false when the generation is unchanged.
func (m *Manager) Update(ctx context.Context, manifest Manifest) (bool, error) {
	if err := manifest.Validate(); err != nil {
		return false, err
	}
	name, err := GenerationName(manifest)
	if err != nil {
		return false, err
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if name == m.Active() {
		return false, nil
	}
	prev := m.manifest
	m.manifest = manifest
	m.configured.Store(&manifest)
	if _, err := m.install(ctx, manifest); err != nil {
		m.manifest = prev
		m.configured.Store(&prev)
		return false, err
	}
	if err := m.activate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// activate deletes every generation but the installed one, switches serving
// to it and announces the version.
func (m *Manager) activate(ctx context.Context) error {
	if m.installed == "" {
		return ErrNotInstalled
	}
	if err := m.setState(StateActivating); err != nil {
		return err
	}

	keys, err := m.store.CacheKeys(ctx)
	if err != nil {
		m.rollback(StateInstalled, err)
		return fmt.Errorf("activate: %w", err)
	}
	for _, k := range keys {
		if k == m.installed {
			continue
		}
		if _, err := m.store.DeleteCache(ctx, k); err != nil {
			m.rollback(StateInstalled, err)
			return fmt.Errorf("activate: %w", err)
		}
		m.logger.Info("cleared old cache generation", "generation", k)
	}

	m.active.Store(&generation{name: m.installed, manifest: m.manifest})
	if err := m.setState(StateActive); err != nil {
		return err
	}
	m.logger.Info("cache generation active", "generation", m.installed, "version", m.manifest.Version)

	if m.bus != nil {
		m.bus.Publish(bus.Message{Type: bus.Activated, Version: m.manifest.Version})
	}
	return nil
}

// Wait blocks until background revalidations have finished.
func (m *Manager) Wait() {
	m.background.Wait()
}
