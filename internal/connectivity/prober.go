package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Prober defaults.
const (
	DefaultProbeInterval    = 10 * time.Second
	DefaultProbeTimeout     = 3 * time.Second
	DefaultFailureThreshold = 2
)

// StateSetter receives probe outcomes. Implemented by *Coordinator.
type StateSetter interface {
	SetOnline(online bool) bool
}

// Prober checks reachability of the origin with HEAD requests. Any HTTP
// response counts as reachable. The device is reported offline only after
// FailureThreshold consecutive failures.
type Prober struct {
	url       string
	target    StateSetter
	client    *http.Client
	interval  time.Duration
	timeout   time.Duration
	threshold int
	logger    *slog.Logger

	failures int
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeClient sets the HTTP client.
func WithProbeClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = c
	}
}

// WithProbeInterval sets the time between probes.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.interval = d
	}
}

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.timeout = d
	}
}

// WithFailureThreshold sets how many consecutive failures mean offline.
func WithFailureThreshold(n int) ProberOption {
	return func(p *Prober) {
		p.threshold = n
	}
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = l
	}
}

// NewProber creates a Prober for url reporting to target.
func NewProber(url string, target StateSetter, opts ...ProberOption) *Prober {
	p := &Prober{
		url:       url,
		target:    target,
		client:    http.DefaultClient,
		interval:  DefaultProbeInterval,
		timeout:   DefaultProbeTimeout,
		threshold: DefaultFailureThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.threshold < 1 {
		p.threshold = 1
	}
	return p
}

// Run probes immediately and then every interval until ctx is cancelled.
// Not safe to call concurrently with Check.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check runs one probe and reports the outcome. Returns whether the origin
// answered.
func (p *Prober) Check(ctx context.Context) bool {
	ok := p.reachable(ctx)
	if ctx.Err() != nil {
		return ok
	}
	if ok {
		p.failures = 0
		p.target.SetOnline(true)
		return true
	}
	p.failures++
	if p.failures >= p.threshold {
		p.target.SetOnline(false)
	}
	return false
}

func (p *Prober) reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Error("probe request", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.url, "failures", p.failures+1, "error", err)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}
