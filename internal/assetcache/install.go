package assetcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ratingsync/internal/store"
)

// Tier is an asset priority class.
type Tier string

const (
	TierCritical   Tier = "critical"
	TierImportant  Tier = "important"
	TierAdditional Tier = "additional"
)

// installConcurrency bounds parallel fetches within a tier.
const installConcurrency = 4

// DefaultMaxBodySize bounds a single fetched asset.
const DefaultMaxBodySize int64 = 16 << 20

// ErrBodyTooLarge is returned when an origin response exceeds the body limit.
var ErrBodyTooLarge = errors.New("response body too large")

// storedHeaders are the response headers kept with a cached entry.
var storedHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

// InstallReport describes one installation.
type InstallReport struct {
	Generation string   `json:"generation"`
	Stored     []string `json:"stored"`
	Fallbacks  []string `json:"fallbacks,omitempty"`
	Failed     []string `json:"failed,omitempty"`
}

type installResult struct {
	mu     sync.Mutex
	report InstallReport
}

func (r *installResult) add(list *[]string, p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*list = append(*list, p)
}

// install fetches manifest's tiers into its generation. Asset failures never
// abort: critical ones are replaced by synthetic fallbacks, the rest are
// logged or ignored. Only storage failures and cancellation are returned;
// the lifecycle then returns to its previous state and the partial
// generation is dropped.
func (m *Manager) install(ctx context.Context, manifest Manifest) (InstallReport, error) {
	if m.store == nil {
		return InstallReport{}, ErrNoStore
	}
	name, err := GenerationName(manifest)
	if err != nil {
		return InstallReport{}, err
	}
	prev := m.State()
	if err := m.setState(StateInstalling); err != nil {
		return InstallReport{}, err
	}
	m.logger.Info("installing cache generation", "generation", name, "version", manifest.Version)

	report, err := m.fill(ctx, name, manifest)
	if err != nil {
		m.rollback(prev, err)
		if name != m.installed && name != m.Active() {
			if _, derr := m.store.DeleteCache(context.WithoutCancel(ctx), name); derr != nil {
				m.logger.Warn("dropping incomplete cache generation failed", "generation", name, "error", derr)
			}
		}
		return report, fmt.Errorf("install %s: %w", name, err)
	}

	if err := m.setState(StateInstalled); err != nil {
		return report, err
	}
	m.installed = name
	m.logger.Info("cache generation installed",
		"generation", name,
		"stored", len(report.Stored),
		"fallbacks", len(report.Fallbacks),
		"failed", len(report.Failed))
	return report, nil
}

// fill stores every tier of manifest in generation name and marks it
// installed.
func (m *Manager) fill(ctx context.Context, name string, manifest Manifest) (InstallReport, error) {
	if err := m.store.OpenCache(ctx, name); err != nil {
		return InstallReport{Generation: name}, err
	}

	res := &installResult{report: InstallReport{Generation: name}}
	tiers := []struct {
		tier   Tier
		assets []string
	}{
		{TierCritical, manifest.Critical},
		{TierImportant, manifest.Important},
		{TierAdditional, manifest.Additional},
	}
	for _, t := range tiers {
		if err := m.installTier(ctx, name, t.tier, t.assets, res); err != nil {
			return res.report, err
		}
	}
	if err := ctx.Err(); err != nil {
		return res.report, err
	}
	if err := m.store.MarkCacheInstalled(ctx, name); err != nil {
		return res.report, err
	}
	return res.report, nil
}

func (m *Manager) installTier(ctx context.Context, name string, tier Tier, assets []string, res *installResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)

	for _, p := range assets {
		p := p
		g.Go(func() error {
			return m.installAsset(gctx, name, tier, p, res)
		})
	}
	return g.Wait()
}

// installAsset returns an error only when the store rejects a write.
func (m *Manager) installAsset(ctx context.Context, name string, tier Tier, p string, res *installResult) error {
	resp, err := m.fetch(ctx, p)
	ok := err == nil && resp.Status == http.StatusOK
	if ok && tier == TierCritical && !checkIntegrity(p, resp) {
		m.logger.Warn("critical asset failed integrity check",
			"path", p, "status", resp.Status, "content_type", resp.Header.Get("Content-Type"), "bytes", len(resp.Body))
		ok = false
	}

	if ok {
		if err := m.store.CachePut(ctx, name, resp); err != nil {
			return err
		}
		m.metrics.installed(tier, "stored")
		res.add(&res.report.Stored, p)
		return nil
	}

	switch tier {
	case TierCritical:
		fb, has := synthesize(p, m.clock.Now())
		if !has {
			m.logger.Error("critical asset unavailable and has no fallback", "path", p, "error", err)
			m.metrics.installed(tier, "failed")
			res.add(&res.report.Failed, p)
			return nil
		}
		if err := m.store.CachePut(ctx, name, fb); err != nil {
			return err
		}
		m.logger.Warn("critical asset replaced by fallback", "path", p, "category", Classify(p).String(), "error", err)
		m.metrics.installed(tier, "fallback")
		res.add(&res.report.Fallbacks, p)
	case TierImportant:
		m.logger.Warn("important asset not cached", "path", p, "status", resp.Status, "error", err)
		m.metrics.installed(tier, "failed")
		res.add(&res.report.Failed, p)
	default:
		m.metrics.installed(tier, "failed")
		res.add(&res.report.Failed, p)
	}
	return nil
}

// fetch GETs p from the origin. A non-200 response is returned, not an error.
func (m *Manager) fetch(ctx context.Context, p string) (store.CachedResponse, error) {
	ref, err := m.origin.Parse(p)
	if err != nil {
		return store.CachedResponse{}, fmt.Errorf("fetch %s: %w", p, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.String(), nil)
	if err != nil {
		return store.CachedResponse{}, fmt.Errorf("fetch %s: %w", p, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return store.CachedResponse{}, fmt.Errorf("fetch %s: %w", p, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBody+1))
	if err != nil {
		return store.CachedResponse{}, fmt.Errorf("fetch %s: read body: %w", p, err)
	}
	if int64(len(body)) > m.maxBody {
		return store.CachedResponse{}, fmt.Errorf("fetch %s: %w", p, ErrBodyTooLarge)
	}

	h := http.Header{}
	for _, k := range storedHeaders {
		if v := resp.Header.Get(k); v != "" {
			h.Set(k, v)
		}
	}
	return store.CachedResponse{
		URL:      p,
		Status:   resp.StatusCode,
		Header:   h,
		Body:     body,
		StoredAt: m.clock.Now(),
	}, nil
}
