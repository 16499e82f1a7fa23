package assetcache

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/ratingsync/internal/store"
)

// revalidateTimeout bounds a background home page refresh.
const revalidateTimeout = 30 * time.Second

// ServeHTTP serves a request the way the page's controlling cache would.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gen := m.active.Load()
	manifest := m.currentManifest(gen)

	if r.Method != http.MethodGet || manifest.IsAPI(r.URL.Path) {
		m.metrics.served(SourceProxy)
		m.proxy.ServeHTTP(w, r)
		return
	}

	if manifest.IsHome(r.URL.Path) {
		m.serveHome(w, r, gen, manifest)
		return
	}
	m.serveAsset(w, r, gen, manifest)
}

func (m *Manager) currentManifest(gen *generation) Manifest {
	if gen != nil {
		return gen.manifest
	}
	return *m.configured.Load()
}

// serveHome: cached exact URL then aliases (revalidating in the background
// when online), else network, else any cached alias, else the offline page.
// A synthetic cached page is served only when the network cannot do better.
func (m *Manager) serveHome(w http.ResponseWriter, r *http.Request, gen *generation, manifest Manifest) {
	ctx := r.Context()
	keys := homeKeys(r.URL.Path, manifest)

	cached, hit := m.matchAny(ctx, gen, keys)
	synthetic := hit && isSynthetic(cached)
	if hit && (!synthetic || !m.online()) {
		if m.online() {
			m.revalidateHome(gen, r.URL.Path)
		}
		m.write(w, cached, SourceCache)
		return
	}

	resp, err := m.fetch(ctx, r.URL.Path)
	fresh := err == nil && resp.Status == http.StatusOK
	if fresh && synthetic && !checkIntegrity(r.URL.Path, resp) {
		fresh = false
	}
	if err == nil && (fresh || !hit) {
		if fresh {
			m.put(ctx, gen, resp)
		}
		m.write(w, resp, SourceNetwork)
		return
	}
	if err != nil {
		m.logger.Debug("home fetch failed", "path", r.URL.Path, "error", err)
	}

	if hit {
		m.write(w, cached, SourceCache)
		return
	}
	if resp, ok := m.matchAny(ctx, gen, keys); ok {
		m.write(w, resp, SourceAlias)
		return
	}
	m.writeOffline(w)
}

// serveAsset: cache, network (storing 200s), known-asset alias, typed fallback.
func (m *Manager) serveAsset(w http.ResponseWriter, r *http.Request, gen *generation, manifest Manifest) {
	ctx := r.Context()
	key := r.URL.RequestURI()

	cached, hit := m.match(ctx, gen, key)
	if hit && (!isSynthetic(cached) || !m.online()) {
		m.write(w, cached, SourceCache)
		return
	}

	// A synthetic stand-in is only served once the network has had a chance
	// to provide the real asset.
	resp, err := m.fetch(ctx, key)
	fresh := err == nil && resp.Status == http.StatusOK
	if fresh && hit && !checkIntegrity(r.URL.Path, resp) {
		fresh = false
	}
	if err == nil && (fresh || !hit) {
		if fresh {
			m.put(ctx, gen, resp)
		}
		m.write(w, resp, SourceNetwork)
		return
	}
	if err != nil {
		m.logger.Debug("asset fetch failed", "path", key, "error", err)
	}

	if hit {
		m.write(w, cached, SourceCache)
		return
	}
	if alias, ok := manifest.AliasFor(r.URL.Path); ok {
		if resp, ok := m.match(ctx, gen, alias); ok {
			m.write(w, resp, SourceAlias)
			return
		}
	}
	m.writeFallback(w, r, gen, manifest)
}

// writeFallback synthesizes a response by the request's category.
func (m *Manager) writeFallback(w http.ResponseWriter, r *http.Request, gen *generation, manifest Manifest) {
	switch category(r) {
	case CategoryHTML:
		m.writeOffline(w)
	case CategoryScript:
		m.writeBody(w, http.StatusOK, "application/javascript; charset=utf-8", scriptPlaceholder)
	case CategoryStyle:
		m.writeBody(w, http.StatusOK, "text/css; charset=utf-8", stylePlaceholder)
	case CategoryImage:
		for _, a := range manifest.Assets() {
			if Classify(a) != CategoryImage || !strings.Contains(a, "icon") {
				continue
			}
			if resp, ok := m.match(r.Context(), gen, a); ok && !isSynthetic(resp) {
				m.write(w, resp, SourceFallback)
				return
			}
		}
		m.writeBody(w, http.StatusOK, "image/png", pixelPNG)
	default:
		m.writeBody(w, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte("Service Unavailable: offline\n"))
	}
}

// category classifies by path, treating navigations as HTML.
func category(r *http.Request) Category {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return CategoryHTML
	}
	c := Classify(r.URL.Path)
	if c == CategoryOther && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return CategoryHTML
	}
	return c
}

func homeKeys(requested string, manifest Manifest) []string {
	keys := []string{requested}
	for _, h := range manifest.HomePaths() {
		if h != requested {
			keys = append(keys, h)
		}
	}
	return keys
}

// revalidateHome refreshes the cached home page without blocking the
// response. Concurrent refreshes of the same path share one fetch.
func (m *Manager) revalidateHome(gen *generation, p string) {
	if gen == nil {
		return
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		_, _, _ = m.revalidate.Do(gen.name+" "+p, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
			defer cancel()

			resp, err := m.fetch(ctx, p)
			if err != nil {
				m.logger.Debug("home revalidation failed", "path", p, "error", err)
				return nil, err
			}
			if resp.Status == http.StatusOK {
				m.put(ctx, gen, resp)
			}
			return nil, nil
		})
	}()
}

func (m *Manager) match(ctx context.Context, gen *generation, key string) (store.CachedResponse, bool) {
	if gen == nil {
		return store.CachedResponse{}, false
	}
	resp, ok, err := m.store.CacheMatch(ctx, gen.name, key)
	if err != nil {
		m.logger.Warn("cache lookup failed", "generation", gen.name, "path", key, "error", err)
		return store.CachedResponse{}, false
	}
	return resp, ok
}

func isSynthetic(resp store.CachedResponse) bool {
	return resp.Header.Get(HeaderSynthetic) != ""
}

func (m *Manager) matchAny(ctx context.Context, gen *generation, keys []string) (store.CachedResponse, bool) {
	for _, k := range keys {
		if resp, ok := m.match(ctx, gen, k); ok {
			return resp, true
		}
	}
	return store.CachedResponse{}, false
}

// put stores resp in gen unless gen has been superseded.
func (m *Manager) put(ctx context.Context, gen *generation, resp store.CachedResponse) {
	if gen == nil || m.active.Load() != gen {
		return
	}
	if err := m.store.CachePut(ctx, gen.name, resp); err != nil {
		m.logger.Warn("cache store failed", "generation", gen.name, "path", resp.URL, "error", err)
	}
}

func (m *Manager) write(w http.ResponseWriter, resp store.CachedResponse, source string) {
	for k, vs := range resp.Header {
		if k == HeaderSynthetic {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderSource, source)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	m.metrics.served(source)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (m *Manager) writeOffline(w http.ResponseWriter) {
	m.writeBody(w, http.StatusOK, "text/html; charset=utf-8", offlinePage)
}

func (m *Manager) writeBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set(HeaderSource, SourceFallback)
	m.metrics.served(SourceFallback)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
