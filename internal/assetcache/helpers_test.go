package assetcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/store"
	"github.com/roach88/ratingsync/internal/testutil"
)

type asset struct {
	contentType string
	body        string
	status      int
}

// fakeOrigin serves a fixed asset set and can drop every connection to
// simulate the network going away.
type fakeOrigin struct {
	srv  *httptest.Server
	down atomic.Bool

	mu     sync.Mutex
	assets map[string]asset
	hits   map[string]int
	posts  int
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{
		assets: map[string]asset{
			"/":                           {"text/html; charset=utf-8", "<html>home v1</html>", 200},
			"/sync":                       {"text/html; charset=utf-8", "<html>sync</html>", 200},
			"/config":                     {"text/html; charset=utf-8", "<html>config</html>", 200},
			"/static/css/styles.css":      {"text/css; charset=utf-8", "body{color:#000}", 200},
			"/static/js/app.js":           {"application/javascript", "console.log('app')", 200},
			"/static/js/db.js":            {"text/javascript", "console.log('db')", 200},
			"/static/js/sync.js":          {"application/javascript", "console.log('sync')", 200},
			"/manifest.json":              {"application/json", `{"name":"Rating Form"}`, 200},
			"/static/images/icon-192.png": {"image/png", "PNG-ICON-192", 200},
			"/static/images/icon-512.png": {"image/png", "PNG-ICON-512", 200},
			"/static/images/header.png":   {"image/png", "PNG-HEADER", 200},
		},
		hits: make(map[string]int),
	}
	o.srv = httptest.NewServer(http.HandlerFunc(o.handle))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrigin) handle(w http.ResponseWriter, r *http.Request) {
	if o.down.Load() {
		hj, ok := w.(http.Hijacker)
		if ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		http.Error(w, "down", http.StatusBadGateway)
		return
	}

	o.mu.Lock()
	o.hits[r.URL.RequestURI()]++
	if r.Method != http.MethodGet {
		o.posts++
	}
	a, ok := o.assets[r.URL.RequestURI()]
	o.mu.Unlock()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true}`))
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", a.contentType)
	w.WriteHeader(a.status)
	_, _ = w.Write([]byte(a.body))
}

func (o *fakeOrigin) set(p string, a asset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assets[p] = a
}

func (o *fakeOrigin) hitCount(p string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[p]
}

type cacheHarness struct {
	store   *store.Store
	origin  *fakeOrigin
	manager *Manager
	bus     *bus.Bus
	online  *atomic.Bool
}

func newCacheHarness(t *testing.T, manifest Manifest, opts ...Option) *cacheHarness {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.DefaultStart)
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	o := newFakeOrigin(t)
	b := bus.New()
	online := &atomic.Bool{}
	online.Store(true)

	base := []Option{WithBus(b), WithClock(clk), WithOnline(online.Load), WithHTTPClient(o.srv.Client())}
	m, err := New(st, o.srv.URL, manifest, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Wait)

	return &cacheHarness{store: st, origin: o, manager: m, bus: b, online: online}
}

func (h *cacheHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.manager.Start(context.Background()))
}

// goOffline drops the origin and marks the device offline.
func (h *cacheHarness) goOffline() {
	h.origin.down.Store(true)
	h.online.Store(false)
}

func (h *cacheHarness) get(t *testing.T, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.manager.ServeHTTP(rec, req)
	return rec
}
