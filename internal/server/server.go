// Package server is the agent's HTTP surface on localhost.
//
// Requests under /local/ are the page's API: saving ratings, requesting a
// sync, reporting connectivity, reading status and preferences, and a
// server-sent event stream of bus messages. /metrics exposes Prometheus
// metrics. Everything else goes to the asset cache, which plays the role of
// the page's caching proxy in front of the origin.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/ratingsync/internal/assetcache"
	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/connectivity"
	"github.com/roach88/ratingsync/internal/engine"
	"github.com/roach88/ratingsync/internal/kv"
	"github.com/roach88/ratingsync/internal/store"
)

// Deps are the components the server exposes. Cache and Gatherer may be nil.
type Deps struct {
	Records      *store.Records
	Engine       *engine.Engine
	Connectivity *connectivity.Coordinator
	Cache        *assetcache.Manager
	Bus          *bus.Bus
	Profile      *kv.Store
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
}

// Server routes local API requests.
type Server struct {
	Deps
	router    *mux.Router
	heartbeat time.Duration
}

// New builds the router.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{Deps: d, heartbeat: 25 * time.Second}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	local := r.PathPrefix("/local").Subrouter()
	local.HandleFunc("/ratings", s.handleSaveRating).Methods(http.MethodPost)
	local.HandleFunc("/ratings", s.handleListRatings).Methods(http.MethodGet)
	local.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	local.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	local.HandleFunc("/connectivity", s.handleConnectivity).Methods(http.MethodPost)
	local.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	local.HandleFunc("/prefs/{key}", s.handleGetPref).Methods(http.MethodGet)
	local.HandleFunc("/prefs/{key}", s.handlePutPref).Methods(http.MethodPut)
	local.HandleFunc("/prefs/{key}", s.handleDeletePref).Methods(http.MethodDelete)
	local.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "unknown local endpoint")
	})

	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	if s.Cache != nil {
		r.PathPrefix("/").Handler(s.Cache)
	}
	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the Flusher underneath.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
