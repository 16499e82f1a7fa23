package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Request is one POST captured by Endpoint.
type Request struct {
	Header http.Header
	Raw    []byte
	Body   map[string]any
}

// Endpoint is a fake remote ratings API. It accepts POST /api/ratings the way
// the production backend does (201 with {"success":true,"id":n}) and can be
// told to fail or to hold requests.
//
// Thread-safety: all methods are safe for concurrent use.
type Endpoint struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []Request
	failNext int
	failWith int
	always   bool
	gate     chan struct{}
	entered  chan struct{}
}

// NewEndpoint starts an Endpoint; it is closed when the test ends.
func NewEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	e := &Endpoint{failWith: http.StatusInternalServerError}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ratings", e.handle)
	e.server = httptest.NewServer(mux)
	t.Cleanup(e.server.Close)
	return e
}

// APIBase returns the base URL clients append /ratings to.
func (e *Endpoint) APIBase() string {
	return e.server.URL + "/api"
}

// URL returns the server root URL.
func (e *Endpoint) URL() string {
	return e.server.URL
}

// FailNext makes the next n requests fail with status.
func (e *Endpoint) FailNext(n, status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = n
	e.failWith = status
}

// FailAlways makes every request fail with status until Recover.
func (e *Endpoint) FailAlways(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.always = true
	e.failWith = status
}

// Recover clears any configured failures.
func (e *Endpoint) Recover() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.always = false
	e.failNext = 0
}

// Hold blocks requests inside the handler until the returned release func
// is called. Entered receives one value per request that is being held.
func (e *Endpoint) Hold() (entered <-chan struct{}, release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = make(chan struct{})
	e.entered = make(chan struct{}, 64)
	gate := e.gate
	var once sync.Once
	return e.entered, func() { once.Do(func() { close(gate) }) }
}

// Requests returns a copy of the captured requests in arrival order.
func (e *Endpoint) Requests() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Request, len(e.requests))
	copy(out, e.requests)
	return out
}

// Count returns the number of captured requests.
func (e *Endpoint) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func (e *Endpoint) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	req := Request{Header: r.Header.Clone(), Raw: raw}
	_ = json.Unmarshal(raw, &req.Body)

	e.mu.Lock()
	e.requests = append(e.requests, req)
	n := len(e.requests)
	gate, entered := e.gate, e.entered
	fail := e.always || e.failNext > 0
	if e.failNext > 0 {
		e.failNext--
	}
	status := e.failWith
	e.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"detail":"simulated failure"}`)
		return
	}
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"success":true,"id":%d}`, n)
}
