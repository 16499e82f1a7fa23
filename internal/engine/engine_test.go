package engine

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ratingsync/internal/bus"
	"github.com/roach88/ratingsync/internal/rating"
	"github.com/roach88/ratingsync/internal/store"
	"github.com/roach88/ratingsync/internal/testutil"
)

type harness struct {
	store    *store.Store
	clock    *testutil.FakeClock
	endpoint *testutil.Endpoint
	engine   *Engine
	online   *atomic.Bool
	bus      *bus.Bus
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.DefaultStart)
	s, err := store.Open(filepath.Join(t.TempDir(), "ratings.db"), store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ep := testutil.NewEndpoint(t)
	online := &atomic.Bool{}
	online.Store(true)
	b := bus.New()

	base := []Option{
		WithClock(clk),
		WithOnline(online.Load),
		WithBus(b),
	}
	e := New(s, NewClient(ep.APIBase(), "tablet_test"), append(base, opts...)...)
	return &harness{store: s, clock: clk, endpoint: ep, engine: e, online: online, bus: b}
}

func (h *harness) save(t *testing.T, identifier string, value int) int64 {
	t.Helper()
	id, err := h.store.SaveRating(context.Background(), rating.Record{
		Identifier: identifier,
		Rating:     value,
		DeviceID:   "tablet_test",
	})
	require.NoError(t, err)
	return id
}

func (h *harness) get(t *testing.T, id int64) rating.Record {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestSyncData_DeliversAndMarks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.save(t, "A-1", 3)
	b := h.save(t, "B-2", 7)

	sum, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, 2, sum.Success)
	assert.Equal(t, 0, sum.Failed)
	assert.NotEmpty(t, sum.PassID)

	assert.True(t, h.get(t, a).Synced)
	assert.True(t, h.get(t, b).Synced)
	assert.Equal(t, 2, h.endpoint.Count())

	// Insertion order on the wire.
	reqs := h.endpoint.Requests()
	assert.Equal(t, "A-1", reqs[0].Body["identifier"])
	assert.Equal(t, "B-2", reqs[1].Body["identifier"])

	assert.False(t, h.engine.LastSyncTime().IsZero())
}

func TestSyncData_OfflineNoop(t *testing.T) {
	h := newHarness(t)
	h.online.Store(false)
	id := h.save(t, "A", 1)

	sum, err := h.engine.SyncData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffline, sum.Outcome)
	assert.False(t, sum.Ran())
	assert.Equal(t, 0, h.endpoint.Count())
	assert.Equal(t, 0, h.get(t, id).SyncAttempts)
	assert.True(t, h.engine.LastSyncTime().IsZero())
}

func TestSyncData_FailureIncrementsAndContinues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.save(t, "A", 1)
	b := h.save(t, "B", 2)
	h.endpoint.FailNext(1, http.StatusInternalServerError)

	sum, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Success)

	ra := h.get(t, a)
	assert.False(t, ra.Synced)
	assert.Equal(t, 1, ra.SyncAttempts)
	require.NotNil(t, ra.LastSyncAttempt)
	assert.True(t, h.get(t, b).Synced, "one failure must not abort the batch")
}

func TestSyncData_BackoffSkipsWithoutCounting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.save(t, "A", 1)
	h.endpoint.FailAlways(http.StatusServiceUnavailable)

	_, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	h.clock.Advance(30 * time.Second)
	_, err = h.engine.SyncData(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, h.get(t, id).SyncAttempts)
	require.Equal(t, 2, h.endpoint.Count())

	// attempts=2 requires 60000ms.
	h.clock.Advance(59 * time.Second)
	sum, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 2, h.endpoint.Count())
	assert.Equal(t, 2, h.get(t, id).SyncAttempts, "a skip is not counted against the budget")

	h.clock.Advance(time.Second)
	h.endpoint.Recover()
	sum, err = h.engine.SyncData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Success)
	assert.True(t, h.get(t, id).Synced)
}

func TestSyncData_AbandonsAtMaxRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.save(t, "CNA-5438", 5)
	h.endpoint.FailAlways(http.StatusInternalServerError)

	for i := 0; i < DefaultMaxRetries; i++ {
		_, err := h.engine.SyncData(ctx)
		require.NoError(t, err)
		h.clock.Advance(DefaultMaxBackoff)
	}
	require.Equal(t, 5, h.get(t, id).SyncAttempts)
	require.Equal(t, 5, h.endpoint.Count())

	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Hour)
		sum, err := h.engine.SyncData(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Abandoned)
	}

	rec := h.get(t, id)
	assert.False(t, rec.Synced)
	assert.Equal(t, 5, rec.SyncAttempts, "abandoned records are never incremented")
	assert.Equal(t, 5, h.endpoint.Count(), "abandoned records are never attempted")
}

func TestForceSync_ReattemptsAbandoned(t *testing.T) {
	h := newHarness(t, WithConfig(Config{MaxRetries: 1, InitialBackoff: time.Minute, MaxBackoff: time.Hour}))
	ctx := context.Background()

	id := h.save(t, "A", 1)
	h.endpoint.FailNext(1, http.StatusBadGateway)

	_, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	sum, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Abandoned)

	// Forced passes ignore both the budget and the backoff window.
	sum, err = h.engine.ForceSync(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Forced)
	assert.Equal(t, 1, sum.Success)

	rec := h.get(t, id)
	assert.True(t, rec.Synced)
	assert.Equal(t, 1, rec.SyncAttempts)
}

func TestSyncData_ReentrancyGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.save(t, "A", 1)
	h.save(t, "B", 2)
	entered, release := h.endpoint.Hold()

	done := make(chan Summary, 1)
	go func() {
		sum, _ := h.engine.SyncData(ctx)
		done <- sum
	}()

	<-entered
	assert.True(t, h.engine.Syncing())
	second, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, second.Outcome)

	release()
	first := <-done
	assert.Equal(t, OutcomeCompleted, first.Outcome)
	assert.Equal(t, 2, first.Success)
	assert.Equal(t, 2, h.endpoint.Count(), "exactly one delivery per eligible record")
	assert.False(t, h.engine.Syncing())
}

func TestSyncData_IdenticalContentDeliveredSeparately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Same content and same timestamp, but two distinct ratings.
	a := h.save(t, "DUP", 4)
	b := h.save(t, "DUP", 4)

	sum, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Success)
	assert.Equal(t, 2, h.endpoint.Count(), "each rating is posted")
	assert.True(t, h.get(t, a).Synced)
	assert.True(t, h.get(t, b).Synced)

	reqs := h.endpoint.Requests()
	require.Len(t, reqs, 2)
	assert.NotEqual(t,
		reqs[0].Header.Get(HeaderIdempotencyKey),
		reqs[1].Header.Get(HeaderIdempotencyKey))
}

func TestSyncData_PublishesCompletion(t *testing.T) {
	h := newHarness(t, WithPassIDs(NewFixedGenerator("pass-1")))
	sub := h.bus.Subscribe(bus.SyncCompleted)
	defer sub.Close()

	h.save(t, "A", 1)
	_, err := h.engine.SyncData(context.Background())
	require.NoError(t, err)

	msg, ok := sub.TryNext()
	require.True(t, ok)
	sum, ok := msg.Summary.(Summary)
	require.True(t, ok)
	assert.Equal(t, "pass-1", sum.PassID)
	assert.Equal(t, 1, sum.Success)
	assert.Equal(t, "pass-1", h.engine.LastSummary().PassID)
}

func TestSyncData_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, WithMetrics(NewMetrics(reg)))

	h.save(t, "A", 1)
	h.save(t, "B", 2)
	h.endpoint.FailNext(1, http.StatusInternalServerError)

	_, err := h.engine.SyncData(context.Background())
	require.NoError(t, err)

	m := h.engine.metrics
	assert.Equal(t, 1.0, promtest.ToFloat64(m.records.WithLabelValues("success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.records.WithLabelValues("failed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.pending))
}

type brokenSource struct{}

func (brokenSource) GetUnsynced(context.Context) ([]rating.Record, error) {
	return nil, errors.New("disk on fire")
}
func (brokenSource) MarkSynced(context.Context, int64) error { return nil }
func (brokenSource) IncrementSyncAttempt(context.Context, int64) (int, error) {
	return 0, nil
}
func (brokenSource) CountUnsynced(context.Context) (int, error) { return 0, nil }

func TestSyncData_EnumerateFailureSurfaced(t *testing.T) {
	e := New(brokenSource{}, NewClient("http://127.0.0.1:0", "tablet_x"))

	_, err := e.SyncData(context.Background())
	require.Error(t, err)
	assert.True(t, IsEnumerateError(err))
	assert.False(t, e.Syncing(), "guard released after failure")
}

func TestSyncData_CancelledLeavesRecordUntouched(t *testing.T) {
	h := newHarness(t)
	id := h.save(t, "A", 1)

	ctx, cancel := context.WithCancel(context.Background())
	entered, release := h.endpoint.Hold()
	defer release()

	done := make(chan Summary, 1)
	go func() {
		sum, _ := h.engine.SyncData(ctx)
		done <- sum
	}()
	<-entered
	cancel()

	sum := <-done
	assert.Equal(t, OutcomeCancelled, sum.Outcome)
	assert.Equal(t, 0, h.get(t, id).SyncAttempts)
}

func TestEndToEnd_OfflineSaveThenReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.online.Store(false)

	id := h.save(t, "CNA-5438", 5)
	rec := h.get(t, id)
	assert.False(t, rec.Synced)
	assert.Equal(t, 0, rec.SyncAttempts)

	_, err := h.engine.SyncData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.endpoint.Count())

	h.online.Store(true)
	_, err = h.engine.SyncData(ctx)
	require.NoError(t, err)

	rec = h.get(t, id)
	assert.True(t, rec.Synced)
	assert.NotNil(t, rec.SyncedAt)

	n, err := h.store.CountUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
