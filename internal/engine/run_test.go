package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ratingsync/internal/bus"
)

func startRun(t *testing.T, h *harness) {
	t.Helper()
	before := h.bus.Subscribers()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Wait until Run has subscribed.
	require.Eventually(t, func() bool { return h.bus.Subscribers() > before }, time.Second, 5*time.Millisecond)
}

func waitCompleted(t *testing.T, sub *bus.Subscription) Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := sub.Next(ctx)
	require.True(t, ok, "timed out waiting for SYNC_COMPLETED")
	sum, ok := msg.Summary.(Summary)
	require.True(t, ok)
	return sum
}

func TestRun_NewDataWhileOnline(t *testing.T) {
	h := newHarness(t)
	completed := h.bus.Subscribe(bus.SyncCompleted)
	defer completed.Close()
	startRun(t, h)

	id := h.save(t, "A", 1)
	h.bus.Notify(bus.NewData)

	sum := waitCompleted(t, completed)
	assert.Equal(t, 1, sum.Success)
	assert.True(t, h.get(t, id).Synced)
}

func TestRun_NewDataWhileOfflineDeferred(t *testing.T) {
	h := newHarness(t)
	h.online.Store(false)
	completed := h.bus.Subscribe(bus.SyncCompleted)
	defer completed.Close()
	startRun(t, h)

	h.save(t, "A", 1)
	h.bus.Notify(bus.NewData)
	// SYNC_INITIATED is processed after NEW_DATA; its offline no-op publishes
	// nothing either, so the endpoint must stay untouched.
	h.bus.Notify(bus.SyncInitiated)

	assert.Never(t, func() bool { return completed.Pending() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 0, h.endpoint.Count())
}

func TestRun_ForceSyncMessage(t *testing.T) {
	h := newHarness(t, WithConfig(Config{MaxRetries: 0, InitialBackoff: time.Second, MaxBackoff: time.Second}))
	completed := h.bus.Subscribe(bus.SyncCompleted)
	defer completed.Close()
	startRun(t, h)

	id := h.save(t, "A", 1)
	h.bus.Notify(bus.ForceSync)

	sum := waitCompleted(t, completed)
	assert.True(t, sum.Forced)
	assert.True(t, h.get(t, id).Synced)
}

func TestRun_RequiresBus(t *testing.T) {
	e := New(brokenSource{}, NewClient("http://127.0.0.1:0", "x"))
	assert.Error(t, e.Run(context.Background()))
}

func TestBackgroundSync_PublishesTicks(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(bus.SyncInitiated)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- BackgroundSync(ctx, b, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return sub.Pending() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBackgroundSync_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, BackgroundSync(ctx, bus.New(), 0), context.Canceled)
}
