package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_FIFOPerSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	b.Notify(NewData)
	b.Publish(Message{Type: Activated, Version: "v2"})
	b.Notify(SyncInitiated)

	ctx := context.Background()
	var got []Type
	for i := 0; i < 3; i++ {
		msg, ok := sub.Next(ctx)
		require.True(t, ok)
		got = append(got, msg.Type)
	}
	assert.Equal(t, []Type{NewData, Activated, SyncInitiated}, got)
}

func TestSubscribe_Filter(t *testing.T) {
	b := New()
	sub := b.Subscribe(Activated)
	defer sub.Close()

	b.Notify(NewData)
	b.Publish(Message{Type: Activated, Version: "v3"})

	msg, ok := sub.TryNext()
	require.True(t, ok)
	assert.Equal(t, "v3", msg.Version)
	assert.False(t, msg.At.IsZero())

	_, ok = sub.TryNext()
	assert.False(t, ok)
}

func TestPublish_NeverBlocks(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 10000; i++ {
		b.Notify(NewData)
	}
	assert.Equal(t, 10000, sub.Pending())
}

func TestNext_ContextCancel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}

func TestClose_WakesWaiter(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	done := make(chan bool)
	go func() {
		_, ok := sub.Next(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.Equal(t, 0, b.Subscribers())
}

func TestPublish_AfterCloseIsDropped(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Close()

	b.Notify(NewData)
	assert.Equal(t, 0, sub.Pending())
}

func TestPublish_Concurrent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				b.Notify(NewData)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, sub.Pending())
}
