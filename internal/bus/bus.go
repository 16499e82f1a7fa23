// Package bus is the in-process message-passing layer that replaces ambient
// browser events: connectivity transitions, new-data signals, background sync
// wake-ups and cache activation notices all travel as typed messages.
//
// Publish never blocks. Each subscription owns an unbounded FIFO mailbox and a
// coalescing signal channel, so a slow subscriber cannot stall publishers.
package bus

import (
	"context"
	"sync"
	"time"
)

// Type names a message kind. Values match the page-facing wire names.
type Type string

const (
	// NewData is published after a rating has been persisted.
	NewData Type = "NEW_DATA"

	// SyncInitiated asks for a sync pass (background wake-up or page request).
	SyncInitiated Type = "SYNC_INITIATED"

	// ForceSync asks for a sync pass that also re-arms abandoned records.
	ForceSync Type = "FORCE_SYNC"

	// Activated announces that a new cache generation took control.
	Activated Type = "SW_ACTIVATED"

	// Connectivity announces an online/offline transition.
	Connectivity Type = "CONNECTIVITY"

	// SyncCompleted carries the summary of a finished sync pass.
	SyncCompleted Type = "SYNC_COMPLETED"
)

// Message is a typed notification. Only the fields relevant to Type are set.
type Message struct {
	Type    Type      `json:"type"`
	Version string    `json:"version,omitempty"`
	Online  *bool     `json:"online,omitempty"`
	Summary any       `json:"summary,omitempty"`
	At      time.Time `json:"at"`
}

// Bus fans messages out to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	now  func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Publish delivers msg to every subscriber whose filter accepts it.
// Stamps At when unset. Safe from any goroutine.
func (b *Bus) Publish(msg Message) {
	if msg.At.IsZero() {
		msg.At = b.now()
	}

	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if s.accepts(msg.Type) {
			s.mailbox.enqueue(msg)
		}
	}
}

// Notify publishes a message that carries only a type.
func (b *Bus) Notify(t Type) {
	b.Publish(Message{Type: t})
}

// Subscribe registers a subscription for the given types (all types when none
// are given). Call Close when done.
func (b *Bus) Subscribe(types ...Type) *Subscription {
	s := &Subscription{
		bus:     b,
		mailbox: newMailbox(),
	}
	if len(types) > 0 {
		s.filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			s.filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscribers returns the current subscription count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription receives messages published after it was created.
type Subscription struct {
	bus     *Bus
	filter  map[Type]struct{}
	mailbox *mailbox
}

func (s *Subscription) accepts(t Type) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Next blocks until a message is available, the subscription is closed, or
// ctx is done. Returns false when no further messages will arrive.
func (s *Subscription) Next(ctx context.Context) (Message, bool) {
	for {
		if msg, ok := s.mailbox.tryDequeue(); ok {
			return msg, true
		}
		if s.mailbox.isClosed() {
			return Message{}, false
		}
		select {
		case <-ctx.Done():
			return Message{}, false
		case <-s.mailbox.wait():
		}
	}
}

// TryNext returns a pending message without blocking.
func (s *Subscription) TryNext() (Message, bool) {
	return s.mailbox.tryDequeue()
}

// Pending returns the number of queued messages.
func (s *Subscription) Pending() int {
	return s.mailbox.len()
}

// Close unregisters the subscription and wakes any blocked Next call.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.mailbox.close()
}
