package bus

import "sync"

// mailbox is a thread-safe unbounded FIFO of messages.
//
// The signal channel has a buffer of one: multiple enqueues between two waits
// coalesce into a single wake-up, and the reader drains with tryDequeue.
type mailbox struct {
	mu     sync.Mutex
	msgs   []Message
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		msgs:   make([]Message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (m *mailbox) enqueue(msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.msgs = append(m.msgs, msg)

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) tryDequeue() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.msgs) == 0 {
		return Message{}, false
	}
	msg := m.msgs[0]
	// Drop the reference so Summary payloads can be collected.
	m.msgs[0] = Message{}
	if len(m.msgs) == 1 {
		m.msgs = m.msgs[:0]
	} else {
		m.msgs = m.msgs[1:]
	}
	return msg, true
}

func (m *mailbox) wait() <-chan struct{} {
	return m.signal
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}
