package util

import (
	"sync"
)

// Mailbox collects keyed events where only the most recent value per key
// matters. Writers never block; a reader drains the whole pending set in
// one call and gets a consistent snapshot.
type Mailbox[T any] struct {
	mu      sync.Mutex
	pending map[string]T
	notify  chan struct{} // Buffered channel of size 1 for notification
}

// NewMailbox creates an empty Mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		pending: make(map[string]T),
		notify:  make(chan struct{}, 1),
	}
}

// Put stores the latest value for key, replacing any undrained one.
// It is non-blocking.
func (m *Mailbox[T]) Put(key string, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[key] = value

	select {
	case m.notify <- struct{}{}:
		// Notification sent successfully.
	default:
		// Channel was already full, notification is already pending.
	}
}

// Drain returns all pending values and clears the mailbox. Returns nil
// when nothing is pending.
func (m *Mailbox[T]) Drain() map[string]T {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil
	}
	out := m.pending
	m.pending = make(map[string]T)

	select {
	case <-m.notify:
	default:
	}
	return out
}

// Channel returns the notification channel for use in select statements.
func (m *Mailbox[T]) Channel() <-chan struct{} {
	return m.notify
}

// HasPending checks if any undrained value is waiting. Non-destructive.
func (m *Mailbox[T]) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}
