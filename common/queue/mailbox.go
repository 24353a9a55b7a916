package queue

import (
	"sync"
)

// Mailbox is an unbounded channel. Put never blocks and never drops; elements are delivered
// on Out in the order they were put. Out is closed once the Mailbox is closed and drained.
type Mailbox[T any] struct {
	mu      sync.Mutex
	pending *Fifo[T]
	notify  chan struct{}
	out     chan T
	closed  bool
	done    chan struct{}
	discard sync.Once
}

func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		pending: NewFifo[T](16),
		notify:  make(chan struct{}, 1),
		out:     make(chan T),
		done:    make(chan struct{}),
	}
	go m.serve()
	return m
}

// Put enqueues an element. It returns false if the Mailbox has been closed.
func (m *Mailbox[T]) Put(elem T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.pending.Enqueue(elem)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// Out returns the output channel.
func (m *Mailbox[T]) Out() <-chan T {
	return m.out
}

// Len returns the number of elements not yet handed to a reader.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Len()
}

// Close stops accepting elements. Elements already put are still delivered.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Discard closes the Mailbox and drops anything not yet delivered. Out is closed promptly.
func (m *Mailbox[T]) Discard() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
	}
	m.pending = NewFifo[T](1)
	m.mu.Unlock()

	m.discard.Do(func() { close(m.done) })
}

func (m *Mailbox[T]) serve() {
	defer close(m.out)

	for {
		m.mu.Lock()
		elem, ok := m.pending.Dequeue()
		closed := m.closed
		m.mu.Unlock()

		if !ok {
			if closed {
				return
			}

			select {
			case <-m.notify:
			case <-m.done:
				return
			}
			continue
		}

		select {
		case m.out <- elem:
		case <-m.done:
			return
		}
	}
}
