package channel

import (
	"context"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/queue"
)

// Broadcaster fans inbound messages out to subscribers. Every Subscription owns an unbounded
// mailbox, so Publish never blocks on a slow subscriber and never drops a message.
type Broadcaster struct {
	name        string
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextId      uint64
	closed      bool

	log logger.Logger
}

func NewBroadcaster(name string) *Broadcaster {
	b := &Broadcaster{
		name:        name,
		subscribers: make(map[uint64]*Subscription),
	}
	config.InitLogger(&b.log, name+" ")
	return b
}

// Subscribe registers a new Subscription. If the Broadcaster is already closed, the returned
// Subscription is closed as well.
func (b *Broadcaster) Subscribe(ctx context.Context, filters ...Filter) *Subscription {
	sub := &Subscription{
		filters: filters,
		mailbox: queue.NewMailbox[*messaging.Message](),
		owner:   b,
		stop:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.end(false)
		return sub
	}
	sub.id = b.nextId
	b.nextId += 1
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.stop:
			}
		}()
	}

	return sub
}

// Publish delivers the message to every subscriber whose filters accept it.
func (b *Broadcaster) Publish(msg *messaging.Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.subscribers {
		if Matches(msg, sub.filters...) && sub.mailbox.Put(msg) {
			delivered += 1
		}
	}

	return delivered
}

// NumSubscribers returns the number of live subscriptions.
func (b *Broadcaster) NumSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription. Messages already published are still delivered.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subscribers := b.subscribers
	b.subscribers = make(map[uint64]*Subscription)
	b.mu.Unlock()

	b.log.Debug("Closing %d subscription(s).", len(subscribers))
	for _, sub := range subscribers {
		sub.end(false)
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()
}

// Subscription is a live view of the inbound messages of a Channel.
type Subscription struct {
	id      uint64
	filters []Filter
	mailbox *queue.Mailbox[*messaging.Message]
	owner   *Broadcaster
	once    sync.Once
	stop    chan struct{}
}

// C returns the stream of matching messages. It is closed when the Subscription ends.
func (s *Subscription) C() <-chan *messaging.Message {
	return s.mailbox.Out()
}

// Done is closed once the Subscription has been ended, for whatever reason.
func (s *Subscription) Done() <-chan struct{} {
	return s.stop
}

// Close unsubscribes and discards any undelivered messages.
func (s *Subscription) Close() {
	s.end(true)
}

func (s *Subscription) end(discard bool) {
	s.once.Do(func() {
		s.owner.remove(s)
		if discard {
			s.mailbox.Discard()
		} else {
			s.mailbox.Close()
		}
		close(s.stop)
	})
}
