package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/queue"
)

// MemoryChannel is an in-process Channel. Messages passed to Send are queued on Sent; messages
// passed to Deliver are published to subscribers as if they had come from the kernel.
type MemoryChannel struct {
	typ         Type
	broadcaster *Broadcaster
	sent        *queue.Mailbox[*messaging.Message]

	mu     sync.Mutex
	closed bool
}

func NewMemoryChannel(typ Type, identity string) *MemoryChannel {
	return &MemoryChannel{
		typ:         typ,
		broadcaster: NewBroadcaster(fmt.Sprintf("MemoryChannel[%s:%s]", identity, typ)),
		sent:        queue.NewMailbox[*messaging.Message](),
	}
}

func (ch *MemoryChannel) Type() Type {
	return ch.typ
}

func (ch *MemoryChannel) Send(msg *messaging.Message) error {
	if !ch.sent.Put(msg) {
		return jupyter.ErrChannelClosed
	}
	return nil
}

// Sent returns the stream of messages passed to Send.
func (ch *MemoryChannel) Sent() <-chan *messaging.Message {
	return ch.sent.Out()
}

// Deliver publishes an inbound message and returns the number of subscribers that received it.
func (ch *MemoryChannel) Deliver(msg *messaging.Message) int {
	return ch.broadcaster.Publish(msg)
}

func (ch *MemoryChannel) NumSubscribers() int {
	return ch.broadcaster.NumSubscribers()
}

func (ch *MemoryChannel) Subscribe(ctx context.Context, filters ...Filter) *Subscription {
	return ch.broadcaster.Subscribe(ctx, filters...)
}

func (ch *MemoryChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *MemoryChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return jupyter.ErrChannelClosed
	}
	ch.closed = true
	ch.mu.Unlock()

	ch.sent.Close()
	ch.broadcaster.Close()
	return nil
}

// MemoryFactory creates MemoryChannels and remembers the sets it has handed out by identity.
type MemoryFactory struct {
	mu       sync.Mutex
	channels map[string]map[Type]*MemoryChannel
	err      error
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{channels: make(map[string]map[Type]*MemoryChannel)}
}

// FailWith makes subsequent CreateChannel calls return err.
func (f *MemoryFactory) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *MemoryFactory) CreateChannel(typ Type, identity string, _ *jupyter.ConnectionInfo) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	if _, ok := f.channels[identity]; !ok {
		f.channels[identity] = make(map[Type]*MemoryChannel)
	}
	ch := NewMemoryChannel(typ, identity)
	f.channels[identity][typ] = ch
	return ch, nil
}

// Channel returns the channel created for the given identity and type, or nil.
func (f *MemoryFactory) Channel(identity string, typ Type) *MemoryChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[identity][typ]
}
