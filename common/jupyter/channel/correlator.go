package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

// pendingRequest is an entry of the Correlator's pending-request table.
type pendingRequest struct {
	request    *messaging.Message
	replyTypes []string
	reply      chan *messaging.Message
	sentAt     time.Time
}

func (p *pendingRequest) accepts(msg *messaging.Message) bool {
	if len(p.replyTypes) == 0 {
		return true
	}
	return OfType(p.replyTypes...)(msg)
}

// Correlator pairs requests sent on a Channel with their replies. Each outstanding request is an
// entry of a pending-request table keyed by its msg_id. An entry is removed when its reply
// arrives, when the caller's context is done, when the optional timeout elapses, or when the
// Correlator is closed.
type Correlator struct {
	ch      Channel
	sub     *Subscription
	pending cmap.ConcurrentMap[string, *pendingRequest]
	timeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once

	log logger.Logger
}

// NewCorrelator creates a Correlator for the given Channel. A timeout of zero means requests wait
// until their context is done.
func NewCorrelator(ch Channel, timeout time.Duration) *Correlator {
	c := &Correlator{
		ch:      ch,
		pending: cmap.New[*pendingRequest](),
		timeout: timeout,
		closed:  make(chan struct{}),
	}
	config.InitLogger(&c.log, fmt.Sprintf("Correlator[%s] ", ch.Type()))

	// Subscribe before any request can be sent, so that no reply can slip past the router.
	c.sub = ch.Subscribe(context.Background(), func(msg *messaging.Message) bool {
		return !msg.ParentHeader.IsEmpty()
	})

	go c.route()

	return c
}

func (c *Correlator) route() {
	defer c.Close()

	for msg := range c.sub.C() {
		var entry *pendingRequest
		removed := c.pending.RemoveCb(msg.ParentMsgID(), func(_ string, v *pendingRequest, exists bool) bool {
			if exists && v.accepts(msg) {
				entry = v
				return true
			}
			return false
		})

		if !removed {
			continue
		}

		c.log.Debug("Received \"%s\" reply to \"%s\" request %s after %v.",
			msg.MsgType(), entry.request.MsgType(), entry.request.MsgID(), time.Since(entry.sentAt))

		// Buffered with capacity 1 and removed from the table above, so this never blocks.
		entry.reply <- msg
	}
}

// Request registers the request in the pending-request table, sends it, and waits for a reply
// whose parent_header.msg_id matches. If replyTypes are given, only replies of those types are
// accepted.
func (c *Correlator) Request(ctx context.Context, request *messaging.Message, replyTypes ...string) (*messaging.Message, error) {
	select {
	case <-c.closed:
		return nil, jupyter.ErrChannelClosed
	default:
	}

	entry := &pendingRequest{
		request:    request,
		replyTypes: replyTypes,
		reply:      make(chan *messaging.Message, 1),
		sentAt:     time.Now(),
	}

	if !c.pending.SetIfAbsent(request.MsgID(), entry) {
		return nil, errors.Wrapf(jupyter.ErrRequestEvicted, "duplicate msg_id %s", request.MsgID())
	}
	defer c.pending.Remove(request.MsgID())

	if err := c.ch.Send(request); err != nil {
		return nil, errors.Wrapf(err, "failed to send \"%s\" request", request.MsgType())
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case reply := <-entry.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		c.log.Warn("\"%s\" request %s timed out after %v.", request.MsgType(), request.MsgID(), c.timeout)
		return nil, errors.Wrapf(jupyter.ErrRequestEvicted, "no reply to \"%s\" request within %v", request.MsgType(), c.timeout)
	case <-c.closed:
		return nil, jupyter.ErrChannelClosed
	}
}

// NumPending returns the number of requests awaiting a reply.
func (c *Correlator) NumPending() int {
	return c.pending.Count()
}

// Close releases every pending request. It does not close the underlying Channel.
func (c *Correlator) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.sub.Close()
	})
}
