package channel

import (
	"context"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

// Filter decides whether an inbound message is delivered to a Subscription.
type Filter func(msg *messaging.Message) bool

// OfType passes messages whose header.msg_type is one of the given types.
func OfType(msgTypes ...string) Filter {
	return func(msg *messaging.Message) bool {
		for _, msgType := range msgTypes {
			if msg.MsgType() == msgType {
				return true
			}
		}
		return false
	}
}

// ChildOf passes messages whose parent_header.msg_id is the header.msg_id of the given request.
func ChildOf(request *messaging.Message) Filter {
	return func(msg *messaging.Message) bool {
		return msg.IsChildOf(request)
	}
}

// Matches returns true if the message passes every filter.
func Matches(msg *messaging.Message, filters ...Filter) bool {
	for _, filter := range filters {
		if !filter(msg) {
			return false
		}
	}
	return true
}

// First waits for the first inbound message on ch that passes every filter.
func First(ctx context.Context, ch Channel, filters ...Filter) (*messaging.Message, error) {
	sub := ch.Subscribe(ctx, filters...)
	defer sub.Close()

	return sub.Next(ctx)
}

// Next waits for the next message of the Subscription.
func (s *Subscription) Next(ctx context.Context) (*messaging.Message, error) {
	select {
	case msg, ok := <-s.C():
		if !ok {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, jupyter.ErrChannelClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
