package channel

import (
	"context"
	"fmt"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

const (
	ShellChannel Type = iota
	IOPubChannel
	ControlChannel
	StdinChannel
)

// Type identifies one of the four channels of a kernel.
type Type int

func (t Type) String() string {
	if t < ShellChannel || t > StdinChannel {
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
	return [...]string{"shell", "iopub", "control", "stdin"}[t]
}

// AllTypes lists every channel type in the order a Set creates them.
var AllTypes = [...]Type{ShellChannel, IOPubChannel, ControlChannel, StdinChannel}

// Channel is a duplex stream of messages bound to one kernel identity.
type Channel interface {
	// Type returns which of the kernel's channels this is.
	Type() Type

	// Send enqueues an outbound message. Send does not wait for delivery; messages sent on
	// the same Channel reach the kernel in the order Send was called.
	Send(msg *messaging.Message) error

	// Subscribe observes inbound messages that pass every filter. The stream is live: only
	// messages arriving after Subscribe returns are delivered. The Subscription ends when ctx
	// is done, when it is closed, or when the Channel closes.
	Subscribe(ctx context.Context, filters ...Filter) *Subscription

	// Close stops the channel and ends every Subscription.
	Close() error
}

// Factory creates the channels of a kernel. This is the transport boundary of the system.
type Factory interface {
	CreateChannel(typ Type, identity string, info *jupyter.ConnectionInfo) (Channel, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(typ Type, identity string, info *jupyter.ConnectionInfo) (Channel, error)

func (f FactoryFunc) CreateChannel(typ Type, identity string, info *jupyter.ConnectionInfo) (Channel, error) {
	return f(typ, identity, info)
}
