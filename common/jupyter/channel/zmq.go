package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/petermattis/goid"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/queue"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
)

// MessageMetrics observes the traffic of the ZMQ channels.
type MessageMetrics interface {
	MessageSent(channel string, msgType string)
	MessageReceived(channel string, msgType string)
}

// ZMQFactory creates channels backed by ZeroMQ sockets: DEALER sockets for shell, control and
// stdin, and a SUB socket subscribed to every topic for iopub.
type ZMQFactory struct {
	ctx     context.Context
	metrics MessageMetrics
	log     logger.Logger
}

// NewZMQFactory creates a ZMQFactory. Sockets are bound to ctx. The metrics may be nil.
func NewZMQFactory(ctx context.Context, metrics MessageMetrics) *ZMQFactory {
	factory := &ZMQFactory{ctx: ctx, metrics: metrics}
	config.InitLogger(&factory.log, factory)
	return factory
}

func socketOptions() []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithDialerMaxRetries(20),
		zmq4.WithDialerRetry(time.Millisecond * 250),
		zmq4.WithDialerTimeout(time.Millisecond * 5000),
	}
}

func (f *ZMQFactory) CreateChannel(typ Type, identity string, info *jupyter.ConnectionInfo) (Channel, error) {
	var port int
	switch typ {
	case ShellChannel:
		port = info.ShellPort
	case IOPubChannel:
		port = info.IOPubPort
	case ControlChannel:
		port = info.ControlPort
	case StdinChannel:
		port = info.StdinPort
	default:
		return nil, errors.Wrapf(jupyter.ErrNotSupported, "channel type %v", typ)
	}

	ctx, cancel := context.WithCancel(f.ctx)

	var socket zmq4.Socket
	if typ == IOPubChannel {
		socket = zmq4.NewSub(ctx, socketOptions()...)
	} else {
		socket = zmq4.NewDealer(ctx, append(socketOptions(), zmq4.WithID(zmq4.SocketIdentity(identity)))...)
	}

	addr := info.Address(port)
	if err := socket.Dial(addr); err != nil {
		cancel()
		_ = socket.Close()
		return nil, errors.Wrapf(err, "failed to dial %s socket at %s", typ, addr)
	}

	if typ == IOPubChannel {
		if err := socket.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			cancel()
			_ = socket.Close()
			return nil, errors.Wrap(err, "failed to subscribe iopub socket")
		}
	}

	ch := &zmqChannel{
		typ:         typ,
		identity:    identity,
		addr:        addr,
		socket:      socket,
		scheme:      info.SignatureScheme,
		key:         []byte(info.Key),
		broadcaster: NewBroadcaster(fmt.Sprintf("Channel[%s:%s]", identity, typ)),
		outbound:    queue.NewMailbox[*messaging.Message](),
		metrics:     f.metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
	config.InitLogger(&ch.log, fmt.Sprintf("ZMQ-%s[%s] ", typ, identity))

	ch.wg.Add(2)
	go ch.serveRecv()
	go ch.serveSend()

	f.log.Debug("Dialed %s channel of kernel %s at %s.", typ, identity, addr)
	return ch, nil
}

type zmqChannel struct {
	typ      Type
	identity string
	addr     string
	socket   zmq4.Socket
	scheme   string
	key      []byte

	broadcaster *Broadcaster
	outbound    *queue.Mailbox[*messaging.Message]
	metrics     MessageMetrics

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	log logger.Logger
}

func (ch *zmqChannel) Type() Type {
	return ch.typ
}

func (ch *zmqChannel) Send(msg *messaging.Message) error {
	if !ch.outbound.Put(msg) {
		return jupyter.ErrChannelClosed
	}
	return nil
}

func (ch *zmqChannel) Subscribe(ctx context.Context, filters ...Filter) *Subscription {
	return ch.broadcaster.Subscribe(ctx, filters...)
}

func (ch *zmqChannel) Close() error {
	err := jupyter.ErrChannelClosed
	ch.closeOnce.Do(func() {
		ch.outbound.Discard()
		ch.cancel()
		err = ch.socket.Close()
		ch.wg.Wait()
		ch.broadcaster.Close()
	})
	return err
}

// serveSend is the only writer of the socket, so messages leave in the order they were sent.
func (ch *zmqChannel) serveSend() {
	defer ch.wg.Done()

	for msg := range ch.outbound.Out() {
		frames, err := messaging.EncodeMessage(msg, nil, ch.scheme, ch.key)
		if err != nil {
			ch.log.Error(utils.RedStyle.Render("Failed to encode \"%s\" message %s: %v"), msg.MsgType(), msg.MsgID(), err)
			continue
		}

		if err = ch.socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
			if ch.ctx.Err() != nil {
				return
			}
			ch.log.Error(utils.RedStyle.Render("Failed to send \"%s\" message %s to %s: %v"), msg.MsgType(), msg.MsgID(), ch.addr, err)
			continue
		}

		if ch.metrics != nil {
			ch.metrics.MessageSent(ch.typ.String(), msg.MsgType())
		}
	}
}

func (ch *zmqChannel) serveRecv() {
	defer ch.wg.Done()

	goroutineId := goid.Get()
	ch.log.Debug("[gid=%d] Receiving on %s.", goroutineId, ch.addr)

	for {
		raw, err := ch.socket.Recv()
		if err != nil {
			if ch.ctx.Err() == nil {
				ch.log.Warn("[gid=%d] Receive from %s failed, closing channel: %v", goroutineId, ch.addr, err)
				go ch.Close()
			}
			return
		}

		msg, _, err := messaging.DecodeMessage(raw.Frames, ch.scheme, ch.key)
		if err != nil {
			ch.log.Warn("[gid=%d] Dropping undecodable message from %s: %v", goroutineId, ch.addr, err)
			continue
		}

		if ch.metrics != nil {
			ch.metrics.MessageReceived(ch.typ.String(), msg.MsgType())
		}

		if delivered := ch.broadcaster.Publish(msg); delivered == 0 {
			ch.log.Debug("[gid=%d] No subscriber for \"%s\" message %s.", goroutineId, msg.MsgType(), msg.MsgID())
		}
	}
}
