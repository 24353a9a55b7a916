package channel_test

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-zeromq/zmq4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

func freePort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).To(BeNil())
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

var _ = Describe("ZMQ Channels", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		info   *jupyter.ConnectionInfo
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		info = &jupyter.ConnectionInfo{
			IP:              "127.0.0.1",
			Transport:       "tcp",
			ShellPort:       freePort(),
			IOPubPort:       freePort(),
			SignatureScheme: messaging.JupyterSignatureScheme,
			Key:             "6ac9e2d1-5d27-4a4c-b9b7-4f0b7c6ad2b0",
		}
	})

	AfterEach(func() {
		cancel()
	})

	It("Will build dealer and sub sockets from the shared socket options", func() {
		options := channel.SocketOptions()
		Expect(options).To(HaveLen(3))

		dealer := zmq4.NewDealer(ctx, append(options, zmq4.WithID(zmq4.SocketIdentity("kernel-opts")))...)
		Expect(dealer.Type()).To(Equal(zmq4.Dealer))
		_ = dealer.Close()

		sub := zmq4.NewSub(ctx, channel.SocketOptions()...)
		Expect(sub.Type()).To(Equal(zmq4.Sub))
		_ = sub.Close()
	})

	It("Will exchange signed messages with a kernel's shell socket", func() {
		router := zmq4.NewRouter(ctx)
		defer router.Close()
		Expect(router.Listen(fmt.Sprintf("tcp://127.0.0.1:%d", info.ShellPort))).To(Succeed())

		factory := channel.NewZMQFactory(ctx, nil)
		shell, err := factory.CreateChannel(channel.ShellChannel, "kernel-zmq", info)
		Expect(err).To(BeNil())
		defer shell.Close()

		sub := shell.Subscribe(ctx, channel.OfType(messaging.KernelInfoReply))
		defer sub.Close()

		request := messaging.NewMessage(messaging.KernelInfoRequest, "session")
		Expect(shell.Send(request)).To(Succeed())

		raw, err := router.Recv()
		Expect(err).To(BeNil())
		received, identities, err := messaging.DecodeMessage(raw.Frames, info.SignatureScheme, []byte(info.Key))
		Expect(err).To(BeNil())
		Expect(identities).To(HaveLen(1))
		Expect(string(identities[0])).To(Equal("kernel-zmq"))
		Expect(received.MsgID()).To(Equal(request.MsgID()))

		reply, err := messaging.NewReply(received, messaging.KernelInfoReply, &messaging.MessageKernelInfoReply{
			Status:       "ok",
			LanguageInfo: &messaging.LanguageInfo{Name: "python"},
		})
		Expect(err).To(BeNil())
		frames, err := messaging.EncodeMessage(reply, identities, info.SignatureScheme, []byte(info.Key))
		Expect(err).To(BeNil())
		Expect(router.Send(zmq4.NewMsgFrom(frames...))).To(Succeed())

		var msg *messaging.Message
		Eventually(sub.C(), "5s").Should(Receive(&msg))
		Expect(msg.IsChildOf(request)).To(BeTrue())
	})

	It("Will receive iopub broadcasts", func() {
		pub := zmq4.NewPub(ctx)
		defer pub.Close()
		Expect(pub.Listen(fmt.Sprintf("tcp://127.0.0.1:%d", info.IOPubPort))).To(Succeed())

		factory := channel.NewZMQFactory(ctx, nil)
		iopub, err := factory.CreateChannel(channel.IOPubChannel, "kernel-zmq", info)
		Expect(err).To(BeNil())
		defer iopub.Close()

		sub := iopub.Subscribe(ctx, channel.OfType(messaging.IOStatusMessage))
		defer sub.Close()

		status, err := messaging.NewMessageWithContent(messaging.IOStatusMessage, "session",
			&messaging.MessageKernelStatus{Status: messaging.ExecutionStateBusy})
		Expect(err).To(BeNil())
		frames, err := messaging.EncodeMessage(status, [][]byte{[]byte("kernel.status")}, info.SignatureScheme, []byte(info.Key))
		Expect(err).To(BeNil())

		// A subscriber only sees what is published after it has joined.
		Eventually(func() bool {
			Expect(pub.Send(zmq4.NewMsgFrom(frames...))).To(Succeed())
			select {
			case msg := <-sub.C():
				return msg.MsgID() == status.MsgID()
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}, "5s").Should(BeTrue())
	})
})
