package messaging_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

var _ = Describe("Message", func() {
	It("Will create messages with a fresh id and an empty parent header", func() {
		first := messaging.NewMessage(messaging.KernelInfoRequest, "session-1")
		second := messaging.NewMessage(messaging.KernelInfoRequest, "session-1")

		Expect(first.MsgID()).ToNot(BeEmpty())
		Expect(first.MsgID()).ToNot(Equal(second.MsgID()))
		Expect(first.MsgType()).To(Equal(messaging.KernelInfoRequest))
		Expect(first.Header.Session).To(Equal("session-1"))
		Expect(first.Header.Version).To(Equal(messaging.ProtocolVersion))
		Expect(first.ParentHeader.IsEmpty()).To(BeTrue())
		Expect(string(first.Content)).To(Equal("{}"))
	})

	It("Will link a reply to its request through the parent header", func() {
		request := messaging.NewMessage(messaging.KernelInfoRequest, "session-2")
		reply, err := messaging.NewReply(request, messaging.KernelInfoReply, &messaging.MessageKernelInfoReply{
			Status:       "ok",
			LanguageInfo: &messaging.LanguageInfo{Name: "python", Version: "3.12.1"},
		})
		Expect(err).To(BeNil())

		Expect(reply.ParentMsgID()).To(Equal(request.MsgID()))
		Expect(reply.IsChildOf(request)).To(BeTrue())
		Expect(request.IsChildOf(reply)).To(BeFalse())
		Expect(reply.Header.Session).To(Equal("session-2"))

		var content messaging.MessageKernelInfoReply
		Expect(reply.DecodeContent(&content)).To(Succeed())
		Expect(content.LanguageInfo).ToNot(BeNil())
		Expect(content.LanguageInfo.Name).To(Equal("python"))
	})

	It("Will not treat a message without a parent as a child of anything", func() {
		request := messaging.NewMessage(messaging.KernelInfoRequest, "s")
		orphan := messaging.NewMessage(messaging.IOStatusMessage, "s")

		Expect(orphan.IsChildOf(request)).To(BeFalse())
		Expect(orphan.IsChildOf(nil)).To(BeFalse())
	})

	It("Will extract the base message type", func() {
		base, ok := messaging.JupyterMessageType(messaging.KernelInfoRequest).GetBaseMessageType()
		Expect(ok).To(BeTrue())
		Expect(base).To(Equal("kernel_info_"))

		base, ok = messaging.JupyterMessageType(messaging.KernelInfoReply).GetBaseMessageType()
		Expect(ok).To(BeTrue())
		Expect(base).To(Equal("kernel_info_"))

		_, ok = messaging.JupyterMessageType(messaging.IOStatusMessage).GetBaseMessageType()
		Expect(ok).To(BeFalse())
	})
})
