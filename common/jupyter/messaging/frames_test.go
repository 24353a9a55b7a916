package messaging_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

var _ = Describe("Frames", func() {
	var key = []byte("d5b4e7c1-8b5b-4c3f-9a4a-2f0b6a5e1c11")

	It("Will round-trip a signed message with routing identities", func() {
		request := messaging.NewMessage(messaging.KernelInfoRequest, "session")
		reply, err := messaging.NewReply(request, messaging.KernelInfoReply, map[string]interface{}{"status": "ok"})
		Expect(err).To(BeNil())

		raw, err := messaging.EncodeMessage(reply, [][]byte{[]byte("identity")}, messaging.JupyterSignatureScheme, key)
		Expect(err).To(BeNil())
		Expect(string(raw[0])).To(Equal("identity"))
		Expect(raw[1]).To(Equal(messaging.JupyterFrameIDSMSG))

		decoded, identities, err := messaging.DecodeMessage(raw, messaging.JupyterSignatureScheme, key)
		Expect(err).To(BeNil())
		Expect(identities).To(HaveLen(1))
		Expect(decoded.MsgID()).To(Equal(reply.MsgID()))
		Expect(decoded.ParentMsgID()).To(Equal(request.MsgID()))
		Expect(decoded.MsgType()).To(Equal(messaging.KernelInfoReply))
		Expect(string(decoded.Content)).To(MatchJSON(`{"status": "ok"}`))
	})

	It("Will encode an absent parent header as an empty object", func() {
		msg := messaging.NewMessage(messaging.KernelInfoRequest, "session")

		raw, err := messaging.EncodeMessage(msg, nil, messaging.JupyterSignatureScheme, key)
		Expect(err).To(BeNil())

		frames, offset := messaging.SkipIdentities(raw)
		Expect(offset).To(Equal(0))
		Expect(string(frames[messaging.JupyterFrameParentHeader])).To(Equal("{}"))
	})

	It("Will reject a tampered message", func() {
		msg := messaging.NewMessage(messaging.IOStatusMessage, "session")
		Expect(msg.EncodeContent(&messaging.MessageKernelStatus{Status: messaging.ExecutionStateBusy})).To(Succeed())

		raw, err := messaging.EncodeMessage(msg, nil, messaging.JupyterSignatureScheme, key)
		Expect(err).To(BeNil())

		raw[messaging.JupyterFrameContent] = []byte(`{"execution_state": "idle"}`)
		_, _, err = messaging.DecodeMessage(raw, messaging.JupyterSignatureScheme, key)
		Expect(err).To(MatchError(messaging.ErrInvalidJupyterSignature))
	})

	It("Will skip signing and verification when no key is configured", func() {
		msg := messaging.NewMessage(messaging.IOStatusMessage, "session")

		raw, err := messaging.EncodeMessage(msg, nil, "", nil)
		Expect(err).To(BeNil())
		Expect(raw[messaging.JupyterFrameSignature]).To(BeEmpty())

		decoded, _, err := messaging.DecodeMessage(raw, "", nil)
		Expect(err).To(BeNil())
		Expect(decoded.MsgID()).To(Equal(msg.MsgID()))
	})

	It("Will reject an unsupported signature scheme", func() {
		msg := messaging.NewMessage(messaging.IOStatusMessage, "session")

		_, err := messaging.EncodeMessage(msg, nil, "hmac-md5", key)
		Expect(err).To(MatchError(messaging.ErrNotSupportedSignatureScheme))
	})

	It("Will reject frames without the delimiter", func() {
		_, _, err := messaging.DecodeMessage([][]byte{[]byte("a"), []byte("b")}, "", nil)
		Expect(err).To(MatchError(messaging.ErrInvalidJupyterMessage))
	})
})
