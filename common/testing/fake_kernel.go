package testing

import (
	"sync"
	"sync/atomic"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

// FakeKernel is an in-memory kernel. It answers kernel_info_request on shell and shutdown_request
// on control, and publishes whatever status messages a test asks it to on iopub.
type FakeKernel struct {
	identity     string
	info         *jupyter.ConnectionInfo
	languageInfo *messaging.LanguageInfo
	channels     map[channel.Type]*channel.MemoryChannel

	// held stops the kernel from answering kernel_info_request until Release is called.
	mu          sync.Mutex
	held        bool
	heldReplies []*messaging.Message

	kernelInfoRequests atomic.Int32
	shutdownRequests   atomic.Int32
}

func NewFakeKernel(identity string, info *jupyter.ConnectionInfo, languageInfo *messaging.LanguageInfo) *FakeKernel {
	kernel := &FakeKernel{
		identity:     identity,
		info:         info,
		languageInfo: languageInfo,
		channels:     make(map[channel.Type]*channel.MemoryChannel, len(channel.AllTypes)),
	}

	for _, typ := range channel.AllTypes {
		kernel.channels[typ] = channel.NewMemoryChannel(typ, identity)
	}

	go kernel.serve(kernel.channels[channel.ShellChannel])
	go kernel.serve(kernel.channels[channel.ControlChannel])

	return kernel
}

func (k *FakeKernel) Identity() string {
	return k.identity
}

func (k *FakeKernel) ConnectionInfo() *jupyter.ConnectionInfo {
	return k.info
}

func (k *FakeKernel) Channel(typ channel.Type) *channel.MemoryChannel {
	return k.channels[typ]
}

func (k *FakeKernel) KernelInfoRequests() int {
	return int(k.kernelInfoRequests.Load())
}

func (k *FakeKernel) ShutdownRequests() int {
	return int(k.shutdownRequests.Load())
}

// Hold defers the replies to kernel_info_request until Release.
func (k *FakeKernel) Hold() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.held = true
}

// Release sends the deferred replies and stops deferring.
func (k *FakeKernel) Release() {
	k.mu.Lock()
	replies := k.heldReplies
	k.heldReplies = nil
	k.held = false
	k.mu.Unlock()

	for _, reply := range replies {
		k.channels[channel.ShellChannel].Deliver(reply)
	}
}

// PublishStatus publishes a status message on iopub and returns the number of subscribers that
// received it.
func (k *FakeKernel) PublishStatus(state messaging.ExecutionState) int {
	msg, err := messaging.NewMessageWithContent(messaging.IOStatusMessage, k.identity, &messaging.MessageKernelStatus{Status: state})
	if err != nil {
		panic(err)
	}
	return k.channels[channel.IOPubChannel].Deliver(msg)
}

// IOPubSubscribers returns the number of live subscriptions on iopub.
func (k *FakeKernel) IOPubSubscribers() int {
	return k.channels[channel.IOPubChannel].NumSubscribers()
}

// IsClosed returns true once every channel of the kernel has been closed.
func (k *FakeKernel) IsClosed() bool {
	for _, ch := range k.channels {
		if !ch.IsClosed() {
			return false
		}
	}
	return true
}

func (k *FakeKernel) serve(ch *channel.MemoryChannel) {
	for request := range ch.Sent() {
		switch request.MsgType() {
		case messaging.KernelInfoRequest:
			k.kernelInfoRequests.Add(1)

			reply, err := messaging.NewReply(request, messaging.KernelInfoReply, &messaging.MessageKernelInfoReply{
				Status:          "ok",
				ProtocolVersion: messaging.ProtocolVersion,
				Implementation:  "fake",
				LanguageInfo:    k.languageInfo,
			})
			if err != nil {
				panic(err)
			}

			k.mu.Lock()
			if k.held {
				k.heldReplies = append(k.heldReplies, reply)
				k.mu.Unlock()
				continue
			}
			k.mu.Unlock()
			ch.Deliver(reply)
		case messaging.ShellShutdownRequest:
			k.shutdownRequests.Add(1)

			reply, err := messaging.NewReply(request, messaging.ShellShutdownReply, &messaging.MessageShutdownRequest{})
			if err != nil {
				panic(err)
			}
			ch.Deliver(reply)
		}
	}
}

// FakeKernelFactory is a channel.Factory that backs every identity with a FakeKernel. The language
// a kernel reports is looked up by the kernel name in its connection info.
type FakeKernelFactory struct {
	mu        sync.Mutex
	kernels   map[string]*FakeKernel
	languages map[string]*messaging.LanguageInfo
	hold      bool
}

func NewFakeKernelFactory() *FakeKernelFactory {
	return &FakeKernelFactory{
		kernels:   make(map[string]*FakeKernel),
		languages: make(map[string]*messaging.LanguageInfo),
	}
}

// SetLanguage sets the language_info reported by kernels of the given kernel spec.
func (f *FakeKernelFactory) SetLanguage(kernelName string, languageInfo *messaging.LanguageInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages[kernelName] = languageInfo
}

// HoldReplies makes kernels created from now on defer their kernel_info_reply.
func (f *FakeKernelFactory) HoldReplies() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = true
}

func (f *FakeKernelFactory) CreateChannel(typ channel.Type, identity string, info *jupyter.ConnectionInfo) (channel.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kernel, ok := f.kernels[identity]
	if !ok {
		languageInfo := f.languages[""]
		if info != nil {
			if li, found := f.languages[info.KernelName]; found {
				languageInfo = li
			}
		}

		kernel = NewFakeKernel(identity, info, languageInfo)
		if f.hold {
			kernel.Hold()
		}
		f.kernels[identity] = kernel
	}

	return kernel.Channel(typ), nil
}

// Kernel returns the FakeKernel backing the given identity, or nil.
func (f *FakeKernelFactory) Kernel(identity string) *FakeKernel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kernels[identity]
}

func (f *FakeKernelFactory) NumKernels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.kernels)
}
