package client

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
)

const (
	DefaultShutdownGracePeriod = 5 * time.Second
)

// Process is the handle of a running kernel process.
type Process interface {
	Pid() int
	Exited() <-chan struct{}
	ExitCode() (int, bool)
	Shutdown() error
	Kill() error
}

type KernelClientOptions struct {
	// RequestTimeout bounds how long a request waits for its reply. Zero means no bound.
	RequestTimeout time.Duration

	// ShutdownGracePeriod is how long the kernel has to exit on its own before it is killed.
	ShutdownGracePeriod time.Duration
}

// KernelClient is one running kernel: its identity, connection, process and channels.
// It owns the channels and the process, and releases both in Shutdown.
type KernelClient struct {
	id             string
	specName       string
	connectionInfo *jupyter.ConnectionInfo
	connectionFile string
	process        Process
	channels       *channel.Set
	createdAt      time.Time
	opts           KernelClientOptions

	shell   *channel.Correlator
	control *channel.Correlator

	// ctx is cancelled when the kernel is torn down.
	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error

	log logger.Logger
}

// NewKernelClient assembles a kernel from the pieces produced by a launch. The identity is used as
// the session of every message the client creates.
func NewKernelClient(ctx context.Context, identity string, specName string, info *jupyter.ConnectionInfo,
	connectionFile string, process Process, channels *channel.Set, opts KernelClientOptions) *KernelClient {

	if opts.ShutdownGracePeriod <= 0 {
		opts.ShutdownGracePeriod = DefaultShutdownGracePeriod
	}

	kernel := &KernelClient{
		id:             identity,
		specName:       specName,
		connectionInfo: info,
		connectionFile: connectionFile,
		process:        process,
		channels:       channels,
		createdAt:      time.Now(),
		opts:           opts,
		shell:          channel.NewCorrelator(channels.Shell, opts.RequestTimeout),
		control:        channel.NewCorrelator(channels.Control, opts.RequestTimeout),
	}
	kernel.ctx, kernel.cancel = context.WithCancel(ctx)
	config.InitLogger(&kernel.log, fmt.Sprintf("Kernel %s ", identity))

	return kernel
}

func (k *KernelClient) ID() string {
	return k.id
}

func (k *KernelClient) SpecName() string {
	return k.specName
}

func (k *KernelClient) ConnectionInfo() *jupyter.ConnectionInfo {
	return k.connectionInfo
}

func (k *KernelClient) ConnectionFile() string {
	return k.connectionFile
}

func (k *KernelClient) Process() Process {
	return k.process
}

func (k *KernelClient) Channels() *channel.Set {
	return k.channels
}

func (k *KernelClient) CreatedAt() time.Time {
	return k.createdAt
}

// Context is done once the kernel has been torn down.
func (k *KernelClient) Context() context.Context {
	return k.ctx
}

func (k *KernelClient) IsClosed() bool {
	return k.ctx.Err() != nil
}

func (k *KernelClient) String() string {
	return fmt.Sprintf("Kernel[%s, spec=%s]", k.id, k.specName)
}

// NewMessage creates a message in this kernel's session.
func (k *KernelClient) NewMessage(msgType string) *messaging.Message {
	return messaging.NewMessage(msgType, k.id)
}

// Request sends a message on the shell or control channel and waits for its reply. The wait ends
// early with ErrKernelClosed if the kernel is torn down first.
func (k *KernelClient) Request(ctx context.Context, typ channel.Type, request *messaging.Message, replyTypes ...string) (*messaging.Message, error) {
	var correlator *channel.Correlator
	switch typ {
	case channel.ShellChannel:
		correlator = k.shell
	case channel.ControlChannel:
		correlator = k.control
	default:
		return nil, fmt.Errorf("%w: requests on the %s channel", jupyter.ErrNotSupported, typ)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(k.ctx, cancel)
	defer stop()

	reply, err := correlator.Request(reqCtx, request, replyTypes...)
	if err != nil && k.ctx.Err() != nil && ctx.Err() == nil {
		return nil, jupyter.ErrKernelClosed
	}
	return reply, err
}

// KernelInfo requests the kernel_info_reply of the kernel.
func (k *KernelClient) KernelInfo(ctx context.Context) (*messaging.MessageKernelInfoReply, error) {
	reply, err := k.Request(ctx, channel.ShellChannel, k.NewMessage(messaging.KernelInfoRequest), messaging.KernelInfoReply)
	if err != nil {
		return nil, err
	}

	var content messaging.MessageKernelInfoReply
	if err := reply.DecodeContent(&content); err != nil {
		return nil, errors.Wrap(err, "malformed kernel_info_reply")
	}
	return &content, nil
}

// Shutdown tears the kernel down: pending requests are released, the kernel is asked to exit, the
// channels are closed, the process is terminated (and killed if it outlives the grace period) and
// the connection file is removed. Only the first call has an effect.
func (k *KernelClient) Shutdown(ctx context.Context) error {
	k.shutdownOnce.Do(func() {
		k.shutdownErr = k.shutdown(ctx)
	})
	return k.shutdownErr
}

func (k *KernelClient) shutdown(ctx context.Context) error {
	k.log.Debug("Shutting down kernel %s (pid %d).", k.id, k.pid())

	// Ask politely first. The reply is not awaited beyond a fraction of the grace period.
	if !k.exited() {
		askCtx, cancelAsk := context.WithTimeout(ctx, k.opts.ShutdownGracePeriod/2)
		request, err := messaging.NewMessageWithContent(messaging.ShellShutdownRequest, k.id, &messaging.MessageShutdownRequest{Restart: false})
		if err == nil {
			if _, err = k.control.Request(askCtx, request, messaging.ShellShutdownReply); err != nil {
				k.log.Debug("Kernel %s did not acknowledge shutdown_request: %v", k.id, err)
			}
		}
		cancelAsk()
	}

	k.cancel()
	k.shell.Close()
	k.control.Close()

	var errs []error
	if err := k.channels.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "failed to close channels"))
	}

	if err := k.terminate(ctx); err != nil {
		errs = append(errs, err)
	}

	if k.connectionFile != "" {
		if err := os.Remove(k.connectionFile); err != nil && !os.IsNotExist(err) {
			errs = append(errs, errors.Wrap(err, "failed to remove connection file"))
		}
	}

	if len(errs) > 0 {
		k.log.Warn(utils.OrangeStyle.Render("Kernel %s was not torn down cleanly: %v"), k.id, errs)
		return errors.Errorf("kernel %s teardown: %v", k.id, errs)
	}

	k.log.Debug(utils.GreenStyle.Render("Kernel %s shut down."), k.id)
	return nil
}

func (k *KernelClient) terminate(ctx context.Context) error {
	if k.exited() {
		return nil
	}

	if err := k.process.Shutdown(); err != nil && !errors.Is(err, jupyter.ErrKernelClosed) {
		k.log.Warn("Failed to signal kernel process %d: %v", k.pid(), err)
	}

	timer := time.NewTimer(k.opts.ShutdownGracePeriod / 2)
	defer timer.Stop()

	select {
	case <-k.process.Exited():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	k.log.Warn(utils.OrangeStyle.Render("Kernel process %d did not exit in time, killing it."), k.pid())
	if err := k.process.Kill(); err != nil {
		return errors.Wrapf(err, "failed to kill kernel process %d", k.pid())
	}
	return nil
}

func (k *KernelClient) exited() bool {
	if k.process == nil {
		return true
	}

	select {
	case <-k.process.Exited():
		return true
	default:
		return false
	}
}

func (k *KernelClient) pid() int {
	if k.process == nil {
		return -1
	}
	return k.process.Pid()
}
