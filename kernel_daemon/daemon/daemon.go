package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	pkgerrors "github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/notebook"
	"github.com/scusemua/notebook-kernel-manager/common/queue"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
	"github.com/scusemua/notebook-kernel-manager/kernel_daemon/domain"
	"github.com/scusemua/notebook-kernel-manager/kernel_daemon/epics"
	"github.com/scusemua/notebook-kernel-manager/local_daemon/invoker"
)

var (
	ErrDaemonClosed = errors.New("kernel daemon closed")
)

// MetricsProvider is the part of the metrics manager the daemon reports to.
type MetricsProvider interface {
	SetNumActiveKernels(n int)
	KernelExited(kernelSpecName string)
}

// Update is one entry of the applied action stream: the action and the state it produced.
// Err is set when an epic rejected the action.
type Update struct {
	Action actions.Action
	State  State
	Err    error
}

type KernelDaemonBuilder struct {
	options  *domain.KernelDaemonOptions
	launcher invoker.KernelLauncher
	factory  channel.Factory
	metrics  MetricsProvider
}

func NewKernelDaemonBuilder(options *domain.KernelDaemonOptions) *KernelDaemonBuilder {
	return &KernelDaemonBuilder{
		options: options,
	}
}

func (b *KernelDaemonBuilder) WithLauncher(launcher invoker.KernelLauncher) *KernelDaemonBuilder {
	b.launcher = launcher
	return b
}

func (b *KernelDaemonBuilder) WithChannelFactory(factory channel.Factory) *KernelDaemonBuilder {
	b.factory = factory
	return b
}

func (b *KernelDaemonBuilder) WithMetricsProvider(metrics MetricsProvider) *KernelDaemonBuilder {
	b.metrics = metrics
	return b
}

func (b *KernelDaemonBuilder) Build() *KernelDaemon {
	id := b.options.ID
	if id == "" {
		id = uuid.NewString()
	}

	d := &KernelDaemon{
		id:          id,
		options:     b.options,
		metrics:     b.metrics,
		mailbox:     queue.NewMailbox[actions.Action](),
		kernels:     cmap.New[*client.KernelClient](),
		subscribers: make(map[uint64]*queue.Mailbox[Update]),
		done:        make(chan struct{}),
	}

	d.kernelInfo = epics.NewKernelInfoEpic()
	d.runner = epics.NewRunner(d.Dispatch, d.onEpicError,
		epics.NewNotebookKernelEpic(),
		epics.NewLaunchKernelEpic(b.launcher, b.factory, b.options.ClientOptions()),
		d.kernelInfo,
		epics.NewExecutionStateEpic(),
	)

	config.InitLogger(&d.log, d)
	return d
}

// KernelDaemon owns the action stream. Every action goes through one loop that applies it to the
// State and then hands it to the epics, so the State always reflects the actions in stream order.
type KernelDaemon struct {
	id      string
	options *domain.KernelDaemonOptions
	metrics MetricsProvider

	runner     *epics.Runner
	kernelInfo *epics.KernelInfoEpic
	mailbox    *queue.Mailbox[actions.Action]

	mu          sync.Mutex
	state       State
	subscribers map[uint64]*queue.Mailbox[Update]
	nextSubID   uint64
	closed      bool

	// kernels holds every kernel that has been announced and not yet torn down.
	kernels   cmap.ConcurrentMap[string, *client.KernelClient]
	teardowns sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	log logger.Logger
}

func (d *KernelDaemon) ID() string {
	return d.id
}

// Start runs the action loop and the epics until Close is called or ctx is done.
func (d *KernelDaemon) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.ctx, d.cancel = context.WithCancel(ctx)
		d.runner.Start(d.ctx)
		go d.serve()

		d.log.Info("Kernel daemon %s started.", d.id)
	})
}

// Dispatch appends an action to the action stream. It never blocks.
func (d *KernelDaemon) Dispatch(action actions.Action) {
	if !d.mailbox.Put(action) {
		d.log.Debug("Dropped %s: daemon is closed.", action.String())
	}
}

// LaunchKernel asks for a kernel of the named kernel spec, started in cwd.
func (d *KernelDaemon) LaunchKernel(kernelSpecName string, cwd string) {
	d.Dispatch(actions.LaunchKernelAction{KernelSpecName: kernelSpecName, Cwd: cwd})
}

// SetNotebook announces a notebook. A kernel matching its metadata is launched next to it.
func (d *KernelDaemon) SetNotebook(filename string, nb *notebook.Notebook) {
	d.Dispatch(actions.SetNotebookAction{Filename: filename, Data: nb})
}

// OpenNotebook loads the notebook at path and announces it.
func (d *KernelDaemon) OpenNotebook(path string) error {
	nb, err := notebook.Load(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open notebook %s", path)
	}

	d.SetNotebook(path, nb)
	return nil
}

// State returns a snapshot of the current state.
func (d *KernelDaemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LanguageInfo waits for the language reported by the given kernel.
func (d *KernelDaemon) LanguageInfo(kernelID string) (*messaging.LanguageInfo, error) {
	return d.kernelInfo.LanguageInfo(kernelID)
}

// NumActiveKernels returns the number of kernels that have not been torn down yet.
func (d *KernelDaemon) NumActiveKernels() int {
	return d.kernels.Count()
}

// Subscribe returns the applied action stream from now on, and a function that ends the
// subscription. The stream is closed when the daemon is closed.
func (d *KernelDaemon) Subscribe() (<-chan Update, func()) {
	mailbox := queue.NewMailbox[Update]()

	d.mu.Lock()
	id := d.nextSubID
	d.nextSubID++
	if d.closed {
		mailbox.Close()
	} else {
		d.subscribers[id] = mailbox
	}
	d.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, id)
			d.mu.Unlock()
			mailbox.Discard()
		})
	}
	return mailbox.Out(), unsubscribe
}

// WaitFor waits until the state satisfies cond and returns that state.
func (d *KernelDaemon) WaitFor(ctx context.Context, cond func(State) bool) (State, error) {
	updates, unsubscribe := d.Subscribe()
	defer unsubscribe()

	if state := d.State(); cond(state) {
		return state, nil
	}

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return d.State(), ErrDaemonClosed
			}
			if cond(update.State) {
				return update.State, nil
			}
		case <-ctx.Done():
			return d.State(), ctx.Err()
		}
	}
}

// Close tears the current kernel down, stops the epics and ends the action stream.
func (d *KernelDaemon) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closeErr = d.close(ctx)
	})
	return d.closeErr
}

func (d *KernelDaemon) close(ctx context.Context) error {
	d.log.Info("Closing kernel daemon %s.", d.id)

	// The kernel goes first, while the epics can still see it exit gracefully.
	if kernel := d.State().Kernel; kernel != nil {
		d.shutdownKernel(ctx, kernel)
	}

	if d.cancel != nil {
		d.cancel()
	}
	err := d.runner.Stop()

	if d.ctx != nil {
		d.mailbox.Close()
		<-d.done
	} else {
		d.mailbox.Discard()
	}

	// Launches that completed while stopping.
	for _, kernel := range d.kernels.Items() {
		d.shutdownKernel(ctx, kernel)
	}
	d.teardowns.Wait()

	d.mu.Lock()
	d.closed = true
	for id, subscriber := range d.subscribers {
		subscriber.Close()
		delete(d.subscribers, id)
	}
	d.mu.Unlock()

	d.log.Info("Kernel daemon %s closed.", d.id)
	return err
}

func (d *KernelDaemon) serve() {
	defer close(d.done)

	for action := range d.mailbox.Out() {
		d.apply(action)
		d.runner.Submit(action)
	}
}

func (d *KernelDaemon) apply(action actions.Action) {
	d.log.Debug("Applying %s.", action.String())

	d.mu.Lock()
	previous := d.state
	next, replaced := Reduce(previous, action)
	d.state = next
	d.publish(Update{Action: action, State: next})
	d.mu.Unlock()

	switch a := action.(type) {
	case actions.NewKernelAction:
		if a.Kernel != nil {
			d.kernels.Set(a.Kernel.ID(), a.Kernel)
			d.log.Info(utils.GreenStyle.Render("Kernel %s (%s) is now the current kernel."), a.Kernel.ID(), a.KernelSpecName())
		}
	case actions.LaunchKernelFailedAction:
		d.log.Error("Failed to launch kernel %q: %v", a.KernelSpecName, a.Err)
	case actions.KernelExitedAction:
		d.kernelExited(a, previous)
	}

	if replaced != nil {
		d.log.Debug("Kernel %s replaced by %s, shutting it down.", replaced.ID(), next.KernelID())
		d.retire(replaced)
	}

	d.reportActiveKernels()
}

func (d *KernelDaemon) kernelExited(a actions.KernelExitedAction, previous State) {
	kernel, ok := d.kernels.Get(a.KernelID)
	if !ok {
		return
	}

	d.log.Warn(utils.OrangeStyle.Render("Kernel %s exited with code %d."), a.KernelID, a.ExitCode)
	if d.metrics != nil {
		d.metrics.KernelExited(kernel.SpecName())
	}

	// The process is gone. Its channels and connection file still need releasing.
	if a.KernelID == previous.KernelID() {
		d.retire(kernel)
	}
}

// retire shuts a kernel down in the background.
func (d *KernelDaemon) retire(kernel *client.KernelClient) {
	d.teardowns.Add(1)
	go func() {
		defer d.teardowns.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 2*d.options.ShutdownGracePeriod())
		defer cancel()
		d.shutdownKernel(ctx, kernel)
	}()
}

func (d *KernelDaemon) shutdownKernel(ctx context.Context, kernel *client.KernelClient) {
	start := time.Now()
	if err := kernel.Shutdown(ctx); err != nil {
		d.log.Warn("Error while shutting down kernel %s: %v", kernel.ID(), err)
	} else {
		d.log.Debug("Kernel %s shut down in %v.", kernel.ID(), time.Since(start))
	}

	d.kernels.Remove(kernel.ID())
	d.reportActiveKernels()
}

func (d *KernelDaemon) reportActiveKernels() {
	if d.metrics != nil {
		d.metrics.SetNumActiveKernels(d.kernels.Count())
	}
}

func (d *KernelDaemon) onEpicError(epic epics.Epic, action actions.Action, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.LastError = err
	if _, ok := action.(actions.LaunchKernelAction); ok {
		d.state.PendingLaunches = decrement(d.state.PendingLaunches)
	}
	d.publish(Update{Action: action, State: d.state, Err: err})
}

// publish must be called with d.mu held.
func (d *KernelDaemon) publish(update Update) {
	for _, subscriber := range d.subscribers {
		subscriber.Put(update)
	}
}
