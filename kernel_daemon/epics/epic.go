package epics

import (
	"context"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"golang.org/x/sync/errgroup"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/queue"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
)

// Dispatcher is what an epic gets to act on the world: it appends derived actions to the shared
// action stream and runs the epic's asynchronous work.
type Dispatcher interface {
	// Dispatch appends an action to the action stream. It never blocks.
	Dispatch(action actions.Action)

	// Go runs task in its own goroutine. The Runner waits for such tasks when it stops.
	Go(task func())
}

// Epic is a unit of logic that consumes the actions it accepts and produces derived actions.
type Epic interface {
	Name() string

	// Accepts returns true for the action types the epic handles.
	Accepts(typ actions.Type) bool

	// Handle processes one action. Validation happens synchronously and is reported through the
	// returned error, which ends the processing of that action only. Anything that waits on a
	// kernel is started with Dispatcher.Go. Handle is never called concurrently for one epic.
	Handle(ctx context.Context, action actions.Action, dispatcher Dispatcher) error
}

// ErrorHandler receives the errors returned by Epic.Handle.
type ErrorHandler func(epic Epic, action actions.Action, err error)

// Runner feeds every action to each epic that accepts it. Each epic has its own goroutine and
// its own unbounded mailbox, so a slow epic never holds up the others or the producer.
type Runner struct {
	epics     []Epic
	mailboxes []*queue.Mailbox[actions.Action]
	dispatch  func(actions.Action)
	onError   ErrorHandler

	group *errgroup.Group
	tasks sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	log logger.Logger
}

// NewRunner creates a Runner. Actions the epics derive are handed to dispatch, which must not block.
func NewRunner(dispatch func(actions.Action), onError ErrorHandler, epics ...Epic) *Runner {
	runner := &Runner{
		epics:     epics,
		mailboxes: make([]*queue.Mailbox[actions.Action], len(epics)),
		dispatch:  dispatch,
		onError:   onError,
	}
	for i := range epics {
		runner.mailboxes[i] = queue.NewMailbox[actions.Action]()
	}
	config.InitLogger(&runner.log, runner)

	return runner
}

// Start launches one goroutine per epic. They stop when ctx is done or the Runner is stopped.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		var groupCtx context.Context
		r.group, groupCtx = errgroup.WithContext(ctx)

		for i, epic := range r.epics {
			epic, mailbox := epic, r.mailboxes[i]
			r.group.Go(func() error {
				return r.serve(groupCtx, epic, mailbox)
			})
		}

		r.log.Debug("Started %d epic(s).", len(r.epics))
	})
}

// Submit delivers an action to every epic that accepts it. Submit never blocks.
func (r *Runner) Submit(action actions.Action) {
	for i, epic := range r.epics {
		if epic.Accepts(action.Type()) {
			r.mailboxes[i].Put(action)
		}
	}
}

// Stop stops accepting actions, lets the epics finish what was already submitted and waits for
// them and for the tasks they started.
func (r *Runner) Stop() error {
	r.stopOnce.Do(func() {
		for _, mailbox := range r.mailboxes {
			mailbox.Close()
		}
	})
	return r.Wait()
}

// Wait waits for the epic goroutines and their tasks to end.
func (r *Runner) Wait() error {
	var err error
	if r.group != nil {
		err = r.group.Wait()
	}
	r.tasks.Wait()
	return err
}

func (r *Runner) serve(ctx context.Context, epic Epic, mailbox *queue.Mailbox[actions.Action]) error {
	dispatcher := &runnerDispatcher{runner: r}

	for {
		select {
		case action, ok := <-mailbox.Out():
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				mailbox.Discard()
				return nil
			}

			if err := epic.Handle(ctx, action, dispatcher); err != nil {
				r.log.Warn(utils.OrangeStyle.Render("Epic %s rejected %s: %v"), epic.Name(), action.String(), err)
				if r.onError != nil {
					r.onError(epic, action, err)
				}
			}
		case <-ctx.Done():
			mailbox.Discard()
			return nil
		}
	}
}

type runnerDispatcher struct {
	runner *Runner
}

func (d *runnerDispatcher) Dispatch(action actions.Action) {
	d.runner.dispatch(action)
}

func (d *runnerDispatcher) Go(task func()) {
	d.runner.tasks.Add(1)
	go func() {
		defer d.runner.tasks.Done()
		task()
	}()
}
