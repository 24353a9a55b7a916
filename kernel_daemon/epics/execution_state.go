package epics

import (
	"context"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/petermattis/goid"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

// ExecutionStateEpic republishes the execution state of the most recent kernel. A new kernel
// starts out idle. Tracking switches to the latest kernel: once a kernel has been superseded,
// nothing it publishes is emitted any more.
type ExecutionStateEpic struct {
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc

	log logger.Logger
}

func NewExecutionStateEpic() *ExecutionStateEpic {
	epic := &ExecutionStateEpic{}
	config.InitLogger(&epic.log, epic)
	return epic
}

func (e *ExecutionStateEpic) Name() string {
	return "ExecutionState"
}

func (e *ExecutionStateEpic) Accepts(typ actions.Type) bool {
	return typ == actions.NewKernel
}

func (e *ExecutionStateEpic) Handle(ctx context.Context, action actions.Action, dispatcher Dispatcher) error {
	newKernel, ok := action.(actions.NewKernelAction)
	if !ok {
		return &ErrUnexpectedAction{Epic: e.Name(), Action: action}
	}

	kernel := newKernel.Kernel
	if kernel == nil {
		return ErrMissingKernel
	}

	trackCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.generation += 1
	generation := e.generation
	e.cancel = cancel
	e.mu.Unlock()

	// Subscribe before announcing idle so that no status published in between is missed.
	sub := kernel.Channels().IOPub.Subscribe(trackCtx, channel.OfType(messaging.IOStatusMessage))

	dispatcher.Dispatch(actions.SetExecutionStateAction{KernelID: kernel.ID(), State: messaging.ExecutionStateIdle})

	dispatcher.Go(func() {
		defer sub.Close()
		e.forward(trackCtx, generation, kernel, sub, dispatcher)
	})

	return nil
}

// Stop cancels the tracking of the current kernel.
func (e *ExecutionStateEpic) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.generation += 1
}

func (e *ExecutionStateEpic) forward(ctx context.Context, generation uint64, kernel *client.KernelClient, sub *channel.Subscription, dispatcher Dispatcher) {
	goroutineId := goid.Get()
	e.log.Debug("[gid=%d] Tracking execution state of kernel %s (generation %d).", goroutineId, kernel.ID(), generation)

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			e.log.Debug("[gid=%d] Stopped tracking execution state of kernel %s: %v", goroutineId, kernel.ID(), err)
			return
		}

		var status messaging.MessageKernelStatus
		if err := msg.DecodeContent(&status); err != nil || status.Status == "" {
			e.log.Warn("[gid=%d] Ignoring malformed status message %s from kernel %s: %v", goroutineId, msg.MsgID(), kernel.ID(), err)
			continue
		}

		if !e.emitIfCurrent(generation, actions.SetExecutionStateAction{KernelID: kernel.ID(), State: status.Status}, dispatcher) {
			return
		}
	}
}

// emitIfCurrent dispatches the action unless the generation has been superseded. The check and
// the dispatch happen under the same lock that Handle takes to switch kernels.
func (e *ExecutionStateEpic) emitIfCurrent(generation uint64, action actions.Action, dispatcher Dispatcher) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if generation != e.generation {
		return false
	}
	dispatcher.Dispatch(action)
	return true
}
