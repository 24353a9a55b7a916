package epics

import (
	"context"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/Scusemua/go-utils/promise"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
)

// KernelInfoEpic asks every new kernel for its kernel info, once, and emits the language it reports.
// The answer is kept in a single-slot cell per kernel so that later readers get it without a new
// request. A kernel that never answers leaves its cell unresolved until the kernel is torn down.
type KernelInfoEpic struct {
	cells cmap.ConcurrentMap[string, *promise.ChannelPromise]

	log logger.Logger
}

func NewKernelInfoEpic() *KernelInfoEpic {
	epic := &KernelInfoEpic{
		cells: cmap.New[*promise.ChannelPromise](),
	}
	config.InitLogger(&epic.log, epic)
	return epic
}

func (e *KernelInfoEpic) Name() string {
	return "KernelInfo"
}

func (e *KernelInfoEpic) Accepts(typ actions.Type) bool {
	return typ == actions.NewKernel
}

func (e *KernelInfoEpic) Handle(ctx context.Context, action actions.Action, dispatcher Dispatcher) error {
	newKernel, ok := action.(actions.NewKernelAction)
	if !ok {
		return &ErrUnexpectedAction{Epic: e.Name(), Action: action}
	}

	kernel := newKernel.Kernel
	if kernel == nil {
		return ErrMissingKernel
	}

	cell := promise.NewChannelPromise()
	if !e.cells.SetIfAbsent(kernel.ID(), cell) {
		e.log.Debug("Kernel info of kernel %s already requested.", kernel.ID())
		return nil
	}

	// The cell goes away with the kernel.
	context.AfterFunc(kernel.Context(), func() {
		e.cells.RemoveCb(kernel.ID(), func(_ string, v *promise.ChannelPromise, exists bool) bool {
			return exists && v == cell
		})
	})

	dispatcher.Go(func() {
		info, err := kernel.KernelInfo(ctx)
		if err != nil {
			e.log.Debug("No kernel info from kernel %s: %v", kernel.ID(), err)
			_, _ = cell.Resolve(nil, err)
			return
		}

		e.log.Debug("Kernel %s reported language %v.", kernel.ID(), info.LanguageInfo)
		_, _ = cell.Resolve(info.LanguageInfo)
		dispatcher.Dispatch(actions.SetLanguageInfoAction{KernelID: kernel.ID(), LanguageInfo: info.LanguageInfo})
	})

	return nil
}

// LanguageInfo waits for the language reported by the given kernel. It returns an error if the
// kernel is unknown, or was torn down before it answered.
//
// A kernel's language is only kept while the kernel lives. Once it is torn down, LanguageInfo
// returns ErrUnknownKernel for it even if it had answered.
func (e *KernelInfoEpic) LanguageInfo(kernelID string) (*messaging.LanguageInfo, error) {
	cell, ok := e.cells.Get(kernelID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKernel, "kernel %s", kernelID)
	}

	value, err := cell.Result()
	if err != nil {
		return nil, err
	}

	languageInfo, _ := value.(*messaging.LanguageInfo)
	return languageInfo, nil
}

// CachedLanguageInfo returns the language reported by the given kernel, if it has answered.
func (e *KernelInfoEpic) CachedLanguageInfo(kernelID string) (*messaging.LanguageInfo, bool) {
	cell, ok := e.cells.Get(kernelID)
	if !ok || !cell.IsResolved() {
		return nil, false
	}

	languageInfo, err := e.LanguageInfo(kernelID)
	return languageInfo, err == nil
}
