package epics

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
)

const (
	DefaultKernelSpecName = "python3"
)

// NotebookKernelEpic derives a launch request from a loaded notebook. It never launches anything
// itself: the LAUNCH_KERNEL it emits goes through the LaunchKernelEpic like any other.
type NotebookKernelEpic struct {
	getwd func() (string, error)

	log logger.Logger
}

func NewNotebookKernelEpic() *NotebookKernelEpic {
	epic := &NotebookKernelEpic{getwd: os.Getwd}
	config.InitLogger(&epic.log, epic)
	return epic
}

func (e *NotebookKernelEpic) Name() string {
	return "NotebookKernel"
}

func (e *NotebookKernelEpic) Accepts(typ actions.Type) bool {
	return typ == actions.SetNotebook
}

func (e *NotebookKernelEpic) Handle(_ context.Context, action actions.Action, dispatcher Dispatcher) error {
	setNotebook, ok := action.(actions.SetNotebookAction)
	if !ok {
		return &ErrUnexpectedAction{Epic: e.Name(), Action: action}
	}

	if setNotebook.Data == nil {
		return jupyter.ErrMissingNotebookData
	}

	var (
		cwd string
		err error
	)
	if setNotebook.Filename != "" {
		var abs string
		if abs, err = filepath.Abs(setNotebook.Filename); err != nil {
			return errors.Wrapf(err, "cannot resolve notebook path \"%s\"", setNotebook.Filename)
		}
		cwd = filepath.Dir(abs)
	} else if cwd, err = e.getwd(); err != nil {
		return errors.Wrap(err, "cannot determine the working directory")
	}

	kernelSpecName := setNotebook.Data.KernelName()
	if kernelSpecName == "" {
		kernelSpecName = DefaultKernelSpecName
	}

	e.log.Debug("Notebook \"%s\" asks for kernel \"%s\" in \"%s\".", setNotebook.Filename, kernelSpecName, cwd)
	dispatcher.Dispatch(actions.LaunchKernelAction{KernelSpecName: kernelSpecName, Cwd: cwd})
	return nil
}
