package daemon

import (
	"fmt"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/notebook"
)

// State is the view of the world built from the action stream.
type State struct {
	// Kernel is the current kernel. It stays set after the kernel exits, with ExecutionState "dead".
	Kernel         *client.KernelClient
	KernelSpecName string
	LanguageInfo   *messaging.LanguageInfo
	ExecutionState messaging.ExecutionState

	NotebookFilename string
	Notebook         *notebook.Notebook

	// PendingLaunches counts LAUNCH_KERNEL actions that have not yet produced a kernel or a failure.
	PendingLaunches int

	// LastError is the error of the last failed launch or rejected action.
	LastError error
}

// KernelID returns the identity of the current kernel, or "" if there is none.
func (s State) KernelID() string {
	if s.Kernel == nil {
		return ""
	}
	return s.Kernel.ID()
}

func (s State) String() string {
	return fmt.Sprintf("State{kernel=%q, spec=%q, lang=%v, state=%q, notebook=%q, pending=%d, err=%v}",
		s.KernelID(), s.KernelSpecName, s.LanguageInfo, s.ExecutionState, s.NotebookFilename, s.PendingLaunches, s.LastError)
}

// Reduce applies an action to a state. It returns the new state and, when the action replaces the
// current kernel, the kernel it replaced.
func Reduce(state State, action actions.Action) (State, *client.KernelClient) {
	var replaced *client.KernelClient

	switch a := action.(type) {
	case actions.LaunchKernelAction:
		state.PendingLaunches++
		state.LastError = nil
	case actions.NewKernelAction:
		if a.Kernel == nil {
			break
		}
		if state.Kernel != nil && state.Kernel != a.Kernel {
			replaced = state.Kernel
		}
		state.Kernel = a.Kernel
		state.KernelSpecName = a.KernelSpecName()
		state.LanguageInfo = nil
		state.ExecutionState = messaging.ExecutionStateIdle
		state.PendingLaunches = decrement(state.PendingLaunches)
	case actions.LaunchKernelFailedAction:
		state.LastError = a.Err
		state.PendingLaunches = decrement(state.PendingLaunches)
	case actions.SetLanguageInfoAction:
		if a.KernelID == state.KernelID() {
			state.LanguageInfo = a.LanguageInfo
		}
	case actions.SetExecutionStateAction:
		// A kernel that has exited stays dead, whatever stale status is still in flight.
		if a.KernelID == state.KernelID() && state.ExecutionState != messaging.ExecutionStateDead {
			state.ExecutionState = a.State
		}
	case actions.SetNotebookAction:
		state.NotebookFilename = a.Filename
		state.Notebook = a.Data
	case actions.KernelExitedAction:
		if a.KernelID == state.KernelID() {
			state.ExecutionState = messaging.ExecutionStateDead
		}
	}

	return state, replaced
}

func decrement(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}
