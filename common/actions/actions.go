package actions

import (
	"fmt"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/notebook"
)

const (
	LaunchKernel       Type = "LAUNCH_KERNEL"
	NewKernel          Type = "NEW_KERNEL"
	SetLanguageInfo    Type = "SET_LANGUAGE_INFO"
	SetExecutionState  Type = "SET_EXECUTION_STATE"
	SetNotebook        Type = "SET_NOTEBOOK"
	LaunchKernelFailed Type = "LAUNCH_KERNEL_FAILED"
	KernelExited       Type = "KERNEL_EXITED"
)

// Type is the tag of an Action.
type Type string

func (t Type) String() string {
	return string(t)
}

// Action is an immutable event on the action stream. The concrete types below are the only
// implementations, and are always passed by value.
type Action interface {
	Type() Type
	String() string
}

// LaunchKernelAction asks for a kernel of the named kernel spec to be started in Cwd.
type LaunchKernelAction struct {
	KernelSpecName string
	Cwd            string
}

func (a LaunchKernelAction) Type() Type { return LaunchKernel }

func (a LaunchKernelAction) String() string {
	return fmt.Sprintf("%s{kernelSpecName=%q, cwd=%q}", LaunchKernel, a.KernelSpecName, a.Cwd)
}

// NewKernelAction announces a freshly launched kernel. The kernel carries its channels, its
// connection file, its process and the name of its kernel spec.
type NewKernelAction struct {
	Kernel *client.KernelClient
}

func (a NewKernelAction) Type() Type { return NewKernel }

func (a NewKernelAction) KernelSpecName() string {
	return a.Kernel.SpecName()
}

func (a NewKernelAction) ConnectionFile() string {
	return a.Kernel.ConnectionFile()
}

func (a NewKernelAction) String() string {
	return fmt.Sprintf("%s{kernel=%s, kernelSpecName=%q, connectionFile=%q}",
		NewKernel, a.Kernel.ID(), a.Kernel.SpecName(), a.Kernel.ConnectionFile())
}

// SetLanguageInfoAction carries the language_info reported by a kernel.
type SetLanguageInfoAction struct {
	KernelID     string
	LanguageInfo *messaging.LanguageInfo
}

func (a SetLanguageInfoAction) Type() Type { return SetLanguageInfo }

func (a SetLanguageInfoAction) String() string {
	return fmt.Sprintf("%s{kernel=%s, langInfo=%v}", SetLanguageInfo, a.KernelID, a.LanguageInfo)
}

// SetExecutionStateAction carries the execution state reported by a kernel.
type SetExecutionStateAction struct {
	KernelID string
	State    messaging.ExecutionState
}

func (a SetExecutionStateAction) Type() Type { return SetExecutionState }

func (a SetExecutionStateAction) String() string {
	return fmt.Sprintf("%s{kernel=%s, state=%s}", SetExecutionState, a.KernelID, a.State)
}

// SetNotebookAction announces a loaded notebook. Filename may be empty.
type SetNotebookAction struct {
	Filename string
	Data     *notebook.Notebook
}

func (a SetNotebookAction) Type() Type { return SetNotebook }

func (a SetNotebookAction) String() string {
	return fmt.Sprintf("%s{filename=%q, hasData=%v}", SetNotebook, a.Filename, a.Data != nil)
}

// LaunchKernelFailedAction reports a launch that did not produce a kernel.
type LaunchKernelFailedAction struct {
	KernelSpecName string
	Cwd            string
	Err            error
}

func (a LaunchKernelFailedAction) Type() Type { return LaunchKernelFailed }

func (a LaunchKernelFailedAction) String() string {
	return fmt.Sprintf("%s{kernelSpecName=%q, cwd=%q, err=%v}", LaunchKernelFailed, a.KernelSpecName, a.Cwd, a.Err)
}

// KernelExitedAction reports that the process of a kernel has exited.
type KernelExitedAction struct {
	KernelID string
	ExitCode int
}

func (a KernelExitedAction) Type() Type { return KernelExited }

func (a KernelExitedAction) String() string {
	return fmt.Sprintf("%s{kernel=%s, exitCode=%d}", KernelExited, a.KernelID, a.ExitCode)
}
