package invoker

import (
	"context"
	"fmt"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
)

//go:generate mockgen -source=invoker.go -destination=../mock_invoker/mock_invoker.go

// KernelLauncher starts kernel processes.
type KernelLauncher interface {
	// Launch starts a kernel of the named kernel spec in cwd. It returns once the process has been
	// spawned; it does not wait for the kernel to become ready. Failures are reported as *LaunchError.
	Launch(ctx context.Context, kernelSpecName string, cwd string) (*LaunchResult, error)
}

// LaunchResult is what a successful launch produces. Process is a *KernelProcess for kernels
// started by the LocalInvoker.
type LaunchResult struct {
	Spec           *KernelSpec
	ConnectionInfo *jupyter.ConnectionInfo
	ConnectionFile string
	Process        client.Process
}

// LaunchError is returned when a kernel spec is unknown or its process could not be started.
type LaunchError struct {
	KernelSpecName string
	Cwd            string
	Err            error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch kernel \"%s\" in \"%s\": %v", e.KernelSpecName, e.Cwd, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// StatusChangedHandler is called when the status of a kernel process changes.
type StatusChangedHandler func(old jupyter.KernelStatus, new jupyter.KernelStatus)
