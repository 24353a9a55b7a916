package epics

import (
	"context"
	"os"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
	"github.com/scusemua/notebook-kernel-manager/local_daemon/invoker"
)

// LaunchKernelEpic turns launch requests into running kernels. Launches run concurrently and
// independently; each produces either NEW_KERNEL or LAUNCH_KERNEL_FAILED, in completion order.
// A kernel's process exit is reported separately as KERNEL_EXITED.
type LaunchKernelEpic struct {
	launcher   invoker.KernelLauncher
	factory    channel.Factory
	clientOpts client.KernelClientOptions

	log logger.Logger
}

func NewLaunchKernelEpic(launcher invoker.KernelLauncher, factory channel.Factory, clientOpts client.KernelClientOptions) *LaunchKernelEpic {
	epic := &LaunchKernelEpic{
		launcher:   launcher,
		factory:    factory,
		clientOpts: clientOpts,
	}
	config.InitLogger(&epic.log, epic)
	return epic
}

func (e *LaunchKernelEpic) Name() string {
	return "LaunchKernel"
}

func (e *LaunchKernelEpic) Accepts(typ actions.Type) bool {
	return typ == actions.LaunchKernel
}

func (e *LaunchKernelEpic) Handle(ctx context.Context, action actions.Action, dispatcher Dispatcher) error {
	launch, ok := action.(actions.LaunchKernelAction)
	if !ok {
		return &ErrUnexpectedAction{Epic: e.Name(), Action: action}
	}

	if launch.KernelSpecName == "" {
		return jupyter.ErrMissingKernelSpec
	}

	dispatcher.Go(func() {
		e.launch(ctx, launch, dispatcher)
	})
	return nil
}

func (e *LaunchKernelEpic) launch(ctx context.Context, launch actions.LaunchKernelAction, dispatcher Dispatcher) {
	span, spanCtx := opentracing.StartSpanFromContext(ctx, "LaunchKernel")
	span.SetTag("kernel_spec", launch.KernelSpecName)
	span.SetTag("cwd", launch.Cwd)
	defer span.Finish()

	fail := func(err error) {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", err.Error())
		dispatcher.Dispatch(actions.LaunchKernelFailedAction{KernelSpecName: launch.KernelSpecName, Cwd: launch.Cwd, Err: err})
	}

	result, err := e.launcher.Launch(spanCtx, launch.KernelSpecName, launch.Cwd)
	if err != nil {
		fail(err)
		return
	}

	identity := uuid.NewString()
	span.SetTag("kernel_id", identity)

	channels, err := channel.NewSet(e.factory, identity, result.ConnectionInfo)
	if err != nil {
		e.log.Error(utils.RedStyle.Render("Failed to connect to kernel \"%s\" (pid %d): %v"), launch.KernelSpecName, result.Process.Pid(), err)
		e.abandon(result)
		fail(&invoker.LaunchError{KernelSpecName: launch.KernelSpecName, Cwd: launch.Cwd, Err: err})
		return
	}

	kernel := client.NewKernelClient(ctx, identity, launch.KernelSpecName, result.ConnectionInfo,
		result.ConnectionFile, result.Process, channels, e.clientOpts)

	e.log.Debug(utils.LightBlueStyle.Render("Kernel %s of kernel spec \"%s\" is up (pid %d)."), identity, launch.KernelSpecName, result.Process.Pid())
	dispatcher.Dispatch(actions.NewKernelAction{Kernel: kernel})

	dispatcher.Go(func() {
		e.watchExit(kernel, dispatcher)
	})
}

// watchExit reports the exit of a kernel's process, unless the kernel is torn down first.
func (e *LaunchKernelEpic) watchExit(kernel *client.KernelClient, dispatcher Dispatcher) {
	select {
	case <-kernel.Process().Exited():
		if kernel.Context().Err() != nil {
			// Torn down first: the exit is the teardown's doing.
			return
		}
		code, _ := kernel.Process().ExitCode()
		e.log.Debug("Process of kernel %s exited with code %d.", kernel.ID(), code)
		dispatcher.Dispatch(actions.KernelExitedAction{KernelID: kernel.ID(), ExitCode: code})
	case <-kernel.Context().Done():
	}
}

func (e *LaunchKernelEpic) abandon(result *invoker.LaunchResult) {
	if err := result.Process.Kill(); err != nil {
		e.log.Warn("Failed to kill abandoned kernel process %d: %v", result.Process.Pid(), err)
	}
	if err := os.Remove(result.ConnectionFile); err != nil && !os.IsNotExist(err) {
		e.log.Warn("Failed to remove connection file \"%s\": %v", result.ConnectionFile, errors.WithStack(err))
	}
}
