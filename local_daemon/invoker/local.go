package invoker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/jupyter"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
)

const (
	ConnectionFileFormat = "kernel-%s-*.json" // "*" is a placeholder for random string

	DefaultKernelIP            = "127.0.0.1"
	DefaultShutdownGracePeriod = 5 * time.Second
)

type LocalInvokerOptions struct {
	// ConnectionFileDir is where connection files are written. Defaults to os.TempDir().
	ConnectionFileDir string

	// IP is the address the kernel binds its sockets to.
	IP string

	// ShutdownGracePeriod is how long a kernel has to exit after the launch context is cancelled
	// before it is killed.
	ShutdownGracePeriod time.Duration

	// Stdout and Stderr receive the output of kernel processes. Default to the daemon's own.
	Stdout io.Writer
	Stderr io.Writer
}

// LocalInvoker launches kernels as child processes of the daemon.
type LocalInvoker struct {
	specs   KernelSpecResolver
	opts    LocalInvokerOptions
	metrics LaunchMetricsProvider

	log logger.Logger
}

func NewLocalInvoker(specs KernelSpecResolver, metrics LaunchMetricsProvider, opts LocalInvokerOptions) *LocalInvoker {
	if opts.IP == "" {
		opts.IP = DefaultKernelIP
	}
	if opts.ShutdownGracePeriod <= 0 {
		opts.ShutdownGracePeriod = DefaultShutdownGracePeriod
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	invoker := &LocalInvoker{
		specs:   specs,
		opts:    opts,
		metrics: metrics,
	}
	config.InitLogger(&invoker.log, invoker)
	return invoker
}

func (ivk *LocalInvoker) Launch(ctx context.Context, kernelSpecName string, cwd string) (*LaunchResult, error) {
	startedAt := time.Now()

	result, err := ivk.launch(ctx, kernelSpecName, cwd)
	if err != nil {
		ivk.log.Error(utils.RedStyle.Render("Failed to launch kernel \"%s\": %v"), kernelSpecName, err)
		if ivk.metrics != nil {
			_ = ivk.metrics.IncrementKernelLaunchFailures(kernelSpecName)
		}
		return nil, &LaunchError{KernelSpecName: kernelSpecName, Cwd: cwd, Err: err}
	}

	latency := time.Since(startedAt)
	ivk.log.Debug(utils.GreenStyle.Render("Launched kernel \"%s\" (pid %d) in %v."), kernelSpecName, result.Process.Pid(), latency)
	if ivk.metrics != nil {
		_ = ivk.metrics.AddKernelLaunchLatencyObservation(kernelSpecName, latency)
	}

	return result, nil
}

func (ivk *LocalInvoker) launch(ctx context.Context, kernelSpecName string, cwd string) (*LaunchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spec, err := ivk.specs.Get(kernelSpecName)
	if err != nil {
		return nil, err
	}

	// Looking for available ports
	connectionInfo, err := ivk.prepareConnectionInfo(spec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reserve kernel ports")
	}

	// Write connection file and replace placeholders within the command line
	path, err := ivk.writeConnectionFile(ivk.opts.ConnectionFileDir, spec.Name, connectionInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to write connection file")
	}

	argv := make([]string, len(spec.Argv))
	for i, arg := range spec.Argv {
		arg = strings.ReplaceAll(arg, ConnectionFileMarker, path)
		argv[i] = strings.ReplaceAll(arg, ResourceDirMarker, spec.ResourceDir)
	}

	ivk.log.Debug("Launching kernel \"%s\" in \"%s\"", strings.Join(argv, " "), cwd)
	process, err := ivk.startProcess(ctx, spec, argv, cwd)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	return &LaunchResult{
		Spec:           spec,
		ConnectionInfo: connectionInfo,
		ConnectionFile: path,
		Process:        process,
	}, nil
}

func (ivk *LocalInvoker) prepareConnectionInfo(spec *KernelSpec) (*jupyter.ConnectionInfo, error) {
	connectionInfo := &jupyter.ConnectionInfo{
		IP:              ivk.opts.IP,
		Transport:       "tcp",
		SignatureScheme: messaging.JupyterSignatureScheme,
		Key:             uuid.New().String(),
		KernelName:      spec.Name,
	}

	// Reserve ports for the kernel. They are released again before the kernel binds them.
	socks := make([]net.Listener, 5)
	for i := 0; i < len(socks); i++ {
		conn, err := net.Listen("tcp", fmt.Sprintf("%s:0", connectionInfo.IP))
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		socks[i] = conn
	}

	connectionInfo.ControlPort = socks[0].Addr().(*net.TCPAddr).Port
	connectionInfo.ShellPort = socks[1].Addr().(*net.TCPAddr).Port
	connectionInfo.StdinPort = socks[2].Addr().(*net.TCPAddr).Port
	connectionInfo.IOPubPort = socks[3].Addr().(*net.TCPAddr).Port
	connectionInfo.HBPort = socks[4].Addr().(*net.TCPAddr).Port
	return connectionInfo, nil
}

func (ivk *LocalInvoker) writeConnectionFile(dir string, name string, info *jupyter.ConnectionInfo) (string, error) {
	jsonContent, err := json.Marshal(info)
	if err != nil {
		ivk.log.Error("Failed to marshal connection info because: %v", err)
		return "", err
	}

	f, err := os.CreateTemp(dir, fmt.Sprintf(ConnectionFileFormat, name))
	if err != nil {
		ivk.log.Error("CreateTemp(\"%s\", \"%s\") failed because: %v", dir, fmt.Sprintf(ConnectionFileFormat, name), err)
		return "", err
	}
	defer f.Close()

	ivk.log.Debug("Writing connection file \"%s\": %s", f.Name(), info.String())
	if _, err = f.Write(jsonContent); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}

	// The file holds the signing key.
	if err = f.Chmod(0600); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}

func (ivk *LocalInvoker) startProcess(ctx context.Context, spec *KernelSpec, argv []string, cwd string) (*KernelProcess, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Stdout = ivk.opts.Stdout
	cmd.Stderr = ivk.opts.Stderr
	cmd.Env = os.Environ()
	for key, value := range spec.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	// Give the kernel a chance to exit on its own when ctx is cancelled.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = ivk.opts.ShutdownGracePeriod

	process := newKernelProcess(spec.Name, cmd)
	if err := process.start(); err != nil {
		return nil, err
	}
	return process, nil
}
