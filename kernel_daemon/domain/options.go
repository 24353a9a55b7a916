package domain

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/configuration"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-manager/local_daemon/invoker"
)

const (
	DefaultShutdownGracePeriodMs = int(client.DefaultShutdownGracePeriod / time.Millisecond)
	DefaultKernelIP              = invoker.DefaultKernelIP
)

var (
	ErrInvalidOption = errors.New("invalid option")
)

type KernelDaemonOptions struct {
	config.LoggerOptions        `yaml:",inline" json:"logger_options"`
	configuration.CommonOptions `yaml:",inline" json:"common_options"`

	ID                string `name:"id"                 json:"id"                 yaml:"id"                 description:"ID of the daemon, used to label its metrics. Generated if empty."`
	NotebookPath      string `name:"notebook"           json:"notebook"           yaml:"notebook"           description:"Notebook whose kernel is launched on startup."`
	KernelSpecName    string `name:"kernel"             json:"kernel"             yaml:"kernel"             description:"Kernel spec launched on startup when no notebook is given."`
	KernelCwd         string `name:"cwd"                json:"cwd"                yaml:"cwd"                description:"Working directory of a kernel launched with -kernel. Defaults to the current directory."`
	KernelSpecDirs    string `name:"kernelspec_dirs"    json:"kernelspec_dirs"    yaml:"kernelspec_dirs"    description:"Jupyter data directories to search for kernel specs, separated by the OS path list separator. Defaults to the Jupyter search path."`
	ConnectionFileDir string `name:"connection_dir"     json:"connection_dir"     yaml:"connection_dir"     description:"Directory in which kernel connection files are written. Defaults to the OS temp directory."`
	KernelIP          string `name:"ip"                 json:"ip"                 yaml:"ip"                 description:"IP address the kernels listen on."`

	ShutdownGracePeriodMs int `name:"shutdown_grace_ms" json:"shutdown_grace_ms" yaml:"shutdown_grace_ms" description:"How long, in milliseconds, a kernel has to exit before it is killed."`
	RequestTimeoutMs      int `name:"request_timeout_ms" json:"request_timeout_ms" yaml:"request_timeout_ms" description:"How long, in milliseconds, a request to a kernel waits for its reply. 0 waits forever."`
}

// Validate rejects inconsistent options. Defaults are applied by the accessors below, so that
// values read from a yaml file are never mistaken for explicitly set flags.
func (o *KernelDaemonOptions) Validate() error {
	if o.RequestTimeoutMs < 0 {
		return errors.Wrapf(ErrInvalidOption, "\"request_timeout_ms\" must not be negative, got %d", o.RequestTimeoutMs)
	}

	if o.NotebookPath != "" && o.KernelSpecName != "" {
		return errors.Wrap(ErrInvalidOption, "\"notebook\" and \"kernel\" are mutually exclusive")
	}

	return nil
}

// ShutdownGracePeriod returns the shutdown grace period as a duration.
func (o *KernelDaemonOptions) ShutdownGracePeriod() time.Duration {
	if o.ShutdownGracePeriodMs <= 0 {
		return time.Duration(DefaultShutdownGracePeriodMs) * time.Millisecond
	}
	return time.Duration(o.ShutdownGracePeriodMs) * time.Millisecond
}

// RequestTimeout returns the request timeout as a duration. Zero means no timeout.
func (o *KernelDaemonOptions) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutMs) * time.Millisecond
}

// IP returns the address the kernels listen on.
func (o *KernelDaemonOptions) IP() string {
	if o.KernelIP == "" {
		return DefaultKernelIP
	}
	return o.KernelIP
}

// DataDirs returns the directories to search for kernel specs.
func (o *KernelDaemonOptions) DataDirs() []string {
	if o.KernelSpecDirs == "" {
		return invoker.JupyterDataDirs()
	}

	var dirs []string
	for _, dir := range filepath.SplitList(o.KernelSpecDirs) {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// ClientOptions returns the options of the kernels the daemon launches.
func (o *KernelDaemonOptions) ClientOptions() client.KernelClientOptions {
	return client.KernelClientOptions{
		RequestTimeout:      o.RequestTimeout(),
		ShutdownGracePeriod: o.ShutdownGracePeriod(),
	}
}

// InvokerOptions returns the options of the local kernel invoker.
func (o *KernelDaemonOptions) InvokerOptions() invoker.LocalInvokerOptions {
	return invoker.LocalInvokerOptions{
		ConnectionFileDir:   o.ConnectionFileDir,
		IP:                  o.IP(),
		ShutdownGracePeriod: o.ShutdownGracePeriod(),
	}
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *KernelDaemonOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(o, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *KernelDaemonOptions) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}

	return string(m)
}
