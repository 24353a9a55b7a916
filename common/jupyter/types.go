package jupyter

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrNotSupported        = fmt.Errorf("not supported")
	ErrKernelNotLaunched   = fmt.Errorf("kernel not launched")
	ErrKernelClosed        = fmt.Errorf("kernel closed")
	ErrChannelClosed       = fmt.Errorf("channel closed")
	ErrMissingKernelSpec   = fmt.Errorf("kernel launch requires a kernel spec name")
	ErrMissingNotebookData = fmt.Errorf("notebook kernel launch requires notebook data")
	ErrRequestEvicted      = fmt.Errorf("pending request evicted before a reply arrived")
	ErrKernelSpecNotFound  = fmt.Errorf("no such kernel spec")
)

const (
	KernelStatusInitializing KernelStatus = iota - 3
	KernelStatusAbnormal
	KernelStatusRunning
	KernelStatusExited
	KernelStatusError
)

// KernelStatus is the status of a kernel process. Values >= KernelStatusError are process exit codes.
type KernelStatus int32

func (s KernelStatus) String() string {
	switch s {
	case KernelStatusInitializing:
		return "Initializing"
	case KernelStatusAbnormal:
		return "Abnormal"
	case KernelStatusRunning:
		return "Running"
	case KernelStatusExited:
		return "Exited"
	}

	return fmt.Sprintf("Error(%d)", s)
}

// ConnectionInfo stores the contents of the kernel connection file.
// The core never interprets it beyond passing it to the channel factory.
type ConnectionInfo struct {
	IP              string `json:"ip"`
	Transport       string `json:"transport"`
	ControlPort     int    `json:"control_port"`
	ShellPort       int    `json:"shell_port"`
	StdinPort       int    `json:"stdin_port"`
	HBPort          int    `json:"hb_port"`
	IOPubPort       int    `json:"iopub_port"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
	KernelName      string `json:"kernel_name,omitempty"`
}

func (info *ConnectionInfo) String() string {
	m, err := json.Marshal(info)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (info *ConnectionInfo) PrettyString(indentSize int) string {
	m, err := json.MarshalIndent(info, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}

	return string(m)
}

// Address returns the ZMQ endpoint for the given port, e.g. "tcp://127.0.0.1:5555".
func (info *ConnectionInfo) Address(port int) string {
	if info.Transport == "ipc" {
		return fmt.Sprintf("ipc://%s-%d", info.IP, port)
	}

	return fmt.Sprintf("%s://%s:%d", info.Transport, info.IP, port)
}
