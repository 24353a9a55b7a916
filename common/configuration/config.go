package configuration

import (
	"strings"

	"github.com/goccy/go-json"
)

// CommonOptions includes the configuration parameters shared by every daemon binary.
type CommonOptions struct {
	JaegerAddr     string `name:"jaeger"          json:"jaeger"          yaml:"jaeger"          description:"Jaeger agent address. Tracing is disabled when empty."`
	PrometheusPort int    `name:"prometheus_port" json:"prometheus_port" yaml:"prometheus_port" description:"The port on which the daemon serves Prometheus metrics. Metrics are not served when not positive."`
	DebugPort      int    `name:"debug_port"      json:"debug_port"      yaml:"debug_port"      description:"The port for the debug HTTP server."`
	DebugMode      bool   `name:"debug_mode"      json:"debug_mode"      yaml:"debug_mode"      description:"Enable the debug HTTP server."`

	// PrettyPrintOptions, when true, instructs the driver to pretty-print the options when the
	// program first begins running.
	PrettyPrintOptions bool `name:"pretty_print_options" json:"pretty_print_options" yaml:"pretty_print_options"`
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (opts *CommonOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(opts, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (opts *CommonOptions) Clone() *CommonOptions {
	clone := *opts
	return &clone
}

func (opts *CommonOptions) String() string {
	m, err := json.Marshal(opts)
	if err != nil {
		panic(err)
	}

	return string(m)
}
