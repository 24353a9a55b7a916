package tracing

import (
	"io"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// Init creates a Jaeger tracer reporting every span to the agent at host, and installs it as the
// global tracer. The returned closer flushes and stops the reporter.
func Init(serviceName string, host string) (opentracing.Tracer, io.Closer, error) {
	cfg := &jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans:            false,
			BufferFlushInterval: time.Second,
			LocalAgentHostPort:  host,
		},
	}

	tracer, closer, err := cfg.NewTracer(jaegercfg.Logger(&jaegerLogger{log: config.GetLogger("Jaeger ")}))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot initialize jaeger tracer for agent \"%s\"", host)
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, closer, nil
}

// jaegerLogger routes the reporter's messages to our logger.
type jaegerLogger struct {
	log logger.Logger
}

func (l *jaegerLogger) Error(msg string) {
	l.log.Error("%s", msg)
}

func (l *jaegerLogger) Infof(msg string, args ...interface{}) {
	l.log.Info(msg, args...)
}
