package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KernelPrometheusManager publishes the metrics of a kernel daemon: launches, their latency and
// failures, the kernels that are alive, and the Jupyter messages exchanged with them.
type KernelPrometheusManager struct {
	*basePrometheusManager

	// KernelLaunchLatencyMillisecondsVec is the time taken to spawn a kernel process, in milliseconds.
	KernelLaunchLatencyMillisecondsVec *prometheus.HistogramVec

	// KernelLaunchFailuresCounterVec counts the launches that produced no kernel.
	KernelLaunchFailuresCounterVec *prometheus.CounterVec

	// TotalNumKernelsCounterVec counts every kernel ever launched, running or not.
	TotalNumKernelsCounterVec *prometheus.CounterVec

	// NumActiveKernelsGaugeVec is the number of kernels the daemon currently owns.
	NumActiveKernelsGaugeVec *prometheus.GaugeVec

	// KernelExitsCounterVec counts kernel processes that exited on their own.
	KernelExitsCounterVec *prometheus.CounterVec

	// JupyterMessagesSent counts the messages sent to kernels, by channel and message type.
	JupyterMessagesSent *prometheus.CounterVec

	// JupyterMessagesReceived counts the messages received from kernels, by channel and message type.
	JupyterMessagesReceived *prometheus.CounterVec
}

// NewKernelPrometheusManager creates a KernelPrometheusManager. The metrics are registered when it
// is started, or by InitializeMetrics.
func NewKernelPrometheusManager(port int, nodeId string) *KernelPrometheusManager {
	manager := &KernelPrometheusManager{
		basePrometheusManager: newBasePrometheusManager(port, nodeId),
	}
	manager.initializeInstanceMetrics = manager.initMetrics

	return manager
}

// AddKernelLaunchLatencyObservation records how long it took to spawn a kernel of the given spec.
func (m *KernelPrometheusManager) AddKernelLaunchLatencyObservation(kernelSpecName string, latency time.Duration) error {
	if !m.metricsInitialized.Load() {
		m.log.Warn("Cannot record kernel launch latency observation as metrics have not yet been initialized...")
		return ErrMetricsNotInitialized
	}

	m.KernelLaunchLatencyMillisecondsVec.
		With(prometheus.Labels{"node_id": m.nodeId, "kernel_spec": kernelSpecName}).
		Observe(float64(latency.Milliseconds()))
	m.TotalNumKernelsCounterVec.
		With(prometheus.Labels{"node_id": m.nodeId, "kernel_spec": kernelSpecName}).
		Inc()

	return nil
}

// IncrementKernelLaunchFailures records a failed launch of the given spec.
func (m *KernelPrometheusManager) IncrementKernelLaunchFailures(kernelSpecName string) error {
	if !m.metricsInitialized.Load() {
		m.log.Warn("Cannot record kernel launch failure as metrics have not yet been initialized...")
		return ErrMetricsNotInitialized
	}

	m.KernelLaunchFailuresCounterVec.
		With(prometheus.Labels{"node_id": m.nodeId, "kernel_spec": kernelSpecName}).
		Inc()

	return nil
}

// SetNumActiveKernels records the number of kernels the daemon currently owns.
func (m *KernelPrometheusManager) SetNumActiveKernels(n int) {
	if !m.metricsInitialized.Load() {
		return
	}

	m.NumActiveKernelsGaugeVec.With(prometheus.Labels{"node_id": m.nodeId}).Set(float64(n))
}

// KernelExited records that the process of a kernel of the given spec exited on its own.
func (m *KernelPrometheusManager) KernelExited(kernelSpecName string) {
	if !m.metricsInitialized.Load() {
		return
	}

	m.KernelExitsCounterVec.With(prometheus.Labels{"node_id": m.nodeId, "kernel_spec": kernelSpecName}).Inc()
}

// MessageSent records that a message was written to a kernel channel.
func (m *KernelPrometheusManager) MessageSent(channel string, msgType string) {
	if !m.metricsInitialized.Load() {
		return
	}

	m.JupyterMessagesSent.With(prometheus.Labels{
		"node_id":              m.nodeId,
		"socket_type":          channel,
		"jupyter_message_type": msgType,
	}).Inc()
}

// MessageReceived records that a message was read from a kernel channel.
func (m *KernelPrometheusManager) MessageReceived(channel string, msgType string) {
	if !m.metricsInitialized.Load() {
		return
	}

	m.JupyterMessagesReceived.With(prometheus.Labels{
		"node_id":              m.nodeId,
		"socket_type":          channel,
		"jupyter_message_type": msgType,
	}).Inc()
}

func (m *KernelPrometheusManager) initMetrics(registry *prometheus.Registry) error {
	m.KernelLaunchLatencyMillisecondsVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "kernel_launch_latency_milliseconds",
		Help:      "The latency, in milliseconds, of spawning a kernel process.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	}, []string{"node_id", "kernel_spec"})

	m.KernelLaunchFailuresCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "kernel_launch_failures_total",
		Help:      "The number of kernel launches that failed.",
	}, []string{"node_id", "kernel_spec"})

	m.TotalNumKernelsCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "kernels_total",
		Help:      "Total number of kernels to have ever been launched.",
	}, []string{"node_id", "kernel_spec"})

	m.NumActiveKernelsGaugeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "active_kernels",
		Help:      "Number of kernels currently owned by the daemon.",
	}, []string{"node_id"})

	m.KernelExitsCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "kernel_exits_total",
		Help:      "The number of kernel processes that exited without being shut down.",
	}, []string{"node_id", "kernel_spec"})

	m.JupyterMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_sent_total",
		Help:      "The number of Jupyter messages sent to kernels.",
	}, []string{"node_id", "socket_type", "jupyter_message_type"})

	m.JupyterMessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_received_total",
		Help:      "The number of Jupyter messages received from kernels.",
	}, []string{"node_id", "socket_type", "jupyter_message_type"})

	collectors := map[string]prometheus.Collector{
		"Kernel Launch Latency":    m.KernelLaunchLatencyMillisecondsVec,
		"Kernel Launch Failures":   m.KernelLaunchFailuresCounterVec,
		"Total Number of Kernels":  m.TotalNumKernelsCounterVec,
		"Number of Active Kernels": m.NumActiveKernelsGaugeVec,
		"Kernel Exits":             m.KernelExitsCounterVec,
		"Jupyter Messages Sent":    m.JupyterMessagesSent,
		"Jupyter Messages Recv":    m.JupyterMessagesReceived,
	}
	for name, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			m.log.Error("Failed to register '%s' metric because: %v", name, err)
			return err
		}
	}

	return nil
}
