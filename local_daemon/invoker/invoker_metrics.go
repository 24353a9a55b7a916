package invoker

import (
	"time"
)

// LaunchMetricsProvider is an exported interface that exposes an API for publishing kernel launch metrics.
type LaunchMetricsProvider interface {
	// AddKernelLaunchLatencyObservation records how long it took to spawn a kernel of the given spec.
	AddKernelLaunchLatencyObservation(kernelSpecName string, latency time.Duration) error

	// IncrementKernelLaunchFailures records a failed launch of the given spec.
	IncrementKernelLaunchFailures(kernelSpecName string) error
}
