package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scusemua/notebook-kernel-manager/common/utils"
)

const (
	Namespace = "notebook_kernel_manager"
)

var (
	ErrPrometheusManagerAlreadyRunning = errors.New("prometheus manager is already running")
	ErrPrometheusManagerNotRunning     = errors.New("prometheus manager is not running")
	ErrMetricsNotInitialized           = errors.New("metrics have not been initialized yet")
)

// basePrometheusManager owns the registry and the HTTP endpoint that serves it. The metrics
// themselves are defined by the manager that embeds it, through initializeInstanceMetrics.
type basePrometheusManager struct {
	log logger.Logger

	registry          *prometheus.Registry
	prometheusHandler http.Handler
	engine            *gin.Engine
	httpServer        *http.Server

	// initializeInstanceMetrics is assigned by the embedding manager and registers its metrics.
	initializeInstanceMetrics func(registry *prometheus.Registry) error

	nodeId string
	port   int
	mu     sync.Mutex

	// serving indicates whether the manager has been started and is serving requests.
	serving            bool
	metricsInitialized atomic.Bool
}

func newBasePrometheusManager(port int, nodeId string) *basePrometheusManager {
	registry := prometheus.NewRegistry()
	manager := &basePrometheusManager{
		port:              port,
		nodeId:            nodeId,
		registry:          registry,
		prometheusHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}
	config.InitLogger(&manager.log, manager)
	manager.initializeRoutes()
	return manager
}

// NodeId returns the ID of the daemon the metrics are published for.
func (m *basePrometheusManager) NodeId() string {
	return m.nodeId
}

// Registry returns the registry the metrics are registered with.
func (m *basePrometheusManager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *basePrometheusManager) Handler() http.Handler {
	return m.engine
}

// IsRunning returns true if the manager has been started and not stopped since.
func (m *basePrometheusManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.serving
}

// InitializeMetrics registers the metrics without serving them. Start calls it if needed.
func (m *basePrometheusManager) InitializeMetrics() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initializeMetricsLocked()
}

// Start registers the metrics and begins serving them over HTTP, unless the port is not positive.
func (m *basePrometheusManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.serving {
		m.log.Warn("Prometheus manager for %s is already running.", m.nodeId)
		return ErrPrometheusManagerAlreadyRunning
	}

	if err := m.initializeMetricsLocked(); err != nil {
		return err
	}

	m.serving = true
	m.initializeHttpServer()
	return nil
}

// Stop shuts the HTTP server down.
func (m *basePrometheusManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.serving {
		m.log.Warn("Prometheus manager for %s is not running.", m.nodeId)
		return ErrPrometheusManagerNotRunning
	}

	m.serving = false
	if m.httpServer == nil {
		return nil
	}

	if err := m.httpServer.Shutdown(context.Background()); err != nil {
		m.log.Error("Failed to cleanly shutdown the HTTP server: %v", err)
		return err
	}
	m.httpServer = nil

	return nil
}

// HandleRequest handles Prometheus HTTP requests (when Prometheus is scraping for metrics).
func (m *basePrometheusManager) HandleRequest(c *gin.Context) {
	m.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

func (m *basePrometheusManager) initializeMetricsLocked() error {
	if m.metricsInitialized.Load() {
		return nil
	}

	if m.initializeInstanceMetrics == nil {
		panic("Prometheus manager's `initializeInstanceMetrics` field cannot be nil when initializing metrics.")
	}

	if err := m.initializeInstanceMetrics(m.registry); err != nil {
		return err
	}

	m.metricsInitialized.Store(true)
	return nil
}

func (m *basePrometheusManager) initializeRoutes() {
	m.engine = gin.New()

	// Scrapes are frequent, so requests are not logged.
	m.engine.Use(gin.Recovery())
	m.engine.Use(cors.Default())

	m.engine.GET("/metrics", m.HandleRequest)
}

func (m *basePrometheusManager) initializeHttpServer() {
	if m.port <= 0 {
		m.log.Debug("Prometheus Port is set to %d. Not serving HTTP server.", m.port)
		return
	}

	address := fmt.Sprintf("0.0.0.0:%d", m.port)
	server := &http.Server{
		Addr:    address,
		Handler: m.engine,
	}
	m.httpServer = server

	go func() {
		m.log.Debug("Serving Prometheus metrics at %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error(utils.RedStyle.Render("HTTP Server failed to listen on '%s'. Error: %v"), address, err)
		}
	}()
}
