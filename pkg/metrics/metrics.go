// Package metrics provides Prometheus metrics collection for the proxy.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lewisedginton/recall-proxy/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	subsystem = "recall_proxy"
)

// Metrics collects proxy-level and memory-level Prometheus metrics.
type Metrics struct {
	reg *prometheus.Registry

	TotalHTTPRequestsCounter prometheus.Counter
	HTTPDurationHistogram    prometheus.Histogram

	MemoryRecordsGauge       prometheus.Gauge
	ContextInjectionsCounter prometheus.Counter
	MemoryWriteFailures      prometheus.Counter

	httpResponseCounters map[int]prometheus.Counter
	countersMux          sync.Mutex

	server *http.Server
	log    logger.Logger
}

// NewMetrics creates a Metrics instance with all proxy collectors registered.
func NewMetrics(l logger.Logger) *Metrics {
	m := &Metrics{
		reg:                  prometheus.NewRegistry(),
		httpResponseCounters: make(map[int]prometheus.Counter),
		log:                  l,
	}

	m.TotalHTTPRequestsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "total_http_requests",
		Help:      "Total HTTP requests handled by the proxy",
	})
	m.reg.MustRegister(m.TotalHTTPRequestsCounter)

	m.HTTPDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{0.1, 0.3, 0.5, 1.0, 3.0, 5.0, 10.0, 30.0, 60.0, 120.0},
	})
	m.reg.MustRegister(m.HTTPDurationHistogram)

	m.MemoryRecordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "memory_records",
		Help:      "Number of records currently held in the memory store",
	})
	m.reg.MustRegister(m.MemoryRecordsGauge)

	m.ContextInjectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "context_injections_total",
		Help:      "Requests that had memory context injected",
	})
	m.reg.MustRegister(m.ContextInjectionsCounter)

	m.MemoryWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "memory_write_failures_total",
		Help:      "Background memory writes that failed",
	})
	m.reg.MustRegister(m.MemoryWriteFailures)

	return m
}

// Handler returns the /metrics HTTP handler for the internal registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Listen starts the metrics HTTP server on the specified port and blocks
// until the context is cancelled.
func (m *Metrics) Listen(ctx context.Context, port int) error {
	m.log.Info("Starting metrics listener", logger.IntField("port", port))
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- m.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		m.log.Info("Stopping metrics listener")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.server.Shutdown(shutdownCtx) //nolint:contextcheck // fresh context needed for shutdown
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// IncrementHTTPResponseCounter increments the counter for the given HTTP status code.
// Counters are registered lazily, one per observed status code.
func (m *Metrics) IncrementHTTPResponseCounter(code int) {
	m.countersMux.Lock()
	counter, ok := m.httpResponseCounters[code]
	if !ok {
		counter = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      fmt.Sprintf("total_%d_http_responses", code),
			Help:      fmt.Sprintf("Total %s HTTP responses returned", http.StatusText(code)),
		})
		m.reg.MustRegister(counter)
		m.httpResponseCounters[code] = counter
	}
	m.countersMux.Unlock()
	counter.Inc()
}

// AddCustomMetric registers a custom Prometheus collector.
func (m *Metrics) AddCustomMetric(c prometheus.Collector) {
	m.reg.MustRegister(c)
}

// statusRecorder captures the response status for metric labels.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMiddleware returns a chi-compatible middleware that tracks request
// counts, per-status counters and duration.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.TotalHTTPRequestsCounter.Inc()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.HTTPDurationHistogram.Observe(time.Since(start).Seconds())
		m.IncrementHTTPResponseCounter(rec.status)
	})
}
