// Package monitoring provides liveness and readiness endpoints for the admin
// surface. Readiness probes the Ollama backend and the memory store; liveness
// only proves the process is serving requests.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// StoreStats is the subset of the memory store the monitor reports on.
type StoreStats interface {
	Count() int
	Dimension() int
}

// Config holds configuration for the health monitor.
type Config struct {
	Logger     logger.Logger
	BackendURL string
	Store      StoreStats
	Timeout    time.Duration
}

// HealthMonitor serves the liveness and readiness probes.
type HealthMonitor struct {
	log        logger.Logger
	backendURL string
	store      StoreStats
	client     *http.Client
	startTime  time.Time
}

// NewHealthMonitor creates a health monitor.
func NewHealthMonitor(cfg Config) *HealthMonitor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		log:        cfg.Logger,
		backendURL: cfg.BackendURL,
		store:      cfg.Store,
		client:     &http.Client{Timeout: timeout},
		startTime:  time.Now(),
	}
}

// LivenessHandler returns 200 whenever the process can serve requests.
func (hm *HealthMonitor) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler returns 200 only when the backend answers and the store is
// loaded. A cold backend makes the proxy useless, so it gates readiness.
func (hm *HealthMonitor) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true

		if err := hm.checkBackend(r.Context()); err != nil {
			checks["backend"] = err.Error()
			ready = false
		} else {
			checks["backend"] = "ok"
		}

		if hm.store == nil {
			checks["memory_store"] = "not initialized"
			ready = false
		} else {
			checks["memory_store"] = fmt.Sprintf("ok (%d records)", hm.store.Count())
		}

		response := map[string]interface{}{
			"status":    statusReady,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			response["status"] = statusNotReady
			w.WriteHeader(http.StatusServiceUnavailable)
			hm.log.Error("Readiness check failed")
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// StatsHandler exposes the memory store statistics on the admin surface.
func (hm *HealthMonitor) StatsHandler(stats func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(stats())
	}
}

func (hm *HealthMonitor) checkBackend(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hm.backendURL, nil)
	if err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}
	resp, err := hm.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}
