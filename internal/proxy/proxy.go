// Package proxy implements the transparent relay between LLM clients and the
// Ollama-style backend. POST /api/chat and /api/generate are intercepted for
// memory augmentation; every other request passes through untouched.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/recall-proxy/internal/config"
	"github.com/lewisedginton/recall-proxy/internal/embedding"
	"github.com/lewisedginton/recall-proxy/internal/memory_store"
	"github.com/lewisedginton/recall-proxy/pkg/logger"
	"github.com/lewisedginton/recall-proxy/pkg/metrics"
)

// RefusalFilter reports whether an assistant reply is a generic refusal that
// should not be stored as memory.
type RefusalFilter func(string) bool

// Config holds configuration for the proxy handler.
type Config struct {
	BackendBaseURL string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	Search  config.SearchConfig
	Context config.ContextConfig

	Store    *memory_store.Store
	Embedder embedding.Embedder
	Logger   logger.Logger
	Metrics  *metrics.Metrics

	// RefusalFilter defaults to the built-in phrase list when nil.
	RefusalFilter RefusalFilter
}

// Handler routes proxied requests. Backend connections share one pooled
// client with a connect timeout distinct from the overall read timeout, since
// model generation can legitimately take minutes.
type Handler struct {
	backendURL *url.URL
	client     *http.Client

	store      *memory_store.Store
	embedder   embedding.Embedder
	search     config.SearchConfig
	contextCfg config.ContextConfig
	log        logger.Logger
	metrics  *metrics.Metrics
	refusal  RefusalFilter

	writeWG sync.WaitGroup
}

// NewHandler creates a proxy handler.
func NewHandler(cfg Config) (*Handler, error) {
	backendURL, err := url.Parse(cfg.BackendBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL %q: %w", cfg.BackendBaseURL, err)
	}
	if backendURL.Scheme == "" || backendURL.Host == "" {
		return nil, fmt.Errorf("backend base URL %q must include scheme and host", cfg.BackendBaseURL)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 300 * time.Second
	}

	refusal := cfg.RefusalFilter
	if refusal == nil {
		refusal = IsRefusal
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Handler{
		backendURL: backendURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   readTimeout,
		},
		store:      cfg.Store,
		embedder:   cfg.Embedder,
		search:     cfg.Search,
		contextCfg: cfg.Context,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		refusal:    refusal,
	}, nil
}

// Routes builds the relay router. The intercepted endpoints get memory
// augmentation; any other method or path falls through to the passthrough,
// including methods the intercepted paths do not declare.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/api/chat", h.handleChat)
	r.Post("/api/generate", h.handleGenerate)
	r.NotFound(h.handlePassthrough)
	r.MethodNotAllowed(h.handlePassthrough)
	return r
}

// Drain waits for in-flight background memory writes, up to timeout.
func (h *Handler) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		h.writeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		h.log.Warn("Timed out waiting for background memory writes")
	}
}

// backendTarget resolves a request path against the backend base URL.
func (h *Handler) backendTarget(path, rawQuery string) string {
	target := *h.backendURL
	target.Path = strings.TrimSuffix(target.Path, "/") + path
	target.RawQuery = rawQuery
	return target.String()
}
