// Package server wires the proxy components together and manages their
// lifecycle: the relay server, the admin surface, background memory writes
// and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"github.com/unrolled/secure"

	appconfig "github.com/lewisedginton/recall-proxy/internal/config"
	"github.com/lewisedginton/recall-proxy/internal/embedding"
	"github.com/lewisedginton/recall-proxy/internal/memory_store"
	"github.com/lewisedginton/recall-proxy/internal/middleware"
	"github.com/lewisedginton/recall-proxy/internal/monitoring"
	"github.com/lewisedginton/recall-proxy/internal/proxy"
	"github.com/lewisedginton/recall-proxy/internal/storage_manager"
	"github.com/lewisedginton/recall-proxy/pkg/logger"
	"github.com/lewisedginton/recall-proxy/pkg/metrics"
)

const (
	shutdownTimeout = 15 * time.Second
	drainTimeout    = 10 * time.Second
)

// Server encapsulates all proxy components and lifecycle management.
type Server struct {
	cfg            *appconfig.AppConfig
	log            logger.Logger
	storageManager *storage_manager.StorageManager
	store          *memory_store.Store
	embedder       embedding.Embedder
	proxyHandler   *proxy.Handler
	metrics        *metrics.Metrics
	cancel         context.CancelFunc
}

// New creates a Server instance with all components initialized.
func New(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger) (*Server, error) {
	s := &Server{
		cfg: cfg,
		log: log,
	}

	var err error
	s.storageManager, err = s.createStorageManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage manager: %w", err)
	}

	// Memory snapshots live under their own namespace so other artifacts can
	// share the same backend later.
	s.store, err = memory_store.New(ctx, memory_store.Config{
		Dimension:    cfg.Embedding.Dimension,
		FileProvider: s.storageManager.GetProvider("memory"),
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	log.Info("Memory store initialized", logger.IntField("records", s.store.Count()))

	s.embedder, err = s.createEmbedder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	s.metrics = metrics.NewMetrics(log)
	s.metrics.MemoryRecordsGauge.Set(float64(s.store.Count()))

	s.proxyHandler, err = proxy.NewHandler(proxy.Config{
		BackendBaseURL: cfg.Backend.BaseURL,
		ConnectTimeout: cfg.Backend.ConnectTimeout,
		ReadTimeout:    cfg.Backend.ReadTimeout,
		Search:         cfg.Search,
		Context:        cfg.Context,
		Store:          s.store,
		Embedder:       s.embedder,
		Logger:         log,
		Metrics:        s.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy handler: %w", err)
	}

	return s, nil
}

// Run starts the relay and admin servers and blocks until shutdown.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	defer cancel()

	s.setupGracefulShutdown()

	relayServer := &http.Server{
		Addr:              s.cfg.Proxy.ListenAddr(),
		Handler:           s.relayHandler(),
		ReadHeaderTimeout: s.cfg.Proxy.ReadHeaderTimeout,
	}
	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Health.Port),
		Handler:           s.adminHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		s.log.Info("Relay server listening",
			logger.StringField("addr", relayServer.Addr),
			logger.StringField("backend", s.cfg.Backend.BaseURL))
		if err := relayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("relay server failed: %w", err)
			cancel()
		}
	}()

	if s.cfg.Health.Enabled {
		go func() {
			s.log.Info("Admin server listening", logger.IntField("port", s.cfg.Health.Port))
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin server failed: %w", err)
				cancel()
			}
		}()
	}

	if s.cfg.Monitoring.MetricsEnabled {
		go func() {
			if err := s.metrics.Listen(ctx, s.cfg.Monitoring.MetricsPort); err != nil {
				s.log.Error("Metrics server failed", logger.ErrorField(err))
			}
		}()
	}

	<-ctx.Done()
	s.log.Info("Shutting down")

	var result error
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout) //nolint:contextcheck // New context needed for shutdown
	defer shutdownCancel()

	if err := relayServer.Shutdown(shutdownCtx); err != nil { //nolint:contextcheck // Using new context for graceful shutdown
		result = multierror.Append(result, fmt.Errorf("relay shutdown: %w", err))
	}
	if s.cfg.Health.Enabled {
		if err := adminServer.Shutdown(shutdownCtx); err != nil { //nolint:contextcheck // Using new context for graceful shutdown
			result = multierror.Append(result, fmt.Errorf("admin shutdown: %w", err))
		}
	}

	// Let in-flight background writes land, then snapshot one last time.
	s.proxyHandler.Drain(drainTimeout)
	if err := s.store.Save(shutdownCtx); err != nil { //nolint:contextcheck // Using new context for shutdown save
		result = multierror.Append(result, fmt.Errorf("final memory save: %w", err))
	}

	select {
	case err := <-errCh:
		result = multierror.Append(result, err)
	default:
	}

	s.log.Info("Shutdown complete", logger.IntField("records", s.store.Count()))
	return result
}

// relayHandler builds the client-facing handler chain. Only recovery, logging
// and metrics wrap the relay; nothing that rewrites bytes.
func (s *Server) relayHandler() http.Handler {
	var handler http.Handler = s.proxyHandler.Routes()
	handler = s.metrics.HTTPMiddleware(handler)
	handler = s.log.HTTPMiddleware(handler)
	handler = middleware.Recovery(middleware.DefaultRecoveryConfig(s.log))(handler)
	return handler
}

// adminHandler builds the health and stats surface. CORS and security headers
// apply here and only here.
func (s *Server) adminHandler() http.Handler {
	healthMonitor := monitoring.NewHealthMonitor(monitoring.Config{
		Logger:     s.log,
		BackendURL: s.cfg.Backend.BaseURL,
		Store:      s.store,
		Timeout:    s.cfg.Health.Timeout,
	})

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recovery(middleware.DefaultRecoveryConfig(s.log)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Health.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	r.Use(secureMiddleware.Handler)

	r.Get(s.cfg.Health.LivenessPath, healthMonitor.LivenessHandler())
	r.Get(s.cfg.Health.ReadinessPath, healthMonitor.ReadinessHandler())
	r.Get("/proxy/stats", healthMonitor.StatsHandler(func() any {
		stats := s.store.GetStats()
		return map[string]any{
			"count":           stats.Count,
			"dimension":       stats.Dimension,
			"index_type":      stats.IndexType,
			"storage_backend": s.cfg.Memory.Backend,
		}
	}))

	return r
}

// createStorageManager creates a storage manager based on configuration.
func (s *Server) createStorageManager(ctx context.Context) (*storage_manager.StorageManager, error) {
	cfg := &s.cfg.Memory

	switch cfg.Backend {
	case "local":
		s.log.Info("Using local snapshot storage", logger.StringField("directory", cfg.LocalDir))

		// 0750 needed for directory traversal
		if err := os.MkdirAll(cfg.LocalDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}

		return storage_manager.New(storage_manager.Config{
			Backend: storage_manager.BackendLocal,
			LocalConfig: &storage_manager.LocalConfig{
				BaseDir: cfg.LocalDir,
			},
		})

	case "s3":
		s.log.Info("Using S3 snapshot storage",
			logger.StringField("bucket", cfg.S3Bucket),
			logger.StringField("prefix", cfg.S3Prefix),
			logger.StringField("region", cfg.S3Region))

		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required when using S3 storage")
		}

		configOptions := []func(*awsconfig.LoadOptions) error{}
		if cfg.S3Profile != "" {
			configOptions = append(configOptions, awsconfig.WithSharedConfigProfile(cfg.S3Profile))
		}
		if cfg.S3Region != "" {
			configOptions = append(configOptions, awsconfig.WithRegion(cfg.S3Region))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		return storage_manager.New(storage_manager.Config{
			Backend: storage_manager.BackendS3,
			S3Config: &storage_manager.S3Config{
				Bucket: cfg.S3Bucket,
				Prefix: cfg.S3Prefix,
				Client: s3.NewFromConfig(awsCfg),
			},
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'local' or 's3')", cfg.Backend)
	}
}

// createEmbedder builds the configured embedder and warms it up so the first
// proxied request does not pay model-load latency.
func (s *Server) createEmbedder(ctx context.Context) (embedding.Embedder, error) {
	embCfg := s.cfg.Embedding
	if embCfg.BaseURL == "" {
		// An Ollama backend can serve its own embeddings.
		embCfg.BaseURL = s.cfg.Backend.BaseURL
	}

	embedder, err := embedding.New(embCfg)
	if err != nil {
		return nil, err
	}

	s.log.Info("Warming up embedding model",
		logger.StringField("provider", embCfg.Provider),
		logger.StringField("model", embCfg.Model))
	if _, err := embedder.Embed(ctx, "warmup"); err != nil {
		s.log.Warn("Embedder warmup failed, first request will be slow",
			logger.ErrorField(err))
	}

	return embedder, nil
}

// setupGracefulShutdown sets up signal handling for graceful shutdown.
func (s *Server) setupGracefulShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		s.log.Info("Received shutdown signal", logger.StringField("signal", sig.String()))

		if s.cancel != nil {
			s.cancel()
		}

		// Give processes time to shutdown gracefully, then force exit
		time.AfterFunc(30*time.Second, func() {
			s.log.Warn("Force exiting due to timeout")
			os.Exit(1)
		})
	}()
}
