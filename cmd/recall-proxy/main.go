package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/lewisedginton/recall-proxy/internal/config"
	"github.com/lewisedginton/recall-proxy/internal/server"
	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file, env vars take precedence")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger(logger.Config{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
	})
	cfg.LogConfig(appLogger)

	srv, err := server.New(context.Background(), cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize server", logger.ErrorField(err))
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		appLogger.Error("Server exited with error", logger.ErrorField(err))
		os.Exit(1)
	}
}
