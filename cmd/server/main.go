/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment
  2. Build the structured logger
  3. Initialize SQLite store
  4. Wire registry, ledger, and API handler
  5. Start background expiration sweep
  6. Start server with graceful shutdown

CONFIGURATION (environment):
  SERVER_PORT          HTTP port (default: 8080)
  SERVER_HOST          Bind address (default: 0.0.0.0)
  DB_PATH              SQLite database path (default: ./data/loyalty.db)
                       Use ":memory:" for an in-memory database
  APP_LOG_LEVEL        zerolog level (default: info)
  APP_LOG_FORMAT       json or console (default: json)
  SWEEP_ENABLED        Run the background expiration sweep (default: true)
  SWEEP_INTERVAL       Sweep interval in seconds (default: 3600)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glowdesk/loyalty-engine/api"
	"github.com/glowdesk/loyalty-engine/config"
	"github.com/glowdesk/loyalty-engine/logger"
	"github.com/glowdesk/loyalty-engine/loyalty"
	"github.com/glowdesk/loyalty-engine/store/sqlite"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "loyalty-engine",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
	})

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	registry := loyalty.NewRegistry(store, store)
	ledger := loyalty.NewLedger(store, registry, log)
	handler := api.NewHandler(registry, ledger, log)
	router := api.NewRouter(handler)

	scheduler := api.NewSweepScheduler(handler.Sweeper, log)
	scheduler.Enabled = cfg.Sweep.Enabled
	scheduler.Interval = time.Duration(cfg.Sweep.Interval) * time.Second
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
