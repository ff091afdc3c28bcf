package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fintrack/kis-broker/internal/clients/kis"
	"github.com/fintrack/kis-broker/internal/config"
	"github.com/fintrack/kis-broker/internal/database"
	"github.com/fintrack/kis-broker/internal/modules/prices"
	"github.com/fintrack/kis-broker/internal/modules/tokens"
	"github.com/fintrack/kis-broker/internal/scheduler"
	"github.com/fintrack/kis-broker/internal/server"
	"github.com/fintrack/kis-broker/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; this is fatal either way.
		panic(err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting KIS price broker")

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Token plumbing: durable tier, in-process tier, upstream client,
	// refresh coordinator.
	tokenRepo := tokens.NewRepository(db.Conn(), log)
	for _, env := range []config.Environment{config.EnvLive, config.EnvPaper} {
		if err := tokenRepo.EnsureRow(env); err != nil {
			log.Fatal().Err(err).Str("env", env.String()).Msg("Failed to seed token row")
		}
	}

	kisClient := kis.NewClient(cfg, log)
	coordinator := tokens.NewCoordinator(
		tokens.NewMemoryCache(),
		tokenRepo,
		kisClient,
		tokens.CoordinatorConfig{},
		log,
	)

	priceService := prices.NewService(coordinator, kisClient, log)
	priceHandler := prices.NewHandler(priceService, cfg, log)

	// Background maintenance: release claims from crashed refreshers and
	// prune long-dead token rows.
	sched := scheduler.New(log)
	maintenance := tokens.NewMaintenanceJob(tokenRepo, 0, log)
	if err := sched.AddJob("@every 10m", maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}
	sched.Start()
	defer sched.Stop()

	if err := sched.RunNow(maintenance); err != nil {
		log.Warn().Err(err).Msg("Initial token maintenance pass failed")
	}

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:         cfg.Port,
		Log:          log,
		Cfg:          cfg,
		DevMode:      cfg.DevMode,
		PriceHandler: priceHandler,
		TokenRepo:    tokenRepo,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
