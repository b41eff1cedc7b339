// Package main is the entry point for papertrader, a simulated trading
// dashboard backend. It admits trades from the recommendation service,
// polls them to completion and keeps the portfolio ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/papertrader/internal/clients/recommendation"
	"github.com/aristath/papertrader/internal/clients/yahoo"
	"github.com/aristath/papertrader/internal/config"
	"github.com/aristath/papertrader/internal/database"
	"github.com/aristath/papertrader/internal/events"
	"github.com/aristath/papertrader/internal/metrics"
	"github.com/aristath/papertrader/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/papertrader/internal/modules/ledger/handlers"
	"github.com/aristath/papertrader/internal/modules/portfolio"
	portfoliohandlers "github.com/aristath/papertrader/internal/modules/portfolio/handlers"
	"github.com/aristath/papertrader/internal/modules/stocks"
	stockshandlers "github.com/aristath/papertrader/internal/modules/stocks/handlers"
	"github.com/aristath/papertrader/internal/modules/trading"
	tradinghandlers "github.com/aristath/papertrader/internal/modules/trading/handlers"
	"github.com/aristath/papertrader/internal/reliability"
	"github.com/aristath/papertrader/internal/scheduler"
	"github.com/aristath/papertrader/internal/server"
	"github.com/aristath/papertrader/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting papertrader")

	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate ledger database")
	}

	store := ledger.NewStore(ledgerDB.Conn(), cfg.Trading.StartingBalance, log)

	// Events: in-process bus for streams, optional broker fan-out
	bus := events.NewBus()
	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("AMQP unavailable, events stay in-process")
		} else {
			defer amqpPublisher.Close()
			publisher = amqpPublisher
		}
	}
	eventManager := events.NewManager(bus, publisher, log)

	m := metrics.New()

	recClient := recommendation.NewClient(cfg.RecommendationServiceURL, cfg.RecommendationRPS, log)

	orchestrator := trading.NewOrchestrator(
		recClient,
		store,
		trading.Config{
			MaxActiveTrades: cfg.Trading.MaxActiveTrades,
			PollGraceDelay:  cfg.Trading.PollGraceDelay,
			PollInterval:    cfg.Trading.PollInterval,
			PollMaxAttempts: cfg.Trading.PollMaxAttempts,
		},
		eventManager,
		m,
		log,
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orchestrator.Recover(startupCtx); err != nil {
		startupCancel()
		log.Fatal().Err(err).Msg("Failed to load ledger state")
	}
	startupCancel()

	portfolioService := portfolio.NewPortfolioService(store, eventManager, log)

	yahooClient := yahoo.NewClient(log)
	if cfg.YahooChartURL != "" {
		yahooClient.SetBaseURL(cfg.YahooChartURL)
	}
	stocksService := stocks.NewService(yahooClient, log)

	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, orchestrator, ledgerDB, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	srv := server.New(server.Config{
		Log:      log,
		LedgerDB: ledgerDB,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		EventBus: bus,
		Metrics:  m,
		Trading:  orchestrator,
		Jobs:     sched,
		Modules: []server.RouteRegistrar{
			tradinghandlers.NewTradingHandlers(orchestrator, store, log),
			portfoliohandlers.NewHandler(portfolioService, log),
			ledgerhandlers.NewHandler(store, log),
			stockshandlers.NewHandler(stocksService, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	sched.Start()

	if cfg.Trading.AutoStart {
		orchestrator.Start()
	}

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// No new admissions, then fail whatever is still in flight
	sched.Stop()
	orchestrator.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJobs wires the periodic jobs: admission, mirror refresh, WAL and
// integrity maintenance, and the optional off-site backup.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	orchestrator *trading.Orchestrator,
	ledgerDB *database.DB,
	log zerolog.Logger,
) error {
	admission := cfg.Trading.AdmissionInterval
	if err := sched.AddJob(every(admission), scheduler.NewAdmissionJob(orchestrator, admission+30*time.Second)); err != nil {
		return fmt.Errorf("failed to register admission job: %w", err)
	}

	refresh := cfg.Trading.RefreshInterval
	if err := sched.AddJob(every(refresh), scheduler.NewRefreshJob(orchestrator, refresh)); err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}

	walJob := scheduler.NewCheckWALCheckpointsJob(ledgerDB)
	walJob.SetLogger(log)
	if err := sched.AddJob("0 */15 * * * *", walJob); err != nil {
		return fmt.Errorf("failed to register WAL job: %w", err)
	}

	if err := sched.AddJob("0 30 2 * * *", reliability.NewMaintenanceJob(ledgerDB, cfg.DataDir, log)); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if !cfg.Backup.Enabled() {
		log.Info().Msg("Off-site backup disabled (BACKUP_S3_BUCKET not set)")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	objectStore, err := reliability.NewS3Store(ctx, cfg.Backup, log)
	if err != nil {
		return fmt.Errorf("failed to create backup store: %w", err)
	}
	backupService := reliability.NewBackupService(
		ledgerDB,
		objectStore,
		cfg.Backup.Prefix,
		cfg.DataDir,
		cfg.Backup.RetentionDays,
		log,
	)
	if err := sched.AddJob(cfg.Backup.Schedule, scheduler.NewBackupJob(backupService, 30*time.Minute)); err != nil {
		return fmt.Errorf("failed to register backup job: %w", err)
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
