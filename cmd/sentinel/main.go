// Package main is the entry point for Sentinel, an autonomous equities
// day-trading engine built around the pattern-day-trader threshold for
// small accounts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/sentinel/internal/broker"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/funnel"
	"github.com/aristath/sentinel/internal/gapguard"
	"github.com/aristath/sentinel/internal/marketclock"
	"github.com/aristath/sentinel/internal/orders"
	"github.com/aristath/sentinel/internal/pdt"
	"github.com/aristath/sentinel/internal/reliability"
	"github.com/aristath/sentinel/internal/risk"
	"github.com/aristath/sentinel/internal/regime"
	"github.com/aristath/sentinel/internal/scheduler"
	"github.com/aristath/sentinel/internal/server"
	"github.com/aristath/sentinel/internal/strategy"
	"github.com/aristath/sentinel/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)
	log.Info().Bool("paper_trading", cfg.PaperTrading).Msg("starting sentinel")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	gw := broker.NewGateway(cfg, log)
	if cfg.OrderStreamURL != "" {
		gw.EnableStream(context.Background(), cfg.OrderStreamURL)
	}

	clock := marketclock.New()
	ledger := pdt.New(db, clock)
	riskCore := risk.New(cfg, log)

	var oracle regime.Oracle // nil unless an Intelligence Oracle client is configured
	detector := regime.New(log, oracle, time.Duration(cfg.OracleTimeoutSeconds)*time.Second)

	opportunityFunnel := funnel.New(gw, cfg, log)
	evaluator := strategy.New(cfg)
	lifecycle := orders.New(gw, cfg, log)
	guard := gapguard.New(db, cfg, log)
	bus := events.NewBus(log)

	var backupStore *reliability.BackupStore
	if cfg.S3BackupEnabled {
		backupStore, err = reliability.NewBackupStore(context.Background(), cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3BackupBucket, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize backup store, continuing without S3 backups")
			backupStore = nil
		}
	}

	engine := scheduler.New(cfg, log, scheduler.Deps{
		Gateway:   gw,
		Clock:     clock,
		Ledger:    ledger,
		RiskCore:  riskCore,
		Detector:  detector,
		Funnel:    opportunityFunnel,
		Evaluator: evaluator,
		Lifecycle: lifecycle,
		Guard:     guard,
		Bus:       bus,
		Backups:   backupStore,
	})

	httpServer := server.New(cfg, log, engine, riskCore)
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler exited with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("status server did not shut down cleanly")
	}

	log.Info().Msg("sentinel stopped")
}
