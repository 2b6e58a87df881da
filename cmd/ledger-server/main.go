// Package main provides the evidence ledger server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/proofpulse/evidence-ledger/internal/config"
	"github.com/proofpulse/evidence-ledger/internal/db"
	"github.com/proofpulse/evidence-ledger/internal/server"
	"github.com/proofpulse/evidence-ledger/pkg/attest"
	"github.com/proofpulse/evidence-ledger/pkg/audit"
	"github.com/proofpulse/evidence-ledger/pkg/authz"
	"github.com/proofpulse/evidence-ledger/pkg/blobstore"
	"github.com/proofpulse/evidence-ledger/pkg/cache"
	"github.com/proofpulse/evidence-ledger/pkg/ha"
	"github.com/proofpulse/evidence-ledger/pkg/jobs"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

var version = "dev"

func main() {
	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	cmd := &cobra.Command{
		Use:          "ledger-server",
		Short:        "Tamper-evident evidence ledger service",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			run(cfg)
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) {
	logger, err := config.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		glog.Fatalf("Invalid logging configuration: %v", err)
	}
	slog.SetDefault(logger)

	logger.Info("starting evidence ledger",
		"version", version,
		"listen", cfg.Listen,
		"dbType", cfg.DB.Type,
		"chainLockMode", cfg.HA.ChainLockMode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gormDB, err := db.Open(cfg.DB)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	store := ledger.NewEventStore(gormDB)
	auditStore := audit.NewStore(gormDB)
	sweepStore := jobs.NewRunStore(gormDB)
	migrateAll := func() error {
		for _, m := range []func() error{store.AutoMigrate, auditStore.AutoMigrate, sweepStore.AutoMigrate} {
			if err := m(); err != nil {
				return err
			}
		}
		return nil
	}
	migrate := migrateAll
	if cfg.HA.MigrationLockEnabled {
		locker := ha.NewMigrationLocker(gormDB, cfg.HA.Identity)
		migrate = func() error { return locker.WithLock(ctx, migrateAll) }
	}
	if err := migrate(); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	chainLocker, err := ha.NewChainLocker(gormDB, cfg.HA.ChainLockMode)
	if err != nil {
		glog.Fatalf("Failed to configure chain lock: %v", err)
	}
	engine := ledger.NewEngine(store,
		ledger.WithChainLocker(chainLocker),
		ledger.WithLogger(logger),
	)

	keys, err := attest.LoadKeys(cfg.Keys, logger)
	if err != nil {
		glog.Fatalf("Failed to load attestation key: %v", err)
	}
	bundles, err := blobstore.New(cfg.Blob)
	if err != nil {
		glog.Fatalf("Failed to create bundle store: %v", err)
	}
	bundles = blobstore.NewCachedStore(bundles, cache.New(cfg.Cache))

	roleExtractor, err := authz.NewRoleExtractor(withLogger(cfg.Auth, logger))
	if err != nil {
		glog.Fatalf("Failed to configure auth: %v", err)
	}

	opts := []server.ServerOption{
		server.WithAttestation(
			attest.NewAttestor(engine, keys,
				attest.WithBlobStore(bundles),
				attest.WithDefaultIssuer(cfg.Issuer),
				attest.WithDownloadPath(server.BasePath+"/attestations/"),
				attest.WithAttestorLogger(logger),
			),
			attest.NewVerifier(engine, attest.WithRepairHistory(engine)),
		),
		server.WithRoleExtractor(roleExtractor),
		server.WithIdempotency(cfg.Idempotency),
	}

	sweeper := jobs.NewSweeper(engine, sweepStore, cfg.Sweep, logger)
	opts = append(opts, server.WithSweeps(sweepStore, sweeper))
	sweepsDone := make(chan struct{})
	go func() {
		defer close(sweepsDone)
		sweeper.Run(ctx)
	}()

	if cfg.Audit.Enabled {
		opts = append(opts, server.WithAudit(auditStore, cfg.Audit))
		go audit.NewRetentionWorker(auditStore, cfg.Audit.RetentionDays, logger).Run(ctx)
	}
	srv := server.NewServer(engine, logger, opts...)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("evidence ledger ready",
		"listen", cfg.Listen,
		"publicKeyB64", keys.PublicKeyBase64(),
		"authMode", cfg.Auth.Mode,
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	<-sweepsDone
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("evidence ledger stopped")
}

func withLogger(cfg *authz.Config, logger *slog.Logger) *authz.Config {
	out := *cfg
	out.JWT.Logger = logger
	return &out
}
