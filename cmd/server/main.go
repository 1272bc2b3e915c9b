package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/chainledger"
	"github.com/facturo/facturo/internal/config"
	"github.com/facturo/facturo/internal/fingerprint"
	"github.com/facturo/facturo/internal/fiscalizer"
	"github.com/facturo/facturo/internal/health"
	"github.com/facturo/facturo/internal/httpapi"
	"github.com/facturo/facturo/internal/invoice"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load("facturo")
	if err != nil {
		return err
	}
	if cfg.Issuer.TaxID == "" {
		return errors.New("issuer.tax_id must be configured")
	}

	// ── Invoice store ─────────────────────────────────────────────────────────
	var (
		store invoice.Store
		db    *pgxpool.Pool
	)
	if cfg.DatabaseURL == "memory" {
		store = invoice.NewMemoryStore()
		logger.Warn("using in-memory invoice store; invoices will not survive restarts")
	} else {
		db, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		store = invoice.NewPostgresStore(db)
	}

	// ── Fiscal chains ─────────────────────────────────────────────────────────
	legacyRegistration := ""
	if cfg.Ledgers.LegacyDir != "" {
		legacyRegistration = filepath.Join(cfg.Ledgers.LegacyDir, "chain.xml")
	}
	registration := chainledger.NewFileLedger(
		filepath.Join(cfg.Ledgers.Dir, "registration.xml"),
		legacyRegistration,
		cfg.Issuer.TaxID, "registration", logger,
	)
	submission := chainledger.NewFileLedger(
		filepath.Join(cfg.Ledgers.Dir, "submission.xml"),
		"",
		cfg.Issuer.TaxID, "submission", logger,
	)
	chains := map[string]chainledger.Ledger{
		"registration": registration,
		"submission":   submission,
	}

	startCtx := context.Background()
	for name, chain := range chains {
		if err := chain.Bootstrap(startCtx); err != nil {
			return fmt.Errorf("bootstrap %s chain: %w", name, err)
		}
	}

	var pinger health.Pinger
	if db != nil {
		pinger = db
	}
	checker := health.New(pinger, chains, logger)
	if err := checker.VerifyChains(startCtx); err != nil {
		// Refuse-on-corruption happens at append time; startup keeps serving
		// reads so the damage can be inspected.
		logger.Warn("chain integrity check FAILED", zap.Error(err))
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	engine := fingerprint.Detect(logger)
	svc := fiscalizer.New(store, fiscalizer.Ledgers{
		Registration: registration,
		Submission:   submission,
	}, engine, logger)

	// The snapshot is frozen at startup; operations never observe a
	// mid-flight configuration change.
	snapFn := func() *config.Snapshot { return cfg }

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Store:        store,
		Service:      svc,
		Chains:       chains,
		Snapshot:     snapFn,
		Checker:      checker,
		Logger:       logger,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
	})

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
