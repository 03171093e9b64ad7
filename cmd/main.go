package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"khoaugment/internal/bootstrap"
	"khoaugment/internal/config"
	cronpkg "khoaugment/internal/cron"
	"khoaugment/internal/metrics"
	"khoaugment/internal/models"
	"khoaugment/internal/orchestrator"
	"khoaugment/internal/payment"
	"khoaugment/internal/pkg/lock"
	"khoaugment/internal/repository"
	"khoaugment/internal/router"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if hasArg("--bootstrap-db") {
		if err := runDBBootstrap(logger); err != nil {
			logger.Fatal("Database bootstrap failed", zap.Error(err))
		}
		logger.Info("Database bootstrap completed")
		return
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	debug := cfg.Server.Env == "development"
	if debug {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
			defer dev.Sync()
		}
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database, debug)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Database connection established", zap.String("host", cfg.Database.Host))
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Intent locks (Redis with in-memory fallback) ---
	locker, lockErr := lock.New(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, cfg.Payment.LockTTL, cfg.Payment.LockWait)
	if lockErr != nil {
		logger.Warn("Redis unavailable for intent locks, using in-memory fallback", zap.Error(lockErr))
	}

	// --- Gateways ---
	timeout := cfg.Payment.HTTPTimeout
	gateways := payment.NewRegistry()
	gateways.Register(payment.NewVNPayGateway(cfg.Payment.VNPay, timeout, logger), models.MethodVNPay)
	gateways.Register(payment.NewMoMoGateway(cfg.Payment.MoMo, timeout, logger), models.MethodMoMo)
	gateways.Register(payment.NewZaloPayGateway(cfg.Payment.ZaloPay, timeout, logger), models.MethodZaloPay)
	for _, m := range []models.PaymentMethod{models.MethodCash, models.MethodCard, models.MethodBankTransfer} {
		gateways.Register(payment.NewManualGateway(m), m)
	}

	// --- Orchestrator ---
	paymentMetrics := metrics.New(nil)
	orch := orchestrator.New(db, repository.NewOrderRepository(db), gateways, locker, logger,
		orchestrator.WithIntentTTL(cfg.Payment.IntentTTL),
		orchestrator.WithRecorder(paymentMetrics),
	)

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	// --- Routes ---
	router.Setup(e, router.Deps{
		Orchestrator: orch,
		Gateways:     gateways,
		Metrics:      paymentMetrics,
		Logger:       logger,
		APIKey:       cfg.API.Key,
	})

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(cfg.Payment, orch, paymentMetrics, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting KhoAugment payment server",
			zap.String("addr", addr),
			zap.Strings("methods", methodNames(gateways.Methods())),
		)
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

func methodNames(methods []models.PaymentMethod) []string {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	return names
}

func runDBBootstrap(logger *zap.Logger) error {
	dbCfg, err := config.LoadDatabaseOnly()
	if err != nil {
		return err
	}
	db, err := config.NewDatabase(dbCfg, false)
	if err != nil {
		return err
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		return err
	}
	logger.Info("Schema migration completed")
	return nil
}
