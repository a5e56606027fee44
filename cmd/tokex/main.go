package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/efreitasn/tokex/internal/audit"
	"github.com/efreitasn/tokex/internal/book"
	"github.com/efreitasn/tokex/internal/config"
	"github.com/efreitasn/tokex/internal/domain"
	"github.com/efreitasn/tokex/internal/engine"
	"github.com/efreitasn/tokex/internal/handler"
	"github.com/efreitasn/tokex/internal/ledger"
	"github.com/efreitasn/tokex/internal/service"
	"github.com/efreitasn/tokex/internal/settle"
	"github.com/efreitasn/tokex/internal/store"
	"github.com/efreitasn/tokex/internal/webhook"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Stores.
	accountStore := store.NewAccountStore()
	orderStore := store.NewOrderStore()
	tradeStore := store.NewTradeStore()
	webhookStore := store.NewWebhookStore()

	// Domain.
	instruments := domain.NewInstrumentRegistry()
	ldg := ledger.New()
	books := book.NewManager()

	// Audit journal + emitter. An empty path disables the on-disk
	// journal; events still flow to subscribers.
	var journal *audit.Journal
	if cfg.AuditJournalPath != "" {
		journal, err = audit.OpenJournal(cfg.AuditJournalPath)
		if err != nil {
			logger.Fatal("failed to open audit journal", zap.Error(err))
		}
		defer journal.Close()
	}
	emitter := audit.NewEmitter(journal, logger.Named("audit"))
	// Deferred after journal.Close so the writer drains first.
	defer emitter.Close()

	// Settlement pipeline.
	pipeline := settle.New(
		ldg,
		tradeStore,
		instruments,
		settle.LocalConfirmer{},
		emitter,
		cfg.SettlementTimeout,
		cfg.SettlementQueueSize,
		logger.Named("settle"),
	)

	// Matching engine.
	eng := engine.New(instruments, ldg, books, orderStore, tradeStore, emitter, pipeline, logger.Named("engine"))
	expiryMgr := engine.NewExpiryManager(cfg.ExpirationInterval, eng)

	// Webhook delivery.
	webhookSvc := webhook.NewService(webhookStore, accountStore, cfg.WebhookTimeout, cfg.WebhookMaxElapsed, logger.Named("webhook"))

	// Services.
	accountSvc := service.NewAccountService(accountStore, ldg)
	orderSvc := service.NewOrderService(eng, expiryMgr, accountStore, orderStore, instruments)
	instrumentSvc := service.NewInstrumentService(instruments)
	marketSvc := service.NewMarketService(eng, tradeStore, pipeline, instruments)

	// Event stream hub.
	eventHub := handler.NewEventHub(logger.Named("events"))

	router := handler.NewRouter(accountSvc, orderSvc, marketSvc, instrumentSvc, webhookSvc, eventHub, logger.Named("http"))

	// Background workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.Run(ctx)
	go expiryMgr.Start(ctx)
	go eventHub.Run(ctx, emitter, cfg.EventBuffer)
	webhookSvc.Start(ctx, emitter, cfg.EventBuffer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, then the background workers.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cancel()

	logger.Info("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
