package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conversation_backend/internal/conversation"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/internal/events"
	apphttp "conversation_backend/internal/http"
	"conversation_backend/internal/http/router"
	"conversation_backend/internal/notification"
	"conversation_backend/internal/notification/sse"
	"conversation_backend/internal/scheduler"
	"conversation_backend/internal/webhook"
	"conversation_backend/internal/whatsapp"
	"conversation_backend/platform/config"
	"conversation_backend/platform/db"
	"conversation_backend/platform/logger"
	"conversation_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, cfg.MigrationsDir)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	rdb := initRedis(cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	expiryScheduler, closeScheduler := initExpiryScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	lifecycleCfg, err := service.ConfigFrom(cfg)
	if err != nil {
		log.Error("invalid lifecycle configuration", "error", err)
		panic("invalid lifecycle configuration: " + err.Error())
	}

	conversationModule, err := conversation.NewModule(pool, eventBus, val, log, lifecycleCfg)
	if err != nil {
		log.Error("failed to initialize conversation module", "error", err)
		panic("failed to initialize conversation module: " + err.Error())
	}
	if expiryScheduler != nil {
		conversationModule.Service().SetExpiryScheduler(expiryScheduler)
	}

	// Outbound WhatsApp gateway (nil when WHATSAPP_URL is unset)
	whatsappClient := whatsapp.NewClient(cfg, log)
	if whatsappClient != nil {
		conversationModule.Service().SetMessageSender(whatsappClient)
	} else {
		log.Warn("WHATSAPP_URL not configured; outbound replies disabled")
	}

	// Notification module streams lifecycle events and sends closing messages
	eventStream := sse.New(log.WithComponent("sse"))
	defer eventStream.Close()
	notificationModule := notification.New(cfg.GetWhatsAppClosingMessage(), log)
	notificationModule.SetSSE(eventStream)
	if whatsappClient != nil {
		notificationModule.SetWhatsAppSender(whatsappClient)
	}
	notificationModule.RegisterHandlers(eventBus)

	if cfg.GetWebhookSecret() == "" {
		log.Warn("WHATSAPP_WEBHOOK_SECRET not configured; webhook signatures are not verified")
	}
	webhookModule := webhook.NewModule(conversationModule.Service(), rdb, webhook.Config{
		Secret:    cfg.GetWebhookSecret(),
		OwnedAddr: cfg.GetWhatsAppOwnedAddr(),
		DedupeTTL: cfg.GetWebhookDedupeTTL(),
	}, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			conversationModule,
			notificationModule,
			webhookModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		// SSE streams never finish on their own
		eventStream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		eventBus.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
	log.Info("server stopped")
}

func initRedis(cfg config.SchedulerConfig, log *logger.Logger) *redis.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; webhook deduplication disabled")
		return nil
	}

	opts, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("invalid REDIS_URL; webhook deduplication disabled", "error", err)
		return nil
	}
	if cfg.GetRedisTLSInsecure() {
		if opts.TLSConfig == nil {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		opts.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opts)
}

func initExpiryScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; precise expiry tasks disabled, sweeps only")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize expiry scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
