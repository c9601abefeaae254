package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conversation_backend/internal/conversation/repository"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/internal/events"
	"conversation_backend/internal/notification"
	"conversation_backend/internal/scheduler"
	"conversation_backend/internal/whatsapp"
	"conversation_backend/platform/config"
	"conversation_backend/platform/db"
	"conversation_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

	lifecycleCfg, err := service.ConfigFrom(cfg)
	if err != nil {
		log.Error("invalid lifecycle configuration", "error", err)
		panic("invalid lifecycle configuration: " + err.Error())
	}

	repo := repository.New(pool)
	lifecycle := service.New(repo, eventBus, log.WithComponent("conversation"), lifecycleCfg)

	// Expiry closures originate here, so the closing message is sent from
	// this process. SSE streams live in the API process.
	notificationModule := notification.New(cfg.GetWhatsAppClosingMessage(), log)
	if whatsappClient := whatsapp.NewClient(cfg, log); whatsappClient != nil {
		notificationModule.SetWhatsAppSender(whatsappClient)
		lifecycle.SetMessageSender(whatsappClient)
	}
	notificationModule.RegisterHandlers(eventBus)

	supervisor := scheduler.NewSupervisor(log.WithComponent("scheduler"),
		scheduler.NewExpirySweep(repo, lifecycle, log, cfg.GetExpirySweepInterval()),
		scheduler.NewIdleSweep(repo, lifecycle, log, cfg.GetIdleSweepInterval()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		supervisor.Start(gctx)
		<-gctx.Done()
		supervisor.Stop()
		return nil
	})

	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; precise expiry tasks disabled, sweeps only")
	} else {
		worker, err := scheduler.NewWorker(cfg, lifecycle, log.WithComponent("expiry-worker"))
		if err != nil {
			log.Error("failed to initialize scheduler worker", "error", err)
			panic("failed to initialize scheduler worker: " + err.Error())
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	_ = g.Wait()
	eventBus.Wait()
	log.Info("scheduler stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
