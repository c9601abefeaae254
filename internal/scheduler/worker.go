package scheduler

import (
	"context"
	"fmt"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/platform/apperr"
	"conversation_backend/platform/config"
	"conversation_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ExpiryHandler expires a conversation when its deadline has really passed.
type ExpiryHandler interface {
	ExpireIfDue(ctx context.Context, tenantID, id uuid.UUID) (domain.TransitionResult, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	lifecycle ExpiryHandler
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, lifecycle ExpiryHandler, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		mux:       mux,
		lifecycle: lifecycle,
		log:       log,
	}

	mux.HandleFunc(TaskConversationExpiryDue, w.handleExpiryDue)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleExpiryDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseExpiryDuePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	conversationID, err := uuid.Parse(payload.ConversationID)
	if err != nil {
		return fmt.Errorf("%w: conversation id: %v", asynq.SkipRetry, err)
	}

	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("%w: tenant id: %v", asynq.SkipRetry, err)
	}

	result, err := w.lifecycle.ExpireIfDue(ctx, tenantID, conversationID)
	if apperr.Is(err, apperr.KindNotFound) {
		w.log.Warn("expiry task for unknown conversation", "conversationId", conversationID, "tenantId", tenantID)
		return nil
	}
	if err != nil {
		return err
	}

	if result.Applied {
		w.log.Info("conversation expired by scheduled task", "conversationId", conversationID, "tenantId", tenantID)
	} else {
		w.log.Debug("expiry task found nothing to do", "conversationId", conversationID, "reason", result.Reason)
	}
	return nil
}
