package webhook

import (
	"context"
	"errors"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/platform/logger"

	"github.com/google/uuid"
)

// IncomingHandler is satisfied by the conversation lifecycle service.
type IncomingHandler interface {
	HandleIncoming(ctx context.Context, in domain.IncomingMessage) (service.MessageResult, error)
}

// Outcome values reported back to the gateway.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// Result is the webhook response body.
type Result struct {
	Outcome        string     `json:"outcome"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Status         string     `json:"status,omitempty"`
	Created        bool       `json:"created,omitempty"`
	AutoClosed     bool       `json:"autoClosed,omitempty"`
}

// Service turns gateway callbacks into lifecycle calls.
type Service struct {
	lifecycle IncomingHandler
	dedupe    *Deduper
	ownedAddr string
	log       *logger.Logger
}

// NewService creates a webhook service. ownedAddr is the tenant-facing number
// used when the gateway omits its device ID.
func NewService(lifecycle IncomingHandler, dedupe *Deduper, ownedAddr string, log *logger.Logger) *Service {
	return &Service{
		lifecycle: lifecycle,
		dedupe:    dedupe,
		ownedAddr: ownedAddr,
		log:       log,
	}
}

// ProcessWhatsApp handles one GOWA callback for tenantID.
func (s *Service) ProcessWhatsApp(ctx context.Context, tenantID uuid.UUID, payload GOWAPayload) (Result, error) {
	in, ok := payload.ToIncoming(tenantID, s.ownedAddr)
	if !ok {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	first, err := s.dedupe.Claim(ctx, tenantID, in.ProviderMessageID)
	if err != nil {
		s.log.Warn("webhook dedupe unavailable, processing anyway", "tenantId", tenantID, "providerMessageId", in.ProviderMessageID, "error", err)
	}
	if !first {
		s.log.Debug("duplicate webhook delivery", "tenantId", tenantID, "providerMessageId", in.ProviderMessageID)
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	result, err := s.lifecycle.HandleIncoming(ctx, in)
	if errors.Is(err, service.ErrDuplicateMessage) {
		s.log.Info("webhook message already recorded", "tenantId", tenantID, "providerMessageId", in.ProviderMessageID)
		return Result{Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		if releaseErr := s.dedupe.Release(context.WithoutCancel(ctx), tenantID, in.ProviderMessageID); releaseErr != nil {
			s.log.Warn("failed to release webhook claim", "tenantId", tenantID, "error", releaseErr)
		}
		return Result{}, err
	}

	conversationID := result.Conversation.ID
	return Result{
		Outcome:        OutcomeProcessed,
		ConversationID: &conversationID,
		Status:         string(result.Conversation.Status),
		Created:        result.Created,
		AutoClosed:     result.Transition != nil && result.Transition.Applied && result.Conversation.Status.IsClosed(),
	}, nil
}
