package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/events"
	"conversation_backend/platform/apperr"

	"github.com/google/uuid"
)

const defaultEscalationLevel = "support"

// ExtendParams pushes a conversation deadline out.
type ExtendParams struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	// Minutes defaults to the configured extension when nil.
	Minutes     *int
	InitiatedBy string
}

// ExtendExpiration moves the deadline of an active conversation out by the
// requested minutes, counting from the later of the current deadline and now.
func (s *Service) ExtendExpiration(ctx context.Context, params ExtendParams) (domain.Conversation, error) {
	minutes := s.cfg.DefaultExtensionMinutes
	if params.Minutes != nil {
		minutes = *params.Minutes
	}
	if minutes <= 0 {
		return domain.Conversation{}, apperr.Validation("minutes must be positive")
	}

	conv, err := s.requireActive(ctx, params.TenantID, params.ConversationID)
	if err != nil {
		return domain.Conversation{}, err
	}

	now := s.now()
	newExpiry := domain.ExtendExpiry(conv.ExpiresAt, now, minutes)
	patch := domain.ConversationContext{ExpirationExtended: []domain.ExpiryExtension{{
		Minutes:  minutes,
		Previous: conv.ExpiresAt,
		NewValue: newExpiry,
		At:       now,
	}}}

	updated, err := s.repo.UpdateExpiry(ctx, conv.TenantID, conv.ID, &newExpiry, patch)
	if err != nil {
		return domain.Conversation{}, err
	}

	s.log.Info("conversation expiry extended", "conversationId", conv.ID, "minutes", minutes, "expiresAt", newExpiry, "initiatedBy", params.InitiatedBy)
	s.scheduleExpiry(ctx, updated)
	return updated, nil
}

// TransferParams reassigns a conversation to another user.
type TransferParams struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	ToUserID       uuid.UUID
	Reason         string
	InitiatedBy    string
}

// TransferConversation reassigns an active conversation and records the
// transfer. The conversation ends up in progress.
func (s *Service) TransferConversation(ctx context.Context, params TransferParams) (domain.Conversation, error) {
	if params.ToUserID == uuid.Nil {
		return domain.Conversation{}, apperr.Validation("target user is required")
	}
	conv, err := s.ensureProgress(ctx, params.TenantID, params.ConversationID, params.InitiatedBy, "transfer")
	if err != nil {
		return domain.Conversation{}, err
	}

	by, _ := domain.NormalizeInitiator(params.InitiatedBy)
	patch := domain.ConversationContext{Transfers: []domain.TransferRecord{{
		FromUserID: conv.AssignedUserID,
		ToUserID:   params.ToUserID,
		Reason:     params.Reason,
		By:         by,
		At:         s.now(),
	}}}

	target := params.ToUserID
	updated, err := s.repo.UpdateAssignment(ctx, conv.TenantID, conv.ID, &target, patch)
	if err != nil {
		return domain.Conversation{}, err
	}

	s.log.Info("conversation transferred", "conversationId", conv.ID, "toUserId", target)
	s.eventBus.Publish(ctx, events.ConversationTransferred{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		FromUserID:     conv.AssignedUserID,
		ToUserID:       target,
		Reason:         params.Reason,
	})
	return updated, nil
}

// EscalateParams hands a conversation to a higher support tier.
type EscalateParams struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Level          string
	Reason         string
	InitiatedBy    string
}

// EscalateConversation records an escalation on an active conversation.
// The conversation ends up in progress.
func (s *Service) EscalateConversation(ctx context.Context, params EscalateParams) (domain.Conversation, error) {
	level := strings.TrimSpace(params.Level)
	if level == "" {
		level = defaultEscalationLevel
	}
	conv, err := s.ensureProgress(ctx, params.TenantID, params.ConversationID, params.InitiatedBy, "escalation")
	if err != nil {
		return domain.Conversation{}, err
	}

	by, _ := domain.NormalizeInitiator(params.InitiatedBy)
	patch := domain.ConversationContext{Escalations: []domain.EscalationRecord{{
		Level:  level,
		Reason: params.Reason,
		By:     by,
		At:     s.now(),
	}}}

	updated, err := s.repo.UpdateContext(ctx, conv.TenantID, conv.ID, patch)
	if err != nil {
		return domain.Conversation{}, err
	}

	s.log.Info("conversation escalated", "conversationId", conv.ID, "level", level)
	s.eventBus.Publish(ctx, events.ConversationEscalated{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Level:          level,
		Reason:         params.Reason,
	})
	return updated, nil
}

func (s *Service) requireActive(ctx context.Context, tenantID, id uuid.UUID) (domain.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.Status.IsActive() {
		return domain.Conversation{}, closedConflict(conv.Status)
	}
	return conv, nil
}

// ensureProgress moves a pending or idle conversation into progress so a
// handover leaves it in the engaged state.
func (s *Service) ensureProgress(ctx context.Context, tenantID, id uuid.UUID, initiatedBy, reason string) (domain.Conversation, error) {
	conv, err := s.requireActive(ctx, tenantID, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.Status == domain.StatusProgress {
		return conv, nil
	}

	res, err := s.applyTransition(ctx, transitionRequest{
		tenantID:       tenantID,
		conversationID: id,
		snapshot:       &conv,
		to:             domain.StatusProgress,
		initiatedBy:    initiatedBy,
		reason:         reason,
		mutate: func(patch *domain.ConversationContext, current domain.Conversation, now time.Time) {
			if current.Status == domain.StatusIdleTimeout {
				role, _ := domain.NormalizeInitiator(initiatedBy)
				patch.ReactivatedFromIdle = &domain.Reactivation{TriggerRole: role, At: now}
			}
		},
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if !res.Applied {
		return domain.Conversation{}, apperr.Conflict(fmt.Sprintf("conversation cannot move to progress: %s", res.Reason))
	}
	return *res.Conversation, nil
}
