package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/repository"
	"conversation_backend/internal/events"
	"conversation_backend/platform/apperr"

	"github.com/google/uuid"
)

// Reasons reported by TransitionResult when a precondition stops a change.
const (
	ReasonNotDue    = "not_due"
	ReasonNotIdle   = "not_idle"
	ReasonContended = "concurrent_update"
)

type transitionRequest struct {
	tenantID       uuid.UUID
	conversationID uuid.UUID
	// snapshot skips the first read when the caller already holds the row.
	snapshot    *domain.Conversation
	to          domain.ConversationStatus
	initiatedBy string
	reason      string
	metadata    map[string]any
	// guard is re-evaluated against every fresh read; a non-empty return
	// aborts the change with that reason.
	guard func(conv domain.Conversation, now time.Time) string
	// mutate fills the context patch merged in with the status write; conv
	// is the row the transition was resolved against.
	mutate func(patch *domain.ConversationContext, conv domain.Conversation, now time.Time)
	// idleCutoff requires updated_at to still predate now-threshold at write time.
	idleCutoff bool
	// expiryCutoff requires expires_at to still be due at write time when
	// the conversation is active.
	expiryCutoff bool
}

// applyTransition is the single path that changes a conversation status.
// Rejections are reported in the result, not as errors. A lost
// compare-and-set is retried against a fresh read.
func (s *Service) applyTransition(ctx context.Context, req transitionRequest) (domain.TransitionResult, error) {
	initiator, original := domain.NormalizeInitiator(req.initiatedBy)
	metadata := make(map[string]any, len(req.metadata)+1)
	for k, v := range req.metadata {
		metadata[k] = v
	}
	if original != "" {
		metadata["original_initiator"] = original
	}

	snapshot := req.snapshot
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		var conv domain.Conversation
		if snapshot != nil {
			conv = *snapshot
			snapshot = nil
		} else {
			fresh, err := s.repo.GetByID(ctx, req.tenantID, req.conversationID)
			if err != nil {
				return domain.TransitionResult{}, err
			}
			conv = fresh
		}

		now := s.now()
		result := domain.TransitionResult{From: conv.Status, To: req.to, Conversation: &conv}

		if req.guard != nil {
			if why := req.guard(conv, now); why != "" {
				result.Reason = why
				s.log.TransitionRejected(conv.ID.String(), string(conv.Status), string(req.to), why)
				return result, nil
			}
		}

		decision := s.cfg.Priority.Resolve(conv.Status, req.to)
		if !decision.Apply {
			result.Reason = decision.Reason
			s.log.TransitionRejected(conv.ID.String(), string(conv.Status), string(req.to), decision.Reason)
			return result, nil
		}

		update := repository.StatusUpdate{
			TenantID:        conv.TenantID,
			ConversationID:  conv.ID,
			ExpectedStatus:  conv.Status,
			NewStatus:       req.to,
			InitiatedBy:     initiator,
			Reason:          req.reason,
			HistoryMetadata: metadata,
			At:              now,
		}
		switch {
		case req.to.IsClosed():
			update.EndedAt = &now
		case req.to == domain.StatusIdleTimeout:
			update.KeepExpiry = true
		default:
			update.ExpiresAt = s.cfg.Expiration.ExpiryFor(req.to, now)
		}
		if req.idleCutoff {
			cutoff := now.Add(-s.cfg.Expiration.IdleThreshold)
			update.UpdatedBefore = &cutoff
		}
		if req.expiryCutoff && conv.Status.IsActive() {
			due := now
			update.ExpiresBefore = &due
		}
		if req.mutate != nil {
			var patch domain.ConversationContext
			req.mutate(&patch, conv, now)
			update.Context = &patch
		}

		updated, err := s.repo.UpdateStatus(ctx, update)
		if errors.Is(err, repository.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return domain.TransitionResult{}, err
		}

		s.log.TransitionApplied(updated.ID.String(), string(conv.Status), string(req.to), string(initiator), req.reason)
		s.publishTransition(ctx, conv.Status, updated, initiator, req.reason, decision.Override)
		s.scheduleExpiry(ctx, updated)

		result.Applied = true
		result.Override = decision.Override
		result.Reason = decision.Reason
		result.Conversation = &updated
		return result, nil
	}

	return domain.TransitionResult{Reason: ReasonContended}, apperr.Conflict("conversation changed concurrently, retry the request")
}

func (s *Service) publishTransition(ctx context.Context, from domain.ConversationStatus, conv domain.Conversation, initiator domain.Role, reason string, override bool) {
	s.eventBus.Publish(ctx, events.ConversationStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		FromStatus:     string(from),
		ToStatus:       string(conv.Status),
		InitiatedBy:    string(initiator),
		Reason:         reason,
		Override:       override,
	})
	if !conv.Status.IsClosed() {
		return
	}
	external, owned := conv.SessionKey.Parts()
	s.eventBus.Publish(ctx, events.ConversationClosed{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Channel:        conv.Channel,
		ExternalAddr:   external,
		OwnedAddr:      owned,
		FromStatus:     string(from),
		Status:         string(conv.Status),
		InitiatedBy:    string(initiator),
		Reason:         reason,
	})
}

// CloseParams requests a terminal status.
type CloseParams struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Status         domain.ConversationStatus
	Reason         string
	InitiatedBy    string
}

// CloseConversationWithPriority moves a conversation to a terminal status,
// overriding an earlier close only when the requested status outranks it.
func (s *Service) CloseConversationWithPriority(ctx context.Context, params CloseParams) (domain.TransitionResult, error) {
	if !params.Status.IsClosed() {
		return domain.TransitionResult{}, apperr.Validation(fmt.Sprintf("status %q is not a closing status", params.Status))
	}
	initiatedBy := params.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = initiatorForStatus(params.Status)
	}
	return s.applyTransition(ctx, transitionRequest{
		tenantID:       params.TenantID,
		conversationID: params.ConversationID,
		to:             params.Status,
		initiatedBy:    initiatedBy,
		reason:         params.Reason,
	})
}

// Expire closes conv as expired if its deadline has passed.
func (s *Service) Expire(ctx context.Context, conv domain.Conversation) (domain.TransitionResult, error) {
	return s.applyTransition(ctx, transitionRequest{
		tenantID:       conv.TenantID,
		conversationID: conv.ID,
		snapshot:       &conv,
		to:             domain.StatusExpired,
		initiatedBy:    string(domain.RoleSystem),
		reason:         "expired",
		expiryCutoff:   true,
		guard: func(c domain.Conversation, now time.Time) string {
			if c.Status.IsActive() && !domain.IsExpired(c, now) {
				return ReasonNotDue
			}
			return ""
		},
	})
}

// ExpireIfDue loads a conversation and expires it when due. Extended or
// already closed conversations are left alone.
func (s *Service) ExpireIfDue(ctx context.Context, tenantID, id uuid.UUID) (domain.TransitionResult, error) {
	conv, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return domain.TransitionResult{}, err
	}
	return s.Expire(ctx, conv)
}

// MarkIdle moves a progress conversation without recent activity to
// idle_timeout.
func (s *Service) MarkIdle(ctx context.Context, conv domain.Conversation) (domain.TransitionResult, error) {
	return s.applyTransition(ctx, transitionRequest{
		tenantID:       conv.TenantID,
		conversationID: conv.ID,
		snapshot:       &conv,
		to:             domain.StatusIdleTimeout,
		initiatedBy:    string(domain.RoleSystem),
		reason:         "idle_timeout",
		idleCutoff:     true,
		guard: func(c domain.Conversation, now time.Time) string {
			if !s.cfg.Expiration.IsIdle(c, now) {
				return ReasonNotIdle
			}
			return ""
		},
	})
}

// failConversation records cause on the conversation and forces it to
// failed through the priority path. The returned error wraps cause.
func (s *Service) failConversation(ctx context.Context, conv domain.Conversation, operation string, cause error) error {
	wrapped := fmt.Errorf("%s: %w", operation, cause)
	if errors.Is(cause, context.Canceled) {
		return wrapped
	}

	detached := context.WithoutCancel(ctx)
	_, err := s.applyTransition(detached, transitionRequest{
		tenantID:       conv.TenantID,
		conversationID: conv.ID,
		to:             domain.StatusFailed,
		initiatedBy:    string(domain.RoleSystem),
		reason:         "critical_failure: " + operation,
		mutate: func(patch *domain.ConversationContext, _ domain.Conversation, now time.Time) {
			patch.FailureDetails = &domain.FailureDetails{
				Operation: operation,
				Error:     cause.Error(),
				At:        now,
			}
		},
	})
	if err != nil {
		s.log.Error("failed to record conversation failure", "conversationId", conv.ID, "operation", operation, "error", err)
	}
	return wrapped
}

func initiatorForStatus(status domain.ConversationStatus) string {
	switch status {
	case domain.StatusUserClosed:
		return string(domain.RoleUser)
	case domain.StatusAgentClosed:
		return string(domain.RoleAgent)
	case domain.StatusSupportClosed:
		return string(domain.RoleSupport)
	default:
		return string(domain.RoleSystem)
	}
}
