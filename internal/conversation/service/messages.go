package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/repository"
	"conversation_backend/internal/events"
	"conversation_backend/platform/apperr"

	"github.com/google/uuid"
)

var (
	// ErrConversationClosed is wrapped by the conflict returned for writes to
	// a conversation in a terminal status.
	ErrConversationClosed = errors.New("status is terminal")
	// ErrDuplicateMessage is wrapped by the conflict returned for a provider
	// message id that is already stored.
	ErrDuplicateMessage = repository.ErrDuplicateMessage
)

func closedConflict(status domain.ConversationStatus) error {
	return apperr.Wrap(apperr.KindConflict, "conversation is closed", ErrConversationClosed).
		WithDetails(map[string]string{"status": string(status)})
}

// GetOrCreateParams identifies the session a message belongs to.
type GetOrCreateParams struct {
	TenantID    uuid.UUID
	FromAddr    string
	ToAddr      string
	Channel     string
	Direction   domain.Direction
	InitiatedBy string
	Metadata    map[string]any
}

// GetOrCreateConversation returns the active conversation for the session
// key derived from the addresses, creating a pending one when none exists.
// The bool reports whether a conversation was created.
func (s *Service) GetOrCreateConversation(ctx context.Context, params GetOrCreateParams) (domain.Conversation, bool, error) {
	if params.TenantID == uuid.Nil {
		return domain.Conversation{}, false, apperr.Validation("tenant ID is required")
	}
	if strings.TrimSpace(params.FromAddr) == "" || strings.TrimSpace(params.ToAddr) == "" {
		return domain.Conversation{}, false, apperr.Validation("from and to addresses are required")
	}
	direction := params.Direction
	if direction == "" {
		direction = domain.DirectionInbound
	}
	channel := strings.ToLower(strings.TrimSpace(params.Channel))
	if channel == "" {
		channel = domain.ChannelWhatsApp
	}

	key := domain.ResolveSessionKey(params.FromAddr, params.ToAddr, direction)
	existing, err := s.repo.FindActiveBySessionKey(ctx, params.TenantID, key)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	now := s.now()
	external, owned := key.Parts()
	conv := domain.Conversation{
		ID:         domain.NewID(),
		TenantID:   params.TenantID,
		Channel:    channel,
		SessionKey: key,
		FromAddr:   external,
		ToAddr:     owned,
		Status:     domain.StatusPending,
		StartedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  s.cfg.Expiration.ExpiryFor(domain.StatusPending, now),
		Metadata:   params.Metadata,
	}

	initiator, original := domain.NormalizeInitiator(params.InitiatedBy)
	audit := repository.CreateAudit{InitiatedBy: initiator, Reason: "conversation_created"}
	if original != "" {
		audit.Metadata = map[string]any{"original_initiator": original}
	}

	created, err := s.repo.Create(ctx, conv, audit)
	if errors.Is(err, repository.ErrActiveConflict) {
		winner, findErr := s.repo.FindActiveBySessionKey(ctx, params.TenantID, key)
		if findErr != nil {
			return domain.Conversation{}, false, findErr
		}
		if winner == nil {
			return domain.Conversation{}, false, apperr.Conflict("conversation was created concurrently, retry the request")
		}
		return *winner, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, err
	}

	s.log.Info("conversation created", "conversationId", created.ID, "tenantId", created.TenantID, "sessionKey", created.SessionKey)
	event := events.ConversationCreated{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: created.ID,
		TenantID:       created.TenantID,
		Channel:        created.Channel,
		SessionKey:     string(created.SessionKey),
	}
	if created.ExpiresAt != nil {
		event.ExpiresAt = *created.ExpiresAt
	}
	s.eventBus.Publish(ctx, event)
	s.scheduleExpiry(ctx, created)

	return created, true, nil
}

// AddMessageParams describes one transcript entry.
type AddMessageParams struct {
	TenantID          uuid.UUID
	ConversationID    uuid.UUID
	Direction         domain.Direction
	Role              domain.Role
	Body              string
	MediaRefs         []string
	ProviderMessageID string
	Metadata          map[string]any
}

// MessageResult is the outcome of recording a message.
type MessageResult struct {
	Conversation  domain.Conversation
	Message       domain.Message
	Created       bool
	Transition    *domain.TransitionResult
	ClosureIntent *domain.ClosureIntent
}

// AddMessage records a message and applies its lifecycle effects: staff
// accepting a pending conversation, reactivation from idle, renewing the
// progress deadline, and closure intent detection for user messages.
func (s *Service) AddMessage(ctx context.Context, params AddMessageParams) (MessageResult, error) {
	if !params.Role.IsValid() {
		return MessageResult{}, apperr.Validation(fmt.Sprintf("unknown message role %q", params.Role))
	}
	direction := params.Direction
	if direction == "" {
		direction = domain.DirectionInbound
		if params.Role != domain.RoleUser {
			direction = domain.DirectionOutbound
		}
	}

	conv, err := s.repo.GetByID(ctx, params.TenantID, params.ConversationID)
	if err != nil {
		return MessageResult{}, err
	}
	if conv.Status.IsClosed() {
		return MessageResult{}, closedConflict(conv.Status)
	}

	now := s.now()
	msg := domain.Message{
		ID:             domain.NewID(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Direction:      direction,
		Role:           params.Role,
		Body:           params.Body,
		MediaRefs:      params.MediaRefs,
		Metadata:       params.Metadata,
		CreatedAt:      now,
	}
	if id := strings.TrimSpace(params.ProviderMessageID); id != "" {
		msg.ProviderMessageID = &id
	}

	stored, err := s.repo.AppendMessage(ctx, msg)
	if errors.Is(err, repository.ErrDuplicateMessage) {
		return MessageResult{}, apperr.Wrap(apperr.KindConflict, "message already recorded", ErrDuplicateMessage)
	}
	if err != nil {
		return MessageResult{}, s.failConversation(ctx, conv, "append_message", err)
	}

	result := MessageResult{Conversation: conv, Message: stored}

	current, transition, err := s.recordActivity(ctx, conv, stored)
	if err != nil {
		return result, s.failConversation(ctx, conv, "record_activity", err)
	}
	result.Conversation = current
	result.Transition = transition

	if stored.Role == domain.RoleUser && result.Conversation.Status.IsActive() {
		updated, intent, closeResult, err := s.detectClosure(ctx, result.Conversation, stored)
		if err != nil {
			return result, s.failConversation(ctx, result.Conversation, "closure_detection", err)
		}
		result.Conversation = updated
		result.ClosureIntent = intent
		if closeResult != nil {
			result.Transition = closeResult
		}
	}

	return result, nil
}

// recordActivity applies the status effect of a new message and returns the
// current conversation. The transition result is set when a status change
// was attempted.
func (s *Service) recordActivity(ctx context.Context, conv domain.Conversation, msg domain.Message) (domain.Conversation, *domain.TransitionResult, error) {
	switch {
	case conv.Status == domain.StatusPending && msg.Role.IsStaff():
		res, err := s.applyTransition(ctx, transitionRequest{
			tenantID:       conv.TenantID,
			conversationID: conv.ID,
			snapshot:       &conv,
			to:             domain.StatusProgress,
			initiatedBy:    string(msg.Role),
			reason:         "accepted",
			metadata:       map[string]any{"message_id": msg.ID.String()},
			mutate: func(patch *domain.ConversationContext, current domain.Conversation, now time.Time) {
				if current.Context.AcceptedBy == nil {
					patch.AcceptedBy = &domain.AcceptedBy{AgentType: msg.Role, MessageID: msg.ID, At: now}
				}
			},
		})
		if err != nil {
			return conv, nil, err
		}
		return currentOf(res, conv), &res, nil

	case conv.Status == domain.StatusIdleTimeout:
		res, err := s.applyTransition(ctx, transitionRequest{
			tenantID:       conv.TenantID,
			conversationID: conv.ID,
			snapshot:       &conv,
			to:             domain.StatusProgress,
			initiatedBy:    string(msg.Role),
			reason:         "reactivated_from_idle",
			metadata:       map[string]any{"message_id": msg.ID.String()},
			mutate: func(patch *domain.ConversationContext, _ domain.Conversation, now time.Time) {
				patch.ReactivatedFromIdle = &domain.Reactivation{TriggerRole: msg.Role, MessageID: msg.ID, At: now}
			},
		})
		if err != nil {
			return conv, nil, err
		}
		return currentOf(res, conv), &res, nil
	}

	now := s.now()
	var expiresAt *time.Time
	if conv.Status == domain.StatusProgress {
		expiresAt = s.cfg.Expiration.ExpiryFor(domain.StatusProgress, now)
	}
	touched, err := s.repo.TouchActivity(ctx, conv.TenantID, conv.ID, now, expiresAt)
	if err != nil {
		return conv, nil, err
	}
	if expiresAt != nil {
		s.scheduleExpiry(ctx, touched)
	}
	return touched, nil, nil
}

func currentOf(res domain.TransitionResult, fallback domain.Conversation) domain.Conversation {
	if res.Conversation != nil {
		return *res.Conversation
	}
	return fallback
}

// detectClosure scores msg and writes the closure breadcrumb. When the
// confidence reaches the auto-close threshold the suggested status is
// requested through the priority path.
func (s *Service) detectClosure(ctx context.Context, conv domain.Conversation, msg domain.Message) (domain.Conversation, *domain.ClosureIntent, *domain.TransitionResult, error) {
	history, err := s.repo.ListMessages(ctx, conv.TenantID, conv.ID, s.cfg.HistoryWindow)
	if err != nil {
		s.log.Warn("closure detection without history", "conversationId", conv.ID, "error", err)
		history = nil
	}

	intent := s.cfg.Detector.Detect(msg, history)
	if !intent.ShouldClose {
		return conv, &intent, nil, nil
	}

	autoClose := intent.Confidence >= s.cfg.AutoCloseThreshold
	breadcrumb := func(now time.Time, autoClosed bool) *domain.ClosureBreadcrumb {
		return &domain.ClosureBreadcrumb{
			Confidence:      intent.Confidence,
			SuggestedStatus: intent.SuggestedStatus,
			Reasons:         append([]string(nil), intent.Reasons...),
			MessageID:       msg.ID,
			AutoClosed:      autoClosed,
			At:              now,
		}
	}

	var closeResult *domain.TransitionResult
	if autoClose {
		res, err := s.applyTransition(ctx, transitionRequest{
			tenantID:       conv.TenantID,
			conversationID: conv.ID,
			to:             intent.SuggestedStatus,
			initiatedBy:    string(domain.RoleUser),
			reason:         "closure_intent",
			metadata: map[string]any{
				"confidence": intent.Confidence,
				"message_id": msg.ID.String(),
			},
			mutate: func(patch *domain.ConversationContext, _ domain.Conversation, now time.Time) {
				patch.ClosureDetected = breadcrumb(now, true)
			},
		})
		if err != nil {
			return conv, &intent, nil, err
		}
		closeResult = &res
		if res.Applied && res.Conversation != nil {
			conv = *res.Conversation
		}
	}

	if closeResult == nil || !closeResult.Applied {
		if closeResult != nil && closeResult.Conversation != nil {
			conv = *closeResult.Conversation
		}
		patch := domain.ConversationContext{ClosureDetected: breadcrumb(s.now(), false)}
		updated, err := s.repo.UpdateContext(ctx, conv.TenantID, conv.ID, patch)
		if err != nil {
			return conv, &intent, closeResult, err
		}
		conv = updated
	}

	s.eventBus.Publish(ctx, events.ClosureIntentDetected{
		BaseEvent:       events.NewBaseEvent(),
		ConversationID:  conv.ID,
		TenantID:        conv.TenantID,
		MessageID:       msg.ID,
		Confidence:      intent.Confidence,
		SuggestedStatus: string(intent.SuggestedStatus),
		Reasons:         intent.Reasons,
		AutoClosed:      closeResult != nil && closeResult.Applied,
	})

	return conv, &intent, closeResult, nil
}

// HandleIncoming routes a normalized channel message into its conversation,
// creating the conversation when needed.
func (s *Service) HandleIncoming(ctx context.Context, in domain.IncomingMessage) (MessageResult, error) {
	role := in.AuthorRole
	if role == "" {
		role = domain.RoleUser
	}
	if !role.IsValid() {
		return MessageResult{}, apperr.Validation(fmt.Sprintf("unknown author role %q", in.AuthorRole))
	}
	in.AuthorRole = role
	direction := in.Direction()

	session := GetOrCreateParams{
		TenantID:    in.TenantID,
		FromAddr:    in.FromAddr,
		ToAddr:      in.ToAddr,
		Channel:     in.Channel,
		Direction:   direction,
		InitiatedBy: string(role),
	}

	// A close can land between the session lookup and the append. The second
	// lookup then opens a fresh conversation for the message.
	var (
		result MessageResult
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var (
			conv    domain.Conversation
			created bool
		)
		conv, created, err = s.GetOrCreateConversation(ctx, session)
		if err != nil {
			return MessageResult{}, err
		}

		result, err = s.AddMessage(ctx, AddMessageParams{
			TenantID:          conv.TenantID,
			ConversationID:    conv.ID,
			Direction:         direction,
			Role:              role,
			Body:              in.Body,
			MediaRefs:         in.MediaRefs,
			ProviderMessageID: in.ProviderMessageID,
			Metadata:          in.Metadata,
		})
		result.Created = created
		if !errors.Is(err, ErrConversationClosed) {
			return result, err
		}
		s.log.Info("conversation closed before message was stored, resolving session again", "conversationId", conv.ID)
	}
	return result, err
}

// ReplyParams describes an outbound staff message.
type ReplyParams struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Role           domain.Role
	Body           string
}

// SendReply delivers body to the external party and records it as an
// outbound message. Nothing is recorded when delivery fails.
func (s *Service) SendReply(ctx context.Context, params ReplyParams) (MessageResult, error) {
	if s.sender == nil {
		return MessageResult{}, apperr.Internal("outbound messaging is not configured")
	}
	if strings.TrimSpace(params.Body) == "" {
		return MessageResult{}, apperr.Validation("reply body is required")
	}
	role := params.Role
	if role == "" {
		role = domain.RoleAgent
	}
	if !role.IsStaff() {
		return MessageResult{}, apperr.Validation(fmt.Sprintf("role %q cannot send replies", role))
	}

	conv, err := s.repo.GetByID(ctx, params.TenantID, params.ConversationID)
	if err != nil {
		return MessageResult{}, err
	}
	if conv.Status.IsClosed() {
		return MessageResult{}, closedConflict(conv.Status)
	}

	external, _ := conv.SessionKey.Parts()
	providerID, err := s.sender.SendText(ctx, external, params.Body)
	if err != nil {
		return MessageResult{}, fmt.Errorf("deliver reply: %w", err)
	}

	return s.AddMessage(ctx, AddMessageParams{
		TenantID:          conv.TenantID,
		ConversationID:    conv.ID,
		Direction:         domain.DirectionOutbound,
		Role:              role,
		Body:              params.Body,
		ProviderMessageID: providerID,
	})
}
