// Package service implements the conversation lifecycle: creating sessions,
// recording messages, and every status change. All status mutations go
// through applyTransition, whether they come from a request, closure intent
// detection, or a background sweep.
package service

import (
	"context"
	"fmt"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/repository"
	"conversation_backend/internal/events"
	"conversation_backend/platform/apperr"
	"conversation_backend/platform/config"
	"conversation_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultHistoryWindow  = 10
	defaultListLimit      = 50
	maxListLimit          = 200
	maxTransitionAttempts = 3
)

// ExpiryScheduler enqueues a precise expiry check for a conversation.
// The periodic sweep remains the backstop when scheduling fails.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, tenantID, conversationID uuid.UUID, at time.Time) error
}

// MessageSender delivers outbound text on a channel.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) (providerMessageID string, err error)
}

// Config carries the lifecycle policies.
type Config struct {
	Expiration              domain.ExpirationPolicy
	Priority                domain.PriorityPolicy
	Detector                *domain.ClosureDetector
	AutoCloseThreshold      float64
	DefaultExtensionMinutes int
	HistoryWindow           int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Expiration:              domain.DefaultExpirationPolicy(),
		Priority:                domain.DefaultPriorityPolicy(),
		Detector:                domain.NewClosureDetector(nil),
		AutoCloseThreshold:      domain.DefaultAutoCloseThreshold,
		DefaultExtensionMinutes: 60,
		HistoryWindow:           defaultHistoryWindow,
	}
}

// ConfigFrom builds the service configuration from environment settings.
func ConfigFrom(cfg config.LifecycleConfig) (Config, error) {
	priority, err := domain.NewPriorityPolicy(cfg.GetClosurePriorityRanks())
	if err != nil {
		return Config{}, fmt.Errorf("closure priority ranks: %w", err)
	}

	out := DefaultConfig()
	out.Expiration = domain.ExpirationPolicy{
		PendingTTL:    cfg.GetPendingExpiry(),
		ProgressTTL:   cfg.GetProgressExpiry(),
		IdleThreshold: cfg.GetIdleTimeout(),
	}
	out.Priority = priority
	out.Detector = domain.NewClosureDetector(cfg.GetClosureKeywords())
	out.AutoCloseThreshold = cfg.GetAutoCloseThreshold()
	if minutes := cfg.GetDefaultExtensionMinutes(); minutes > 0 {
		out.DefaultExtensionMinutes = minutes
	}
	return out, nil
}

// Service provides the conversation lifecycle operations.
type Service struct {
	repo     repository.Repository
	eventBus events.Bus
	log      *logger.Logger
	cfg      Config
	now      func() time.Time
	expiry   ExpiryScheduler
	sender   MessageSender
}

// New creates a new lifecycle service.
func New(repo repository.Repository, eventBus events.Bus, log *logger.Logger, cfg Config) *Service {
	if cfg.Detector == nil {
		cfg.Detector = domain.NewClosureDetector(nil)
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.DefaultExtensionMinutes <= 0 {
		cfg.DefaultExtensionMinutes = 60
	}
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetExpiryScheduler wires precise expiry tasks.
func (s *Service) SetExpiryScheduler(scheduler ExpiryScheduler) {
	s.expiry = scheduler
}

// SetMessageSender wires outbound delivery for SendReply.
func (s *Service) SetMessageSender(sender MessageSender) {
	s.sender = sender
}

// IdleThreshold exposes the configured idle window to the sweeps.
func (s *Service) IdleThreshold() time.Duration {
	return s.cfg.Expiration.IdleThreshold
}

// GetConversation retrieves a conversation by ID.
func (s *Service) GetConversation(ctx context.Context, tenantID, id uuid.UUID) (domain.Conversation, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// ListParams filters ListConversations.
type ListParams struct {
	TenantID       uuid.UUID
	Status         string
	ActiveOnly     bool
	AssignedUserID *uuid.UUID
	Page           int
	PageSize       int
}

// ListConversations returns one page of a tenant's conversations and the total.
func (s *Service) ListConversations(ctx context.Context, params ListParams) ([]domain.Conversation, int, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = defaultListLimit
	}
	if pageSize > maxListLimit {
		pageSize = maxListLimit
	}

	repoParams := repository.ListParams{
		TenantID:       params.TenantID,
		ActiveOnly:     params.ActiveOnly,
		AssignedUserID: params.AssignedUserID,
		Limit:          pageSize,
		Offset:         (page - 1) * pageSize,
	}
	if params.Status != "" {
		status, err := domain.ParseStatus(params.Status)
		if err != nil {
			return nil, 0, apperr.Validation("unknown status filter")
		}
		repoParams.Status = &status
	}
	return s.repo.List(ctx, repoParams)
}

// ListMessages returns the most recent messages of a conversation.
func (s *Service) ListMessages(ctx context.Context, tenantID, id uuid.UUID, limit int) ([]domain.Message, error) {
	if _, err := s.repo.GetByID(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if limit < 1 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListMessages(ctx, tenantID, id, limit)
}

// ListHistory returns the status audit trail of a conversation.
func (s *Service) ListHistory(ctx context.Context, tenantID, id uuid.UUID) ([]domain.StateHistory, error) {
	if _, err := s.repo.GetByID(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, tenantID, id)
}

func (s *Service) scheduleExpiry(ctx context.Context, conv domain.Conversation) {
	if s.expiry == nil || conv.ExpiresAt == nil || !conv.Status.IsActive() {
		return
	}
	if err := s.expiry.ScheduleExpiry(ctx, conv.TenantID, conv.ID, *conv.ExpiresAt); err != nil {
		s.log.Warn("failed to schedule expiry task", "conversationId", conv.ID, "expiresAt", conv.ExpiresAt, "error", err)
	}
}
