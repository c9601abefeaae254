package repository

import (
	"context"
	"errors"
	"time"

	"conversation_backend/internal/conversation/domain"

	"github.com/google/uuid"
)

var (
	// ErrStatusConflict is returned by UpdateStatus when the row no longer
	// matches the expected status, idle cutoff or expiry cutoff. Callers re-read and
	// resolve again.
	ErrStatusConflict = errors.New("conversation status changed concurrently")
	// ErrActiveConflict is returned by Create when another active
	// conversation already holds the session key.
	ErrActiveConflict = errors.New("active conversation already exists for session key")
	// ErrDuplicateMessage is returned by AppendMessage for a provider message
	// id already stored for the tenant.
	ErrDuplicateMessage = errors.New("provider message already stored")
)

// CreateAudit describes the history row written alongside a new conversation.
type CreateAudit struct {
	InitiatedBy domain.Role
	Reason      string
	Metadata    map[string]any
}

// StatusUpdate is a compare-and-set status change plus its audit row.
type StatusUpdate struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	ExpectedStatus domain.ConversationStatus
	NewStatus      domain.ConversationStatus
	// UpdatedBefore, when set, additionally requires updated_at < UpdatedBefore.
	UpdatedBefore *time.Time
	// ExpiresBefore, when set, additionally requires a deadline at or before
	// ExpiresBefore so a renewed conversation is not expired from a stale read.
	ExpiresBefore *time.Time
	EndedAt       *time.Time
	ExpiresAt     *time.Time
	KeepExpiry    bool
	// Context is merged into the stored context in the same statement when
	// set. See domain.ConversationContext.Merge.
	Context         *domain.ConversationContext
	InitiatedBy     domain.Role
	Reason          string
	HistoryMetadata map[string]any
	At              time.Time
}

// ListParams filters the tenant conversation listing.
type ListParams struct {
	TenantID       uuid.UUID
	Status         *domain.ConversationStatus
	ActiveOnly     bool
	AssignedUserID *uuid.UUID
	Limit          int
	Offset         int
}

// ConversationReader provides read operations for conversations.
type ConversationReader interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Conversation, error)
	FindActiveBySessionKey(ctx context.Context, tenantID uuid.UUID, key domain.SessionKey) (*domain.Conversation, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Conversation, error)
	FindIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error)
	List(ctx context.Context, params ListParams) ([]domain.Conversation, int, error)
}

// ConversationWriter provides write operations for conversations.
type ConversationWriter interface {
	Create(ctx context.Context, conv domain.Conversation, audit CreateAudit) (domain.Conversation, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) (domain.Conversation, error)
	UpdateContext(ctx context.Context, tenantID, id uuid.UUID, patch domain.ConversationContext) (domain.Conversation, error)
	UpdateExpiry(ctx context.Context, tenantID, id uuid.UUID, expiresAt *time.Time, patch domain.ConversationContext) (domain.Conversation, error)
	UpdateAssignment(ctx context.Context, tenantID, id uuid.UUID, userID *uuid.UUID, patch domain.ConversationContext) (domain.Conversation, error)
	// TouchActivity stamps updated_at and, for active rows, renews expires_at.
	TouchActivity(ctx context.Context, tenantID, id uuid.UUID, at time.Time, expiresAt *time.Time) (domain.Conversation, error)
}

// MessageStore provides transcript operations.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]domain.Message, error)
}

// HistoryReader provides the status audit trail.
type HistoryReader interface {
	ListHistory(ctx context.Context, tenantID, conversationID uuid.UUID) ([]domain.StateHistory, error)
}

// Repository combines all conversation persistence operations.
type Repository interface {
	ConversationReader
	ConversationWriter
	MessageStore
	HistoryReader
}
