package transport

import (
	"time"

	"conversation_backend/internal/conversation/domain"

	"github.com/google/uuid"
)

// GetOrCreateConversationRequest identifies a session by its two addresses.
type GetOrCreateConversationRequest struct {
	FromAddr    string         `json:"fromAddr" validate:"required,max=255"`
	ToAddr      string         `json:"toAddr" validate:"required,max=255"`
	Channel     string         `json:"channel,omitempty" validate:"omitempty,max=32"`
	Direction   string         `json:"direction,omitempty" validate:"omitempty,oneof=inbound outbound"`
	InitiatedBy string         `json:"initiatedBy,omitempty" validate:"omitempty,max=64"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AddMessageRequest records a transcript entry without delivering it.
type AddMessageRequest struct {
	Role              string         `json:"role" validate:"required,oneof=user agent system tool support"`
	Direction         string         `json:"direction,omitempty" validate:"omitempty,oneof=inbound outbound"`
	Body              string         `json:"body" validate:"max=8000"`
	MediaRefs         []string       `json:"mediaRefs,omitempty" validate:"omitempty,max=20,dive,max=1024"`
	ProviderMessageID string         `json:"providerMessageId,omitempty" validate:"omitempty,max=255"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// ReplyRequest delivers an outbound staff message.
type ReplyRequest struct {
	Role string `json:"role,omitempty" validate:"omitempty,oneof=agent support system"`
	Body string `json:"body" validate:"required,max=4096"`
}

// CloseConversationRequest asks for a terminal status.
type CloseConversationRequest struct {
	Status      string `json:"status" validate:"required,closure_status"`
	Reason      string `json:"reason,omitempty" validate:"omitempty,max=500"`
	InitiatedBy string `json:"initiatedBy,omitempty" validate:"omitempty,max=64"`
}

// ExtendExpirationRequest pushes the deadline out. Minutes is optional.
type ExtendExpirationRequest struct {
	Minutes     *int   `json:"minutes,omitempty" validate:"omitempty,min=1,max=10080"`
	InitiatedBy string `json:"initiatedBy,omitempty" validate:"omitempty,max=64"`
}

// TransferConversationRequest reassigns a conversation to another user.
type TransferConversationRequest struct {
	ToUserID    uuid.UUID `json:"toUserId" validate:"required"`
	Reason      string    `json:"reason,omitempty" validate:"omitempty,max=500"`
	InitiatedBy string    `json:"initiatedBy,omitempty" validate:"omitempty,max=64"`
}

// EscalateConversationRequest raises a conversation to a support level.
type EscalateConversationRequest struct {
	Level       string `json:"level,omitempty" validate:"omitempty,max=64"`
	Reason      string `json:"reason,omitempty" validate:"omitempty,max=500"`
	InitiatedBy string `json:"initiatedBy,omitempty" validate:"omitempty,max=64"`
}

// ListConversationsRequest holds list filters from the query string.
type ListConversationsRequest struct {
	Status         string `form:"status" validate:"omitempty,conversation_status"`
	ActiveOnly     bool   `form:"activeOnly"`
	AssignedUserID string `form:"assignedUserId" validate:"omitempty,uuid"`
	Page           int    `form:"page" validate:"omitempty,min=1"`
	PageSize       int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// ListMessagesRequest limits a transcript read.
type ListMessagesRequest struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=100"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID             uuid.UUID                  `json:"id"`
	AssignedUserID *uuid.UUID                 `json:"assignedUserId,omitempty"`
	Channel        string                     `json:"channel"`
	SessionKey     string                     `json:"sessionKey"`
	FromAddr       string                     `json:"fromAddr"`
	ToAddr         string                     `json:"toAddr"`
	Status         string                     `json:"status"`
	Active         bool                       `json:"active"`
	StartedAt      time.Time                  `json:"startedAt"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
	EndedAt        *time.Time                 `json:"endedAt,omitempty"`
	ExpiresAt      *time.Time                 `json:"expiresAt,omitempty"`
	Context        domain.ConversationContext `json:"context"`
	Metadata       map[string]any             `json:"metadata,omitempty"`
}

// GetOrCreateConversationResponse reports whether the conversation is new.
type GetOrCreateConversationResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Created      bool                 `json:"created"`
}

// MessageResponse represents a transcript entry.
type MessageResponse struct {
	ID                uuid.UUID      `json:"id"`
	ConversationID    uuid.UUID      `json:"conversationId"`
	Direction         string         `json:"direction"`
	Role              string         `json:"role"`
	Body              string         `json:"body"`
	MediaRefs         []string       `json:"mediaRefs,omitempty"`
	ProviderMessageID *string        `json:"providerMessageId,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// ClosureIntentResponse is the detector verdict for a message.
type ClosureIntentResponse struct {
	ShouldClose     bool     `json:"shouldClose"`
	Confidence      float64  `json:"confidence"`
	SuggestedStatus string   `json:"suggestedStatus,omitempty"`
	Reasons         []string `json:"reasons,omitempty"`
}

// TransitionResponse reports the outcome of a status change request.
type TransitionResponse struct {
	Applied      bool                  `json:"applied"`
	Override     bool                  `json:"override"`
	From         string                `json:"from"`
	To           string                `json:"to"`
	Reason       string                `json:"reason"`
	Conversation *ConversationResponse `json:"conversation,omitempty"`
}

// MessageResultResponse wraps a recorded message and its side effects.
type MessageResultResponse struct {
	Conversation  ConversationResponse   `json:"conversation"`
	Message       MessageResponse        `json:"message"`
	Created       bool                   `json:"created"`
	Transition    *TransitionResponse    `json:"transition,omitempty"`
	ClosureIntent *ClosureIntentResponse `json:"closureIntent,omitempty"`
}

// HistoryResponse is one status audit row.
type HistoryResponse struct {
	ID          uuid.UUID      `json:"id"`
	FromStatus  *string        `json:"fromStatus"`
	ToStatus    string         `json:"toStatus"`
	InitiatedBy string         `json:"initiatedBy"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// ConversationListResponse wraps a page of conversations.
type ConversationListResponse struct {
	Items    []ConversationResponse `json:"items"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"pageSize"`
}

// MessageListResponse wraps a transcript.
type MessageListResponse struct {
	Items []MessageResponse `json:"items"`
}

// HistoryListResponse wraps the audit trail.
type HistoryListResponse struct {
	Items []HistoryResponse `json:"items"`
}
