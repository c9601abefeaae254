// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"conversation_backend/platform/events"
	"conversation_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Scoped      = events.Scoped
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus builds the process-local bus used by cmd/api and cmd/scheduler.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Conversation Lifecycle Events
// =============================================================================

// ConversationCreated is published when a new conversation is opened for a
// session key.
type ConversationCreated struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	TenantID       uuid.UUID `json:"tenantId"`
	Channel        string    `json:"channel"`
	SessionKey     string    `json:"sessionKey"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (e ConversationCreated) EventName() string { return "conversation.created" }
func (e ConversationCreated) Scope() (uuid.UUID, uuid.UUID) { return e.TenantID, e.ConversationID }

// ConversationStatusChanged is published for every applied status change.
type ConversationStatusChanged struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	TenantID       uuid.UUID `json:"tenantId"`
	FromStatus     string    `json:"fromStatus"`
	ToStatus       string    `json:"toStatus"`
	InitiatedBy    string    `json:"initiatedBy"`
	Reason         string    `json:"reason"`
	Override       bool      `json:"override"`
}

func (e ConversationStatusChanged) EventName() string { return "conversation.status_changed" }
func (e ConversationStatusChanged) Scope() (uuid.UUID, uuid.UUID) { return e.TenantID, e.ConversationID }

// ConversationClosed is published when a conversation enters a terminal
// status, including priority overrides of an earlier close.
type ConversationClosed struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	TenantID       uuid.UUID `json:"tenantId"`
	Channel        string    `json:"channel"`
	ExternalAddr   string    `json:"externalAddr"`
	OwnedAddr      string    `json:"ownedAddr"`
	FromStatus     string    `json:"fromStatus"`
	Status         string    `json:"status"`
	InitiatedBy    string    `json:"initiatedBy"`
	Reason         string    `json:"reason"`
}

func (e ConversationClosed) EventName() string { return "conversation.closed" }
func (e ConversationClosed) Scope() (uuid.UUID, uuid.UUID) { return e.TenantID, e.ConversationID }

// ClosureIntentDetected is published when a user message crosses the closure
// detection floor, whether or not it closed the conversation.
type ClosureIntentDetected struct {
	BaseEvent
	ConversationID  uuid.UUID `json:"conversationId"`
	TenantID        uuid.UUID `json:"tenantId"`
	MessageID       uuid.UUID `json:"messageId"`
	Confidence      float64   `json:"confidence"`
	SuggestedStatus string    `json:"suggestedStatus"`
	Reasons         []string  `json:"reasons"`
	AutoClosed      bool      `json:"autoClosed"`
}

func (e ClosureIntentDetected) EventName() string { return "conversation.closure_intent_detected" }
func (e ClosureIntentDetected) Scope() (uuid.UUID, uuid.UUID) { return e.TenantID, e.ConversationID }

// ConversationTransferred is published when a conversation is reassigned.
type ConversationTransferred struct {
	BaseEvent
	ConversationID uuid.UUID  `json:"conversationId"`
	TenantID       uuid.UUID  `json:"tenantId"`
	FromUserID     *uuid.UUID `json:"fromUserId,omitempty"`
	ToUserID       uuid.UUID  `json:"toUserId"`
	Reason         string     `json:"reason"`
}

func (e ConversationTransferred) EventName() string { return "conversation.transferred" }
func (e ConversationTransferred) Scope() (uuid.UUID, uuid.UUID) { return e.TenantID, e.ConversationID }

// ConversationEscalated is published when a conversation is escalated.
type ConversationEscalated struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	TenantID       uuid.UUID `json:"tenantId"`
	Level          string    `json:"level"`
	Reason         string    `json:"reason"`
}

func (e ConversationEscalated) EventName() string { return "conversation.escalated" }
func (e ConversationEscalated) Scope() (uuid.UUID, uuid.UUID) { return e.TenantID, e.ConversationID }
