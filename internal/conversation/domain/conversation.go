package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message or initiated a transition.
type Role string

const (
	RoleUser    Role = "user"
	RoleAgent   Role = "agent"
	RoleSystem  Role = "system"
	RoleTool    Role = "tool"
	RoleSupport Role = "support"
)

var knownRoles = map[Role]struct{}{
	RoleUser: {}, RoleAgent: {}, RoleSystem: {}, RoleTool: {}, RoleSupport: {},
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	_, ok := knownRoles[r]
	return ok
}

// IsStaff reports whether r accepts a pending conversation when it speaks.
func (r Role) IsStaff() bool {
	return r.IsValid() && r != RoleUser
}

// NormalizeInitiator maps a free-form actor to a known Role. Unknown or empty
// values collapse to RoleSystem; the second return carries the raw value when
// it had to be replaced so callers can keep it for audit.
func NormalizeInitiator(raw string) (Role, string) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if role.IsValid() {
		return role, ""
	}
	return RoleSystem, raw
}

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ChannelWhatsApp is the only channel shipped with an adapter.
const ChannelWhatsApp = "whatsapp"

// Conversation is a bounded-lifetime session between an external party and a
// tenant-owned address.
type Conversation struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	AssignedUserID *uuid.UUID
	Channel        string
	SessionKey     SessionKey
	FromAddr       string
	ToAddr         string
	Status         ConversationStatus
	StartedAt      time.Time
	UpdatedAt      time.Time
	EndedAt        *time.Time
	ExpiresAt      *time.Time
	Context        ConversationContext
	Metadata       map[string]any
}

// Message is a single entry in a conversation transcript.
type Message struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	TenantID          uuid.UUID
	Direction         Direction
	Role              Role
	Body              string
	MediaRefs         []string
	ProviderMessageID *string
	Metadata          map[string]any
	CreatedAt         time.Time
}

// StateHistory is one append-only audit row for a status change.
type StateHistory struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	FromStatus     *ConversationStatus
	ToStatus       ConversationStatus
	InitiatedBy    Role
	Reason         string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// IncomingMessage is a channel message normalized by an adapter.
type IncomingMessage struct {
	TenantID          uuid.UUID
	FromAddr          string
	ToAddr            string
	Channel           string
	Body              string
	AuthorRole        Role
	MediaRefs         []string
	ProviderMessageID string
	Metadata          map[string]any
}

// Direction derives the message direction from the author role.
func (m IncomingMessage) Direction() Direction {
	if m.AuthorRole == RoleUser || m.AuthorRole == "" {
		return DirectionInbound
	}
	return DirectionOutbound
}

// TransitionResult reports the outcome of a status change request.
// Rejections are not errors; Applied is false and Reason says why.
type TransitionResult struct {
	Applied      bool
	Override     bool
	From         ConversationStatus
	To           ConversationStatus
	Reason       string
	Conversation *Conversation
}

// NewID returns a time-sortable identifier.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
