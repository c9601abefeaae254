package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConversationContext holds the audit breadcrumbs of a conversation.
// Named fields cover the breadcrumbs the engine writes itself; Extra carries
// channel-specific data. It is stored as a single JSONB document.
type ConversationContext struct {
	AcceptedBy          *AcceptedBy        `json:"accepted_by,omitempty"`
	ClosureDetected     *ClosureBreadcrumb `json:"closure_detected,omitempty"`
	ReactivatedFromIdle *Reactivation      `json:"reactivated_from_idle,omitempty"`
	FailureDetails      *FailureDetails    `json:"failure_details,omitempty"`
	Transfers           []TransferRecord   `json:"transfers,omitempty"`
	Escalations         []EscalationRecord `json:"escalations,omitempty"`
	ExpirationExtended  []ExpiryExtension  `json:"expiration_extended,omitempty"`
	Extra               map[string]any     `json:"extra,omitempty"`
}

// AcceptedBy records the first staff message on a pending conversation.
type AcceptedBy struct {
	AgentType Role      `json:"agent_type"`
	MessageID uuid.UUID `json:"message_id"`
	At        time.Time `json:"at"`
}

// ClosureBreadcrumb records a closure intent that crossed the detection floor.
type ClosureBreadcrumb struct {
	Confidence      float64            `json:"confidence"`
	SuggestedStatus ConversationStatus `json:"suggested_status"`
	Reasons         []string           `json:"reasons"`
	MessageID       uuid.UUID          `json:"message_id"`
	AutoClosed      bool               `json:"auto_closed"`
	At              time.Time          `json:"at"`
}

// Reactivation records an idle conversation coming back to life.
type Reactivation struct {
	TriggerRole Role      `json:"trigger_role"`
	MessageID   uuid.UUID `json:"message_id"`
	At          time.Time `json:"at"`
}

// FailureDetails records the error that forced a conversation to failed.
type FailureDetails struct {
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// TransferRecord records a reassignment between users.
type TransferRecord struct {
	FromUserID *uuid.UUID `json:"from_user_id,omitempty"`
	ToUserID   uuid.UUID  `json:"to_user_id"`
	Reason     string     `json:"reason,omitempty"`
	By         Role       `json:"by"`
	At         time.Time  `json:"at"`
}

// EscalationRecord records a hand-off to a higher support tier.
type EscalationRecord struct {
	Level  string    `json:"level"`
	Reason string    `json:"reason,omitempty"`
	By     Role      `json:"by"`
	At     time.Time `json:"at"`
}

// ExpiryExtension records a manual deadline extension.
type ExpiryExtension struct {
	Minutes  int        `json:"minutes"`
	Previous *time.Time `json:"previous,omitempty"`
	NewValue time.Time  `json:"new_value"`
	At       time.Time  `json:"at"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored value.
func (c ConversationContext) Clone() ConversationContext {
	out := c
	if c.AcceptedBy != nil {
		v := *c.AcceptedBy
		out.AcceptedBy = &v
	}
	if c.ClosureDetected != nil {
		v := *c.ClosureDetected
		v.Reasons = append([]string(nil), c.ClosureDetected.Reasons...)
		out.ClosureDetected = &v
	}
	if c.ReactivatedFromIdle != nil {
		v := *c.ReactivatedFromIdle
		out.ReactivatedFromIdle = &v
	}
	if c.FailureDetails != nil {
		v := *c.FailureDetails
		out.FailureDetails = &v
	}
	out.Transfers = append([]TransferRecord(nil), c.Transfers...)
	out.Escalations = append([]EscalationRecord(nil), c.Escalations...)
	out.ExpirationExtended = append([]ExpiryExtension(nil), c.ExpirationExtended...)
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MarshalContext encodes ctx for storage. An empty context encodes as "{}".
func MarshalContext(ctx ConversationContext) ([]byte, error) {
	return json.Marshal(ctx)
}

// UnmarshalContext decodes a stored context. Empty input yields a zero value.
func UnmarshalContext(data []byte) (ConversationContext, error) {
	var ctx ConversationContext
	if len(data) == 0 {
		return ctx, nil
	}
	if err := json.Unmarshal(data, &ctx); err != nil {
		return ConversationContext{}, err
	}
	return ctx, nil
}

// Merge applies patch on top of c. Set single-value breadcrumbs replace the
// stored ones, list breadcrumbs are appended and Extra is merged per key.
// The repository performs the same merge in SQL so concurrent writers that
// touch different keys never erase each other.
func (c ConversationContext) Merge(patch ConversationContext) ConversationContext {
	out := c.Clone()
	if patch.AcceptedBy != nil {
		v := *patch.AcceptedBy
		out.AcceptedBy = &v
	}
	if patch.ClosureDetected != nil {
		v := *patch.ClosureDetected
		v.Reasons = append([]string(nil), patch.ClosureDetected.Reasons...)
		out.ClosureDetected = &v
	}
	if patch.ReactivatedFromIdle != nil {
		v := *patch.ReactivatedFromIdle
		out.ReactivatedFromIdle = &v
	}
	if patch.FailureDetails != nil {
		v := *patch.FailureDetails
		out.FailureDetails = &v
	}
	out.Transfers = append(out.Transfers, patch.Transfers...)
	out.Escalations = append(out.Escalations, patch.Escalations...)
	out.ExpirationExtended = append(out.ExpirationExtended, patch.ExpirationExtended...)
	if len(patch.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
