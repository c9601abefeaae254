// Package notification reacts to conversation events: it streams them to
// connected operators and sends the closing message when a conversation
// ends without anyone saying goodbye.
package notification

import (
	"context"
	"fmt"
	"strings"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/events"
	apphttp "conversation_backend/internal/http"
	"conversation_backend/internal/notification/sse"
	"conversation_backend/platform/httpkit"
	"conversation_backend/platform/logger"
)

// WhatsAppSender sends WhatsApp messages.
type WhatsAppSender interface {
	SendText(ctx context.Context, to string, message string) (string, error)
}

// Module subscribes to conversation events.
type Module struct {
	log            *logger.Logger
	sse            *sse.Service
	whatsapp       WhatsAppSender
	closingMessage string
}

// New creates the notification module. An empty closingMessage disables the
// farewell text.
func New(closingMessage string, log *logger.Logger) *Module {
	return &Module{
		log:            log.WithComponent("notification"),
		closingMessage: strings.TrimSpace(closingMessage),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterRoutes mounts the event stream when SSE is enabled.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.sse == nil {
		return
	}
	ctx.Tenant.GET("/conversation-events", m.sse.Handler(httpkit.MustGetTenantID))
}

// SetSSE enables the operator event stream.
func (m *Module) SetSSE(s *sse.Service) { m.sse = s }

// SetWhatsAppSender enables closing messages.
func (m *Module) SetWhatsAppSender(sender WhatsAppSender) { m.whatsapp = sender }

// RegisterHandlers subscribes to the conversation events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	for name := range streamTypes {
		bus.Subscribe(name, m)
	}
}

var streamTypes = map[string]sse.EventType{
	events.ConversationCreated{}.EventName():       sse.EventConversationCreated,
	events.ConversationStatusChanged{}.EventName(): sse.EventStatusChanged,
	events.ConversationClosed{}.EventName():        sse.EventConversationClosed,
	events.ClosureIntentDetected{}.EventName():     sse.EventClosureIntentDetected,
	events.ConversationTransferred{}.EventName():   sse.EventConversationReassigned,
	events.ConversationEscalated{}.EventName():     sse.EventConversationEscalated,
}

// Handle streams every scoped event to its tenant and sends the closing
// message for conversations that ended on their own.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	if scoped, ok := event.(events.Scoped); ok {
		m.stream(scoped)
	}

	if closed, ok := event.(events.ConversationClosed); ok {
		return m.handleConversationClosed(ctx, closed)
	}
	return nil
}

func (m *Module) stream(event events.Scoped) {
	if m.sse == nil {
		return
	}
	typ, ok := streamTypes[event.EventName()]
	if !ok {
		m.log.Warn("no stream type for event", "event", event.EventName())
		return
	}
	tenantID, conversationID := event.Scope()
	m.sse.PublishToTenant(tenantID, sse.Event{
		Type:           typ,
		ConversationID: conversationID,
		Message:        streamMessage(event),
		Data:           event,
	})
}

func streamMessage(event events.Event) string {
	switch e := event.(type) {
	case events.ConversationCreated:
		return "Conversation started"
	case events.ConversationStatusChanged:
		return fmt.Sprintf("Status changed from %s to %s", e.FromStatus, e.ToStatus)
	case events.ConversationClosed:
		return fmt.Sprintf("Conversation closed as %s", e.Status)
	case events.ClosureIntentDetected:
		return fmt.Sprintf("Closure intent detected (%.2f)", e.Confidence)
	case events.ConversationTransferred:
		return "Conversation transferred"
	case events.ConversationEscalated:
		return "Conversation escalated"
	default:
		return ""
	}
}

// handleConversationClosed tells the user the session is over when it ended
// through inactivity. Explicit closes already carry their own goodbye.
func (m *Module) handleConversationClosed(ctx context.Context, e events.ConversationClosed) error {
	if !m.shouldSendClosingMessage(e) {
		return nil
	}

	log := m.log.WithTenantID(e.TenantID.String())
	messageID, err := m.whatsapp.SendText(ctx, e.ExternalAddr, m.closingMessage)
	if err != nil {
		log.Error("failed to send closing message",
			"conversationId", e.ConversationID,
			"status", e.Status,
			"error", err,
		)
		return err
	}

	log.Info("closing message sent",
		"conversationId", e.ConversationID,
		"status", e.Status,
		"messageId", messageID,
	)
	return nil
}

func (m *Module) shouldSendClosingMessage(e events.ConversationClosed) bool {
	if m.whatsapp == nil || m.closingMessage == "" {
		return false
	}
	if e.Channel != domain.ChannelWhatsApp || strings.TrimSpace(e.ExternalAddr) == "" {
		return false
	}
	return e.Status == string(domain.StatusExpired) || e.FromStatus == string(domain.StatusIdleTimeout)
}
