package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/events"
	"conversation_backend/internal/notification/sse"
	"conversation_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeSender struct {
	to       []string
	messages []string
	err      error
}

func (f *fakeSender) SendText(_ context.Context, to string, message string) (string, error) {
	f.to = append(f.to, to)
	f.messages = append(f.messages, message)
	if f.err != nil {
		return "", f.err
	}
	return "wamid-1", nil
}

func closedEvent(status, from string) events.ConversationClosed {
	return events.ConversationClosed{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: uuid.New(),
		TenantID:       uuid.New(),
		Channel:        domain.ChannelWhatsApp,
		ExternalAddr:   "+31612345678",
		OwnedAddr:      "+31201234567",
		FromStatus:     from,
		Status:         status,
		InitiatedBy:    "system",
	}
}

func TestHandleConversationClosedSendsClosingMessage(t *testing.T) {
	tests := []struct {
		name     string
		event    events.ConversationClosed
		wantSent bool
	}{
		{name: "expired", event: closedEvent("expired", "progress"), wantSent: true},
		{name: "closed after idle", event: closedEvent("agent_closed", "idle_timeout"), wantSent: true},
		{name: "user closed", event: closedEvent("user_closed", "progress"), wantSent: false},
		{name: "agent closed", event: closedEvent("agent_closed", "pending"), wantSent: false},
		{name: "other channel", event: func() events.ConversationClosed {
			e := closedEvent("expired", "progress")
			e.Channel = "sms"
			return e
		}(), wantSent: false},
		{name: "no external address", event: func() events.ConversationClosed {
			e := closedEvent("expired", "progress")
			e.ExternalAddr = " "
			return e
		}(), wantSent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			m := New("Thanks for reaching out. This chat is now closed.", logger.Discard())
			m.SetWhatsAppSender(sender)

			if err := m.Handle(context.Background(), tt.event); err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}
			if got := len(sender.messages) == 1; got != tt.wantSent {
				t.Fatalf("sent = %v, want %v (messages %v)", got, tt.wantSent, sender.messages)
			}
			if tt.wantSent && sender.to[0] != tt.event.ExternalAddr {
				t.Fatalf("sent to %q, want %q", sender.to[0], tt.event.ExternalAddr)
			}
		})
	}
}

func TestHandleConversationClosedWithoutMessageConfigured(t *testing.T) {
	sender := &fakeSender{}
	m := New("   ", logger.Discard())
	m.SetWhatsAppSender(sender)

	if err := m.Handle(context.Background(), closedEvent("expired", "progress")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(sender.messages) != 0 {
		t.Fatalf("expected no message, got %v", sender.messages)
	}
}

func TestHandleConversationClosedReturnsSendError(t *testing.T) {
	boom := errors.New("gateway down")
	m := New("bye", logger.Discard())
	m.SetWhatsAppSender(&fakeSender{err: boom})

	if err := m.Handle(context.Background(), closedEvent("expired", "progress")); !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestHandlePushesEventsToTenantStream(t *testing.T) {
	stream := sse.New(logger.Discard())
	m := New("", logger.Discard())
	m.SetSSE(stream)

	tenantID := uuid.New()
	ch := stream.Subscribe(tenantID)
	defer stream.Unsubscribe(tenantID, ch)

	event := events.ConversationStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: uuid.New(),
		TenantID:       tenantID,
		FromStatus:     "pending",
		ToStatus:       "progress",
	}
	if err := m.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != sse.EventStatusChanged || got.ConversationID != event.ConversationID {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event on tenant stream")
	}
}

func TestRegisterHandlersSubscribesToLifecycleEvents(t *testing.T) {
	bus := events.NewInMemoryBus(logger.Discard())
	sender := &fakeSender{}
	m := New("bye", logger.Discard())
	m.SetWhatsAppSender(sender)
	m.RegisterHandlers(bus)

	if err := bus.PublishSync(context.Background(), closedEvent("expired", "progress")); err != nil {
		t.Fatalf("PublishSync returned error: %v", err)
	}
	if len(sender.messages) != 1 || sender.messages[0] != "bye" {
		t.Fatalf("expected closing message via bus, got %v", sender.messages)
	}
}
