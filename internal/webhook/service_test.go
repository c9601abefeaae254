package webhook

import (
	"context"
	"errors"
	"testing"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/platform/apperr"
	"conversation_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeLifecycle struct {
	calls []domain.IncomingMessage
	err   error
}

func (f *fakeLifecycle) HandleIncoming(_ context.Context, in domain.IncomingMessage) (service.MessageResult, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return service.MessageResult{}, f.err
	}
	return service.MessageResult{
		Conversation: domain.Conversation{ID: uuid.New(), Status: domain.StatusPending},
		Message:      domain.Message{ID: uuid.New()},
		Created:      len(f.calls) == 1,
	}, nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func textPayload(id string) GOWAPayload {
	return GOWAPayload{From: "16502530000@s.whatsapp.net", Message: GOWAMessage{ID: id, Text: "hello"}}
}

func TestProcessWhatsAppDedupesRedelivery(t *testing.T) {
	mr, rdb := newRedis(t)
	lifecycle := &fakeLifecycle{}
	svc := NewService(lifecycle, NewDeduper(rdb, 0), "15550002222", logger.Discard())
	tenantID := uuid.New()

	first, err := svc.ProcessWhatsApp(context.Background(), tenantID, textPayload("M1"))
	if err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	if first.Outcome != OutcomeProcessed || !first.Created || first.ConversationID == nil {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := svc.ProcessWhatsApp(context.Background(), tenantID, textPayload("M1"))
	if err != nil {
		t.Fatalf("second delivery returned error: %v", err)
	}
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}
	if len(lifecycle.calls) != 1 {
		t.Fatalf("expected one lifecycle call, got %d", len(lifecycle.calls))
	}

	key := dedupeKey(tenantID, "M1")
	if !mr.Exists(key) {
		t.Fatalf("expected %s to be set", key)
	}
	if ttl := mr.TTL(key); ttl != defaultDedupeTTL {
		t.Fatalf("expected ttl %v, got %v", defaultDedupeTTL, ttl)
	}
}

func TestProcessWhatsAppReleasesClaimOnFailure(t *testing.T) {
	mr, rdb := newRedis(t)
	lifecycle := &fakeLifecycle{err: errors.New("database unavailable")}
	svc := NewService(lifecycle, NewDeduper(rdb, 0), "15550002222", logger.Discard())
	tenantID := uuid.New()

	if _, err := svc.ProcessWhatsApp(context.Background(), tenantID, textPayload("M2")); err == nil {
		t.Fatal("expected lifecycle error")
	}
	if mr.Exists(dedupeKey(tenantID, "M2")) {
		t.Fatal("expected claim to be released so the gateway can retry")
	}
}

func TestProcessWhatsAppTreatsStoredMessageAsDuplicate(t *testing.T) {
	mr, rdb := newRedis(t)
	lifecycle := &fakeLifecycle{err: apperr.Wrap(apperr.KindConflict, "message already recorded", service.ErrDuplicateMessage)}
	svc := NewService(lifecycle, NewDeduper(rdb, 0), "15550002222", logger.Discard())
	tenantID := uuid.New()

	result, err := svc.ProcessWhatsApp(context.Background(), tenantID, textPayload("M3"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v", result)
	}
	if !mr.Exists(dedupeKey(tenantID, "M3")) {
		t.Fatal("expected claim to be kept for a stored message")
	}
}

func TestProcessWhatsAppReleasesClaimOnOtherConflicts(t *testing.T) {
	mr, rdb := newRedis(t)
	lifecycle := &fakeLifecycle{err: apperr.Wrap(apperr.KindConflict, "conversation is closed", service.ErrConversationClosed)}
	svc := NewService(lifecycle, NewDeduper(rdb, 0), "15550002222", logger.Discard())
	tenantID := uuid.New()

	result, err := svc.ProcessWhatsApp(context.Background(), tenantID, textPayload("M5"))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected the conflict to surface, got %v", err)
	}
	if result.Outcome == OutcomeDuplicate {
		t.Fatalf("closed conversation must not be reported as duplicate, got %+v", result)
	}
	if mr.Exists(dedupeKey(tenantID, "M5")) {
		t.Fatal("expected claim to be released so the gateway can retry")
	}
}

func TestProcessWhatsAppWithoutRedisStillProcesses(t *testing.T) {
	lifecycle := &fakeLifecycle{}
	svc := NewService(lifecycle, NewDeduper(nil, 0), "15550002222", logger.Discard())

	for i := 0; i < 2; i++ {
		if _, err := svc.ProcessWhatsApp(context.Background(), uuid.New(), textPayload("M4")); err != nil {
			t.Fatalf("delivery %d returned error: %v", i+1, err)
		}
	}
	if len(lifecycle.calls) != 2 {
		t.Fatalf("expected both deliveries to be processed, got %d", len(lifecycle.calls))
	}
}

func TestProcessWhatsAppIgnoresReceipts(t *testing.T) {
	lifecycle := &fakeLifecycle{}
	svc := NewService(lifecycle, NewDeduper(nil, 0), "15550002222", logger.Discard())

	result, err := svc.ProcessWhatsApp(context.Background(), uuid.New(), GOWAPayload{Event: "message.ack", Payload: &GOWAReceipt{IDs: []string{"x"}}})
	if err != nil || result.Outcome != OutcomeIgnored || len(lifecycle.calls) != 0 {
		t.Fatalf("expected ignored receipt, got %+v err=%v", result, err)
	}
}
