package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conversation_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestPublishToTenantOnlyReachesThatTenant(t *testing.T) {
	s := New(logger.Discard())
	tenantA, tenantB := uuid.New(), uuid.New()

	chA := s.Subscribe(tenantA)
	chB := s.Subscribe(tenantB)

	s.PublishToTenant(tenantA, Event{Type: EventConversationCreated, ConversationID: uuid.New()})

	select {
	case got := <-chA:
		if got.Type != EventConversationCreated {
			t.Fatalf("unexpected type %q", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("tenant A did not receive the event")
	}

	select {
	case got := <-chB:
		t.Fatalf("tenant B received %+v", got)
	default:
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	s := New(logger.Discard())
	tenantID := uuid.New()
	ch := s.Subscribe(tenantID)

	for i := 0; i < clientBuffer+5; i++ {
		s.PublishToTenant(tenantID, Event{Type: EventStatusChanged})
	}
	if len(ch) != clientBuffer {
		t.Fatalf("expected buffer of %d, got %d", clientBuffer, len(ch))
	}
}

func TestUnsubscribeAfterCloseIsSafe(t *testing.T) {
	s := New(logger.Discard())
	tenantID := uuid.New()
	ch := s.Subscribe(tenantID)

	if s.ClientCount(tenantID) != 1 {
		t.Fatalf("expected 1 client, got %d", s.ClientCount(tenantID))
	}

	s.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
	if s.Unsubscribe(tenantID, ch) {
		t.Fatal("expected Unsubscribe to report the stream as already gone")
	}
	if s.ClientCount(tenantID) != 0 {
		t.Fatalf("expected 0 clients, got %d", s.ClientCount(tenantID))
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(logger.Discard())
	tenantID := uuid.New()

	router := gin.New()
	router.GET("/events", s.Handler(func(*gin.Context) (uuid.UUID, bool) { return tenantID, true }))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount(tenantID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.PublishToTenant(tenantID, Event{Type: EventConversationClosed, Message: "Conversation closed"})

	// Close ends the stream after the buffered event is written.
	time.Sleep(20 * time.Millisecond)
	s.Close()
	<-done
	cancel()

	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "event:connected") || !strings.Contains(body, "event:conversation_closed") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestHandlerSkipsUnencodableEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(logger.Discard())
	tenantID := uuid.New()

	router := gin.New()
	router.GET("/events", s.Handler(func(*gin.Context) (uuid.UUID, bool) { return tenantID, true }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount(tenantID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.PublishToTenant(tenantID, Event{Type: EventStatusChanged, Data: make(chan int)})
	s.PublishToTenant(tenantID, Event{Type: EventConversationClosed, Message: "Conversation closed"})

	time.Sleep(20 * time.Millisecond)
	s.Close()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, "event:conversation_status_changed") {
		t.Fatalf("unencodable event was written: %q", body)
	}
	if !strings.Contains(body, "event:conversation_closed") {
		t.Fatalf("stream stopped after the unencodable event: %q", body)
	}
}
