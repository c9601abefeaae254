// Package sse provides Server-Sent Events streams of conversation activity.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"conversation_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventConversationCreated    EventType = "conversation_created"
	EventStatusChanged          EventType = "conversation_status_changed"
	EventConversationClosed     EventType = "conversation_closed"
	EventClosureIntentDetected  EventType = "closure_intent_detected"
	EventConversationReassigned EventType = "conversation_transferred"
	EventConversationEscalated  EventType = "conversation_escalated"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type           EventType `json:"type"`
	ConversationID uuid.UUID `json:"conversationId"`
	Message        string    `json:"message,omitempty"`
	Data           any       `json:"data,omitempty"`
}

// client represents a connected SSE client
type client struct {
	tenantID uuid.UUID
	events   chan Event
}

// Service manages SSE connections and event broadcasting
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client // tenantID -> clients
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

// Subscribe opens a stream for the tenant. The channel is closed by
// Unsubscribe or Close.
func (s *Service) Subscribe(tenantID uuid.UUID) <-chan Event {
	c := &client{
		tenantID: tenantID,
		events:   make(chan Event, clientBuffer),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[tenantID] = append(s.clients[tenantID], c)
	return c.events
}

// Unsubscribe drops a stream. It reports false when Close already dropped it.
func (s *Service) Unsubscribe(tenantID uuid.UUID, ch <-chan Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[tenantID]
	for i, cl := range clients {
		if (<-chan Event)(cl.events) == ch {
			s.clients[tenantID] = append(clients[:i], clients[i+1:]...)
			if len(s.clients[tenantID]) == 0 {
				delete(s.clients, tenantID)
			}
			close(cl.events)
			return true
		}
	}
	return false
}

// ClientCount returns the number of open streams for a tenant.
func (s *Service) ClientCount(tenantID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[tenantID])
}

// PublishToTenant broadcasts an event to every stream of the tenant. Slow
// clients drop events instead of blocking the publisher.
func (s *Service) PublishToTenant(tenantID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients[tenantID] {
		select {
		case c.events <- event:
		default:
			s.log.Warn("sse buffer full, dropping event", "tenantId", tenantID, "type", event.Type)
		}
	}
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler(getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := getTenantID(c)
		if !ok {
			return
		}

		// Set SSE headers
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		events := s.Subscribe(tenantID)
		defer s.Unsubscribe(tenantID, events)

		c.SSEvent("connected", gin.H{"tenantId": tenantID})
		c.Writer.Flush()
		s.log.Debug("sse client connected", "tenantId", tenantID)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("sse client disconnected", "tenantId", tenantID)
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					s.log.Error("failed to marshal sse event", "tenantId", tenantID, "type", event.Type, "error", err)
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close shuts down the SSE service
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
