package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/platform/apperr"
	"conversation_backend/platform/httpkit"
	"conversation_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakeService struct {
	conv       domain.Conversation
	created    bool
	getErr     error
	closeCalls []service.CloseParams
	extendCall *service.ExtendParams
	listParams service.ListParams
}

func (f *fakeService) GetOrCreateConversation(_ context.Context, params service.GetOrCreateParams) (domain.Conversation, bool, error) {
	conv := f.conv
	conv.TenantID = params.TenantID
	return conv, f.created, nil
}

func (f *fakeService) GetConversation(context.Context, uuid.UUID, uuid.UUID) (domain.Conversation, error) {
	if f.getErr != nil {
		return domain.Conversation{}, f.getErr
	}
	return f.conv, nil
}

func (f *fakeService) ListConversations(_ context.Context, params service.ListParams) ([]domain.Conversation, int, error) {
	f.listParams = params
	return []domain.Conversation{f.conv}, 1, nil
}

func (f *fakeService) ListMessages(context.Context, uuid.UUID, uuid.UUID, int) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeService) ListHistory(context.Context, uuid.UUID, uuid.UUID) ([]domain.StateHistory, error) {
	from := domain.StatusPending
	return []domain.StateHistory{
		{ID: uuid.New(), ToStatus: domain.StatusPending, InitiatedBy: domain.RoleUser},
		{ID: uuid.New(), FromStatus: &from, ToStatus: domain.StatusProgress, InitiatedBy: domain.RoleAgent},
	}, nil
}

func (f *fakeService) AddMessage(_ context.Context, params service.AddMessageParams) (service.MessageResult, error) {
	return service.MessageResult{
		Conversation: f.conv,
		Message:      domain.Message{ID: uuid.New(), ConversationID: params.ConversationID, Role: params.Role, Body: params.Body},
	}, nil
}

func (f *fakeService) SendReply(context.Context, service.ReplyParams) (service.MessageResult, error) {
	return service.MessageResult{}, apperr.Internal("outbound messaging is not configured")
}

func (f *fakeService) CloseConversationWithPriority(_ context.Context, params service.CloseParams) (domain.TransitionResult, error) {
	f.closeCalls = append(f.closeCalls, params)
	conv := f.conv
	conv.Status = params.Status
	return domain.TransitionResult{Applied: true, From: f.conv.Status, To: params.Status, Reason: domain.ReasonTransitionAllowed, Conversation: &conv}, nil
}

func (f *fakeService) ExtendExpiration(_ context.Context, params service.ExtendParams) (domain.Conversation, error) {
	f.extendCall = &params
	return f.conv, nil
}

func (f *fakeService) TransferConversation(context.Context, service.TransferParams) (domain.Conversation, error) {
	return f.conv, nil
}

func (f *fakeService) EscalateConversation(context.Context, service.EscalateParams) (domain.Conversation, error) {
	return f.conv, nil
}

func newTestRouter(t *testing.T, svc ConversationService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	val := validator.New()
	if err := RegisterValidations(val); err != nil {
		t.Fatalf("register validations: %v", err)
	}
	h := New(svc, val)

	engine := gin.New()
	group := engine.Group("/api/v1", httpkit.TenantRequired())
	group.POST("/conversations", h.GetOrCreate)
	group.GET("/conversations", h.List)
	group.GET("/conversations/:id", h.Get)
	group.POST("/conversations/:id/messages", h.AddMessage)
	group.POST("/conversations/:id/reply", h.Reply)
	group.POST("/conversations/:id/close", h.Close)
	group.POST("/conversations/:id/extend", h.Extend)
	group.GET("/conversations/:id/history", h.ListHistory)
	return engine
}

func doRequest(engine *gin.Engine, method, path string, tenant uuid.UUID, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenant != uuid.Nil {
		req.Header.Set(httpkit.TenantHeader, tenant.String())
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func sampleConversation() domain.Conversation {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Conversation{
		ID:         uuid.New(),
		Channel:    domain.ChannelWhatsApp,
		SessionKey: "+15550001111:+15550002222",
		FromAddr:   "+15550001111",
		ToAddr:     "+15550002222",
		Status:     domain.StatusProgress,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

func TestRequestsWithoutTenantAreRejected(t *testing.T) {
	engine := newTestRouter(t, &fakeService{conv: sampleConversation()})

	rec := doRequest(engine, http.MethodGet, "/api/v1/conversations", uuid.Nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrCreateReturnsCreatedStatus(t *testing.T) {
	svc := &fakeService{conv: sampleConversation(), created: true}
	engine := newTestRouter(t, svc)

	rec := doRequest(engine, http.MethodPost, "/api/v1/conversations", uuid.New(), map[string]any{
		"fromAddr": "whatsapp:+15550001111",
		"toAddr":   "+15550002222",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Created      bool `json:"created"`
		Conversation struct {
			Status string `json:"status"`
			Active bool   `json:"active"`
		} `json:"conversation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Created || body.Conversation.Status != "progress" || !body.Conversation.Active {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetOrCreateValidatesAddresses(t *testing.T) {
	engine := newTestRouter(t, &fakeService{conv: sampleConversation()})

	rec := doRequest(engine, http.MethodPost, "/api/v1/conversations", uuid.New(), map[string]any{"fromAddr": "+1555"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body httpkit.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	details, ok := body.Details.(map[string]any)
	if !ok || details["toAddr"] != "required" {
		t.Fatalf("expected toAddr=required in details, got %#v", body.Details)
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	engine := newTestRouter(t, &fakeService{conv: sampleConversation()})

	rec := doRequest(engine, http.MethodGet, "/api/v1/conversations/not-a-uuid", uuid.New(), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetMapsNotFound(t *testing.T) {
	svc := &fakeService{getErr: apperr.NotFound("conversation not found")}
	engine := newTestRouter(t, svc)

	rec := doRequest(engine, http.MethodGet, "/api/v1/conversations/"+uuid.NewString(), uuid.New(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCloseRejectsNonTerminalStatus(t *testing.T) {
	svc := &fakeService{conv: sampleConversation()}
	engine := newTestRouter(t, svc)

	rec := doRequest(engine, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/close", uuid.New(), map[string]any{
		"status": "progress",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(svc.closeCalls) != 0 {
		t.Fatal("service must not be called for an invalid status")
	}
}

func TestCloseSanitizesReason(t *testing.T) {
	svc := &fakeService{conv: sampleConversation()}
	engine := newTestRouter(t, svc)

	rec := doRequest(engine, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/close", uuid.New(), map[string]any{
		"status": "agent_closed",
		"reason": "<b>resolved</b>",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.closeCalls) != 1 {
		t.Fatalf("expected one close call, got %d", len(svc.closeCalls))
	}
	call := svc.closeCalls[0]
	if call.Status != domain.StatusAgentClosed || call.Reason != "resolved" {
		t.Fatalf("unexpected close params: %+v", call)
	}

	var body struct {
		Applied bool   `json:"applied"`
		To      string `json:"to"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Applied || body.To != "agent_closed" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestExtendValidatesMinutes(t *testing.T) {
	svc := &fakeService{conv: sampleConversation()}
	engine := newTestRouter(t, svc)
	path := "/api/v1/conversations/" + uuid.NewString() + "/extend"

	rec := doRequest(engine, http.MethodPost, path, uuid.New(), map[string]any{"minutes": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero minutes, got %d", rec.Code)
	}

	rec = doRequest(engine, http.MethodPost, path, uuid.New(), map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without minutes, got %d", rec.Code)
	}
	if svc.extendCall == nil || svc.extendCall.Minutes != nil {
		t.Fatalf("expected nil minutes to reach the service, got %+v", svc.extendCall)
	}
}

func TestListAppliesPagingDefaultsAndStatusFilter(t *testing.T) {
	svc := &fakeService{conv: sampleConversation()}
	engine := newTestRouter(t, svc)

	rec := doRequest(engine, http.MethodGet, "/api/v1/conversations?status=bogus", uuid.New(), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}

	rec = doRequest(engine, http.MethodGet, "/api/v1/conversations?status=expired", uuid.New(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.listParams.Status != "expired" || svc.listParams.Page != 1 || svc.listParams.PageSize != defaultPageSize {
		t.Fatalf("unexpected list params: %+v", svc.listParams)
	}
}

func TestAddMessageValidatesRole(t *testing.T) {
	engine := newTestRouter(t, &fakeService{conv: sampleConversation()})
	path := "/api/v1/conversations/" + uuid.NewString() + "/messages"

	rec := doRequest(engine, http.MethodPost, path, uuid.New(), map[string]any{"role": "robot", "body": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", rec.Code)
	}

	rec = doRequest(engine, http.MethodPost, path, uuid.New(), map[string]any{"role": "user", "body": "hi"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestReplyWithoutSenderIsInternalError(t *testing.T) {
	engine := newTestRouter(t, &fakeService{conv: sampleConversation()})

	rec := doRequest(engine, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/reply", uuid.New(), map[string]any{"body": "hello"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHistoryMapsNullFromStatus(t *testing.T) {
	engine := newTestRouter(t, &fakeService{conv: sampleConversation()})

	rec := doRequest(engine, http.MethodGet, "/api/v1/conversations/"+uuid.NewString()+"/history", uuid.New(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Items []struct {
			FromStatus *string `json:"fromStatus"`
			ToStatus   string  `json:"toStatus"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Items) != 2 || body.Items[0].FromStatus != nil || body.Items[1].FromStatus == nil || *body.Items[1].FromStatus != "pending" {
		t.Fatalf("unexpected history: %+v", body.Items)
	}
}
