package handler

import (
	"context"
	"net/http"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/internal/conversation/transport"
	"conversation_backend/platform/httpkit"
	"conversation_backend/platform/sanitize"
	"conversation_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConversationService is the slice of the lifecycle service the API uses.
type ConversationService interface {
	GetOrCreateConversation(ctx context.Context, params service.GetOrCreateParams) (domain.Conversation, bool, error)
	GetConversation(ctx context.Context, tenantID, id uuid.UUID) (domain.Conversation, error)
	ListConversations(ctx context.Context, params service.ListParams) ([]domain.Conversation, int, error)
	ListMessages(ctx context.Context, tenantID, id uuid.UUID, limit int) ([]domain.Message, error)
	ListHistory(ctx context.Context, tenantID, id uuid.UUID) ([]domain.StateHistory, error)
	AddMessage(ctx context.Context, params service.AddMessageParams) (service.MessageResult, error)
	SendReply(ctx context.Context, params service.ReplyParams) (service.MessageResult, error)
	CloseConversationWithPriority(ctx context.Context, params service.CloseParams) (domain.TransitionResult, error)
	ExtendExpiration(ctx context.Context, params service.ExtendParams) (domain.Conversation, error)
	TransferConversation(ctx context.Context, params service.TransferParams) (domain.Conversation, error)
	EscalateConversation(ctx context.Context, params service.EscalateParams) (domain.Conversation, error)
}

// Handler handles HTTP requests for conversations.
type Handler struct {
	svc ConversationService
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid conversation ID"

	defaultPageSize = 20
)

// New creates a new conversations handler.
func New(svc ConversationService, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterValidations adds the status tags used by the request DTOs.
func RegisterValidations(val *validator.Validator) error {
	if err := val.RegisterOneOf("closure_status", domain.StatusStrings(domain.ClosedStatuses())); err != nil {
		return err
	}
	return val.RegisterOneOf("conversation_status", domain.StatusStrings(domain.AllStatuses()))
}

// GetOrCreate returns the active conversation for a session, creating one if needed.
// POST /api/v1/conversations
func (h *Handler) GetOrCreate(c *gin.Context) {
	var req transport.GetOrCreateConversationRequest
	if !h.bindJSON(c, &req) {
		return
	}
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	conv, created, err := h.svc.GetOrCreateConversation(c.Request.Context(), service.GetOrCreateParams{
		TenantID:    tenantID,
		FromAddr:    req.FromAddr,
		ToAddr:      req.ToAddr,
		Channel:     req.Channel,
		Direction:   domain.Direction(req.Direction),
		InitiatedBy: req.InitiatedBy,
		Metadata:    req.Metadata,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpkit.JSON(c, status, transport.GetOrCreateConversationResponse{
		Conversation: transport.ToConversationResponse(conv),
		Created:      created,
	})
}

// List returns a page of the tenant's conversations.
// GET /api/v1/conversations
func (h *Handler) List(c *gin.Context) {
	var req transport.ListConversationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	params := service.ListParams{
		TenantID:   tenantID,
		Status:     req.Status,
		ActiveOnly: req.ActiveOnly,
		Page:       req.Page,
		PageSize:   req.PageSize,
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if req.AssignedUserID != "" {
		userID, err := uuid.Parse(req.AssignedUserID)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		params.AssignedUserID = &userID
	}

	items, total, err := h.svc.ListConversations(c.Request.Context(), params)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ConversationListResponse{
		Items:    transport.ToConversationResponses(items),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// Get returns a single conversation.
// GET /api/v1/conversations/:id
func (h *Handler) Get(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}

	conv, err := h.svc.GetConversation(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToConversationResponse(conv))
}

// AddMessage records a transcript entry and runs the lifecycle rules on it.
// POST /api/v1/conversations/:id/messages
func (h *Handler) AddMessage(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req transport.AddMessageRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.svc.AddMessage(c.Request.Context(), service.AddMessageParams{
		TenantID:          tenantID,
		ConversationID:    id,
		Direction:         domain.Direction(req.Direction),
		Role:              domain.Role(req.Role),
		Body:              req.Body,
		MediaRefs:         req.MediaRefs,
		ProviderMessageID: req.ProviderMessageID,
		Metadata:          req.Metadata,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, toMessageResult(result))
}

// Reply delivers an outbound message and records it.
// POST /api/v1/conversations/:id/reply
func (h *Handler) Reply(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req transport.ReplyRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.svc.SendReply(c.Request.Context(), service.ReplyParams{
		TenantID:       tenantID,
		ConversationID: id,
		Role:           domain.Role(req.Role),
		Body:           req.Body,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, toMessageResult(result))
}

// Close requests a terminal status, subject to closure priority.
// POST /api/v1/conversations/:id/close
func (h *Handler) Close(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req transport.CloseConversationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.svc.CloseConversationWithPriority(c.Request.Context(), service.CloseParams{
		TenantID:       tenantID,
		ConversationID: id,
		Status:         domain.ConversationStatus(req.Status),
		Reason:         sanitize.Reason(req.Reason),
		InitiatedBy:    req.InitiatedBy,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToTransitionResponse(result))
}

// Extend pushes the conversation deadline out.
// POST /api/v1/conversations/:id/extend
func (h *Handler) Extend(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req transport.ExtendExpirationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	conv, err := h.svc.ExtendExpiration(c.Request.Context(), service.ExtendParams{
		TenantID:       tenantID,
		ConversationID: id,
		Minutes:        req.Minutes,
		InitiatedBy:    req.InitiatedBy,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToConversationResponse(conv))
}

// Transfer reassigns the conversation.
// POST /api/v1/conversations/:id/transfer
func (h *Handler) Transfer(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req transport.TransferConversationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	conv, err := h.svc.TransferConversation(c.Request.Context(), service.TransferParams{
		TenantID:       tenantID,
		ConversationID: id,
		ToUserID:       req.ToUserID,
		Reason:         sanitize.Reason(req.Reason),
		InitiatedBy:    req.InitiatedBy,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToConversationResponse(conv))
}

// Escalate raises the conversation to a support level.
// POST /api/v1/conversations/:id/escalate
func (h *Handler) Escalate(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req transport.EscalateConversationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	conv, err := h.svc.EscalateConversation(c.Request.Context(), service.EscalateParams{
		TenantID:       tenantID,
		ConversationID: id,
		Level:          sanitize.Text(req.Level),
		Reason:         sanitize.Reason(req.Reason),
		InitiatedBy:    req.InitiatedBy,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToConversationResponse(conv))
}

// ListMessages returns the latest transcript entries in chronological order.
// GET /api/v1/conversations/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}
	var req transport.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	msgs, err := h.svc.ListMessages(c.Request.Context(), tenantID, id, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.MessageListResponse{Items: transport.ToMessageResponses(msgs)})
}

// ListHistory returns the status audit trail.
// GET /api/v1/conversations/:id/history
func (h *Handler) ListHistory(c *gin.Context) {
	tenantID, id, ok := h.scope(c)
	if !ok {
		return
	}

	rows, err := h.svc.ListHistory(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.HistoryListResponse{Items: transport.ToHistoryResponses(rows)})
}

func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return false
	}
	return true
}

func (h *Handler) scope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, uuid.Nil, false
	}
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func toMessageResult(result service.MessageResult) transport.MessageResultResponse {
	out := transport.MessageResultResponse{
		Conversation: transport.ToConversationResponse(result.Conversation),
		Message:      transport.ToMessageResponse(result.Message),
		Created:      result.Created,
	}
	if result.Transition != nil {
		tr := transport.ToTransitionResponse(*result.Transition)
		out.Transition = &tr
	}
	if result.ClosureIntent != nil {
		intent := transport.ToClosureIntentResponse(*result.ClosureIntent)
		out.ClosureIntent = &intent
	}
	return out
}
