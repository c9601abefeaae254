package webhook

import (
	"net/http"

	"conversation_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidPayload  = "invalid payload"
	errInvalidTenantID = "invalid tenant ID"
)

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleWhatsApp processes a GOWA message callback.
// POST /api/v1/webhook/whatsapp/:tenantId
func (h *Handler) HandleWhatsApp(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenantId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidTenantID, nil)
		return
	}

	var payload GOWAPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidPayload, nil)
		return
	}

	result, err := h.service.ProcessWhatsApp(c.Request.Context(), tenantID, payload)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
