package httpkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TenantHeader carries the owning tenant of an API call. Authentication is
// handled in front of this service; the header is trusted as-is.
const TenantHeader = "X-Tenant-ID"

// TenantRequired parses the tenant header into the gin context.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(TenantHeader))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "tenant ID is required"})
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid tenant ID"})
			return
		}
		c.Set(ContextTenantIDKey, tenantID)
		c.Next()
	}
}

// MustGetTenantID returns the tenant set by TenantRequired, aborting with 400
// when it is missing.
func MustGetTenantID(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(ContextTenantIDKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "tenant ID is required"})
		return uuid.UUID{}, false
	}
	tenantID, ok := value.(uuid.UUID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid tenant ID"})
		return uuid.UUID{}, false
	}
	return tenantID, true
}
