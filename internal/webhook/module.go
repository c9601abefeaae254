// Package webhook provides the inbound channel adapter module.
// It normalizes provider callbacks and feeds them to the conversation lifecycle.
package webhook

import (
	"time"

	apphttp "conversation_backend/internal/http"
	"conversation_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Config is the subset of configuration the webhook module needs.
type Config struct {
	// Secret enables X-Hub-Signature-256 verification when set.
	Secret string
	// OwnedAddr is the business number used when callbacks omit device_id.
	OwnedAddr string
	DedupeTTL time.Duration
}

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	secret  string
}

// NewModule creates and initializes the webhook module with all its dependencies.
// rdb may be nil, which disables provider message dedupe.
func NewModule(lifecycle IncomingHandler, rdb *redis.Client, cfg Config, log *logger.Logger) *Module {
	service := NewService(lifecycle, NewDeduper(rdb, cfg.DedupeTTL), cfg.OwnedAddr, log.WithComponent("webhook"))

	return &Module{
		handler: NewHandler(service),
		secret:  cfg.Secret,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public provider callbacks (rate limited, optional signature)
	webhookGroup := ctx.V1.Group("/webhook")
	if ctx.WebhookRateLimiter != nil {
		webhookGroup.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	webhookGroup.Use(SignatureMiddleware(m.secret))
	webhookGroup.POST("/whatsapp/:tenantId", m.handler.HandleWhatsApp)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
