// Package http holds the pieces the router needs from the composition root:
// the assembled App and the Module contract every bounded context implements.
package http

import (
	"context"

	"conversation_backend/internal/events"
	"conversation_backend/platform/config"
	"conversation_backend/platform/logger"
)

// RouterConfig is the slice of configuration the router reads: CORS and
// listen settings plus the webhook rate limit.
type RouterConfig interface {
	config.HTTPConfig
	config.WebhookConfig
}

// HealthChecker backs GET /api/health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is built once in cmd/api and handed to router.New.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health is optional; without it the health endpoint always reports ok.
	Health   HealthChecker
	EventBus events.Bus
	// Modules register their routes in slice order.
	Modules []Module
}
