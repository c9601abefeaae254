// Package conversation provides the conversation lifecycle bounded context.
// It owns session resolution, status transitions, closure detection and the
// priority rules that decide which closer wins.
package conversation

import (
	"fmt"

	"conversation_backend/internal/conversation/handler"
	"conversation_backend/internal/conversation/repository"
	"conversation_backend/internal/conversation/service"
	"conversation_backend/internal/events"
	apphttp "conversation_backend/internal/http"
	"conversation_backend/platform/logger"
	"conversation_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the conversation bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.Repository
}

// NewModule creates and initializes the conversation module with all its dependencies.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator, log *logger.Logger, cfg service.Config) (*Module, error) {
	if err := handler.RegisterValidations(val); err != nil {
		return nil, fmt.Errorf("register conversation validations: %w", err)
	}

	repo := repository.New(pool)
	svc := service.New(repo, eventBus, log.WithComponent("conversation"), cfg)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "conversation"
}

// Service returns the lifecycle service for other modules and processes.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() repository.Repository {
	return m.repo
}

// RegisterRoutes mounts conversation routes on the tenant-scoped group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Tenant.Group("/conversations")
	group.POST("", m.handler.GetOrCreate)
	group.GET("", m.handler.List)
	group.GET("/:id", m.handler.Get)
	group.POST("/:id/messages", m.handler.AddMessage)
	group.GET("/:id/messages", m.handler.ListMessages)
	group.GET("/:id/history", m.handler.ListHistory)
	group.POST("/:id/reply", m.handler.Reply)
	group.POST("/:id/close", m.handler.Close)
	group.POST("/:id/extend", m.handler.Extend)
	group.POST("/:id/transfer", m.handler.Transfer)
	group.POST("/:id/escalate", m.handler.Escalate)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
