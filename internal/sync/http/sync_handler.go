// Package http provides HTTP handlers for the local sync status API. The
// API is served on the device for the host application and support
// tooling; it never faces the public network.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/httputil"
	"github.com/vitalhome/syncengine/internal/sync/domain"
	"github.com/vitalhome/syncengine/internal/sync/http/dto"
	"github.com/vitalhome/syncengine/internal/sync/usecase"
)

// EnqueueUseCase is the producer-side surface the handler needs.
type EnqueueUseCase interface {
	Enqueue(ctx context.Context, in usecase.EnqueueInput) (*domain.PendingOperation, error)
}

// StatusUseCase is the read-and-maintenance surface the handler needs.
type StatusUseCase interface {
	QueueStatus(ctx context.Context) (*usecase.QueueStatus, error)
	ListPending(ctx context.Context, offset, limit int) ([]*domain.PendingOperation, error)
	ListFailed(ctx context.Context, offset, limit int) ([]*domain.FailedOperation, error)
	ListOptimistic(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.OptimisticUpdateRecord, error)
	RetryFailed(ctx context.Context, id uuid.UUID) (*domain.PendingOperation, error)
}

// EngineControl is the engine surface the handler needs.
type EngineControl interface {
	TriggerSync()
	NotifyConnectivity(online bool)
}

// SyncHandler handles HTTP requests for the sync status API.
type SyncHandler struct {
	enqueueUseCase EnqueueUseCase
	statusUseCase  StatusUseCase
	engine         EngineControl
	logger         *slog.Logger
}

// NewSyncHandler creates a new sync handler with required dependencies.
// The engine may be nil when the API is served by offline tooling.
func NewSyncHandler(
	enqueueUseCase EnqueueUseCase,
	statusUseCase StatusUseCase,
	engine EngineControl,
	logger *slog.Logger,
) *SyncHandler {
	return &SyncHandler{
		enqueueUseCase: enqueueUseCase,
		statusUseCase:  statusUseCase,
		engine:         engine,
		logger:         logger,
	}
}

// RegisterRoutes mounts the sync API under the given router group.
func (h *SyncHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/sync/operations", h.EnqueueHandler)
	group.GET("/sync/status", h.StatusHandler)
	group.GET("/sync/pending", h.ListPendingHandler)
	group.GET("/sync/failed", h.ListFailedHandler)
	group.POST("/sync/failed/:id/retry", h.RetryFailedHandler)
	group.GET("/sync/optimistic/:entity_type/:entity_id", h.ListOptimisticHandler)
	group.POST("/sync/trigger", h.TriggerHandler)
	group.POST("/sync/connectivity", h.ConnectivityHandler)
}

// EnqueueHandler queues a local mutation for dispatch.
// POST /v1/sync/operations
// Returns 201 Created with the stored operation.
func (h *SyncHandler) EnqueueHandler(c *gin.Context) {
	var req dto.EnqueueOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	op, err := h.enqueueUseCase.Enqueue(c.Request.Context(), usecase.EnqueueInput{
		Action:        domain.Action(req.Action),
		EntityType:    domain.EntityType(req.EntityType),
		EntityID:      req.EntityID,
		Payload:       req.Payload,
		PreviousValue: req.PreviousValue,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	if h.engine != nil {
		h.engine.TriggerSync()
	}

	c.JSON(http.StatusCreated, dto.MapPendingOperationToResponse(op))
}

// StatusHandler reports queue depths, breaker state, and connectivity.
// GET /v1/sync/status
func (h *SyncHandler) StatusHandler(c *gin.Context) {
	status, err := h.statusUseCase.QueueStatus(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapQueueStatusToResponse(status))
}

// ListPendingHandler returns queued operations in FIFO order.
// GET /v1/sync/pending?offset=0&limit=50
func (h *SyncHandler) ListPendingHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	ops, err := h.statusUseCase.ListPending(c.Request.Context(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapPendingOperationsToListResponse(ops, offset, limit))
}

// ListFailedHandler returns terminally failed operations, newest first.
// GET /v1/sync/failed?offset=0&limit=50
func (h *SyncHandler) ListFailedHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	ops, err := h.statusUseCase.ListFailed(c.Request.Context(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapFailedOperationsToListResponse(ops, offset, limit))
}

// RetryFailedHandler moves a failed operation back into the queue.
// POST /v1/sync/failed/:id/retry
// Returns 200 OK with the re-queued operation.
func (h *SyncHandler) RetryFailedHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleValidationErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid operation id"), h.logger)
		return
	}

	op, err := h.statusUseCase.RetryFailed(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapPendingOperationToResponse(op))
}

// ListOptimisticHandler returns the outstanding optimistic updates for one entity.
// GET /v1/sync/optimistic/:entity_type/:entity_id
func (h *SyncHandler) ListOptimisticHandler(c *gin.Context) {
	entityType := domain.EntityType(c.Param("entity_type"))
	entityID := c.Param("entity_id")

	if !validEntityType(entityType) {
		httputil.HandleValidationErrorGin(c, apperrors.Wrap(apperrors.ErrInvalidInput, "unknown entity type"), h.logger)
		return
	}

	records, err := h.statusUseCase.ListOptimistic(c.Request.Context(), entityType, entityID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": dto.MapOptimisticRecordsToResponse(records)})
}

// TriggerHandler asks the engine for an immediate sync pass.
// POST /v1/sync/trigger
// Returns 202 Accepted; the pass runs asynchronously.
func (h *SyncHandler) TriggerHandler(c *gin.Context) {
	if h.engine == nil {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrNotFound, "engine not running"), h.logger)
		return
	}

	h.engine.TriggerSync()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// ConnectivityHandler reports a connectivity transition from the host app.
// POST /v1/sync/connectivity
func (h *SyncHandler) ConnectivityHandler(c *gin.Context) {
	if h.engine == nil {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrNotFound, "engine not running"), h.logger)
		return
	}

	var req dto.ConnectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	h.engine.NotifyConnectivity(*req.Online)
	c.JSON(http.StatusOK, gin.H{"online": *req.Online})
}

func validEntityType(entityType domain.EntityType) bool {
	for _, known := range domain.EntityTypes() {
		if known.(domain.EntityType) == entityType {
			return true
		}
	}
	return false
}
