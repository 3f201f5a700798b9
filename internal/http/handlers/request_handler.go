package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/dto"
	"github.com/ignatzorin/helper-escrow/internal/http/response"
	"github.com/ignatzorin/helper-escrow/internal/usecase/lifecycle"
)

// RequestLifecycle операции над заявкой, которые вызывает HTTP слой.
type RequestLifecycle interface {
	Create(ctx context.Context, actor valueobject.Actor, in lifecycle.CreateRequestInput) (*entity.Request, error)
	Get(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	List(ctx context.Context, actor valueobject.Actor, in lifecycle.ListInput) ([]*entity.Request, int, error)
	History(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) ([]*entity.HistoryEntry, error)
	AvailableActions(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) ([]valueobject.Action, error)
	Accept(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	Decline(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	Relist(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	Start(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	MarkCompleted(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	Confirm(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	Cancel(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	MarkViewed(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)
	RaiseDispute(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, reason string) (*entity.DisputeFlag, error)
}

type RequestHandler struct {
	engine RequestLifecycle
}

func NewRequestHandler(engine RequestLifecycle) *RequestHandler {
	return &RequestHandler{engine: engine}
}

// Create обрабатывает POST /api/requests.
func (h *RequestHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "неверный формат запроса")
		return
	}

	created, err := h.engine.Create(c.Request.Context(), actor, lifecycle.CreateRequestInput{
		ServiceCategory: req.ServiceCategory,
		Location:        req.Location,
		Notes:           req.Notes,
		ScheduledAt:     req.ScheduledAt,
		Amount:          req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewRequestResponse(created))
}

// List обрабатывает GET /api/requests?state=&category=&limit=&offset=.
func (h *RequestHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	requests, total, err := h.engine.List(c.Request.Context(), actor, lifecycle.ListInput{
		State:    c.Query("state"),
		Category: c.Query("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, dto.NewRequestList(requests), total, limit, offset)
}

func (h *RequestHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := h.engine.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewRequestResponse(req))
}

func (h *RequestHandler) History(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := h.engine.History(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewHistoryList(entries))
}

// Actions обрабатывает GET /api/requests/:id/actions, клиент рисует по ним кнопки.
func (h *RequestHandler) Actions(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	actions, err := h.engine.AvailableActions(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.ActionsResponse{Actions: actions})
}

type transitionFunc func(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error)

func (h *RequestHandler) transition(c *gin.Context, fn transitionFunc) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := fn(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewRequestResponse(req))
}

func (h *RequestHandler) Accept(c *gin.Context)   { h.transition(c, h.engine.Accept) }
func (h *RequestHandler) Decline(c *gin.Context)  { h.transition(c, h.engine.Decline) }
func (h *RequestHandler) Relist(c *gin.Context)   { h.transition(c, h.engine.Relist) }
func (h *RequestHandler) Start(c *gin.Context)    { h.transition(c, h.engine.Start) }
func (h *RequestHandler) Complete(c *gin.Context) { h.transition(c, h.engine.MarkCompleted) }
func (h *RequestHandler) Confirm(c *gin.Context)  { h.transition(c, h.engine.Confirm) }
func (h *RequestHandler) Cancel(c *gin.Context)   { h.transition(c, h.engine.Cancel) }
func (h *RequestHandler) View(c *gin.Context)     { h.transition(c, h.engine.MarkViewed) }

// Dispute обрабатывает POST /api/requests/:id/dispute.
func (h *RequestHandler) Dispute(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "причина спора обязательна")
		return
	}

	flag, err := h.engine.RaiseDispute(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewDisputeResponse(flag))
}
