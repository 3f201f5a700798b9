package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/http/response"
	"github.com/ignatzorin/helper-escrow/internal/usecase/settlement"
)

type Dashboards interface {
	Helper(ctx context.Context, actor valueobject.Actor) (settlement.HelperEarnings, error)
	Requester(ctx context.Context, actor valueobject.Actor) (settlement.RequesterSummary, error)
	Admin(ctx context.Context, actor valueobject.Actor) (settlement.AdminSummary, error)
}

// DashboardHandler денежные сводки по ролям.
type DashboardHandler struct {
	dashboards Dashboards
}

func NewDashboardHandler(dashboards Dashboards) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboards}
}

func (h *DashboardHandler) Helper(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	earnings, err := h.dashboards.Helper(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, earnings)
}

func (h *DashboardHandler) Requester(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	summary, err := h.dashboards.Requester(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}

func (h *DashboardHandler) Admin(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	summary, err := h.dashboards.Admin(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}
