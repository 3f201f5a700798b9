package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/dto"
	"github.com/ignatzorin/helper-escrow/internal/http/response"
)

type Withdrawals interface {
	Request(ctx context.Context, actor valueobject.Actor, amount int64) (*entity.Withdrawal, error)
	List(ctx context.Context, actor valueobject.Actor, limit, offset int) ([]*entity.Withdrawal, error)
	Process(ctx context.Context, actor valueobject.Actor, id uuid.UUID, approve bool) (*entity.Withdrawal, error)
}

type WithdrawalHandler struct {
	withdrawals Withdrawals
}

func NewWithdrawalHandler(withdrawals Withdrawals) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

// Create обрабатывает POST /api/withdrawals.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req dto.CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "сумма обязательна")
		return
	}

	w, err := h.withdrawals.Request(c.Request.Context(), actor, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewWithdrawalResponse(w))
}

func (h *WithdrawalHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	withdrawals, err := h.withdrawals.List(c.Request.Context(), actor, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewWithdrawalList(withdrawals))
}

// Process обрабатывает POST /api/admin/withdrawals/:id/process.
func (h *WithdrawalHandler) Process(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.ProcessWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "неверный формат запроса")
		return
	}

	w, err := h.withdrawals.Process(c.Request.Context(), actor, id, req.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewWithdrawalResponse(w))
}
