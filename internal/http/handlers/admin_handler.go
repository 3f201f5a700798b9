package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/dto"
	"github.com/ignatzorin/helper-escrow/internal/http/response"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/helper-escrow/internal/usecase/reconcile"
)

type EscrowLedger interface {
	Release(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, opts escrow.ReleaseOptions) (*entity.Payment, error)
	Refund(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, opts escrow.RefundOptions) (*entity.Payment, error)
	ResolveDispute(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, reason string) (*entity.DisputeFlag, error)
}

type Reconciler interface {
	Sweep(ctx context.Context) (*reconcile.Report, error)
}

// AdminHandler денежные операции администратора. Роль проверяет и middleware, и ядро.
type AdminHandler struct {
	ledger     EscrowLedger
	reconciler Reconciler
}

func NewAdminHandler(ledger EscrowLedger, reconciler Reconciler) *AdminHandler {
	return &AdminHandler{ledger: ledger, reconciler: reconciler}
}

func bindLedgerAction(c *gin.Context) (dto.LedgerActionRequest, bool) {
	var req dto.LedgerActionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "неверный формат запроса")
			return req, false
		}
	}
	return req, true
}

// Release обрабатывает POST /api/admin/requests/:id/payment/release.
func (h *AdminHandler) Release(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, ok := bindLedgerAction(c)
	if !ok {
		return
	}

	p, err := h.ledger.Release(c.Request.Context(), actor, id, escrow.ReleaseOptions{
		Override:       req.Override,
		Reason:         req.Reason,
		ResolveDispute: req.ResolveDispute,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewPaymentResponse(p))
}

// Refund обрабатывает POST /api/admin/requests/:id/payment/refund.
func (h *AdminHandler) Refund(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, ok := bindLedgerAction(c)
	if !ok {
		return
	}

	p, err := h.ledger.Refund(c.Request.Context(), actor, id, escrow.RefundOptions{
		Override:       req.Override,
		Reason:         req.Reason,
		ResolveDispute: req.ResolveDispute,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewPaymentResponse(p))
}

// ResolveDispute обрабатывает POST /api/admin/requests/:id/dispute/resolve.
// Закрывает спор по заявке без удержанных средств.
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "укажите причину закрытия спора")
		return
	}

	flag, err := h.ledger.ResolveDispute(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewDisputeResponse(flag))
}

// Reconcile запускает сверку вне расписания.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	if _, ok := currentActor(c); !ok {
		return
	}

	report, err := h.reconciler.Sweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, report)
}
