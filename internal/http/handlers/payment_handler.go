package handlers

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/dto"
	"github.com/ignatzorin/helper-escrow/internal/http/response"
	"github.com/ignatzorin/helper-escrow/internal/usecase/payment"
)

type PaymentService interface {
	CreateIntent(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, in payment.IntentRequest) (*payment.IntentResult, error)
	Confirm(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, proof map[string]string) (*entity.Payment, error)
	Verify(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, transactionRef, userSuppliedID string) (*entity.Payment, error)
	AttachReceipt(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, r io.Reader) (*entity.Payment, error)
	Get(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Payment, error)
}

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreateIntent обрабатывает POST /api/requests/:id/payment/intent.
// Повторный вызов возвращает уже созданный платёж с кодом 200.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "платёжный канал обязателен")
		return
	}
	rail, err := valueobject.NewRail(req.Rail)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.payments.CreateIntent(c.Request.Context(), actor, id, payment.IntentRequest{
		Amount: req.Amount,
		Rail:   rail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	body := dto.NewIntentResponse(result.Payment, result.Intent, result.Existing)
	if result.Existing {
		response.Success(c, body)
		return
	}
	response.Created(c, body)
}

// Confirm обрабатывает POST /api/requests/:id/payment/confirm.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.ConfirmPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "неверный формат запроса")
			return
		}
	}

	p, err := h.payments.Confirm(c.Request.Context(), actor, id, req.Proof)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewPaymentResponse(p))
}

// Verify обрабатывает POST /api/requests/:id/payment/verify для ручного перевода.
func (h *PaymentHandler) Verify(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "номер транзакции обязателен")
		return
	}

	p, err := h.payments.Verify(c.Request.Context(), actor, id, req.TransactionRef, req.PayerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewPaymentResponse(p))
}

// UploadReceipt обрабатывает POST /api/requests/:id/payment/receipt (multipart, поле receipt).
func (h *PaymentHandler) UploadReceipt(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	header, err := c.FormFile("receipt")
	if err != nil {
		response.BadRequest(c, "файл чека обязателен")
		return
	}
	file, err := header.Open()
	if err != nil {
		response.BadRequest(c, "не удалось прочитать файл чека")
		return
	}
	defer file.Close()

	p, err := h.payments.AttachReceipt(c.Request.Context(), actor, id, file)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewPaymentResponse(p))
}

func (h *PaymentHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	p, err := h.payments.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.NewPaymentResponse(p))
}
