package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/helper-escrow/internal/http/response"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// maxWebhookBody ограничение тела уведомления провайдера.
const maxWebhookBody = 64 << 10

type WebhookProcessor interface {
	HandleCardWebhook(ctx context.Context, payload []byte, signature string) error
	HandleRegionalNotification(ctx context.Context, body []byte) error
}

// WebhookHandler принимает подтверждения оплаты от провайдеров. Авторизация по подписи.
type WebhookHandler struct {
	payments WebhookProcessor
}

func NewWebhookHandler(payments WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{payments: payments}
}

// Card обрабатывает POST /api/webhooks/card с заголовком Stripe-Signature.
func (h *WebhookHandler) Card(c *gin.Context) {
	payload, ok := readWebhookBody(c)
	if !ok {
		return
	}

	if err := h.payments.HandleCardWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		logWebhookError(c, "card", err)
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Regional обрабатывает POST /api/webhooks/regional, подпись внутри тела.
func (h *WebhookHandler) Regional(c *gin.Context) {
	body, ok := readWebhookBody(c)
	if !ok {
		return
	}

	if err := h.payments.HandleRegionalNotification(c.Request.Context(), body); err != nil {
		logWebhookError(c, "regional", err)
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func readWebhookBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		response.BadRequest(c, "пустое тело уведомления")
		return nil, false
	}
	return body, true
}

func logWebhookError(c *gin.Context, rail string, err error) {
	logger.Log.WithFields(logrus.Fields{
		"rail":  rail,
		"kind":  apperror.CodeOf(err),
		"error": err.Error(),
		"ip":    c.ClientIP(),
	}).Warn("Уведомление провайдера отклонено")
}
