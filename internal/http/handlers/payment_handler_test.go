package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/http/response"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/gateway"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/helper-escrow/internal/usecase/payment"
)

func paymentRouter(payments PaymentService, actor valueobject.Actor) *gin.Engine {
	r := gin.New()
	r.Use(withActor(actor))
	h := NewPaymentHandler(payments)
	r.POST("/requests/:id/payment/intent", h.CreateIntent)
	r.POST("/requests/:id/payment/confirm", h.Confirm)
	r.POST("/requests/:id/payment/verify", h.Verify)
	r.POST("/requests/:id/payment/receipt", h.UploadReceipt)
	r.GET("/requests/:id/payment", h.Get)
	return r
}

func samplePayment(requestID uuid.UUID, rail valueobject.Rail, state valueobject.EscrowState) *entity.Payment {
	secret := "pi_secret"
	return &entity.Payment{
		ID:           uuid.New(),
		RequestID:    requestID,
		Amount:       499,
		Currency:     "usd",
		Rail:         rail,
		EscrowState:  state,
		IntentSecret: &secret,
		TrustLevel:   rail.DefaultTrust(),
		CreatedAt:    time.Now(),
	}
}

func TestPaymentHandler_CreateIntent(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	id := uuid.New()
	p := samplePayment(id, valueobject.RailCard, valueobject.EscrowNone)
	payments := new(mockPayments)
	payments.On("CreateIntent", mock.Anything, actor, id, payment.IntentRequest{Amount: 499, Rail: valueobject.RailCard}).
		Return(&payment.IntentResult{Payment: p, Intent: &gateway.Intent{Reference: "pi_1", ClientSecret: "pi_secret"}}, nil).Once()
	payments.On("CreateIntent", mock.Anything, actor, id, payment.IntentRequest{Amount: 0, Rail: valueobject.RailCard}).
		Return(&payment.IntentResult{Payment: p, Intent: &gateway.Intent{Reference: "pi_1", ClientSecret: "pi_secret"}, Existing: true}, nil).Once()

	r := paymentRouter(payments, actor)

	w := doJSON(r, http.MethodPost, "/requests/"+id.String()+"/payment/intent", map[string]any{"rail": "card", "amount": 499})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"client_secret":"pi_secret"`)
	assert.NotContains(t, w.Body.String(), "intent_secret")

	w = doJSON(r, http.MethodPost, "/requests/"+id.String()+"/payment/intent", map[string]any{"rail": "card"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"existing":true`)
	payments.AssertExpectations(t)
}

func TestPaymentHandler_CreateIntent_UnknownRail(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	payments := new(mockPayments)
	r := paymentRouter(payments, actor)

	w := doJSON(r, http.MethodPost, "/requests/"+uuid.NewString()+"/payment/intent", map[string]any{"rail": "cash"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperror.ErrCodeValidation), decode(t, w).Error.Kind)
	payments.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentHandler_GatewayUnavailableSetsRetryAfter(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	id := uuid.New()
	payments := new(mockPayments)
	payments.On("CreateIntent", mock.Anything, actor, id, mock.Anything).Return(nil, apperror.ErrGatewayUnavailable)

	r := paymentRouter(payments, actor)
	w := doJSON(r, http.MethodPost, "/requests/"+id.String()+"/payment/intent", map[string]any{"rail": "regional_gateway"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Equal(t, string(apperror.ErrCodeGatewayUnavailable), decode(t, w).Error.Kind)
	assert.Equal(t, 5, response.RetryAfterSeconds)
}

func TestPaymentHandler_Confirm(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	id := uuid.New()
	held := samplePayment(id, valueobject.RailRegional, valueobject.EscrowHeld)
	payments := new(mockPayments)
	proof := map[string]string{"order_id": held.ID.String(), "status_code": "200"}
	payments.On("Confirm", mock.Anything, actor, id, proof).Return(held, nil)
	payments.On("Confirm", mock.Anything, actor, id, map[string]string(nil)).Return(held, nil)

	r := paymentRouter(payments, actor)

	w := doJSON(r, http.MethodPost, "/requests/"+id.String()+"/payment/confirm", map[string]any{"proof": proof})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"escrow_state":"held"`)

	req, _ := http.NewRequest(http.MethodPost, "/requests/"+id.String()+"/payment/confirm", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	payments.AssertExpectations(t)
}

func TestPaymentHandler_Verify(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	id := uuid.New()
	payments := new(mockPayments)
	payments.On("Verify", mock.Anything, actor, id, "TRX-1", "payer-7").
		Return(nil, apperror.New(apperror.ErrCodeConflict, "этот перевод уже использован"))

	r := paymentRouter(payments, actor)

	w := doJSON(r, http.MethodPost, "/requests/"+id.String()+"/payment/verify", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/requests/"+id.String()+"/payment/verify", map[string]any{
		"transaction_ref": "TRX-1",
		"payer_id":        "payer-7",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	payments.AssertExpectations(t)
}

func TestPaymentHandler_UploadReceipt(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	id := uuid.New()
	p := samplePayment(id, valueobject.RailManual, valueobject.EscrowNone)
	path := "receipts/x.png"
	p.ReceiptPath = &path
	payments := new(mockPayments)
	payments.On("AttachReceipt", mock.Anything, actor, id, "fake-image").Return(p, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("receipt", "receipt.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("fake-image"))
	require.NoError(t, mw.Close())

	r := paymentRouter(payments, actor)
	req, _ := http.NewRequest(http.MethodPost, "/requests/"+id.String()+"/payment/receipt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"has_receipt":true`)
	assert.NotContains(t, w.Body.String(), path)
	payments.AssertExpectations(t)
}

func TestPaymentHandler_UploadReceipt_MissingFile(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	r := paymentRouter(new(mockPayments), actor)

	req, _ := http.NewRequest(http.MethodPost, "/requests/"+uuid.NewString()+"/payment/receipt", strings.NewReader(""))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandler(t *testing.T) {
	payments := new(mockPayments)
	payments.On("HandleCardWebhook", mock.Anything, `{"id":"evt_1"}`, "t=1,v1=abc").Return(nil)
	payments.On("HandleCardWebhook", mock.Anything, `{"id":"evt_2"}`, "").
		Return(apperror.New(apperror.ErrCodeValidation, "подпись webhook не прошла проверку"))
	payments.On("HandleRegionalNotification", mock.Anything, `{"order_id":"x"}`).Return(apperror.ErrAmountMismatch)

	h := NewWebhookHandler(payments)
	r := gin.New()
	r.POST("/webhooks/card", h.Card)
	r.POST("/webhooks/regional", h.Regional)

	send := func(path, body, signature string) *httptest.ResponseRecorder {
		req, _ := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if signature != "" {
			req.Header.Set("Stripe-Signature", signature)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("/webhooks/card", `{"id":"evt_1"}`, "t=1,v1=abc").Code)
	assert.Equal(t, http.StatusBadRequest, send("/webhooks/card", `{"id":"evt_2"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, send("/webhooks/card", "", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, send("/webhooks/regional", `{"order_id":"x"}`, "").Code)
	payments.AssertExpectations(t)
}
