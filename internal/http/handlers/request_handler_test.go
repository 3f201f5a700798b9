package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/helper-escrow/internal/usecase/lifecycle"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func requestRouter(engine RequestLifecycle, actor *valueobject.Actor) *gin.Engine {
	r := gin.New()
	if actor != nil {
		r.Use(withActor(*actor))
	}
	h := NewRequestHandler(engine)
	r.POST("/requests", h.Create)
	r.GET("/requests", h.List)
	r.GET("/requests/:id", h.Get)
	r.GET("/requests/:id/actions", h.Actions)
	r.POST("/requests/:id/accept", h.Accept)
	r.POST("/requests/:id/cancel", h.Cancel)
	r.POST("/requests/:id/confirm", h.Confirm)
	r.POST("/requests/:id/dispute", h.Dispute)
	return r
}

func sampleRequest(requesterID uuid.UUID) *entity.Request {
	amount := int64(499)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return &entity.Request{
		ID:              uuid.New(),
		RequesterID:     requesterID,
		ServiceCategory: "plumbing",
		Location:        "Main st 1",
		ScheduledAt:     now.Add(48 * time.Hour),
		Amount:          &amount,
		State:           valueobject.StateRequested,
		CancelDeadline:  now.Add(time.Hour),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestRequestHandler_Create_Unauthorized(t *testing.T) {
	engine := new(mockLifecycle)
	r := requestRouter(engine, nil)

	w := doJSON(r, http.MethodPost, "/requests", map[string]any{"service_category": "plumbing"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(apperror.ErrCodeUnauthorized), decode(t, w).Error.Kind)
	engine.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestHandler_Create(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	engine := new(mockLifecycle)
	created := sampleRequest(actor.ID)
	scheduled := time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC)

	engine.On("Create", mock.Anything, actor, mock.MatchedBy(func(in lifecycle.CreateRequestInput) bool {
		return in.ServiceCategory == "plumbing" &&
			in.Location == "Main st 1" &&
			in.ScheduledAt.Equal(scheduled) &&
			in.Amount != nil && *in.Amount == 499
	})).Return(created, nil)

	r := requestRouter(engine, &actor)
	w := doJSON(r, http.MethodPost, "/requests", map[string]any{
		"service_category": "plumbing",
		"location":         "Main st 1",
		"scheduled_at":     scheduled.Format(time.RFC3339),
		"amount":           499,
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.True(t, body.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, "requested", data["state"])
	assert.Equal(t, created.ID.String(), data["id"])
	engine.AssertExpectations(t)
}

func TestRequestHandler_Create_BadBody(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	engine := new(mockLifecycle)
	r := requestRouter(engine, &actor)

	w := doJSON(r, http.MethodPost, "/requests", map[string]any{"notes": "без адреса"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperror.ErrCodeValidation), decode(t, w).Error.Kind)
}

func TestRequestHandler_Get_InvalidID(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	r := requestRouter(new(mockLifecycle), &actor)

	w := doJSON(r, http.MethodGet, "/requests/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandler_List_Paginated(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
	engine := new(mockLifecycle)
	items := []*entity.Request{sampleRequest(uuid.New()), sampleRequest(uuid.New())}
	engine.On("List", mock.Anything, actor, lifecycle.ListInput{
		State:    "requested",
		Category: "",
		Limit:    2,
		Offset:   0,
	}).Return(items, 5, nil)

	r := requestRouter(engine, &actor)
	w := doJSON(r, http.MethodGet, "/requests?state=requested&limit=2", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data       []map[string]any `json:"data"`
		Pagination struct {
			Total   int  `json:"total"`
			HasMore bool `json:"has_more"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
	assert.Equal(t, 5, body.Pagination.Total)
	assert.True(t, body.Pagination.HasMore)
}

func TestRequestHandler_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		method string
		err    error
		status int
		kind   apperror.ErrorCode
	}{
		{"accept race lost", "accept", "Accept", apperror.ErrAcceptConflict, http.StatusConflict, apperror.ErrCodeConflict},
		{"late cancel", "cancel", "Cancel", apperror.ErrWindowExpired, http.StatusUnprocessableEntity, apperror.ErrCodeWindowExpired},
		{"confirm under dispute", "confirm", "Confirm", apperror.ErrDisputeOpen, http.StatusForbidden, apperror.ErrCodeForbidden},
		{"missing request", "accept", "Accept", apperror.ErrRequestNotFound, http.StatusNotFound, apperror.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
			id := uuid.New()
			engine := new(mockLifecycle)
			engine.On(tt.method, mock.Anything, actor, id).Return(nil, tt.err)

			r := requestRouter(engine, &actor)
			w := doJSON(r, http.MethodPost, "/requests/"+id.String()+"/"+tt.path, nil)

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.False(t, body.Success)
			assert.Equal(t, string(tt.kind), body.Error.Kind)
			engine.AssertExpectations(t)
		})
	}
}

func TestRequestHandler_InternalErrorIsMasked(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
	id := uuid.New()
	engine := new(mockLifecycle)
	engine.On("Accept", mock.Anything, actor, id).
		Return(nil, apperror.Wrap(assert.AnError, apperror.ErrCodeDatabaseError, "pq: connection refused"))

	r := requestRouter(engine, &actor)
	w := doJSON(r, http.MethodPost, "/requests/"+id.String()+"/accept", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, string(apperror.ErrCodeInternal), body.Error.Kind)
	assert.NotContains(t, w.Body.String(), "pq:")
}

func TestRequestHandler_Actions(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	id := uuid.New()
	engine := new(mockLifecycle)
	engine.On("AvailableActions", mock.Anything, actor, id).
		Return([]valueobject.Action{valueobject.ActionCancel, valueobject.ActionDispute}, nil)

	r := requestRouter(engine, &actor)
	w := doJSON(r, http.MethodGet, "/requests/"+id.String()+"/actions", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Actions []string `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, []string{"cancel", "dispute"}, data.Actions)
}

func TestRequestHandler_Dispute(t *testing.T) {
	actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	id := uuid.New()
	engine := new(mockLifecycle)
	flag := &entity.DisputeFlag{
		ID:           uuid.New(),
		RequestID:    id,
		RaisedByRole: valueobject.RoleRequester,
		RaisedBy:     actor.ID,
		Reason:       "работа не сделана",
		RaisedAt:     time.Now(),
	}
	engine.On("RaiseDispute", mock.Anything, actor, id, "работа не сделана").Return(flag, nil)

	r := requestRouter(engine, &actor)

	w := doJSON(r, http.MethodPost, "/requests/"+id.String()+"/dispute", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/requests/"+id.String()+"/dispute", map[string]any{"reason": "работа не сделана"})
	require.Equal(t, http.StatusCreated, w.Code)
	engine.AssertExpectations(t)
}
