package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type requestRow struct {
	ID              uuid.UUID     `db:"id"`
	RequesterID     uuid.UUID     `db:"requester_id"`
	HelperID        uuid.NullUUID `db:"helper_id"`
	ServiceCategory string        `db:"service_category"`
	Location        string        `db:"location"`
	Notes           string        `db:"notes"`
	ScheduledAt     time.Time     `db:"scheduled_at"`
	Amount          sql.NullInt64 `db:"amount"`
	WorkflowState   string        `db:"workflow_state"`
	CancelDeadline  time.Time     `db:"cancel_deadline"`
	ViewedByHelper  bool          `db:"viewed_by_helper"`
	DeclinedBy      uuid.NullUUID `db:"declined_by"`
	Version         int           `db:"version"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
	ArchivedAt      sql.NullTime  `db:"archived_at"`
}

const requestColumns = `id, requester_id, helper_id, service_category, location, notes, scheduled_at, amount,
	workflow_state, cancel_deadline, viewed_by_helper, declined_by, version, created_at, updated_at, archived_at`

func (r requestRow) toEntity() *entity.Request {
	state, _ := valueobject.NewWorkflowState(r.WorkflowState)
	req := &entity.Request{
		ID:              r.ID,
		RequesterID:     r.RequesterID,
		ServiceCategory: r.ServiceCategory,
		Location:        r.Location,
		Notes:           r.Notes,
		ScheduledAt:     r.ScheduledAt,
		State:           state,
		CancelDeadline:  r.CancelDeadline,
		ViewedByHelper:  r.ViewedByHelper,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.HelperID.Valid {
		id := r.HelperID.UUID
		req.HelperID = &id
	}
	if r.DeclinedBy.Valid {
		id := r.DeclinedBy.UUID
		req.DeclinedBy = &id
	}
	if r.Amount.Valid {
		amount := r.Amount.Int64
		req.Amount = &amount
	}
	if r.ArchivedAt.Valid {
		at := r.ArchivedAt.Time
		req.ArchivedAt = &at
	}
	return req
}

type RequestRepository struct {
	db *sqlx.DB
}

func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	query := `
		INSERT INTO requests (id, requester_id, helper_id, service_category, location, notes, scheduled_at, amount,
		                      workflow_state, cancel_deadline, viewed_by_helper, declined_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		req.ID,
		req.RequesterID,
		req.HelperID,
		req.ServiceCategory,
		req.Location,
		req.Notes,
		req.ScheduledAt,
		req.Amount,
		string(req.State),
		req.CancelDeadline,
		req.ViewedByHelper,
		req.DeclinedBy,
		req.Version,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return dbError(err, "не удалось создать заявку")
	}
	return nil
}

// CompareAndSwap условный UPDATE по статусу и версии. Ноль строк означает, что кто-то успел раньше.
func (r *RequestRepository) CompareAndSwap(ctx context.Context, req *entity.Request, expectedState valueobject.WorkflowState) error {
	query := `
		UPDATE requests
		SET workflow_state = $4, helper_id = $5, declined_by = $6, cancel_deadline = $7,
		    viewed_by_helper = $8, archived_at = $9, updated_at = $10, version = version + 1
		WHERE id = $1 AND workflow_state = $2 AND version = $3
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		req.ID,
		string(expectedState),
		req.Version,
		string(req.State),
		req.HelperID,
		req.DeclinedBy,
		req.CancelDeadline,
		req.ViewedByHelper,
		req.ArchivedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return dbError(err, "не удалось обновить заявку")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return dbError(err, "не удалось проверить результат обновления")
	}
	if rows == 0 {
		return apperror.ErrAcceptConflict
	}

	req.Version++
	return nil
}

func (r *RequestRepository) MarkViewed(ctx context.Context, id uuid.UUID) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE requests SET viewed_by_helper = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return dbError(err, "не удалось отметить просмотр")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dbError(err, "не удалось проверить результат обновления")
	}
	if rows == 0 {
		return apperror.ErrRequestNotFound
	}
	return nil
}

func (r *RequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Request, error) {
	var row requestRow
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	err := conn(ctx, r.db).GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrRequestNotFound
	}
	if err != nil {
		return nil, dbError(err, "не удалось получить заявку")
	}
	return row.toEntity(), nil
}

func (r *RequestRepository) List(ctx context.Context, filter repository.RequestFilter) ([]*entity.Request, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.RequesterID != nil {
		where = append(where, "requester_id = "+arg(*filter.RequesterID))
	}
	if filter.HelperID != nil {
		where = append(where, "helper_id = "+arg(*filter.HelperID))
	}
	if filter.OpenOrHelperID != nil {
		where = append(where, fmt.Sprintf("(workflow_state = 'requested' OR helper_id = %s)", arg(*filter.OpenOrHelperID)))
	}
	if filter.State != "" {
		where = append(where, "workflow_state = "+arg(filter.State))
	}
	if filter.Category != "" {
		where = append(where, "service_category = "+arg(filter.Category))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := conn(ctx, r.db).GetContext(ctx, &total, `SELECT COUNT(*) FROM requests`+clause, args...); err != nil {
		return nil, 0, dbError(err, "не удалось посчитать заявки")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + requestColumns + ` FROM requests` + clause +
		` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)

	var rows []requestRow
	if err := conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, dbError(err, "не удалось получить заявки")
	}

	result := make([]*entity.Request, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toEntity())
	}
	return result, total, nil
}

func (r *RequestRepository) AddDecline(ctx context.Context, requestID, helperID uuid.UUID, at time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO request_declines (request_id, helper_id, declined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id, helper_id) DO NOTHING
	`, requestID, helperID, at)
	if err != nil {
		return dbError(err, "не удалось сохранить отказ")
	}
	return nil
}

func (r *RequestRepository) HasDeclined(ctx context.Context, requestID, helperID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM request_declines WHERE request_id = $1 AND helper_id = $2)`, requestID, helperID)
	if err != nil {
		return false, dbError(err, "не удалось проверить отказ")
	}
	return exists, nil
}
