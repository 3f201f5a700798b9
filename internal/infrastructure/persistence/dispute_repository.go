package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type disputeRow struct {
	ID           uuid.UUID      `db:"id"`
	RequestID    uuid.UUID      `db:"request_id"`
	RaisedByRole string         `db:"raised_by_role"`
	RaisedBy     uuid.UUID      `db:"raised_by"`
	Reason       string         `db:"reason"`
	RaisedAt     time.Time      `db:"raised_at"`
	Resolved     bool           `db:"resolved"`
	Resolution   sql.NullString `db:"resolution"`
	ResolvedBy   uuid.NullUUID  `db:"resolved_by"`
	ResolvedAt   sql.NullTime   `db:"resolved_at"`
}

const disputeColumns = `id, request_id, raised_by_role, raised_by, reason, raised_at, resolved, resolution, resolved_by, resolved_at`

func (r disputeRow) toEntity() *entity.DisputeFlag {
	flag := &entity.DisputeFlag{
		ID:           r.ID,
		RequestID:    r.RequestID,
		RaisedByRole: valueobject.Role(r.RaisedByRole),
		RaisedBy:     r.RaisedBy,
		Reason:       r.Reason,
		RaisedAt:     r.RaisedAt,
		Resolved:     r.Resolved,
		ResolvedAt:   nullTime(r.ResolvedAt),
	}
	if r.Resolution.Valid {
		resolution := entity.DisputeResolution(r.Resolution.String)
		flag.Resolution = &resolution
	}
	if r.ResolvedBy.Valid {
		id := r.ResolvedBy.UUID
		flag.ResolvedBy = &id
	}
	return flag
}

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) Create(ctx context.Context, flag *entity.DisputeFlag) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO dispute_flags (id, request_id, raised_by_role, raised_by, reason, raised_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
	`, flag.ID, flag.RequestID, string(flag.RaisedByRole), flag.RaisedBy, flag.Reason, flag.RaisedAt)
	if isUniqueViolation(err, "dispute_flags_open_uidx") {
		return apperror.ErrDisputeExists
	}
	if err != nil {
		return dbError(err, "не удалось открыть спор")
	}
	return nil
}

func (r *DisputeRepository) FindOpenByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.DisputeFlag, error) {
	var row disputeRow
	err := conn(ctx, r.db).GetContext(ctx, &row,
		`SELECT `+disputeColumns+` FROM dispute_flags WHERE request_id = $1 AND resolved = FALSE`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "не удалось получить спор")
	}
	return row.toEntity(), nil
}

// Resolve закрывает спор. Повторное закрытие уже закрытого спора даёт Conflict.
func (r *DisputeRepository) Resolve(ctx context.Context, flag *entity.DisputeFlag) error {
	var resolution *string
	if flag.Resolution != nil {
		s := string(*flag.Resolution)
		resolution = &s
	}

	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE dispute_flags SET resolved = TRUE, resolution = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND resolved = FALSE
	`, flag.ID, resolution, flag.ResolvedBy, flag.ResolvedAt)
	if err != nil {
		return dbError(err, "не удалось закрыть спор")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dbError(err, "не удалось проверить результат обновления")
	}
	if rows == 0 {
		return apperror.New(apperror.ErrCodeConflict, "спор уже разрешён")
	}
	return nil
}

func (r *DisputeRepository) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*entity.DisputeFlag, error) {
	var rows []disputeRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows,
		`SELECT `+disputeColumns+` FROM dispute_flags WHERE request_id = $1 ORDER BY raised_at`, requestID)
	if err != nil {
		return nil, dbError(err, "не удалось получить споры")
	}
	result := make([]*entity.DisputeFlag, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toEntity())
	}
	return result, nil
}

func (r *DisputeRepository) CountOpen(ctx context.Context) (int, error) {
	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, `SELECT COUNT(*) FROM dispute_flags WHERE resolved = FALSE`); err != nil {
		return 0, dbError(err, "не удалось посчитать открытые споры")
	}
	return count, nil
}
