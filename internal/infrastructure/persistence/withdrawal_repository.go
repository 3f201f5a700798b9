package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type withdrawalRow struct {
	ID          uuid.UUID    `db:"id"`
	HelperID    uuid.UUID    `db:"helper_id"`
	Amount      int64        `db:"amount"`
	Status      string       `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	ProcessedAt sql.NullTime `db:"processed_at"`
}

func (r withdrawalRow) toEntity() *entity.Withdrawal {
	return &entity.Withdrawal{
		ID:          r.ID,
		HelperID:    r.HelperID,
		Amount:      r.Amount,
		Status:      entity.WithdrawalStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		ProcessedAt: nullTime(r.ProcessedAt),
	}
}

type WithdrawalRepository struct {
	db *sqlx.DB
}

func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// LockHelper берёт транзакционную advisory-блокировку по исполнителю.
// Вне транзакции блокировка бессмысленна, поэтому требуем её наличие.
func (r *WithdrawalRepository) LockHelper(ctx context.Context, helperID uuid.UUID) error {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	if !ok {
		return apperror.New(apperror.ErrCodeInternal, "блокировка вывода требует транзакции")
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, helperID.String()); err != nil {
		return dbError(err, "не удалось заблокировать баланс исполнителя")
	}
	return nil
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *entity.Withdrawal) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO withdrawals (id, helper_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.HelperID, w.Amount, string(w.Status), w.CreatedAt)
	if err != nil {
		return dbError(err, "не удалось создать заявку на вывод")
	}
	return nil
}

func (r *WithdrawalRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Withdrawal, error) {
	var row withdrawalRow
	err := conn(ctx, r.db).GetContext(ctx, &row,
		`SELECT id, helper_id, amount, status, created_at, processed_at FROM withdrawals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, dbError(err, "не удалось получить заявку на вывод")
	}
	return row.toEntity(), nil
}

func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, w *entity.Withdrawal) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE withdrawals SET status = $2, processed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, w.ID, string(w.Status), w.ProcessedAt)
	if err != nil {
		return dbError(err, "не удалось обновить заявку на вывод")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dbError(err, "не удалось проверить результат обновления")
	}
	if rows == 0 {
		return apperror.New(apperror.ErrCodeConflict, "заявка на вывод уже обработана")
	}
	return nil
}

func (r *WithdrawalRepository) ListByHelper(ctx context.Context, helperID uuid.UUID, limit, offset int) ([]*entity.Withdrawal, error) {
	var rows []withdrawalRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT id, helper_id, amount, status, created_at, processed_at
		FROM withdrawals
		WHERE helper_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, helperID, limit, offset)
	if err != nil {
		return nil, dbError(err, "не удалось получить выводы")
	}
	result := make([]*entity.Withdrawal, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toEntity())
	}
	return result, nil
}

// SumCounted сумма выводов, уменьшающих баланс (всё, кроме отклонённых).
func (r *WithdrawalRepository) SumCounted(ctx context.Context, helperID uuid.UUID) (int64, error) {
	var sum int64
	err := conn(ctx, r.db).GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE helper_id = $1 AND status <> 'rejected'
	`, helperID)
	if err != nil {
		return 0, dbError(err, "не удалось посчитать выводы")
	}
	return sum, nil
}
