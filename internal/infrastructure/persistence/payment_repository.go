package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

const (
	paymentsLiveRequestIndex = "payments_live_request_uidx"
	paymentsFingerprintIndex = "payments_reference_fingerprint_uidx"
)

type paymentRow struct {
	ID                    uuid.UUID      `db:"id"`
	RequestID             uuid.UUID      `db:"request_id"`
	Amount                int64          `db:"amount"`
	Currency              string         `db:"currency"`
	Gateway               string         `db:"gateway"`
	EscrowState           string         `db:"escrow_state"`
	GatewayReference      sql.NullString `db:"gateway_reference"`
	IntentSecret          sql.NullString `db:"intent_secret"`
	TrustLevel            string         `db:"trust_level"`
	ReferenceFingerprint  sql.NullString `db:"reference_fingerprint"`
	ReceiptPath           sql.NullString `db:"receipt_path"`
	VerifiedAt            sql.NullTime   `db:"verified_at"`
	HelperShare           sql.NullInt64  `db:"helper_share"`
	PlatformFee           sql.NullInt64  `db:"platform_fee"`
	ProviderRefundPending bool           `db:"provider_refund_pending"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
	HeldAt                sql.NullTime   `db:"held_at"`
	ReleasedAt            sql.NullTime   `db:"released_at"`
	RefundedAt            sql.NullTime   `db:"refunded_at"`
}

const paymentColumns = `p.id, p.request_id, p.amount, p.currency, p.gateway, p.escrow_state, p.gateway_reference,
	p.intent_secret, p.trust_level, p.reference_fingerprint, p.receipt_path, p.verified_at, p.helper_share,
	p.platform_fee, p.provider_refund_pending, p.created_at, p.updated_at, p.held_at, p.released_at, p.refunded_at`

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func (r paymentRow) toEntity() *entity.Payment {
	return &entity.Payment{
		ID:                    r.ID,
		RequestID:             r.RequestID,
		Amount:                r.Amount,
		Currency:              r.Currency,
		Rail:                  valueobject.Rail(r.Gateway),
		EscrowState:           valueobject.EscrowState(r.EscrowState),
		GatewayReference:      nullString(r.GatewayReference),
		IntentSecret:          nullString(r.IntentSecret),
		TrustLevel:            valueobject.TrustLevel(r.TrustLevel),
		ReferenceFingerprint:  nullString(r.ReferenceFingerprint),
		ReceiptPath:           nullString(r.ReceiptPath),
		VerifiedAt:            nullTime(r.VerifiedAt),
		HelperShare:           nullInt(r.HelperShare),
		PlatformFee:           nullInt(r.PlatformFee),
		ProviderRefundPending: r.ProviderRefundPending,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
		HeldAt:                nullTime(r.HeldAt),
		ReleasedAt:            nullTime(r.ReleasedAt),
		RefundedAt:            nullTime(r.RefundedAt),
	}
}

func toPayments(rows []paymentRow) []*entity.Payment {
	result := make([]*entity.Payment, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toEntity())
	}
	return result
}

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *entity.Payment) error {
	query := `
		INSERT INTO payments (id, request_id, amount, currency, gateway, escrow_state, gateway_reference,
		                      intent_secret, trust_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.ID,
		p.RequestID,
		p.Amount,
		p.Currency,
		string(p.Rail),
		string(p.EscrowState),
		p.GatewayReference,
		p.IntentSecret,
		string(p.TrustLevel),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if isUniqueViolation(err, paymentsLiveRequestIndex) {
		return apperror.ErrDuplicateIntent
	}
	if err != nil {
		return dbError(err, "не удалось создать платёж")
	}
	return nil
}

func (r *PaymentRepository) get(ctx context.Context, query string, args ...interface{}) (*entity.Payment, error) {
	var row paymentRow
	err := conn(ctx, r.db).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrPaymentNotFound
	}
	if err != nil {
		return nil, dbError(err, "не удалось получить платёж")
	}
	return row.toEntity(), nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1`, id)
}

func (r *PaymentRepository) FindLiveByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments p
		WHERE p.request_id = $1 AND p.escrow_state <> 'refunded'`, requestID)
}

func (r *PaymentRepository) FindLatestByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments p
		WHERE p.request_id = $1 ORDER BY p.created_at DESC LIMIT 1`, requestID)
}

// CompareAndSwapState: переход escrow проходит, только если состояние в базе совпадает с expected.
func (r *PaymentRepository) CompareAndSwapState(ctx context.Context, p *entity.Payment, expected valueobject.EscrowState) error {
	query := `
		UPDATE payments
		SET escrow_state = $3, gateway_reference = $4, trust_level = $5, helper_share = $6, platform_fee = $7,
		    held_at = $8, released_at = $9, refunded_at = $10, verified_at = $11, reference_fingerprint = $12,
		    updated_at = $13
		WHERE id = $1 AND escrow_state = $2
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.ID,
		string(expected),
		string(p.EscrowState),
		p.GatewayReference,
		string(p.TrustLevel),
		p.HelperShare,
		p.PlatformFee,
		p.HeldAt,
		p.ReleasedAt,
		p.RefundedAt,
		p.VerifiedAt,
		p.ReferenceFingerprint,
		p.UpdatedAt,
	)
	if isUniqueViolation(err, paymentsFingerprintIndex) {
		return apperror.New(apperror.ErrCodeConflict, "этот номер перевода уже использован")
	}
	if err != nil {
		return dbError(err, "не удалось обновить платёж")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return dbError(err, "не удалось проверить результат обновления")
	}
	if rows == 0 {
		if expected == valueobject.EscrowNone {
			return apperror.ErrAlreadyCaptured
		}
		return apperror.New(apperror.ErrCodeConflict, "состояние платежа изменилось, обновите данные")
	}
	return nil
}

// UpdateIntent сохраняет данные, полученные от шлюза при создании намерения.
func (r *PaymentRepository) UpdateIntent(ctx context.Context, p *entity.Payment) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payments SET gateway_reference = $2, intent_secret = $3, updated_at = $4
		WHERE id = $1 AND escrow_state = 'none'
	`, p.ID, p.GatewayReference, p.IntentSecret, p.UpdatedAt)
	if err != nil {
		return dbError(err, "не удалось сохранить намерение платежа")
	}
	return nil
}

func (r *PaymentRepository) SetReceipt(ctx context.Context, id uuid.UUID, path string) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payments SET receipt_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
	if err != nil {
		return dbError(err, "не удалось сохранить чек")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dbError(err, "не удалось проверить результат обновления")
	}
	if rows == 0 {
		return apperror.ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) SetProviderRefundPending(ctx context.Context, id uuid.UUID, pending bool) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payments SET provider_refund_pending = $2, updated_at = NOW() WHERE id = $1`, id, pending)
	if err != nil {
		return dbError(err, "не удалось обновить статус возврата у провайдера")
	}
	return nil
}

func (r *PaymentRepository) ListByHelper(ctx context.Context, helperID uuid.UUID) ([]*entity.Payment, error) {
	var rows []paymentRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+`
		FROM payments p
		JOIN requests r ON r.id = p.request_id
		WHERE r.helper_id = $1
		ORDER BY p.created_at DESC
	`, helperID)
	if err != nil {
		return nil, dbError(err, "не удалось получить платежи исполнителя")
	}
	return toPayments(rows), nil
}

func (r *PaymentRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]*entity.Payment, error) {
	var rows []paymentRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+`
		FROM payments p
		JOIN requests r ON r.id = p.request_id
		WHERE r.requester_id = $1
		ORDER BY p.created_at DESC
	`, requesterID)
	if err != nil {
		return nil, dbError(err, "не удалось получить платежи заказчика")
	}
	return toPayments(rows), nil
}

func (r *PaymentRepository) Totals(ctx context.Context) (repository.PaymentTotals, error) {
	var totals repository.PaymentTotals
	err := conn(ctx, r.db).GetContext(ctx, &totals, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE escrow_state = 'held'), 0)         AS held,
			COALESCE(SUM(amount) FILTER (WHERE escrow_state = 'released'), 0)     AS released,
			COALESCE(SUM(platform_fee) FILTER (WHERE escrow_state = 'released'), 0) AS platform_fee,
			COALESCE(SUM(amount) FILTER (WHERE escrow_state = 'refunded'), 0)     AS refunded
		FROM payments
	`)
	if err != nil {
		return totals, dbError(err, "не удалось посчитать итоги платежей")
	}
	return totals, nil
}

// ListHeldByRequestState удержанные платежи заявок в указанном статусе, удержанные до heldBefore.
func (r *PaymentRepository) ListHeldByRequestState(ctx context.Context, state valueobject.WorkflowState, heldBefore time.Time) ([]*entity.Payment, error) {
	var rows []paymentRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+`
		FROM payments p
		JOIN requests r ON r.id = p.request_id
		WHERE p.escrow_state = 'held' AND r.workflow_state = $1 AND p.held_at <= $2
		ORDER BY p.held_at
	`, string(state), heldBefore)
	if err != nil {
		return nil, dbError(err, "не удалось получить удержанные платежи")
	}
	return toPayments(rows), nil
}

func (r *PaymentRepository) ListProviderRefundPending(ctx context.Context) ([]*entity.Payment, error) {
	var rows []paymentRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+`
		FROM payments p
		WHERE p.escrow_state = 'refunded' AND p.provider_refund_pending = TRUE
		ORDER BY p.refunded_at
	`)
	if err != nil {
		return nil, dbError(err, "не удалось получить незавершённые возвраты")
	}
	return toPayments(rows), nil
}
