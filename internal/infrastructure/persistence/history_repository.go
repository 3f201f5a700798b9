package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
)

type historyRow struct {
	ID        uuid.UUID     `db:"id"`
	RequestID uuid.UUID     `db:"request_id"`
	ActorID   uuid.NullUUID `db:"actor_id"`
	ActorRole string        `db:"actor_role"`
	Action    string        `db:"action"`
	FromState string        `db:"from_state"`
	ToState   string        `db:"to_state"`
	Metadata  []byte        `db:"metadata"`
	CreatedAt time.Time     `db:"created_at"`
}

type HistoryRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Append(ctx context.Context, e *entity.HistoryEntry) error {
	var metadata interface{}
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}

	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO request_history (id, request_id, actor_id, actor_role, action, from_state, to_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.RequestID, e.ActorID, string(e.ActorRole), e.Action, e.FromState, e.ToState, metadata, e.CreatedAt)
	if err != nil {
		return dbError(err, "не удалось записать историю заявки")
	}
	return nil
}

func (r *HistoryRepository) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*entity.HistoryEntry, error) {
	var rows []historyRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT id, request_id, actor_id, actor_role, action, from_state, to_state, metadata, created_at
		FROM request_history
		WHERE request_id = $1
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, dbError(err, "не удалось получить историю заявки")
	}

	result := make([]*entity.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry := &entity.HistoryEntry{
			ID:        row.ID,
			RequestID: row.RequestID,
			ActorRole: valueobject.Role(row.ActorRole),
			Action:    row.Action,
			FromState: row.FromState,
			ToState:   row.ToState,
			CreatedAt: row.CreatedAt,
		}
		if row.ActorID.Valid {
			id := row.ActorID.UUID
			entry.ActorID = &id
		}
		if len(row.Metadata) > 0 {
			entry.Metadata = json.RawMessage(row.Metadata)
		}
		result = append(result, entry)
	}
	return result, nil
}
