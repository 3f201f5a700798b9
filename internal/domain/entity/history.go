package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
)

// HistoryEntry запись аудита по заявке: переходы workflow и операции с деньгами.
type HistoryEntry struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	ActorID   *uuid.UUID
	ActorRole valueobject.Role
	Action    string
	FromState string
	ToState   string
	Metadata  json.RawMessage
	CreatedAt time.Time
}

func NewHistoryEntry(requestID uuid.UUID, actor valueobject.Actor, action, from, to string, metadata map[string]any, now time.Time) *HistoryEntry {
	entry := &HistoryEntry{
		ID:        uuid.New(),
		RequestID: requestID,
		ActorRole: actor.Role,
		Action:    action,
		FromState: from,
		ToState:   to,
		CreatedAt: now,
	}
	if actor.ID != uuid.Nil {
		id := actor.ID
		entry.ActorID = &id
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}
