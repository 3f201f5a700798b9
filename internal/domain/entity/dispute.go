package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// DisputeResolution чем закончился спор.
type DisputeResolution string

const (
	ResolutionReleased DisputeResolution = "released"
	ResolutionRefunded DisputeResolution = "refunded"
	// ResolutionDismissed спор закрыт администратором без движения денег.
	ResolutionDismissed DisputeResolution = "dismissed"
)

// DisputeFlag ортогональный флаг спора. Статус заявки под ним не меняется.
type DisputeFlag struct {
	ID           uuid.UUID
	RequestID    uuid.UUID
	RaisedByRole valueobject.Role
	RaisedBy     uuid.UUID
	Reason       string
	RaisedAt     time.Time
	Resolved     bool
	Resolution   *DisputeResolution
	ResolvedBy   *uuid.UUID
	ResolvedAt   *time.Time
}

func NewDisputeFlag(requestID uuid.UUID, actor valueobject.Actor, reason string, now time.Time) (*DisputeFlag, error) {
	if actor.Role != valueobject.RoleRequester && actor.Role != valueobject.RoleHelper {
		return nil, apperror.ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}

	return &DisputeFlag{
		ID:           uuid.New(),
		RequestID:    requestID,
		RaisedByRole: actor.Role,
		RaisedBy:     actor.ID,
		Reason:       reason,
		RaisedAt:     now,
	}, nil
}

func (d *DisputeFlag) Resolve(resolution DisputeResolution, adminID uuid.UUID, now time.Time) error {
	if d.Resolved {
		return apperror.New(apperror.ErrCodeConflict, "спор уже разрешён")
	}
	d.Resolved = true
	d.Resolution = &resolution
	d.ResolvedBy = &adminID
	d.ResolvedAt = &now
	return nil
}
