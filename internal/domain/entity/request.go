package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// Request заявка на услугу от заказчика.
type Request struct {
	ID              uuid.UUID
	RequesterID     uuid.UUID
	HelperID        *uuid.UUID
	ServiceCategory string
	Location        string
	Notes           string
	ScheduledAt     time.Time
	Amount          *int64
	State           valueobject.WorkflowState
	CancelDeadline  time.Time
	ViewedByHelper  bool
	DeclinedBy      *uuid.UUID
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ArchivedAt      *time.Time
}

type RequestDetails struct {
	ServiceCategory string
	Location        string
	Notes           string
	ScheduledAt     time.Time
	Amount          *int64
}

func NewRequest(requesterID uuid.UUID, details RequestDetails, now time.Time, cancelDeadline time.Time) (*Request, error) {
	if requesterID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "заказчик обязателен")
	}
	if strings.TrimSpace(details.ServiceCategory) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "категория услуги обязательна")
	}
	if strings.TrimSpace(details.Location) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "адрес обязателен")
	}
	if details.ScheduledAt.IsZero() {
		return nil, apperror.New(apperror.ErrCodeValidation, "дата и время обязательны")
	}
	if details.ScheduledAt.Before(now) {
		return nil, apperror.New(apperror.ErrCodeValidation, "дата не может быть в прошлом")
	}
	if details.Amount != nil && *details.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount
	}

	return &Request{
		ID:              uuid.New(),
		RequesterID:     requesterID,
		ServiceCategory: strings.TrimSpace(details.ServiceCategory),
		Location:        strings.TrimSpace(details.Location),
		Notes:           details.Notes,
		ScheduledAt:     details.ScheduledAt,
		Amount:          details.Amount,
		State:           valueobject.StateRequested,
		CancelDeadline:  cancelDeadline,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *Request) IsOwnedBy(userID uuid.UUID) bool {
	return r.RequesterID == userID
}

func (r *Request) IsAssignedTo(userID uuid.UUID) bool {
	return r.HelperID != nil && *r.HelperID == userID
}

// IsParticipant заказчик или назначенный исполнитель.
func (r *Request) IsParticipant(userID uuid.UUID) bool {
	return r.IsOwnedBy(userID) || r.IsAssignedTo(userID)
}

// CanView: администратор видит всё, исполнители видят открытые заявки.
func (r *Request) CanView(actor valueobject.Actor) bool {
	switch actor.Role {
	case valueobject.RoleAdmin, valueobject.RoleSystem:
		return true
	case valueobject.RoleHelper:
		return r.IsAssignedTo(actor.ID) || r.State == valueobject.StateRequested
	default:
		return r.IsOwnedBy(actor.ID)
	}
}

func roleMay(action valueobject.Action, actor valueobject.Actor) error {
	if !valueobject.RoleMay(action, actor.Role) {
		return apperror.ErrForbidden
	}
	return nil
}

func (r *Request) transition(action valueobject.Action, role valueobject.Role, now time.Time) error {
	next, err := valueobject.Next(r.State, action, role)
	if err != nil {
		return err
	}
	r.State = next
	r.UpdatedAt = now
	return nil
}

// Accept: первый исполнитель выигрывает, остальные получают Conflict.
func (r *Request) Accept(actor valueobject.Actor, now time.Time) error {
	if err := roleMay(valueobject.ActionAccept, actor); err != nil {
		return err
	}
	if r.State != valueobject.StateRequested {
		return apperror.ErrAcceptConflict
	}
	if err := r.transition(valueobject.ActionAccept, actor.Role, now); err != nil {
		return err
	}
	helperID := actor.ID
	r.HelperID = &helperID
	return nil
}

func (r *Request) Decline(actor valueobject.Actor, now time.Time) error {
	if err := roleMay(valueobject.ActionDecline, actor); err != nil {
		return err
	}
	if err := r.guardedTransition(valueobject.ActionDecline, actor.Role, valueobject.StateRequested, now); err != nil {
		return err
	}
	helperID := actor.ID
	r.DeclinedBy = &helperID
	return nil
}

func (r *Request) Start(actor valueobject.Actor, now time.Time) error {
	if err := roleMay(valueobject.ActionStart, actor); err != nil {
		return err
	}
	if !r.IsAssignedTo(actor.ID) {
		return apperror.ErrForbidden
	}
	return r.guardedTransition(valueobject.ActionStart, actor.Role, valueobject.StateAccepted, now)
}

func (r *Request) MarkCompleted(actor valueobject.Actor, now time.Time) error {
	if err := roleMay(valueobject.ActionComplete, actor); err != nil {
		return err
	}
	if !r.IsAssignedTo(actor.ID) {
		return apperror.ErrForbidden
	}
	return r.guardedTransition(valueobject.ActionComplete, actor.Role, valueobject.StateInProgress, now)
}

func (r *Request) Confirm(actor valueobject.Actor, now time.Time) error {
	if err := roleMay(valueobject.ActionConfirm, actor); err != nil {
		return err
	}
	if !r.IsOwnedBy(actor.ID) {
		return apperror.ErrForbidden
	}
	return r.guardedTransition(valueobject.ActionConfirm, actor.Role, valueobject.StateCompleted, now)
}

// Cancel проверяет только таблицу, окно отмены проверяется раньше политикой.
func (r *Request) Cancel(actor valueobject.Actor, now time.Time) error {
	if err := roleMay(valueobject.ActionCancel, actor); err != nil {
		return err
	}
	if !r.IsOwnedBy(actor.ID) {
		return apperror.ErrForbidden
	}
	return r.transition(valueobject.ActionCancel, actor.Role, now)
}

// Relist возвращает отклонённую заявку в поиск исполнителя с новым окном отмены.
func (r *Request) Relist(actor valueobject.Actor, cancelDeadline, now time.Time) error {
	if err := roleMay(valueobject.ActionRelist, actor); err != nil {
		return err
	}
	if !r.IsOwnedBy(actor.ID) {
		return apperror.ErrForbidden
	}
	if err := r.guardedTransition(valueobject.ActionRelist, actor.Role, valueobject.StateDeclined, now); err != nil {
		return err
	}
	r.HelperID = nil
	r.ViewedByHelper = false
	r.CancelDeadline = cancelDeadline
	return nil
}

func (r *Request) MarkViewed(now time.Time) {
	r.ViewedByHelper = true
	r.UpdatedAt = now
}

// Archive помечает заявку архивной после подтверждения или возврата, заявки не удаляются.
func (r *Request) Archive(now time.Time) {
	if r.ArchivedAt == nil {
		r.ArchivedAt = &now
	}
}

// guardedTransition: шаги вне ожидаемого состояния это InvalidTransition, а не Forbidden,
// если роль в принципе может выполнять действие.
func (r *Request) guardedTransition(action valueobject.Action, role valueobject.Role, expected valueobject.WorkflowState, now time.Time) error {
	if r.State != expected {
		return apperror.New(apperror.ErrCodeInvalidTransition, "действие недоступно в текущем статусе заявки")
	}
	return r.transition(action, role, now)
}
