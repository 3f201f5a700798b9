package valueobject

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleHelper    Role = "helper"
	RoleAdmin     Role = "admin"
	// RoleSystem используется для автоматических действий (возврат при отмене, сверка).
	RoleSystem Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleRequester, RoleHelper, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

func NewRole(role string) (Role, error) {
	r := Role(role)
	if !r.IsValid() || r == RoleSystem {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректная роль")
	}
	return r, nil
}

// Actor участник, от имени которого выполняется операция.
// Идентичность приходит снаружи, ядро не хранит сессий.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func NewActor(id uuid.UUID, role string) (Actor, error) {
	if id == uuid.Nil {
		return Actor{}, apperror.ErrUnauthorized
	}
	r, err := NewRole(role)
	if err != nil {
		return Actor{}, apperror.Wrap(err, apperror.ErrCodeForbidden, "роль не распознана")
	}
	return Actor{ID: id, Role: r}, nil
}

// SystemActor действие платформы без участия человека.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleSystem}
}

func (a Actor) Is(role Role) bool {
	return a.Role == role
}
