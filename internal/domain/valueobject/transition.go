package valueobject

import (
	"sort"

	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionDispute  Action = "dispute"
	ActionRelist   Action = "relist"
	ActionRelease  Action = "release"
	ActionRefund   Action = "refund"
)

type transitionKey struct {
	state  WorkflowState
	action Action
	role   Role
}

// transitions единственный источник правды о том, кто и когда двигает заявку.
var transitions = map[transitionKey]WorkflowState{
	{StateRequested, ActionAccept, RoleHelper}:     StateAccepted,
	{StateRequested, ActionDecline, RoleHelper}:    StateDeclined,
	{StateAccepted, ActionStart, RoleHelper}:       StateInProgress,
	{StateInProgress, ActionComplete, RoleHelper}:  StateCompleted,
	{StateCompleted, ActionConfirm, RoleRequester}: StateConfirmed,
	{StateRequested, ActionCancel, RoleRequester}:  StateCancelled,
	{StateAccepted, ActionCancel, RoleRequester}:   StateCancelled,
	{StateInProgress, ActionCancel, RoleRequester}: StateCancelled,
	{StateDeclined, ActionCancel, RoleRequester}:   StateCancelled,
	{StateDeclined, ActionRelist, RoleRequester}:   StateRequested,
}

type disputeKey struct {
	state WorkflowState
	role  Role
}

// disputes: спор не меняет workflowState, поэтому живёт в отдельной таблице.
var disputes = map[disputeKey]struct{}{
	{StateRequested, RoleRequester}:  {},
	{StateAccepted, RoleRequester}:   {},
	{StateAccepted, RoleHelper}:      {},
	{StateInProgress, RoleRequester}: {},
	{StateInProgress, RoleHelper}:    {},
	{StateCompleted, RoleRequester}:  {},
	{StateCompleted, RoleHelper}:     {},
}

// ledgerActions денежные действия, доступные только администратору.
var ledgerActions = map[Role][]Action{
	RoleAdmin: {ActionRelease, ActionRefund},
}

// Next возвращает состояние после действия или Forbidden, если пары нет в таблице.
func Next(state WorkflowState, action Action, role Role) (WorkflowState, error) {
	next, ok := transitions[transitionKey{state: state, action: action, role: role}]
	if !ok {
		return "", apperror.New(apperror.ErrCodeForbidden, "действие недоступно для роли в текущем статусе заявки")
	}
	return next, nil
}

// CanDispute проверяет, может ли роль поднять спор в данном состоянии.
func CanDispute(state WorkflowState, role Role) bool {
	_, ok := disputes[disputeKey{state: state, role: role}]
	return ok
}

// ActionsFor полный набор действий роли, независимо от состояния.
func ActionsFor(role Role) []Action {
	seen := make(map[Action]struct{})
	for key := range transitions {
		if key.role == role {
			seen[key.action] = struct{}{}
		}
	}
	for key := range disputes {
		if key.role == role {
			seen[ActionDispute] = struct{}{}
		}
	}
	for _, action := range ledgerActions[role] {
		seen[action] = struct{}{}
	}
	return sortedActions(seen)
}

// AvailableActions действия роли, допустимые таблицей в конкретном состоянии.
// Проверки владения и окна отмены сюда не входят.
func AvailableActions(state WorkflowState, role Role) []Action {
	seen := make(map[Action]struct{})
	for key := range transitions {
		if key.state == state && key.role == role {
			seen[key.action] = struct{}{}
		}
	}
	if CanDispute(state, role) {
		seen[ActionDispute] = struct{}{}
	}
	for _, action := range ledgerActions[role] {
		seen[action] = struct{}{}
	}
	return sortedActions(seen)
}

func sortedActions(set map[Action]struct{}) []Action {
	result := make([]Action, 0, len(set))
	for action := range set {
		result = append(result, action)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// RoleMay проверяет, входит ли действие в набор роли хотя бы в одном состоянии.
func RoleMay(action Action, role Role) bool {
	for _, a := range ActionsFor(role) {
		if a == action {
			return true
		}
	}
	return false
}
