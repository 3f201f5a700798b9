package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/policy"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/events"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
)

// Refunder возврат удержанных средств в транзакции отмены.
type Refunder interface {
	RefundWithin(ctx context.Context, actor valueobject.Actor, req *entity.Request, opts escrow.RefundOptions) (*escrow.Outcome, error)
	Settle(ctx context.Context, outcome *escrow.Outcome)
}

type CreateRequestInput struct {
	ServiceCategory string
	Location        string
	Notes           string
	ScheduledAt     time.Time
	Amount          *int64
}

// Engine конечный автомат заявки. Каждая операция получает актора явно.
type Engine struct {
	tx        repository.Transactor
	requests  repository.RequestRepository
	disputes  repository.DisputeRepository
	history   repository.HistoryRepository
	refunder  Refunder
	publisher events.Publisher
	policy    policy.CancellationPolicy
	now       func() time.Time
}

func NewEngine(
	tx repository.Transactor,
	requests repository.RequestRepository,
	disputes repository.DisputeRepository,
	history repository.HistoryRepository,
	refunder Refunder,
	publisher events.Publisher,
	cancellation policy.CancellationPolicy,
) *Engine {
	return &Engine{
		tx:        tx,
		requests:  requests,
		disputes:  disputes,
		history:   history,
		refunder:  refunder,
		publisher: publisher,
		policy:    cancellation,
		now:       time.Now,
	}
}

// WithClock подменяет источник времени.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func participants(req *entity.Request) []uuid.UUID {
	ids := []uuid.UUID{req.RequesterID}
	if req.HelperID != nil {
		ids = append(ids, *req.HelperID)
	}
	return ids
}

func requestData(req *entity.Request) map[string]any {
	return map[string]any{
		"workflow_state": req.State,
		"version":        req.Version,
	}
}

func (e *Engine) Create(ctx context.Context, actor valueobject.Actor, in CreateRequestInput) (*entity.Request, error) {
	if !actor.Is(valueobject.RoleRequester) {
		return nil, apperror.ErrForbidden
	}

	now := e.now()
	req, err := entity.NewRequest(actor.ID, entity.RequestDetails{
		ServiceCategory: in.ServiceCategory,
		Location:        in.Location,
		Notes:           in.Notes,
		ScheduledAt:     in.ScheduledAt,
		Amount:          in.Amount,
	}, now, e.policy.Deadline(now))
	if err != nil {
		return nil, err
	}

	err = e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := e.requests.Create(ctx, req); err != nil {
			return err
		}
		entry := entity.NewHistoryEntry(req.ID, actor, "create", "", string(req.State), map[string]any{
			"cancel_deadline": req.CancelDeadline,
		}, now)
		return e.history.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(ctx, events.New(events.RequestCreated, req.ID, participants(req), requestData(req)))
	return req, nil
}

// step описывает один переход: доменную проверку и дополнительные записи в той же транзакции.
type step struct {
	action valueobject.Action
	event  events.Type
	apply  func(ctx context.Context, req *entity.Request, flag *entity.DisputeFlag, now time.Time) error
	within func(ctx context.Context, req *entity.Request, now time.Time) error
}

// run читает заявку, применяет переход, сохраняет его CAS-ом вместе с историей и публикует событие.
func (e *Engine) run(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, s step) (*entity.Request, error) {
	req, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	flag, err := e.disputes.FindOpenByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	from := req.State
	if err := s.apply(ctx, req, flag, now); err != nil {
		return nil, err
	}

	err = e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := e.requests.CompareAndSwap(ctx, req, from); err != nil {
			return err
		}
		// Спор, открытый после первого чтения, поднимает версию заявки, и CAS выше его ловит.
		// Повторное чтение внутри транзакции закрывает оставшееся окно.
		if err := e.recheckDispute(ctx, req.ID, flag); err != nil {
			return err
		}
		entry := entity.NewHistoryEntry(req.ID, actor, string(s.action), string(from), string(req.State), nil, now)
		if err := e.history.Append(ctx, entry); err != nil {
			return err
		}
		if s.within != nil {
			return s.within(ctx, req, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(ctx, events.New(s.event, req.ID, participants(req), requestData(req)))
	return req, nil
}

// recheckDispute отклоняет переход, если внутри транзакции виден спор, которого не было при чтении.
// Разрешённый спор или тот же самый флаг переход не блокируют.
func (e *Engine) recheckDispute(ctx context.Context, requestID uuid.UUID, seen *entity.DisputeFlag) error {
	current, err := e.disputes.FindOpenByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	if current == nil || (seen != nil && seen.ID == current.ID) {
		return nil
	}
	return policy.DisputeFreeze(current)
}

// frozen проверка спора после доменной проверки роли и состояния.
func frozen(fn func(req *entity.Request, now time.Time) error) func(context.Context, *entity.Request, *entity.DisputeFlag, time.Time) error {
	return func(ctx context.Context, req *entity.Request, flag *entity.DisputeFlag, now time.Time) error {
		if err := fn(req, now); err != nil {
			return err
		}
		return policy.DisputeFreeze(flag)
	}
}

// Accept: из нескольких исполнителей выигрывает один, остальные получают Conflict.
func (e *Engine) Accept(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	return e.run(ctx, actor, requestID, step{
		action: valueobject.ActionAccept,
		event:  events.RequestAccepted,
		apply: func(ctx context.Context, req *entity.Request, flag *entity.DisputeFlag, now time.Time) error {
			if err := req.Accept(actor, now); err != nil {
				return err
			}
			declined, err := e.requests.HasDeclined(ctx, req.ID, actor.ID)
			if err != nil {
				return err
			}
			if declined {
				return apperror.New(apperror.ErrCodeForbidden, "вы уже отказались от этой заявки")
			}
			return policy.DisputeFreeze(flag)
		},
	})
}

func (e *Engine) Decline(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	return e.run(ctx, actor, requestID, step{
		action: valueobject.ActionDecline,
		event:  events.RequestDeclined,
		apply: frozen(func(req *entity.Request, now time.Time) error {
			return req.Decline(actor, now)
		}),
		within: func(ctx context.Context, req *entity.Request, now time.Time) error {
			return e.requests.AddDecline(ctx, req.ID, actor.ID, now)
		},
	})
}

// Relist возвращает отклонённую заявку в поиск с новым окном отмены.
func (e *Engine) Relist(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	return e.run(ctx, actor, requestID, step{
		action: valueobject.ActionRelist,
		event:  events.RequestRelisted,
		apply: frozen(func(req *entity.Request, now time.Time) error {
			return req.Relist(actor, e.policy.Deadline(now), now)
		}),
	})
}

func (e *Engine) Start(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	return e.run(ctx, actor, requestID, step{
		action: valueobject.ActionStart,
		event:  events.RequestUpdated,
		apply: frozen(func(req *entity.Request, now time.Time) error {
			return req.Start(actor, now)
		}),
	})
}

func (e *Engine) MarkCompleted(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	return e.run(ctx, actor, requestID, step{
		action: valueobject.ActionComplete,
		event:  events.RequestUpdated,
		apply: frozen(func(req *entity.Request, now time.Time) error {
			return req.MarkCompleted(actor, now)
		}),
	})
}

// Confirm запрещён, пока по заявке открыт спор.
func (e *Engine) Confirm(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	return e.run(ctx, actor, requestID, step{
		action: valueobject.ActionConfirm,
		event:  events.RequestUpdated,
		apply: frozen(func(req *entity.Request, now time.Time) error {
			return req.Confirm(actor, now)
		}),
	})
}

// Cancel: владелец, затем спор, затем окно отмены, затем таблица переходов.
// Удержанные средства возвращаются в той же транзакции.
func (e *Engine) Cancel(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	var outcome *escrow.Outcome
	req, err := e.run(ctx, actor, requestID, step{
		action: valueobject.ActionCancel,
		event:  events.RequestCanceled,
		apply: func(ctx context.Context, req *entity.Request, flag *entity.DisputeFlag, now time.Time) error {
			if !actor.Is(valueobject.RoleRequester) || !req.IsOwnedBy(actor.ID) {
				return apperror.ErrForbidden
			}
			if err := policy.DisputeFreeze(flag); err != nil {
				return err
			}
			if err := e.policy.Check(now, req.CancelDeadline); err != nil {
				return err
			}
			if err := req.Cancel(actor, now); err != nil {
				return err
			}
			req.Archive(now)
			return nil
		},
		within: func(ctx context.Context, req *entity.Request, now time.Time) error {
			var err error
			outcome, err = e.refunder.RefundWithin(ctx, valueobject.SystemActor(), req, escrow.RefundOptions{
				Reason: "request_cancelled",
			})
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	e.refunder.Settle(ctx, outcome)
	return req, nil
}

// RaiseDispute ставит флаг спора. Статус заявки не меняется.
func (e *Engine) RaiseDispute(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, reason string) (*entity.DisputeFlag, error) {
	req, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case valueobject.RoleRequester:
		if !req.IsOwnedBy(actor.ID) {
			return nil, apperror.ErrForbidden
		}
	case valueobject.RoleHelper:
		if !req.IsAssignedTo(actor.ID) {
			return nil, apperror.ErrForbidden
		}
	default:
		return nil, apperror.ErrForbidden
	}
	if !valueobject.CanDispute(req.State, actor.Role) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "спор недоступен в текущем статусе заявки")
	}

	now := e.now()
	flag, err := entity.NewDisputeFlag(req.ID, actor, reason, now)
	if err != nil {
		return nil, err
	}

	err = e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		// Подъём версии заставляет параллельные переходы и выплаты проиграть CAS.
		req.UpdatedAt = now
		if err := e.requests.CompareAndSwap(ctx, req, req.State); err != nil {
			return err
		}
		if err := e.disputes.Create(ctx, flag); err != nil {
			return err
		}
		entry := entity.NewHistoryEntry(req.ID, actor, string(valueobject.ActionDispute), string(req.State), string(req.State), map[string]any{
			"dispute_id": flag.ID,
			"reason":     flag.Reason,
		}, now)
		return e.history.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(ctx, events.New(events.DisputeRaised, req.ID, participants(req), map[string]any{
		"dispute_id":     flag.ID,
		"raised_by_role": flag.RaisedByRole,
		"reason":         flag.Reason,
	}))
	return flag, nil
}

// MarkViewed отмечает, что исполнитель открыл заявку. Статус не меняется.
func (e *Engine) MarkViewed(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	if !actor.Is(valueobject.RoleHelper) {
		return nil, apperror.ErrForbidden
	}
	req, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.CanView(actor) {
		return nil, apperror.ErrForbidden
	}
	if req.ViewedByHelper {
		return req, nil
	}
	if err := e.requests.MarkViewed(ctx, req.ID); err != nil {
		return nil, err
	}
	req.MarkViewed(e.now())
	return req, nil
}

func (e *Engine) Get(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	req, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.CanView(actor) {
		return nil, apperror.ErrForbidden
	}
	return req, nil
}

type ListInput struct {
	State    string
	Category string
	Limit    int
	Offset   int
}

// List: заказчик видит свои заявки, исполнитель открытые и назначенные ему, администратор все.
func (e *Engine) List(ctx context.Context, actor valueobject.Actor, in ListInput) ([]*entity.Request, int, error) {
	filter := repository.RequestFilter{
		State:    in.State,
		Category: in.Category,
		Limit:    in.Limit,
		Offset:   in.Offset,
	}
	id := actor.ID
	switch actor.Role {
	case valueobject.RoleRequester:
		filter.RequesterID = &id
	case valueobject.RoleHelper:
		filter.OpenOrHelperID = &id
	case valueobject.RoleAdmin:
	default:
		return nil, 0, apperror.ErrForbidden
	}
	return e.requests.List(ctx, filter)
}

func (e *Engine) History(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) ([]*entity.HistoryEntry, error) {
	if _, err := e.Get(ctx, actor, requestID); err != nil {
		return nil, err
	}
	return e.history.ListByRequestID(ctx, requestID)
}

// AvailableActions действия, которые актор может выполнить прямо сейчас.
func (e *Engine) AvailableActions(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) ([]valueobject.Action, error) {
	req, err := e.Get(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	flag, err := e.disputes.FindOpenByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	actions := valueobject.AvailableActions(req.State, actor.Role)
	result := make([]valueobject.Action, 0, len(actions))
	for _, action := range actions {
		if e.permitted(req, flag, actor, action, now) {
			result = append(result, action)
		}
	}
	return result, nil
}

func (e *Engine) permitted(req *entity.Request, flag *entity.DisputeFlag, actor valueobject.Actor, action valueobject.Action, now time.Time) bool {
	if action == valueobject.ActionRelease || action == valueobject.ActionRefund {
		return actor.Is(valueobject.RoleAdmin)
	}
	if flag != nil {
		return false
	}
	switch actor.Role {
	case valueobject.RoleRequester:
		if !req.IsOwnedBy(actor.ID) {
			return false
		}
	case valueobject.RoleHelper:
		if req.State != valueobject.StateRequested && !req.IsAssignedTo(actor.ID) {
			return false
		}
	}
	if action == valueobject.ActionCancel {
		return e.policy.Check(now, req.CancelDeadline) == nil
	}
	return true
}
