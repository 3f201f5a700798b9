// Package usecasetest хранилище в памяти для тестов сценариев.
// Повторяет гарантии Postgres, на которые опираются сценарии: CAS по версии и
// статусу, уникальность действующего платежа и открытого спора, откат транзакции.
package usecasetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type txKey struct{}

type declineKey struct {
	requestID uuid.UUID
	helperID  uuid.UUID
}

type snapshot struct {
	requests    map[uuid.UUID]entity.Request
	payments    map[uuid.UUID]entity.Payment
	disputes    map[uuid.UUID]entity.DisputeFlag
	withdrawals map[uuid.UUID]entity.Withdrawal
	history     []entity.HistoryEntry
	declines    map[declineKey]time.Time
}

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data snapshot

	// FailCommit, если задан, возвращается вместо фиксации транзакции.
	FailCommit error
}

func NewStore() *Store {
	return &Store{data: snapshot{
		requests:    map[uuid.UUID]entity.Request{},
		payments:    map[uuid.UUID]entity.Payment{},
		disputes:    map[uuid.UUID]entity.DisputeFlag{},
		withdrawals: map[uuid.UUID]entity.Withdrawal{},
		declines:    map[declineKey]time.Time{},
	}}
}

func (s *Store) copyData() snapshot {
	c := snapshot{
		requests:    make(map[uuid.UUID]entity.Request, len(s.data.requests)),
		payments:    make(map[uuid.UUID]entity.Payment, len(s.data.payments)),
		disputes:    make(map[uuid.UUID]entity.DisputeFlag, len(s.data.disputes)),
		withdrawals: make(map[uuid.UUID]entity.Withdrawal, len(s.data.withdrawals)),
		history:     append([]entity.HistoryEntry(nil), s.data.history...),
		declines:    make(map[declineKey]time.Time, len(s.data.declines)),
	}
	for k, v := range s.data.requests {
		c.requests[k] = v
	}
	for k, v := range s.data.payments {
		c.payments[k] = v
	}
	for k, v := range s.data.disputes {
		c.disputes[k] = v
	}
	for k, v := range s.data.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.data.declines {
		c.declines[k] = v
	}
	return c
}

// WithinTransaction сериализует транзакции и откатывает все изменения, если fn вернула ошибку.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	before := s.copyData()
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, true))
	if err == nil {
		err = s.FailCommit
	}
	if err != nil {
		s.mu.Lock()
		s.data = before
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Requests() *Requests       { return &Requests{s: s} }
func (s *Store) Payments() *Payments       { return &Payments{s: s} }
func (s *Store) Disputes() *Disputes       { return &Disputes{s: s} }
func (s *Store) Withdrawals() *Withdrawals { return &Withdrawals{s: s} }
func (s *Store) History() *History         { return &History{s: s} }

// Request текущее состояние заявки для проверок в тестах.
func (s *Store) Request(id uuid.UUID) entity.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.requests[id]
}

// PaymentsOf все платежи заявки в порядке создания.
func (s *Store) PaymentsOf(requestID uuid.UUID) []entity.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []entity.Payment
	for _, p := range s.data.payments {
		if p.RequestID == requestID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// SetRequest перезаписывает заявку в обход сценариев, для подготовки данных.
func (s *Store) SetRequest(req entity.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.requests[req.ID] = req
}

func (s *Store) SetPayment(p entity.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.payments[p.ID] = p
}

type Requests struct{ s *Store }

var _ repository.RequestRepository = (*Requests)(nil)

func (r *Requests) Create(ctx context.Context, req *entity.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.requests[req.ID]; ok {
		return apperror.New(apperror.ErrCodeConflict, "заявка уже существует")
	}
	r.s.data.requests[req.ID] = *req
	return nil
}

func (r *Requests) CompareAndSwap(ctx context.Context, req *entity.Request, expectedState valueobject.WorkflowState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.data.requests[req.ID]
	if !ok || current.State != expectedState || current.Version != req.Version {
		return apperror.ErrAcceptConflict
	}
	if req.State.HasHelper() && req.HelperID == nil {
		return apperror.New(apperror.ErrCodeDatabaseError, "нарушено ограничение requests_helper_matches_state")
	}
	req.Version++
	r.s.data.requests[req.ID] = *req
	return nil
}

func (r *Requests) MarkViewed(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.data.requests[id]
	if !ok {
		return apperror.ErrRequestNotFound
	}
	req.ViewedByHelper = true
	r.s.data.requests[id] = req
	return nil
}

func (r *Requests) FindByID(ctx context.Context, id uuid.UUID) (*entity.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.data.requests[id]
	if !ok {
		return nil, apperror.ErrRequestNotFound
	}
	return &req, nil
}

func (r *Requests) List(ctx context.Context, filter repository.RequestFilter) ([]*entity.Request, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []entity.Request
	for _, req := range r.s.data.requests {
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.HelperID != nil && !req.IsAssignedTo(*filter.HelperID) {
			continue
		}
		if filter.OpenOrHelperID != nil && req.State != valueobject.StateRequested && !req.IsAssignedTo(*filter.OpenOrHelperID) {
			continue
		}
		if filter.State != "" && string(req.State) != filter.State {
			continue
		}
		if filter.Category != "" && req.ServiceCategory != filter.Category {
			continue
		}
		matched = append(matched, req)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	result := make([]*entity.Request, 0, limit)
	for i := filter.Offset; i < len(matched) && len(result) < limit; i++ {
		req := matched[i]
		result = append(result, &req)
	}
	return result, len(matched), nil
}

func (r *Requests) AddDecline(ctx context.Context, requestID, helperID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := declineKey{requestID: requestID, helperID: helperID}
	if _, ok := r.s.data.declines[key]; !ok {
		r.s.data.declines[key] = at
	}
	return nil
}

func (r *Requests) HasDeclined(ctx context.Context, requestID, helperID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.data.declines[declineKey{requestID: requestID, helperID: helperID}]
	return ok, nil
}

type Payments struct{ s *Store }

var _ repository.PaymentRepository = (*Payments)(nil)

func (r *Payments) Create(ctx context.Context, p *entity.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.payments {
		if existing.RequestID == p.RequestID && existing.IsLive() {
			return apperror.ErrDuplicateIntent
		}
	}
	r.s.data.payments[p.ID] = *p
	return nil
}

func (r *Payments) FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.payments[id]
	if !ok {
		return nil, apperror.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *Payments) FindLiveByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.data.payments {
		if p.RequestID == requestID && p.IsLive() {
			return &p, nil
		}
	}
	return nil, apperror.ErrPaymentNotFound
}

func (r *Payments) FindLatestByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *entity.Payment
	for _, p := range r.s.data.payments {
		if p.RequestID != requestID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			p := p
			latest = &p
		}
	}
	if latest == nil {
		return nil, apperror.ErrPaymentNotFound
	}
	return latest, nil
}

func (r *Payments) CompareAndSwapState(ctx context.Context, p *entity.Payment, expected valueobject.EscrowState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.data.payments[p.ID]
	if !ok {
		return apperror.ErrPaymentNotFound
	}
	if current.EscrowState != expected {
		if expected == valueobject.EscrowNone {
			return apperror.ErrAlreadyCaptured
		}
		return apperror.New(apperror.ErrCodeConflict, "платёж уже изменён, обновите данные")
	}
	if p.ReferenceFingerprint != nil {
		for id, other := range r.s.data.payments {
			if id != p.ID && other.ReferenceFingerprint != nil && *other.ReferenceFingerprint == *p.ReferenceFingerprint {
				return apperror.New(apperror.ErrCodeConflict, "этот номер перевода уже использован")
			}
		}
	}
	r.s.data.payments[p.ID] = *p
	return nil
}

func (r *Payments) update(id uuid.UUID, fn func(p *entity.Payment) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.payments[id]
	if !ok {
		return apperror.ErrPaymentNotFound
	}
	if err := fn(&p); err != nil {
		return err
	}
	r.s.data.payments[id] = p
	return nil
}

func (r *Payments) UpdateIntent(ctx context.Context, p *entity.Payment) error {
	return r.update(p.ID, func(current *entity.Payment) error {
		if current.EscrowState != valueobject.EscrowNone {
			return apperror.ErrAlreadyCaptured
		}
		current.GatewayReference = p.GatewayReference
		current.IntentSecret = p.IntentSecret
		current.UpdatedAt = p.UpdatedAt
		return nil
	})
}

func (r *Payments) SetReceipt(ctx context.Context, id uuid.UUID, path string) error {
	return r.update(id, func(p *entity.Payment) error {
		p.ReceiptPath = &path
		return nil
	})
}

func (r *Payments) SetProviderRefundPending(ctx context.Context, id uuid.UUID, pending bool) error {
	return r.update(id, func(p *entity.Payment) error {
		p.ProviderRefundPending = pending
		return nil
	})
}

func (r *Payments) list(match func(p entity.Payment, req entity.Request) bool) []*entity.Payment {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*entity.Payment
	for _, p := range r.s.data.payments {
		req := r.s.data.requests[p.RequestID]
		if match(p, req) {
			p := p
			result = append(result, &p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

func (r *Payments) ListByHelper(ctx context.Context, helperID uuid.UUID) ([]*entity.Payment, error) {
	return r.list(func(p entity.Payment, req entity.Request) bool {
		return req.IsAssignedTo(helperID)
	}), nil
}

func (r *Payments) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]*entity.Payment, error) {
	return r.list(func(p entity.Payment, req entity.Request) bool {
		return req.RequesterID == requesterID
	}), nil
}

func (r *Payments) Totals(ctx context.Context) (repository.PaymentTotals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var totals repository.PaymentTotals
	for _, p := range r.s.data.payments {
		switch p.EscrowState {
		case valueobject.EscrowHeld:
			totals.Held += p.Amount
		case valueobject.EscrowReleased:
			totals.Released += p.Amount
			if p.PlatformFee != nil {
				totals.PlatformFee += *p.PlatformFee
			}
		case valueobject.EscrowRefunded:
			totals.Refunded += p.Amount
		}
	}
	return totals, nil
}

func (r *Payments) ListHeldByRequestState(ctx context.Context, state valueobject.WorkflowState, heldBefore time.Time) ([]*entity.Payment, error) {
	return r.list(func(p entity.Payment, req entity.Request) bool {
		return p.EscrowState == valueobject.EscrowHeld && req.State == state &&
			p.HeldAt != nil && !p.HeldAt.After(heldBefore)
	}), nil
}

func (r *Payments) ListProviderRefundPending(ctx context.Context) ([]*entity.Payment, error) {
	return r.list(func(p entity.Payment, req entity.Request) bool {
		return p.EscrowState == valueobject.EscrowRefunded && p.ProviderRefundPending
	}), nil
}

type Disputes struct{ s *Store }

var _ repository.DisputeRepository = (*Disputes)(nil)

func (r *Disputes) Create(ctx context.Context, flag *entity.DisputeFlag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.data.disputes {
		if d.RequestID == flag.RequestID && !d.Resolved {
			return apperror.ErrDisputeExists
		}
	}
	r.s.data.disputes[flag.ID] = *flag
	return nil
}

func (r *Disputes) FindOpenByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.DisputeFlag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.data.disputes {
		if d.RequestID == requestID && !d.Resolved {
			return &d, nil
		}
	}
	return nil, nil
}

func (r *Disputes) Resolve(ctx context.Context, flag *entity.DisputeFlag) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.data.disputes[flag.ID]
	if !ok {
		return apperror.ErrDisputeNotFound
	}
	if current.Resolved {
		return apperror.New(apperror.ErrCodeConflict, "спор уже разрешён")
	}
	r.s.data.disputes[flag.ID] = *flag
	return nil
}

func (r *Disputes) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*entity.DisputeFlag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*entity.DisputeFlag
	for _, d := range r.s.data.disputes {
		if d.RequestID == requestID {
			d := d
			result = append(result, &d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RaisedAt.Before(result[j].RaisedAt) })
	return result, nil
}

func (r *Disputes) CountOpen(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, d := range r.s.data.disputes {
		if !d.Resolved {
			count++
		}
	}
	return count, nil
}

type Withdrawals struct{ s *Store }

var _ repository.WithdrawalRepository = (*Withdrawals)(nil)

// LockHelper: транзакции хранилища уже сериализованы, достаточно проверить, что она открыта.
func (r *Withdrawals) LockHelper(ctx context.Context, helperID uuid.UUID) error {
	if ctx.Value(txKey{}) == nil {
		return apperror.New(apperror.ErrCodeInternal, "блокировка исполнителя вне транзакции")
	}
	return nil
}

func (r *Withdrawals) Create(ctx context.Context, w *entity.Withdrawal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.withdrawals[w.ID] = *w
	return nil
}

func (r *Withdrawals) FindByID(ctx context.Context, id uuid.UUID) (*entity.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.data.withdrawals[id]
	if !ok {
		return nil, apperror.ErrWithdrawalNotFound
	}
	return &w, nil
}

func (r *Withdrawals) UpdateStatus(ctx context.Context, w *entity.Withdrawal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.data.withdrawals[w.ID]
	if !ok {
		return apperror.ErrWithdrawalNotFound
	}
	if current.Status != entity.WithdrawalPending {
		return apperror.New(apperror.ErrCodeConflict, "заявка на вывод уже обработана")
	}
	r.s.data.withdrawals[w.ID] = *w
	return nil
}

func (r *Withdrawals) ListByHelper(ctx context.Context, helperID uuid.UUID, limit, offset int) ([]*entity.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []entity.Withdrawal
	for _, w := range r.s.data.withdrawals {
		if w.HelperID == helperID {
			all = append(all, w)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit <= 0 {
		limit = 20
	}
	var result []*entity.Withdrawal
	for i := offset; i < len(all) && len(result) < limit; i++ {
		w := all[i]
		result = append(result, &w)
	}
	return result, nil
}

func (r *Withdrawals) SumCounted(ctx context.Context, helperID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum int64
	for _, w := range r.s.data.withdrawals {
		if w.HelperID == helperID && w.Counts() {
			sum += w.Amount
		}
	}
	return sum, nil
}

type History struct{ s *Store }

var _ repository.HistoryRepository = (*History)(nil)

func (r *History) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.history = append(r.s.data.history, *entry)
	return nil
}

func (r *History) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*entity.HistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*entity.HistoryEntry
	for _, e := range r.s.data.history {
		if e.RequestID == requestID {
			e := e
			result = append(result, &e)
		}
	}
	return result, nil
}
