package usecasetest

import (
	"context"
	"sync"
	"time"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/events"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/gateway"
)

// Recorder публикатор, запоминающий события.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *Recorder) Publish(ctx context.Context, evts ...events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
}

func (r *Recorder) Types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Gateway настраиваемый адаптер канала.
type Gateway struct {
	RailValue valueobject.Rail

	Intent       *gateway.Intent
	IntentErr    error
	Confirmation *gateway.Confirmation
	ConfirmErr   error
	VerifyErr    error
	RefundErr    error

	mu      sync.Mutex
	Intents []gateway.IntentInput
	Refunds []gateway.RefundInput
}

func NewGateway(rail valueobject.Rail) *Gateway {
	return &Gateway{RailValue: rail}
}

func (g *Gateway) Rail() valueobject.Rail { return g.RailValue }

func (g *Gateway) CreateIntent(ctx context.Context, in gateway.IntentInput) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Intents = append(g.Intents, in)
	if g.IntentErr != nil {
		return nil, g.IntentErr
	}
	if g.Intent != nil {
		intent := *g.Intent
		return &intent, nil
	}
	return &gateway.Intent{
		Reference:    "ref_" + in.PaymentID.String(),
		ClientSecret: "secret_" + in.PaymentID.String(),
	}, nil
}

func (g *Gateway) Confirm(ctx context.Context, in gateway.ConfirmInput) (*gateway.Confirmation, error) {
	if g.ConfirmErr != nil {
		return nil, g.ConfirmErr
	}
	if g.Confirmation != nil {
		c := *g.Confirmation
		return &c, nil
	}
	return &gateway.Confirmation{
		Reference: in.Reference,
		Amount:    in.Amount,
		Trust:     valueobject.TrustStandard,
	}, nil
}

func (g *Gateway) Verify(ctx context.Context, in gateway.VerifyInput) (*gateway.Confirmation, error) {
	if g.VerifyErr != nil {
		return nil, g.VerifyErr
	}
	return &gateway.Confirmation{
		Reference:   in.TransactionRef,
		Amount:      in.Amount,
		Trust:       valueobject.TrustLow,
		Fingerprint: gateway.Fingerprint(in.TransactionRef),
	}, nil
}

func (g *Gateway) Refund(ctx context.Context, in gateway.RefundInput) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Refunds = append(g.Refunds, in)
	return g.RefundErr
}

func (g *Gateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}

// Clock управляемое время для сценариев с окном отмены.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
