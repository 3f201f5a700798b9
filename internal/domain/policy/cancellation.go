package policy

import (
	"time"

	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// DefaultCancelWindow окно, в течение которого заказчик может отменить заявку.
const DefaultCancelWindow = 2 * time.Hour

// CancellationPolicy проверка окна отмены. Выполняется до таблицы переходов,
// поэтому длина окна остаётся единственным параметром.
type CancellationPolicy struct {
	Window time.Duration
}

func NewCancellationPolicy(window time.Duration) CancellationPolicy {
	if window <= 0 {
		window = DefaultCancelWindow
	}
	return CancellationPolicy{Window: window}
}

// Deadline момент, после которого отмена запрещена.
func (p CancellationPolicy) Deadline(from time.Time) time.Time {
	return from.Add(p.Window)
}

// Check возвращает WindowExpired, если now позже дедлайна.
func (p CancellationPolicy) Check(now, deadline time.Time) error {
	if now.After(deadline) {
		return apperror.ErrWindowExpired
	}
	return nil
}
