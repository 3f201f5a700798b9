package goroutine

import (
	"context"
	"runtime/debug"
)

type Logger interface {
	Errorf(format string, args ...interface{})
}

// RecoveryHandler не даёт panic в фоновой задаче уронить процесс.
// Каждая задача именована, чтобы по логу было видно, какой подписчик или клиент упал.
type RecoveryHandler struct {
	logger Logger
}

func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

func (rh *RecoveryHandler) handlePanic(name string) {
	if r := recover(); r != nil {
		rh.logger.Errorf("Panic in %s: %v\nStack trace:\n%s", name, r, debug.Stack())
	}
}

// Go запускает именованную горутину с обработкой panic.
func (rh *RecoveryHandler) Go(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		defer rh.handlePanic(name)
		fn(ctx)
	}()
}

// Run выполняет fn синхронно. Возвращает false, если fn запаниковала.
func (rh *RecoveryHandler) Run(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rh.logger.Errorf("Panic in %s: %v\nStack trace:\n%s", name, r, debug.Stack())
			ok = false
		}
	}()
	fn()
	return true
}
