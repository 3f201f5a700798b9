package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/usecase/reconcile"
)

type Sweeper interface {
	Sweep(ctx context.Context) (*reconcile.Report, error)
}

// Scheduler периодически запускает сверку удержаний.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	timeout  time.Duration
}

func New(sweeper Sweeper, schedule string, timeout time.Duration) *Scheduler {
	cronLogger := cron.PrintfLogger(logger.Log)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  timeout,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("scheduler: некорректное расписание сверки %q: %w", s.schedule, err)
	}
	logger.Log.WithField("schedule", s.schedule).Info("Сверка удержаний запланирована")
	s.cron.Start()
	return nil
}

// Stop останавливает планировщик. Контекст завершается, когда закончится текущая сверка.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		logger.Log.WithError(err).Error("Сверка удержаний завершилась ошибкой")
	}
}
