package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartBalanceSweep запускает периодическую сверку баланса платформы.
// Планировщик останавливается при отмене ctx.
func (o *Orchestrator) StartBalanceSweep(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := o.SweepBalance(ctx); err != nil {
				o.logger.Error("balance sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule balance sweep: %w", err)
	}

	sched.Start()
	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			o.logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	o.logger.Info("balance sweep scheduled", zap.Duration("interval", interval))
	return sched, nil
}
