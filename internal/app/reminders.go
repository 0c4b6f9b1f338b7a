package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunReminders delivers due reminders once at start and then every interval
// until ctx is done.
func (e *Engine) RunReminders(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	e.deliverOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("stopping reminder loop")
			return
		case <-ticker.C:
			e.deliverOnce(ctx)
		}
	}
}

func (e *Engine) deliverOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	report, err := e.Reminders.DeliverDue(runCtx, time.Now())
	if err != nil {
		e.log.Error("reminder run failed", zap.Error(err))
		return
	}
	e.log.Info("reminder run complete",
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(start)),
	)
}
