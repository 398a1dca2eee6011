package spend

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRollover resets l every window until ctx is cancelled.
func RunRollover(ctx context.Context, l Ledger, window time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	log.Info("spend rollover started", zap.Duration("window", window))

	for {
		select {
		case <-ctx.Done():
			log.Info("spend rollover stopped")
			return
		case <-ticker.C:
			if err := l.Rollover(ctx); err != nil {
				log.Error("rollover: reset window", zap.Error(err))
			}
		}
	}
}
