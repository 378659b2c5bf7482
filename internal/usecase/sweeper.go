package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

// Sweeper is the liveness backstop for auto-timeout: a periodic pass that
// reverts HUMAN users who went idle and never sent another message. The
// inline check in the processor handles everyone else.
type Sweeper struct {
	users       storage.UserRepo
	autoTimeout time.Duration
	interval    time.Duration

	inFlight atomic.Bool
	nowFn    func() int64
}

// NewSweeper builds a sweeper; interval is operational tuning, only the
// autoTimeout duration carries semantics.
func NewSweeper(users storage.UserRepo, autoTimeout, interval time.Duration) *Sweeper {
	return &Sweeper{
		users:       users,
		autoTimeout: autoTimeout,
		interval:    interval,
		nowFn:       utils.NowUnixMs,
	}
}

// Run ticks until the context is cancelled. Sweep failures are logged and
// the loop keeps going; a sweep never overlaps a previous one.
func (w *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info("Timeout sweeper started",
		zap.Duration("interval", w.interval), zap.Duration("auto_timeout", w.autoTimeout))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Timeout sweeper stopped")
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass; skipped when a previous pass is still
// running.
func (w *Sweeper) SweepOnce(ctx context.Context) {
	if !w.inFlight.CompareAndSwap(false, true) {
		logger.FromContext(ctx).Warn("Skipping timeout sweep, previous pass still running")
		return
	}
	defer w.inFlight.Store(false)

	cutoff := w.nowFn() - w.autoTimeout.Milliseconds()
	affected, err := w.users.SweepTimeouts(ctx, cutoff)
	if err != nil {
		logger.FromContext(ctx).Error("Timeout sweep failed", zap.Error(err))
		return
	}
	observer.AddTimeoutSweepUsers(affected)
	if affected > 0 {
		logger.FromContext(ctx).Info("Timeout sweep reverted users to BOT",
			zap.Int64("affected", affected))
	}
}
