package db

import (
	"context"
	"time"

	"github.com/medistore/payments/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	watchdogInterval    = 30 * time.Second
	watchdogPingTimeout = 3 * time.Second
	watchdogMaxFailures = 5
)

// Pinger is the subset of *sql.DB the watchdog needs.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Watchdog pings the pool periodically and asks the application to shut down
// after repeated failures, so the orchestrator can restart it.
type Watchdog struct {
	pinger      Pinger
	metrics     *metrics.PaymentMetrics
	shutdowner  fx.Shutdowner
	log         *zap.Logger
	maxFailures int
	failures    int
}

type WatchdogParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	DB         *gorm.DB
	Metrics    *metrics.PaymentMetrics `optional:"true"`
	Log        *zap.Logger
}

func RegisterWatchdog(p WatchdogParams) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}

	w := &Watchdog{
		pinger:      sqlDB,
		metrics:     p.Metrics,
		shutdowner:  p.Shutdowner,
		log:         p.Log.Named("db.watchdog"),
		maxFailures: watchdogMaxFailures,
	}

	var cancel context.CancelFunc
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, c := context.WithCancel(context.Background())
			cancel = c
			go w.Run(ctx, watchdogInterval, func() {
				if p.Metrics != nil {
					p.Metrics.SetDBStats(sqlDB.Stats())
				}
			})
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
	return nil
}

// Run checks the pool on every tick until ctx is done.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration, onTick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if onTick != nil {
				onTick()
			}
			if w.Check(ctx) {
				return
			}
		}
	}
}

// Check pings once and reports whether shutdown was requested.
func (w *Watchdog) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, watchdogPingTimeout)
	defer cancel()

	if err := w.pinger.PingContext(pingCtx); err != nil {
		w.failures++
		w.metrics.IncDBPingFailure()
		w.log.Warn("database ping failed",
			zap.Int("consecutive_failures", w.failures),
			zap.Error(err),
		)
		if w.failures >= w.maxFailures {
			w.log.Error("database unreachable, requesting shutdown")
			if err := w.shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
				w.log.Error("shutdown request failed", zap.Error(err))
			}
			return true
		}
		return false
	}

	if w.failures > 0 {
		w.log.Info("database ping recovered", zap.Int("after_failures", w.failures))
	}
	w.failures = 0
	return false
}
