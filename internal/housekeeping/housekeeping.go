// Package housekeeping runs a single periodic job that logs registry and
// delivery-log size statistics and refreshes the active-clients gauge. It
// is adapted from the teacher's internal/scheduler (gocron.NewScheduler +
// gocron.DurationJob), collapsed from "one gocron job per policy" down to
// one fixed-interval job — this system has no per-entity schedules, only a
// single fleet-wide health tick.
//
// This is pure observability. It never retries a failed delivery and never
// touches the dispatcher — the spec's Non-goals explicitly rule out a retry
// queue, and housekeeping must not become one by accident.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/metrics"
	"github.com/hermesrelay/hermes/internal/store"
)

// DefaultInterval is used when Config.Interval is left at zero.
const DefaultInterval = 5 * time.Minute

// Config configures the housekeeping job.
type Config struct {
	// Interval between stats ticks. Defaults to DefaultInterval.
	Interval time.Duration
}

// Housekeeping wraps a gocron scheduler running the single stats job.
type Housekeeping struct {
	cron   gocron.Scheduler
	store  *store.Store
	logger *zap.Logger
}

// New constructs a Housekeeping job. Call Start to begin ticking.
func New(cfg Config, st *store.Store, logger *zap.Logger) (*Housekeeping, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("housekeeping: create gocron scheduler: %w", err)
	}

	h := &Housekeeping{cron: s, store: st, logger: logger.Named("housekeeping")}

	_, err = s.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(func() { h.tick(context.Background()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("housekeeping: schedule stats job: %w", err)
	}

	return h, nil
}

// Start begins running the scheduled job and runs one tick immediately so
// the gauge is populated before the first interval elapses.
func (h *Housekeeping) Start(ctx context.Context) {
	h.tick(ctx)
	h.cron.Start()
}

// Stop shuts down the underlying scheduler, waiting for any in-flight tick
// to finish.
func (h *Housekeeping) Stop() error {
	if err := h.cron.Shutdown(); err != nil {
		return fmt.Errorf("housekeeping: shutdown: %w", err)
	}
	return nil
}

func (h *Housekeeping) tick(ctx context.Context) {
	st := h.store.Stats(ctx)

	metrics.ClientsActive.Set(float64(st.ActiveClients))

	h.logger.Info("registry stats",
		zap.Int("active_clients", st.ActiveClients),
		zap.Int("inactive_clients", st.InactiveClients),
		zap.Int64("log_size_bytes", st.LogSizeBytes),
	)
}
