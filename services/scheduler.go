// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

type MaintenanceOptions struct {
	HoldTTL       time.Duration
	SweepInterval time.Duration
	GaugeInterval time.Duration
}

// StartMaintenanceScheduler runs the stale-hold sweep and the gauge refresh.
// The caller shuts the returned scheduler down.
func StartMaintenanceScheduler(ledger *LedgerService, registry *MatchRegistry, metrics *Metrics, opts MaintenanceOptions, logger zerolog.Logger) (gocron.Scheduler, error) {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.GaugeInterval <= 0 {
		opts.GaugeInterval = 15 * time.Second
	}
	log := logger.With().Str("component", "scheduler").Logger()

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	// Every minute: release holds whose match is gone
	_, err = sched.NewJob(
		gocron.DurationJob(opts.SweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.SweepInterval)
			defer cancel()
			n, err := ledger.ReleaseStaleHolds(ctx, opts.HoldTTL, registry.IsLive)
			if err != nil {
				log.Error().Err(err).Msg("[Scheduler] stale hold sweep failed")
				return
			}
			if n > 0 {
				log.Info().Int("holds", n).Msg("[Scheduler] released stale holds")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(opts.GaugeInterval),
		gocron.NewTask(func() {
			metrics.SetQueueLength(registry.QueueLength())
			metrics.SetLiveMatches(registry.LiveMatches())
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
