package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

type JanitorConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 1h".
	Schedule string
	// SucceededRetention and FailedRetention of zero keep those jobs forever.
	SucceededRetention time.Duration
	FailedRetention    time.Duration
	Clock              clockwork.Clock
	// Extra sweeps run after the job purge on the same schedule.
	Extra []SweepFunc
}

// SweepFunc deletes expired rows of some other table and reports how many.
type SweepFunc func(ctx context.Context) (int64, error)

// Janitor expires finished jobs on a cron schedule so the jobs table does
// not grow without bound.
type Janitor struct {
	inspector Inspector
	logger    *slog.Logger
	schedule  cron.Schedule
	retention map[Status]time.Duration
	clock     clockwork.Clock
	extra     []SweepFunc
}

func NewJanitor(inspector Inspector, logger *slog.Logger, cfg JanitorConfig) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	retention := map[Status]time.Duration{}
	if cfg.SucceededRetention > 0 {
		retention[StatusSucceeded] = cfg.SucceededRetention
	}
	if cfg.FailedRetention > 0 {
		retention[StatusFailed] = cfg.FailedRetention
	}
	return &Janitor{
		inspector: inspector,
		logger:    logger,
		schedule:  sched,
		retention: retention,
		clock:     cfg.Clock,
		extra:     cfg.Extra,
	}, nil
}

func (j *Janitor) Run(ctx context.Context) {
	if len(j.retention) == 0 && len(j.extra) == 0 {
		j.logger.Info("job janitor disabled (no retention configured)")
		return
	}
	c := cron.New()
	c.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("job janitor sweep failed", "err", err)
		}
	}))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// Sweep deletes finished jobs older than their retention and returns how many
// rows went away.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	var total int64
	now := j.clock.Now()
	for _, status := range []Status{StatusSucceeded, StatusFailed} {
		keep, ok := j.retention[status]
		if !ok {
			continue
		}
		n, err := j.inspector.Purge(ctx, status, now.Add(-keep))
		if err != nil {
			return total, fmt.Errorf("purge %s jobs: %w", status, err)
		}
		total += n
		if n > 0 {
			j.logger.Info("expired finished jobs", "status", string(status), "count", n)
		}
	}
	for _, sweep := range j.extra {
		n, err := sweep(ctx)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
