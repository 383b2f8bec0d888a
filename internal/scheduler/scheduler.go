package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platewise/platewise/internal/clock"
	"github.com/platewise/platewise/internal/dashboard/rollup"
	obsmetrics "github.com/platewise/platewise/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned when the scheduler is constructed
// without its required dependencies.
var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log       *zap.Logger
	RollupSvc *rollup.Service
	Clock     clock.Clock
	Config    Config `optional:"true"`
}

// Scheduler periodically rebuilds daily rollups from the event ledger.
// It runs one sweep at startup so a fresh deployment has rollups
// immediately, then keeps sweeping on RunInterval.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	rollupSvc *rollup.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.RollupSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		rollupSvc: p.RollupSvc,
	}, nil
}

const rollupJobName = "rollup_daily"

// RunOnce rebuilds the most recent CatchUpDays completed days, newest
// first. A failed day is logged and counted but never stops the sweep;
// the next sweep retries it.
func (s *Scheduler) RunOnce(parent context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	today := dayStart(s.clock.Now())

	var err error
	for back := 1; back <= s.cfg.CatchUpDays; back++ {
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		day := today.AddDate(0, 0, -back)
		err = errors.Join(err, s.runDay(parent, schedMetrics, day))
	}
	return err
}

func (s *Scheduler) runDay(parent context.Context, schedMetrics *obsmetrics.SchedulerMetrics, day time.Time) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics.IncJobRun(rollupJobName)
	result, err := s.rollupSvc.RunDaily(ctx, day)
	schedMetrics.ObserveJobDuration(rollupJobName, time.Since(start))

	if err == nil {
		schedMetrics.AddRollupRows(rollupJobName, result.Rows)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(rollupJobName)
		s.log.Warn("rollup job timed out",
			zap.String("day", day.Format("2006-01-02")),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(rollupJobName, err)
	s.log.Error("rollup job failed",
		zap.String("day", day.Format("2006-01-02")),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", rollupJobName, err)
}

// RunForever sweeps immediately, then on every tick until ctx is done.
// Sweep failures are logged and retried on the next tick; the loop
// itself never exits on error.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
