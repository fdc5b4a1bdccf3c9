// Package jobs schedules the monthly statistics recomputation.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/promo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Aggregator is the part of promo.Aggregator the scheduler drives.
type Aggregator interface {
	AggregateMonth(ctx context.Context, kind models.StatsKind, month promo.Month) (*models.AggregationRun, error)
	LastRun(ctx context.Context, kind models.StatsKind, month promo.Month) (*models.AggregationRun, error)
}

var kinds = []models.StatsKind{models.StatsPrice, models.StatsOffer}

// MonthlyJob aggregates the previous month on a cron schedule.
type MonthlyJob struct {
	cron    *cron.Cron
	agg     Aggregator
	cfg     config.JobsConfig
	loc     *time.Location
	timeout time.Duration
	clock   func() time.Time
	logger  *zap.Logger
}

func NewMonthlyJob(agg Aggregator, cfg config.JobsConfig, loc *time.Location, clock func() time.Time, logger *zap.Logger) *MonthlyJob {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = time.Now
	}
	return &MonthlyJob{
		cron:    cron.New(cron.WithLocation(loc)),
		agg:     agg,
		cfg:     cfg,
		loc:     loc,
		timeout: 30 * time.Minute,
		clock:   clock,
		logger:  logger,
	}
}

// Start registers the schedule and starts the cron runner. With RunOnStart
// the previous month is caught up in the background when it was never
// computed.
func (j *MonthlyJob) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.MonthlySpec, j.tick); err != nil {
		return fmt.Errorf("invalid monthly schedule %q: %w", j.cfg.MonthlySpec, err)
	}
	j.cron.Start()
	j.logger.Info("monthly aggregation scheduled", zap.String("spec", j.cfg.MonthlySpec), zap.String("tz", j.loc.String()))

	if j.cfg.RunOnStart {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
			defer cancel()
			if err := j.CatchUp(ctx); err != nil {
				j.logger.Error("monthly catch-up failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// Stop halts the scheduler and waits for a running job.
func (j *MonthlyJob) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		j.logger.Warn("monthly job still running at shutdown")
	}
}

func (j *MonthlyJob) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.RunPrevious(ctx); err != nil {
		j.logger.Error("monthly aggregation failed", zap.Error(err))
	}
}

// PreviousMonth is the last closed month at the current time.
func (j *MonthlyJob) PreviousMonth() promo.Month {
	return promo.MonthOf(j.clock(), j.loc).Previous()
}

// RunPrevious recomputes both kinds for the previous month.
func (j *MonthlyJob) RunPrevious(ctx context.Context) error {
	month := j.PreviousMonth()
	var errs []error
	for _, kind := range kinds {
		if err := j.run(ctx, kind, month); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CatchUp computes the previous month for every kind that has no recorded run.
func (j *MonthlyJob) CatchUp(ctx context.Context) error {
	month := j.PreviousMonth()
	var errs []error
	for _, kind := range kinds {
		run, err := j.agg.LastRun(ctx, kind, month)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s run for %s: %w", kind, month, err))
			continue
		}
		if run != nil {
			continue
		}
		if err := j.run(ctx, kind, month); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (j *MonthlyJob) run(ctx context.Context, kind models.StatsKind, month promo.Month) error {
	_, err := j.agg.AggregateMonth(ctx, kind, month)
	if errors.Is(err, promo.ErrAggregationInProgress) {
		j.logger.Info("aggregation already running elsewhere",
			zap.String("kind", string(kind)),
			zap.String("month", month.String()),
		)
		return nil
	}
	return err
}
