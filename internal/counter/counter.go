// Package counter maintains the rolling order window shown as the live
// "buying now" signal.
package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

// Counter records orders into the shared log and derives snapshots from it.
// Concurrent Record and Snapshot calls are safe; each snapshot is computed
// from a single read of the log.
type Counter struct {
	log     storage.OrderLog
	cfg     config.CounterConfig
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option customizes a Counter.
type Option func(*Counter)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Counter) { c.clock = clock }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Counter) { c.metrics = m }
}

func New(log storage.OrderLog, cfg config.CounterConfig, logger *zap.Logger, opts ...Option) *Counter {
	c := &Counter{
		log:    log,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record appends an order stamped now and returns the resulting snapshot.
// A nil amount is kept as "no amount". Storage failures are returned.
func (c *Counter) Record(ctx context.Context, amount *int64, platform, buyerID string) (*models.CounterSnapshot, error) {
	now := c.clock()
	order := &models.Order{
		ID:        uuid.NewString(),
		Timestamp: now,
		Amount:    amount,
		Platform:  platform,
		BuyerID:   buyerID,
	}

	orders, err := c.log.AppendAndRead(ctx, order, now.Add(-c.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to record order: %w", err)
	}

	snap := c.compute(orders, now)
	c.metrics.RecordOrder(platform, snap.CurrentBuyingNow)

	c.logger.Debug("order recorded",
		zap.String("platform", platform),
		zap.Int("count_window", snap.Count30Min),
		zap.Bool("high_amount_recent", snap.HighAmountRecent),
	)
	return snap, nil
}

// Snapshot returns the current window without modifying the log.
func (c *Counter) Snapshot(ctx context.Context) (*models.CounterSnapshot, error) {
	now := c.clock()
	orders, err := c.log.Read(ctx, now.Add(-c.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to read order log: %w", err)
	}
	return c.compute(orders, now), nil
}

func (c *Counter) compute(orders []*models.Order, now time.Time) *models.CounterSnapshot {
	windowMin := int(c.cfg.Window / time.Minute)
	subMin := int(c.cfg.SubWindow / time.Minute)

	snap := &models.CounterSnapshot{
		WindowMin:    windowMin,
		SubWindowMin: subMin,
		Bins5Min:     make([]int, subMin),
		Bins30Min:    make([]int, windowMin),
		UpdatedAt:    now,
	}

	var last *models.Order
	for _, o := range orders {
		age := now.Sub(o.Timestamp)
		if age < 0 {
			age = 0
		}
		if age >= c.cfg.Window {
			continue
		}

		amt := o.AmountValue()
		snap.Count30Min++
		snap.Sum30Min += amt
		addToBin(snap.Bins30Min, age)

		if age < c.cfg.SubWindow {
			snap.Count5Min++
			snap.Sum5Min += amt
			addToBin(snap.Bins5Min, age)
		}

		if o.Amount != nil && *o.Amount >= c.cfg.HighAmountThreshold {
			snap.HighAmountHit = true
			if age < c.cfg.RecentSpan {
				snap.HighAmountRecent = true
			}
		}

		if last == nil || !o.Timestamp.Before(last.Timestamp) {
			last = o
		}
	}

	snap.CurrentBuyingNow = snap.Count30Min
	if last != nil {
		ts := last.Timestamp
		snap.LastOrderAt = &ts
		if last.Amount != nil {
			amt := *last.Amount
			snap.LastAmount = &amt
		}
	}
	return snap
}

// addToBin counts an order in its per-minute bucket; the last bucket is the
// current minute.
func addToBin(bins []int, age time.Duration) {
	idx := len(bins) - 1 - int(age/time.Minute)
	if idx >= 0 && idx < len(bins) {
		bins[idx]++
	}
}
