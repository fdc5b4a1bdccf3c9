package promo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

// AggregatorDeps groups the stores the aggregator reads and writes.
type AggregatorDeps struct {
	Assignments storage.AssignmentRepo
	Links       storage.LinkRepo
	Events      storage.EventLog
	Stats       storage.StatsRepo
	Locker      storage.Locker
}

// Aggregator computes the monthly statistics table.
type Aggregator struct {
	deps      AggregatorDeps
	catalog   *OfferCatalog
	window    time.Duration
	bonusDays []string
	loc       *time.Location
	lockTTL   time.Duration
	clock     func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewAggregator(
	deps AggregatorDeps,
	catalog *OfferCatalog,
	cfg config.AttributionConfig,
	lockTTL time.Duration,
	clock func() time.Time,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	days := make([]string, 0, len(cfg.BonusDays))
	for _, d := range cfg.BonusDays {
		if nd, err := NormalizeDay(d); err == nil {
			days = append(days, nd)
		}
	}
	return &Aggregator{
		deps:      deps,
		catalog:   catalog,
		window:    time.Duration(cfg.ConversionWindowDays) * 24 * time.Hour,
		bonusDays: days,
		loc:       loc,
		lockTTL:   lockTTL,
		clock:     clock,
		logger:    logger,
		metrics:   m,
	}
}

// Location is the timezone month boundaries are computed in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// ParseKind accepts "price" or "offer".
func ParseKind(s string) (models.StatsKind, error) {
	switch k := models.StatsKind(strings.ToLower(strings.TrimSpace(s))); k {
	case models.StatsPrice, models.StatsOffer:
		return k, nil
	}
	return "", fmt.Errorf("%w: kind %q", ErrInvalidInput, s)
}

// AggregateAll runs the price and then the offer aggregation for month.
func (a *Aggregator) AggregateAll(ctx context.Context, month Month) ([]*models.AggregationRun, error) {
	var runs []*models.AggregationRun
	for _, kind := range []models.StatsKind{models.StatsPrice, models.StatsOffer} {
		run, err := a.AggregateMonth(ctx, kind, month)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// AggregateMonth recomputes every row of kind for a closed month and replaces
// the stored rows in one step. Re-running it yields the same rows.
func (a *Aggregator) AggregateMonth(ctx context.Context, kind models.StatsKind, month Month) (*models.AggregationRun, error) {
	if !month.ClosedAt(a.clock(), a.loc) {
		return nil, fmt.Errorf("%w: %s", ErrMonthNotClosed, month)
	}

	unlock, err := a.deps.Locker.TryLock(ctx, fmt.Sprintf("aggregate:%s:%s", kind, month), a.lockTTL)
	if err != nil {
		if errors.Is(err, storage.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s %s", ErrAggregationInProgress, kind, month)
		}
		return nil, fmt.Errorf("failed to acquire aggregation lock: %w", err)
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			a.logger.Warn("failed to release aggregation lock", zap.Error(err))
		}
	}()

	started := time.Now()
	var cells []*models.StatsCell
	switch kind {
	case models.StatsPrice:
		cells, err = a.ComputePrice(ctx, month)
	case models.StatsOffer:
		cells, err = a.ComputeOffer(ctx, month)
	default:
		err = fmt.Errorf("%w: kind %q", ErrInvalidInput, kind)
	}
	if err != nil {
		a.metrics.RecordAggregation(string(kind), "error", 0, time.Since(started))
		return nil, err
	}

	storage.SortCells(cells)
	run := models.AggregationRun{
		Kind:       kind,
		Month:      month.String(),
		Rows:       len(cells),
		ComputedAt: a.clock().Truncate(time.Microsecond),
	}
	if err := a.deps.Stats.ReplaceMonth(ctx, run, cells); err != nil {
		a.metrics.RecordAggregation(string(kind), "error", 0, time.Since(started))
		return nil, fmt.Errorf("failed to write %s stats for %s: %w", kind, month, err)
	}

	a.metrics.RecordAggregation(string(kind), "ok", len(cells), time.Since(started))
	a.logger.Info("monthly aggregation complete",
		zap.String("kind", string(kind)),
		zap.String("month", month.String()),
		zap.Int("rows", len(cells)),
		zap.Duration("took", time.Since(started)),
	)
	return &run, nil
}

// LastRun returns the recorded run for kind and month, or nil.
func (a *Aggregator) LastRun(ctx context.Context, kind models.StatsKind, month Month) (*models.AggregationRun, error) {
	return a.deps.Stats.GetRun(ctx, kind, month.String())
}

type priceGroup struct {
	segment, platform, weekday, variant string
	price                               int64
}

// ComputePrice builds one row per (segment, platform, weekday, variant,
// price) group of the month's assignments.
func (a *Aggregator) ComputePrice(ctx context.Context, month Month) ([]*models.StatsCell, error) {
	from, to := month.Bounds(a.loc)

	assigned, err := a.deps.Assignments.ListAssigned(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	var order []priceGroup
	buyers := make(map[priceGroup][]string)
	seen := make(map[priceGroup]map[string]bool)
	for _, as := range assigned {
		if as.BuyerID == "" || as.Variant == "" || as.AssignedAt.IsZero() {
			a.skip("assignment", zap.String("buyer_id", as.BuyerID), zap.String("variant", as.Variant))
			continue
		}
		g := priceGroup{
			segment:  strings.ToLower(as.Segment),
			platform: strings.ToLower(as.Platform),
			weekday:  as.Weekday,
			variant:  strings.ToUpper(as.Variant),
			price:    as.Price,
		}
		if _, ok := seen[g]; !ok {
			seen[g] = make(map[string]bool)
			order = append(order, g)
		}
		if !seen[g][as.BuyerID] {
			seen[g][as.BuyerID] = true
			buyers[g] = append(buyers[g], as.BuyerID)
		}
	}

	cells := make([]*models.StatsCell, 0, len(order))
	for _, g := range order {
		links, err := a.deps.Links.ListLinks(ctx, models.LinkFilter{
			From:     from,
			To:       to,
			Days:     a.bonusDays,
			Platform: g.platform,
			BuyerIDs: buyers[g],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list links: %w", err)
		}

		cell := &models.StatsCell{
			Kind:     models.StatsPrice,
			Segment:  g.segment,
			Platform: g.platform,
			Weekday:  g.weekday,
			Variant:  g.variant,
			Price:    g.price,
			Month:    month.String(),
		}
		if err := a.attribute(ctx, cell, links, from, to, nil); err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

type offerGroup struct {
	segment, platform, weekday, season, code string
	days                                     int
}

// ComputeOffer builds one row per offer group. Each bonus link of the month
// belongs to exactly one group, keyed by the buyer's current segment and the
// link's platform, creation weekday, season and offer.
func (a *Aggregator) ComputeOffer(ctx context.Context, month Month) ([]*models.StatsCell, error) {
	from, to := month.Bounds(a.loc)

	links, err := a.deps.Links.ListLinks(ctx, models.LinkFilter{From: from, To: to, Days: a.bonusDays})
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	segments := make(map[string]string)
	var order []offerGroup
	grouped := make(map[offerGroup][]*models.TrackingLink)
	for _, l := range links {
		if l.Token == "" || l.BuyerID == "" || l.CreatedAt.IsZero() {
			a.skip("link", zap.String("token", l.Token))
			continue
		}

		seg, ok := segments[l.BuyerID]
		if !ok {
			counts, err := a.deps.Events.CountByType(ctx, l.BuyerID)
			if err != nil {
				return nil, fmt.Errorf("failed to count events: %w", err)
			}
			seg = SegmentFor(counts[models.EventPurchase])
			segments[l.BuyerID] = seg
		}

		code := CodeFor(l.OfferCode, l.OfferDays)
		days := l.OfferDays
		if days == 0 && code != SeasonPack {
			days = daysFromCode(code)
		}
		g := offerGroup{
			segment:  seg,
			platform: strings.ToLower(l.Platform),
			weekday:  WeekdayLabel(l.CreatedAt.In(a.loc)),
			season:   strings.ToLower(l.Season),
			code:     code,
			days:     days,
		}
		if _, ok := grouped[g]; !ok {
			order = append(order, g)
		}
		grouped[g] = append(grouped[g], l)
	}

	cells := make([]*models.StatsCell, 0, len(order))
	for _, g := range order {
		cell := &models.StatsCell{
			Kind:      models.StatsOffer,
			Segment:   g.segment,
			Platform:  g.platform,
			Weekday:   g.weekday,
			Season:    g.season,
			OfferCode: g.code,
			OfferDays: g.days,
			Price:     a.catalog.Price(g.code),
			Month:     month.String(),
		}
		code, days := g.code, g.days
		match := func(product string) bool { return ProductMatchesOffer(code, days, product) }
		if err := a.attribute(ctx, cell, grouped[g], from, to, match); err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

// attribute fills the counters and rates of cell from links. A non-nil
// productMatch must accept a purchase's product for it to count.
func (a *Aggregator) attribute(
	ctx context.Context,
	cell *models.StatsCell,
	links []*models.TrackingLink,
	from, to time.Time,
	productMatch func(string) bool,
) error {
	cell.LinksIssued = int64(len(links))
	if len(links) > 0 {
		tokens := make([]string, 0, len(links))
		owner := make(map[string]string, len(links))
		for _, l := range links {
			tokens = append(tokens, l.Token)
			owner[l.Token] = l.BuyerID
		}

		clicks, err := a.deps.Links.ListClicks(ctx, tokens, from, to)
		if err != nil {
			return fmt.Errorf("failed to list clicks: %w", err)
		}

		firstClick := make(map[string]time.Time)
		for _, c := range clicks {
			if c.Timestamp.IsZero() {
				a.skip("click", zap.String("click_id", c.ID))
				continue
			}
			buyer := c.BuyerID
			if buyer == "" {
				buyer = owner[c.Token]
			}
			cell.Clicks++
			if t, ok := firstClick[buyer]; !ok || c.Timestamp.Before(t) {
				firstClick[buyer] = c.Timestamp
			}
		}
		cell.UniqueClickers = int64(len(firstClick))

		clickers := make([]string, 0, len(firstClick))
		for b := range firstClick {
			clickers = append(clickers, b)
		}
		sort.Strings(clickers)

		for _, buyer := range clickers {
			anchor := firstClick[buyer]
			events, err := a.deps.Events.EventsInWindow(ctx, buyer, anchor, anchor.Add(a.window))
			if err != nil {
				return fmt.Errorf("failed to read events: %w", err)
			}

			var purchase, coupon, revisit bool
			for _, ev := range events {
				if ev.CreatedAt.IsZero() {
					a.skip("event", zap.String("event_id", ev.ID))
					continue
				}
				switch models.KindOf(ev.EventType) {
				case models.ConversionPurchase:
					if productMatch == nil || productMatch(ev.ProductName) {
						purchase = true
					}
				case models.ConversionCoupon:
					coupon = true
				case models.ConversionRevisit:
					revisit = true
				}
			}
			if purchase {
				cell.ConvPurchase++
			}
			if coupon {
				cell.ConvCoupon++
			}
			if revisit {
				cell.ConvRevisit++
			}
			if purchase || coupon || revisit {
				cell.ConversionsTotal++
			}
		}
	}

	clickRate := ratio(cell.Clicks, cell.LinksIssued)
	convRateLinks := ratio(cell.ConversionsTotal, cell.LinksIssued)
	clickCVR := ratio(cell.ConversionsTotal, cell.UniqueClickers)

	cell.ClickRate = round6(clickRate)
	cell.ConvRateLinks = round6(convRateLinks)
	cell.ClickCVR = round6(clickCVR)
	cell.EVLinks = round6(float64(cell.Price) * convRateLinks)
	cell.EVClickers = round6(float64(cell.Price) * clickCVR)
	return nil
}

func (a *Aggregator) skip(source string, fields ...zap.Field) {
	a.metrics.RecordSkipped(source)
	a.logger.Warn("skipping malformed "+source+" record", fields...)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
