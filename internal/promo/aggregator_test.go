package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	may2024   = Month{Year: 2024, Month: time.May}
	afterMay  = time.Date(2024, 6, 1, 0, 0, 0, 0, kst)
	window7   = 7 * 24 * time.Hour
	anyFilter = models.StatsFilter{Kind: models.StatsPrice}
)

func TestAggregate_EndToEnd(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	res, err := f.bonus.Issue(ctx, BonusRequest{
		BuyerID:   "B1",
		Platform:  "instagram",
		Day:       "DAY09",
		TargetURL: "https://shop.example.com/p/1",
		Segment:   "new",
	})
	require.NoError(t, err)

	label, price := expectedColdStart(models.AssignmentKey{BuyerID: "B1", Platform: "instagram", Weekday: "월", Segment: "new"})
	assert.Equal(t, "월", res.Weekday)
	assert.Equal(t, label, res.Price.Variant)
	assert.Equal(t, price, res.Price.Price)
	assert.Equal(t, "D7", res.Offer.Code)

	t0 := monday.Add(time.Hour)
	f.clock.Set(t0)
	_, err = f.tracking.Redirect(ctx, ClickRequest{Token: res.Token})
	require.NoError(t, err)

	f.clock.Set(t0.Add(3 * 24 * time.Hour))
	_, err = f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "purchase", ProductName: "7일 이용권"})
	require.NoError(t, err)

	f.clock.Set(afterMay)
	run, err := f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Rows)

	rows, err := f.statsRepo.Query(ctx, models.StatsFilter{Kind: models.StatsPrice, Month: "2024-05"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "new", row.Segment)
	assert.Equal(t, "instagram", row.Platform)
	assert.Equal(t, "월", row.Weekday)
	assert.Equal(t, label, row.Variant)
	assert.Equal(t, price, row.Price)
	assert.Equal(t, "2024-05", row.Month)
	assert.Equal(t, int64(1), row.LinksIssued)
	assert.Equal(t, int64(1), row.Clicks)
	assert.Equal(t, int64(1), row.UniqueClickers)
	assert.Equal(t, int64(1), row.ConversionsTotal)
	assert.Equal(t, int64(1), row.ConvPurchase)
	assert.Equal(t, int64(0), row.ConvCoupon)
	assert.Equal(t, 1.0, row.ConvRateLinks)
	assert.Equal(t, 1.0, row.ClickCVR)
	assert.Equal(t, 1.0, row.ClickRate)
	assert.Equal(t, float64(price), row.EVLinks)
	assert.Equal(t, float64(price), row.EVClickers)
}

// seedBuyer assigns buyer to variant A, issues a DAY09 link and clicks it at clickAt.
func seedBuyer(t *testing.T, f *fixture, buyer string, clickAt time.Time) *models.TrackingLink {
	t.Helper()
	ctx := context.Background()

	_, err := f.assignRepo.CreateIfAbsent(ctx, &models.Assignment{
		AssignmentKey: models.AssignmentKey{BuyerID: buyer, Platform: "smartstore", Weekday: "월", Segment: "new"},
		Variant:       "A",
		Price:         3900,
		Source:        models.SourceColdStart,
		AssignedAt:    monday,
	})
	require.NoError(t, err)

	f.clock.Set(monday)
	issued, err := f.tracking.IssueLink(ctx, LinkRequest{Day: "DAY09", BuyerID: buyer, Platform: "smartstore", TargetURL: "https://shop.example.com"})
	require.NoError(t, err)

	f.clock.Set(clickAt)
	_, err = f.tracking.Redirect(ctx, ClickRequest{Token: issued.Link.Token})
	require.NoError(t, err)
	return issued.Link
}

func addEvent(t *testing.T, f *fixture, buyer, eventType, product string, at time.Time) {
	t.Helper()
	require.NoError(t, f.eventLog.AppendEvent(context.Background(), &models.BusinessEvent{
		ID:          buyer + eventType + at.String(),
		BuyerID:     buyer,
		EventType:   eventType,
		ProductName: product,
		CreatedAt:   at,
	}))
}

func TestAggregate_ConversionWindowBoundary(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	t0 := monday.Add(time.Hour)
	seedBuyer(t, f, "EDGE", t0)
	seedBuyer(t, f, "LATE", t0)
	seedBuyer(t, f, "SAME", t0)

	addEvent(t, f, "EDGE", "purchase", "", t0.Add(window7))
	addEvent(t, f, "LATE", "purchase", "", t0.Add(window7+time.Second))
	addEvent(t, f, "SAME", "purchase", "", t0)

	f.clock.Set(afterMay)
	cells, err := f.aggregator.ComputePrice(ctx, may2024)
	require.NoError(t, err)
	require.Len(t, cells, 1)

	c := cells[0]
	assert.Equal(t, int64(3), c.LinksIssued)
	assert.Equal(t, int64(3), c.UniqueClickers)
	assert.Equal(t, int64(1), c.ConversionsTotal)
	assert.Equal(t, int64(1), c.ConvPurchase)
	assert.Equal(t, 0.333333, c.ConvRateLinks)
	assert.Equal(t, 1300.0, c.EVLinks)
}

func TestAggregate_ConversionsAreDedupedPerBuyer(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	t0 := monday.Add(time.Hour)
	link := seedBuyer(t, f, "MULTI", t0)
	seedBuyer(t, f, "IDLE", t0.Add(time.Hour))

	// A later click on the same token does not move the anchor.
	f.clock.Set(t0.Add(48 * time.Hour))
	_, err := f.tracking.Redirect(ctx, ClickRequest{Token: link.Token})
	require.NoError(t, err)

	addEvent(t, f, "MULTI", "purchase", "", t0.Add(time.Hour))
	addEvent(t, f, "MULTI", "purchase", "", t0.Add(2*time.Hour))
	addEvent(t, f, "MULTI", "coupon_redeem", "", t0.Add(3*time.Hour))
	addEvent(t, f, "MULTI", "visit", "", t0.Add(4*time.Hour))
	addEvent(t, f, "MULTI", "wishlist_add", "", t0.Add(5*time.Hour))

	f.clock.Set(afterMay)
	cells, err := f.aggregator.ComputePrice(ctx, may2024)
	require.NoError(t, err)
	require.Len(t, cells, 1)

	c := cells[0]
	assert.Equal(t, int64(2), c.LinksIssued)
	assert.Equal(t, int64(3), c.Clicks)
	assert.Equal(t, int64(2), c.UniqueClickers)
	assert.Equal(t, int64(1), c.ConversionsTotal)
	assert.Equal(t, int64(1), c.ConvPurchase)
	assert.Equal(t, int64(1), c.ConvCoupon)
	assert.Equal(t, int64(1), c.ConvRevisit)
	assert.Equal(t, 1.5, c.ClickRate)
	assert.Equal(t, 0.5, c.ConvRateLinks)
	assert.Equal(t, 0.5, c.ClickCVR)
	assert.Equal(t, 1950.0, c.EVLinks)
}

func TestAggregate_IgnoresNonBonusDaysAndOtherMonths(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	seedBuyer(t, f, "B1", monday.Add(time.Hour))

	f.clock.Set(monday)
	_, err := f.tracking.IssueLink(ctx, LinkRequest{Day: "DAY03", BuyerID: "B1", Platform: "smartstore", TargetURL: "https://shop.example.com"})
	require.NoError(t, err)
	_, err = f.tracking.IssueLink(ctx, LinkRequest{Day: "DAY09", BuyerID: "B1", Platform: "instagram", TargetURL: "https://shop.example.com"})
	require.NoError(t, err)
	f.clock.Set(afterMay.Add(time.Hour))
	_, err = f.tracking.IssueLink(ctx, LinkRequest{Day: "DAY09", BuyerID: "B1", Platform: "smartstore", TargetURL: "https://shop.example.com"})
	require.NoError(t, err)

	cells, err := f.aggregator.ComputePrice(ctx, may2024)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, int64(1), cells[0].LinksIssued)
}

func TestAggregateMonth_Idempotent(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	t0 := monday.Add(time.Hour)
	seedBuyer(t, f, "B1", t0)
	seedBuyer(t, f, "B2", t0)
	addEvent(t, f, "B1", "purchase", "", t0.Add(time.Hour))

	f.clock.Set(afterMay)
	_, err := f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	require.NoError(t, err)
	first, err := f.statsRepo.Query(ctx, anyFilter)
	require.NoError(t, err)

	_, err = f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	require.NoError(t, err)
	second, err := f.statsRepo.Query(ctx, anyFilter)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), second[0].LinksIssued)

	run, err := f.aggregator.LastRun(ctx, models.StatsPrice, may2024)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 1, run.Rows)
}

func TestAggregateMonth_VariantAtTwoPrices(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	for buyer, price := range map[string]int64{"B1": 3900, "B2": 4200} {
		_, err := f.assignRepo.CreateIfAbsent(ctx, &models.Assignment{
			AssignmentKey: models.AssignmentKey{BuyerID: buyer, Platform: "instagram", Weekday: "월", Segment: "new"},
			Variant:       "A",
			Price:         price,
			Source:        models.SourceStats,
			AssignedAt:    monday,
		})
		require.NoError(t, err)
		_, err = f.tracking.IssueLink(ctx, LinkRequest{Day: "DAY09", BuyerID: buyer, Platform: "instagram", TargetURL: "https://shop.example.com"})
		require.NoError(t, err)
	}

	f.clock.Set(afterMay)
	run, err := f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Rows)

	rows, err := f.statsRepo.Query(ctx, anyFilter)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for i, price := range []int64{3900, 4200} {
		assert.Equal(t, "A", rows[i].Variant)
		assert.Equal(t, price, rows[i].Price)
		assert.Equal(t, int64(1), rows[i].LinksIssued)
	}
}

func TestAggregateMonth_RejectsOpenMonth(t *testing.T) {
	f := newFixture(t, monday)

	f.clock.Set(afterMay.Add(-time.Second))
	_, err := f.aggregator.AggregateMonth(context.Background(), models.StatsPrice, may2024)
	assert.ErrorIs(t, err, ErrMonthNotClosed)
}

func TestAggregateMonth_SingleRunPerMonth(t *testing.T) {
	f := newFixture(t, afterMay)
	ctx := context.Background()

	unlock, err := f.locker.TryLock(ctx, "aggregate:price:2024-05", time.Minute)
	require.NoError(t, err)

	_, err = f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	assert.ErrorIs(t, err, ErrAggregationInProgress)

	// The offer run for the same month is independent.
	_, err = f.aggregator.AggregateMonth(ctx, models.StatsOffer, may2024)
	assert.NoError(t, err)

	require.NoError(t, unlock(ctx))
	_, err = f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	assert.NoError(t, err)
}

type failingEvents struct {
	storage.EventLog
}

func (failingEvents) EventsInWindow(ctx context.Context, buyerID string, after, until time.Time) ([]*models.BusinessEvent, error) {
	return nil, errors.New("connection refused")
}

func TestAggregateMonth_FailureKeepsPreviousRows(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	seedBuyer(t, f, "B1", monday.Add(time.Hour))

	f.clock.Set(afterMay)
	_, err := f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	require.NoError(t, err)
	before, err := f.statsRepo.Query(ctx, anyFilter)
	require.NoError(t, err)
	require.Len(t, before, 1)

	f.aggregator.deps.Events = failingEvents{f.eventLog}
	_, err = f.aggregator.AggregateMonth(ctx, models.StatsPrice, may2024)
	require.Error(t, err)

	after, err := f.statsRepo.Query(ctx, anyFilter)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAggregate_OfferKind(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()
	t0 := monday.Add(time.Hour)

	issue := func(buyer, code string, days int) *models.TrackingLink {
		f.clock.Set(monday)
		issued, err := f.tracking.IssueLink(ctx, LinkRequest{
			Day: "DAY10", BuyerID: buyer, Platform: "smartstore", TargetURL: "https://shop.example.com",
			Season: "Winter", OfferCode: code, OfferDays: days,
		})
		require.NoError(t, err)
		f.clock.Set(t0)
		_, err = f.tracking.Redirect(ctx, ClickRequest{Token: issued.Link.Token})
		require.NoError(t, err)
		return issued.Link
	}

	issue("O1", "D7", 7)
	issue("O2", "D7", 7)
	issue("O3", "", 21)
	issue("O4", SeasonPack, 0)

	addEvent(t, f, "O1", "purchase", "7일 이용권", t0.Add(time.Hour))
	addEvent(t, f, "O2", "purchase", "14일 이용권", t0.Add(time.Hour))
	addEvent(t, f, "O3", "purchase", "21-day pass", t0.Add(time.Hour))
	addEvent(t, f, "O4", "coupon", "", t0.Add(time.Hour))

	f.clock.Set(afterMay)
	_, err := f.aggregator.AggregateMonth(ctx, models.StatsOffer, may2024)
	require.NoError(t, err)

	rows, err := f.statsRepo.Query(ctx, models.StatsFilter{Kind: models.StatsOffer, Month: "2024-05"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byCode := map[string]*models.StatsCell{}
	for _, r := range rows {
		assert.Equal(t, "new", r.Segment)
		assert.Equal(t, "월", r.Weekday)
		assert.Equal(t, "winter", r.Season)
		byCode[r.OfferCode] = r
	}

	d7 := byCode["D7"]
	require.NotNil(t, d7)
	assert.Equal(t, int64(2), d7.LinksIssued)
	assert.Equal(t, int64(1), d7.ConvPurchase)
	assert.Equal(t, int64(3900), d7.Price)
	assert.Equal(t, 1950.0, d7.EVLinks)

	d21 := byCode["D21"]
	require.NotNil(t, d21)
	assert.Equal(t, 21, d21.OfferDays)
	assert.Equal(t, int64(1), d21.ConvPurchase)

	pack := byCode[SeasonPack]
	require.NotNil(t, pack)
	assert.Equal(t, int64(0), pack.ConvPurchase)
	assert.Equal(t, int64(1), pack.ConvCoupon)
	assert.Equal(t, int64(1), pack.ConversionsTotal)
	assert.Equal(t, float64(12900), pack.EVClickers)
}

func TestAggregateAll(t *testing.T) {
	f := newFixture(t, afterMay)

	runs, err := f.aggregator.AggregateAll(context.Background(), may2024)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.StatsPrice, runs[0].Kind)
	assert.Equal(t, models.StatsOffer, runs[1].Kind)
	assert.Equal(t, 0, runs[0].Rows)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Offer ")
	require.NoError(t, err)
	assert.Equal(t, models.StatsOffer, k)

	_, err = ParseKind("clicks")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
