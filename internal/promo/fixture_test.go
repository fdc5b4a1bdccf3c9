package promo

import (
	"sync"
	"testing"
	"time"

	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/geo"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

var kst = time.FixedZone("KST", 9*60*60)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func experimentConfig() config.ExperimentConfig {
	return config.ExperimentConfig{
		PriceVariants: []config.PriceVariant{
			{Label: "A", Price: 3900},
			{Label: "B", Price: 4900},
		},
		PremiumThreshold: 4900,
		OfferPrices: map[string]int64{
			"D7":       3900,
			"D14":      4900,
			"D21":      7900,
			SeasonPack: 12900,
		},
		ClickMetricPlatforms: []string{"instagram", "tiktok"},
		PlatformWeights:      map[string]float64{},
		WeekdayWeights:       map[string]float64{},
		SeasonWeights:        map[string]float64{},
		DefaultSeason:        "winter",
	}
}

func attributionConfig() config.AttributionConfig {
	return config.AttributionConfig{
		ConversionWindowDays: 7,
		BonusDays:            []string{"DAY09", "DAY10"},
		Timezone:             "KST",
		Location:             kst,
	}
}

// fixture wires every service over in-memory stores and one fake clock.
type fixture struct {
	clock *fakeClock

	assignRepo *storage.InMemoryAssignmentRepo
	linkRepo   *storage.InMemoryLinkRepo
	eventLog   *storage.InMemoryEventLog
	statsRepo  *storage.InMemoryStatsRepo
	locker     *storage.InMemoryLocker

	policy      *Policy
	assignments *AssignmentService
	offers      *OfferService
	events      *EventService
	tracking    *TrackingService
	bonus       *BonusService
	aggregator  *Aggregator
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()

	f := &fixture{
		clock:      &fakeClock{now: start},
		assignRepo: storage.NewInMemoryAssignmentRepo(),
		linkRepo:   storage.NewInMemoryLinkRepo(),
		eventLog:   storage.NewInMemoryEventLog(),
		statsRepo:  storage.NewInMemoryStatsRepo(),
		locker:     storage.NewInMemoryLocker(),
	}
	logger := zap.NewNop()
	exp := experimentConfig()

	f.policy = NewPolicy(exp)
	f.assignments = NewAssignmentService(f.assignRepo, f.statsRepo, f.policy, f.clock.Now, logger, nil)
	f.offers = NewOfferService(f.statsRepo, NewOfferCatalog(exp.OfferPrices), f.policy, logger, nil)
	f.events = NewEventService(f.eventLog, f.clock.Now, logger, nil)
	f.tracking = NewTrackingService(f.linkRepo,
		geo.NewStaticProvider(map[string]string{"203.0.113.7": "KR"}),
		"https://promo.example.com/", f.clock.Now, logger, nil)
	f.bonus = NewBonusService(f.assignments, f.offers, f.events, f.tracking, f.policy, kst, f.clock.Now, logger)
	f.aggregator = NewAggregator(AggregatorDeps{
		Assignments: f.assignRepo,
		Links:       f.linkRepo,
		Events:      f.eventLog,
		Stats:       f.statsRepo,
		Locker:      f.locker,
	}, NewOfferCatalog(exp.OfferPrices), attributionConfig(), time.Minute, f.clock.Now, logger, nil)
	return f
}
