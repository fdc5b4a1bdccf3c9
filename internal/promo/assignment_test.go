package promo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2024, 5, 6, 10, 0, 0, 0, kst)

func expectedColdStart(key models.AssignmentKey) (string, int64) {
	v := experimentConfig().PriceVariants[ColdStartIndex(key, 2)]
	return v.Label, v.Price
}

func TestGetOrAssign_ColdStartIsSticky(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	req := AssignRequest{BuyerID: "B1", Platform: "Instagram", Weekday: "월", Segment: "new"}
	first, err := f.assignments.GetOrAssign(ctx, req)
	require.NoError(t, err)

	label, price := expectedColdStart(models.AssignmentKey{BuyerID: "B1", Platform: "instagram", Weekday: "월", Segment: "new"})
	assert.Equal(t, label, first.Variant)
	assert.Equal(t, price, first.Price)
	assert.Equal(t, models.SourceColdStart, first.Source)
	assert.False(t, first.Sticky)

	// Statistics that favour the other arm must not move an existing assignment.
	other := "A"
	if label == "A" {
		other = "B"
	}
	require.NoError(t, f.statsRepo.ReplaceMonth(ctx, models.AggregationRun{Kind: models.StatsPrice, Month: "2024-04"}, []*models.StatsCell{
		{Segment: "new", Platform: "instagram", Weekday: "월", Variant: other, Price: 9900, EVClickers: 1000, EVLinks: 1000},
	}))

	second, err := f.assignments.GetOrAssign(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Variant, second.Variant)
	assert.Equal(t, first.Price, second.Price)
	assert.True(t, second.Sticky)
}

func TestGetOrAssign_UsesBestStatsRow(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	require.NoError(t, f.statsRepo.ReplaceMonth(ctx, models.AggregationRun{Kind: models.StatsPrice, Month: "2024-04"}, []*models.StatsCell{
		{Segment: "new", Platform: "instagram", Weekday: "월", Variant: "A", Price: 3900, EVLinks: 500, EVClickers: 100},
		{Segment: "new", Platform: "instagram", Weekday: "월", Variant: "B", Price: 4900, EVLinks: 100, EVClickers: 300},
		{Segment: "new", Platform: "smartstore", Weekday: "월", Variant: "A", Price: 3900, EVLinks: 500, EVClickers: 100},
		{Segment: "new", Platform: "smartstore", Weekday: "월", Variant: "B", Price: 4900, EVLinks: 100, EVClickers: 300},
	}))

	social, err := f.assignments.GetOrAssign(ctx, AssignRequest{BuyerID: "B1", Platform: "instagram", Weekday: "월", Segment: "new"})
	require.NoError(t, err)
	assert.Equal(t, "B", social.Variant)
	assert.Equal(t, int64(4900), social.Price)
	assert.Equal(t, models.TonePremium, social.Tone)
	assert.Equal(t, models.SourceStats, social.Source)

	store, err := f.assignments.GetOrAssign(ctx, AssignRequest{BuyerID: "B1", Platform: "smartstore", Weekday: "월", Segment: "new"})
	require.NoError(t, err)
	assert.Equal(t, "A", store.Variant)
	assert.Equal(t, models.ToneLight, store.Tone)
}

func TestGetOrAssign_WeightsScaleEV(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	exp := experimentConfig()
	exp.SeasonWeights = map[string]float64{"summer": 3}
	f.assignments.policy = NewPolicy(exp)

	require.NoError(t, f.statsRepo.ReplaceMonth(ctx, models.AggregationRun{Kind: models.StatsPrice, Month: "2024-04"}, []*models.StatsCell{
		{Segment: "new", Platform: "smartstore", Weekday: "화", Variant: "A", Price: 3900, EVLinks: 200},
		{Segment: "new", Platform: "smartstore", Weekday: "화", Variant: "B", Price: 4900, EVLinks: 100, Season: "summer"},
	}))

	d, err := f.assignments.GetOrAssign(ctx, AssignRequest{BuyerID: "B9", Platform: "smartstore", Weekday: "화", Segment: "new"})
	require.NoError(t, err)
	assert.Equal(t, "B", d.Variant)
}

func TestGetOrAssign_TieBreakIsDeterministic(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f := newFixture(t, monday)
		require.NoError(t, f.statsRepo.ReplaceMonth(ctx, models.AggregationRun{Kind: models.StatsPrice, Month: "2024-04"}, []*models.StatsCell{
			{Segment: "repeat", Platform: "smartstore", Weekday: "금", Variant: "B", Price: 4900, EVLinks: 250},
			{Segment: "repeat", Platform: "smartstore", Weekday: "금", Variant: "A", Price: 3900, EVLinks: 250},
		}))

		d, err := f.assignments.GetOrAssign(ctx, AssignRequest{BuyerID: fmt.Sprintf("T%d", i), Platform: "smartstore", Weekday: "금", Segment: "repeat"})
		require.NoError(t, err)
		assert.Equal(t, "A", d.Variant)
	}
}

func TestGetOrAssign_ColdStartSplit(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		d, err := f.assignments.GetOrAssign(ctx, AssignRequest{BuyerID: fmt.Sprintf("buyer-%d", i), Platform: "tiktok", Weekday: "수", Segment: "new"})
		require.NoError(t, err)
		counts[d.Variant]++
	}
	assert.InDelta(t, 1000, counts["A"], 150)
	assert.InDelta(t, 1000, counts["B"], 150)
}

func TestGetOrAssign_ConcurrentFirstCallsAgree(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]int{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.assignments.GetOrAssign(ctx, AssignRequest{BuyerID: "C1", Platform: "tiktok", Weekday: "목", Segment: "new"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results[d.Variant]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, results, 1)
}

func TestGetOrAssign_Validation(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	cases := []AssignRequest{
		{Platform: "instagram", Weekday: "월", Segment: "new"},
		{BuyerID: "B1", Weekday: "월", Segment: "new"},
		{BuyerID: "B1", Platform: "instagram", Weekday: "Mon", Segment: "new"},
		{BuyerID: "B1", Platform: "instagram", Weekday: "월", Segment: "vip"},
	}
	for _, req := range cases {
		_, err := f.assignments.GetOrAssign(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}
