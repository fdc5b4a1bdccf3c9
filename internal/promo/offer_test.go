package promo

import (
	"context"
	"testing"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseOffer_RuleFallback(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	tests := []struct {
		segment, weekday, want string
	}{
		{"new", "일", SeasonPack},
		{"repeat", "일", SeasonPack},
		{"repeat", "금", "D14"},
		{"repeat", "토", "D14"},
		{"repeat", "화", "D21"},
		{"new", "토", "D7"},
		{"new", "월", "D7"},
	}
	for _, tt := range tests {
		d, err := f.offers.ChooseOffer(ctx, tt.segment, "smartstore", tt.weekday, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, d.Code, "%s/%s", tt.segment, tt.weekday)
		assert.Equal(t, OfferSourceRule, d.Source)
	}
}

func TestChooseOffer_PrefersStats(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	require.NoError(t, f.statsRepo.ReplaceMonth(ctx, models.AggregationRun{Kind: models.StatsOffer, Month: "2024-04"}, []*models.StatsCell{
		{Segment: "new", Platform: "smartstore", Weekday: "월", Season: "winter", OfferCode: "D7", OfferDays: 7, Price: 3900, EVLinks: 100},
		{Segment: "new", Platform: "smartstore", Weekday: "월", Season: "winter", OfferCode: "D21", OfferDays: 21, Price: 7900, EVLinks: 400},
		{Segment: "new", Platform: "smartstore", Weekday: "월", Season: "summer", OfferCode: SeasonPack, Price: 12900, EVLinks: 900},
	}))

	d, err := f.offers.ChooseOffer(ctx, "new", "smartstore", "월", "winter")
	require.NoError(t, err)
	assert.Equal(t, "D21", d.Code)
	assert.Equal(t, 21, d.Days)
	assert.Equal(t, int64(7900), d.Price)
	assert.Equal(t, OfferSourceStats, d.Source)
}

func TestResolveOffer(t *testing.T) {
	f := newFixture(t, monday)

	d, err := f.offers.Resolve("seasonpack")
	require.NoError(t, err)
	assert.Equal(t, SeasonPack, d.Code)
	assert.Equal(t, 0, d.Days)
	assert.Equal(t, int64(12900), d.Price)

	_, err = f.offers.Resolve("D99")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProductMatchesOffer(t *testing.T) {
	tests := []struct {
		code    string
		days    int
		product string
		want    bool
	}{
		{SeasonPack, 0, "겨울 시즌 패스", true},
		{SeasonPack, 0, "Winter SEASON pass", true},
		{SeasonPack, 0, "7일 이용권", false},
		{"D7", 7, "7일 이용권", true},
		{"D7", 7, "7-Day ticket", true},
		{"D7", 7, "17일 이용권", false},
		{"D7", 7, "14일 이용권", false},
		{"D14", 14, "14day pass", true},
		{"D21", 21, "21일권", true},
		{"CUSTOM", 0, "anything", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProductMatchesOffer(tt.code, tt.days, tt.product), "%s %q", tt.code, tt.product)
	}
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, "D14", CodeFor("d14", 0))
	assert.Equal(t, "D21", CodeFor("", 21))
	assert.Equal(t, "D7", CodeFor("", 7))
	assert.Equal(t, SeasonPack, CodeFor("", 0))
	assert.Equal(t, SeasonPack, CodeFor("", 30))
}
