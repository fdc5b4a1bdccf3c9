package promo

import (
	"context"
	"testing"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBonusIssue_ManualPriceAndExplicitOffer(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	price := int64(5900)
	res, err := f.bonus.Issue(ctx, BonusRequest{
		BuyerID:   "B7",
		Platform:  "smartstore",
		Day:       "10",
		TargetURL: "https://shop.example.com",
		Season:    "Summer",
		Price:     &price,
		OfferCode: "d21",
	})
	require.NoError(t, err)

	assert.Equal(t, models.VariantManual, res.Price.Variant)
	assert.Equal(t, int64(5900), res.Price.Price)
	assert.Equal(t, models.TonePremium, res.Price.Tone)
	assert.Equal(t, "D21", res.Offer.Code)
	assert.Equal(t, OfferSourceExplicit, res.Offer.Source)
	assert.Equal(t, "DAY10", res.Day)

	// Manual prices are not experiment assignments.
	a, err := f.assignRepo.Get(ctx, models.AssignmentKey{BuyerID: "B7", Platform: "smartstore", Weekday: "월", Segment: "new"})
	require.NoError(t, err)
	assert.Nil(t, a)

	link, err := f.linkRepo.GetLink(ctx, res.Token)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "summer", link.Season)
	assert.Equal(t, "D21", link.OfferCode)
	assert.Equal(t, 21, link.OfferDays)
	assert.Equal(t, models.VariantManual, link.PriceVariant)
}

func TestBonusIssue_DerivesSegment(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.events.Ingest(ctx, EventRequest{BuyerID: "R1", EventType: "purchase"})
		require.NoError(t, err)
	}

	res, err := f.bonus.Issue(ctx, BonusRequest{BuyerID: "R1", Platform: "smartstore", Day: "DAY09", TargetURL: "https://shop.example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.SegmentRepeat, res.Segment)
	assert.Equal(t, "D21", res.Offer.Code)

	a, err := f.assignRepo.Get(ctx, models.AssignmentKey{BuyerID: "R1", Platform: "smartstore", Weekday: "월", Segment: "repeat"})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, res.Price.Variant, a.Variant)
}

func TestBonusIssue_Validation(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	zero := int64(0)
	cases := []BonusRequest{
		{Platform: "smartstore", Day: "DAY09", TargetURL: "https://shop.example.com"},
		{BuyerID: "B1", Day: "DAY09", TargetURL: "https://shop.example.com"},
		{BuyerID: "B1", Platform: "smartstore", Day: "x", TargetURL: "https://shop.example.com"},
		{BuyerID: "B1", Platform: "smartstore", Day: "DAY09", TargetURL: "ftp://shop.example.com"},
		{BuyerID: "B1", Platform: "smartstore", Day: "DAY09", TargetURL: "https://shop.example.com", Price: &zero},
		{BuyerID: "B1", Platform: "smartstore", Day: "DAY09", TargetURL: "https://shop.example.com", OfferCode: "D3"},
	}
	for _, req := range cases {
		_, err := f.bonus.Issue(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}
