package postback

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/promo"
	"github.com/radiusdt/vector-promo/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	links   *storage.InMemoryLinkRepo
	events  *storage.InMemoryEventLog
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2024, 5, 7, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		links:  storage.NewInMemoryLinkRepo(),
		events: storage.NewInMemoryEventLog(),
	}
	svc := promo.NewEventService(f.events, func() time.Time { return now }, zap.NewNop(), nil)
	f.handler = NewHandler(f.links, svc, zap.NewNop())

	require.NoError(t, f.links.CreateLink(context.Background(), &models.TrackingLink{
		Token:     "tok-1",
		BuyerID:   "B1",
		Day:       "DAY09",
		Platform:  "instagram",
		TargetURL: "https://shop.example.com",
		CreatedAt: now.Add(-time.Hour),
	}))
	return f
}

func TestHandle_TrustedBuyerOnly(t *testing.T) {
	f := newFixture(t)
	q := url.Values{"buyer_id": {"B9"}, "order_id": {"o-1"}, "product_name": {"7일 플랜"}}

	res, err := f.handler.Handle(context.Background(), "Generic", q, true)
	require.NoError(t, err)
	assert.Equal(t, "B9", res.BuyerID)
	assert.Equal(t, models.EventPurchase, res.EventType)
	assert.Equal(t, "generic", res.Platform)
	assert.False(t, res.ViaToken)

	counts, err := f.events.CountByType(context.Background(), "B9")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.EventPurchase])
}

func TestHandle_UntrustedNeedsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, "generic", url.Values{"buyer_id": {"VICTIM"}, "event": {"purchase"}}, false)
	assert.ErrorIs(t, err, ErrTokenRequired)

	_, err = f.handler.Handle(ctx, "smartstore", url.Values{"token": {"tok-1"}, "ordererId": {"VICTIM"}}, false)
	assert.ErrorIs(t, err, ErrBuyerMismatch)

	counts, err := f.events.CountByType(ctx, "VICTIM")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestHandle_TokenResolvesBuyer(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Handle(context.Background(), "cafe24", url.Values{
		"promo_token": {"tok-1"},
		"event_type":  {"coupon_use"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "B1", res.BuyerID)
	assert.Equal(t, "instagram", res.Platform)
	assert.Equal(t, models.EventCouponRedeem, res.EventType)
	assert.True(t, res.ViaToken)

	// Naming the token's own buyer is fine.
	res, err = f.handler.Handle(context.Background(), "cafe24", url.Values{
		"promo_token": {"tok-1"},
		"member_id":   {"B1"},
	}, false)
	require.NoError(t, err)
	assert.True(t, res.ViaToken)
}

func TestHandle_TrustedBuyerWinsOverToken(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Handle(context.Background(), "smartstore", url.Values{
		"token":     {"tok-1"},
		"ordererId": {"B2"},
		"status":    {"payed"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "B2", res.BuyerID)
	assert.Equal(t, "smartstore", res.Platform)
	assert.Equal(t, models.EventPurchase, res.EventType)
	assert.False(t, res.ViaToken)
}

func TestHandle_OrderLifecycleIsOnePurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, status := range []string{"PAYED", "PURCHASE_DECIDED", "PAYED"} {
		_, err := f.handler.Handle(ctx, "smartstore", url.Values{
			"token":   {"tok-1"},
			"status":  {status},
			"orderId": {"ORD-1"},
		}, false)
		require.NoError(t, err, status)
	}
	res, err := f.handler.Handle(ctx, "smartstore", url.Values{
		"token":   {"tok-1"},
		"status":  {"PURCHASE_DECIDED"},
		"orderId": {"ORD-1"},
	}, false)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Empty(t, res.EventID)

	_, err = f.handler.Handle(ctx, "smartstore", url.Values{
		"token":   {"tok-1"},
		"status":  {"PAYED"},
		"orderId": {"ORD-2"},
	}, false)
	require.NoError(t, err)

	counts, err := f.events.CountByType(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.EventPurchase])
}

func TestHandle_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, "appsflyer", url.Values{"buyer_id": {"B1"}}, true)
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = f.handler.Handle(ctx, "generic", url.Values{"token": {"missing"}}, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.handler.Handle(ctx, "generic", url.Values{"event": {"purchase"}}, true)
	assert.ErrorIs(t, err, promo.ErrInvalidInput)
}

func TestEventMappings(t *testing.T) {
	assert.Equal(t, models.EventPurchase, mapCafe24Event("ORDER_COMPLETE"))
	assert.Equal(t, models.EventRevisit, mapCafe24Event("login"))
	assert.Equal(t, "wishlist", mapCafe24Event("wishlist"))
	assert.Equal(t, models.EventReview, mapSmartstoreEvent("review_written"))
	assert.Equal(t, []string{"cafe24", "generic", "smartstore"}, Sources())
}
