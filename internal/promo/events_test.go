package promo

import (
	"context"
	"testing"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_RequiresBuyerAndType(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	_, err := f.events.Ingest(ctx, EventRequest{EventType: "purchase"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "buyer_id")

	_, err = f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "   "})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "event_type")

	// Nothing was recorded for the rejected requests.
	b, err := f.eventLog.GetBuyer(ctx, "B1")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestIngest_StoresUnknownTypes(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	ev, err := f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "Wishlist_Add", Platform: "SmartStore"})
	require.NoError(t, err)
	assert.Equal(t, "wishlist_add", ev.EventType)
	assert.Equal(t, "smartstore", ev.Platform)
	assert.NotEmpty(t, ev.ID)
	assert.True(t, ev.CreatedAt.Equal(monday))

	counts, err := f.eventLog.CountByType(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts["wishlist_add"])
}

func TestIngest_OneEventPerOrderAndType(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	_, err := f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "purchase", OrderID: "ORD-1"})
	require.NoError(t, err)
	_, err = f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "Purchase", OrderID: "ORD-1"})
	require.ErrorIs(t, err, ErrDuplicateEvent)

	// Another event type for the same order is kept.
	_, err = f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "review", OrderID: "ORD-1"})
	require.NoError(t, err)

	sum, err := f.events.Summary(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Purchases)
	assert.Equal(t, 1, sum.Reviews)
	assert.Equal(t, models.SegmentNew, sum.Segment)
}

func TestSummaryAndSegment(t *testing.T) {
	f := newFixture(t, monday)
	ctx := context.Background()

	seg, err := f.events.Segment(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, models.SegmentNew, seg)

	_, err = f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "purchase", BuyerName: "Kim"})
	require.NoError(t, err)
	_, err = f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "review"})
	require.NoError(t, err)

	sum, err := f.events.Summary(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Purchases)
	assert.Equal(t, 1, sum.Reviews)
	assert.Equal(t, models.SegmentNew, sum.Segment)
	assert.Equal(t, "Kim", sum.BuyerName)

	_, err = f.events.Ingest(ctx, EventRequest{BuyerID: "B1", EventType: "PURCHASE"})
	require.NoError(t, err)

	sum, err = f.events.Summary(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Purchases)
	assert.Equal(t, models.SegmentRepeat, sum.Segment)
	assert.Equal(t, "Kim", sum.BuyerName)
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "buyer_id", toSnake("BuyerID"))
	assert.Equal(t, "event_type", toSnake("EventType"))
	assert.Equal(t, "platform", toSnake("Platform"))
}
