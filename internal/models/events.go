package models

import (
	"strings"
	"time"
)

// Known business event types. Unknown types are stored as-is.
const (
	EventPurchase     = "purchase"
	EventCoupon       = "coupon"
	EventCouponRedeem = "coupon_redeem"
	EventRedeem       = "redeem"
	EventCouponUse    = "coupon_use"
	EventRevisit      = "revisit"
	EventReturn       = "return"
	EventVisit        = "visit"
	EventPageview     = "pageview"
	EventReview       = "review"
)

// ConversionKind groups event types for attribution.
type ConversionKind string

const (
	ConversionNone     ConversionKind = ""
	ConversionPurchase ConversionKind = "purchase"
	ConversionCoupon   ConversionKind = "coupon"
	ConversionRevisit  ConversionKind = "revisit"
)

// KindOf maps an event type to its conversion kind.
func KindOf(eventType string) ConversionKind {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case EventPurchase:
		return ConversionPurchase
	case EventCoupon, EventCouponRedeem, EventRedeem, EventCouponUse:
		return ConversionCoupon
	case EventRevisit, EventReturn, EventVisit, EventPageview:
		return ConversionRevisit
	default:
		return ConversionNone
	}
}

// BusinessEvent is an append-only downstream fact about a buyer.
type BusinessEvent struct {
	ID          string    `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	EventType   string    `json:"event_type"`
	Platform    string    `json:"platform"`
	OrderID     string    `json:"order_id,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Buyer is the profile row upserted on event ingestion.
type Buyer struct {
	BuyerID   string    `json:"buyer_id"`
	BuyerName string    `json:"buyer_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BuyerSummary is derived from a buyer's event history.
type BuyerSummary struct {
	BuyerID   string `json:"buyer_id"`
	BuyerName string `json:"buyer_name,omitempty"`
	Purchases int    `json:"purchases"`
	Reviews   int    `json:"reviews"`
	Segment   string `json:"segment"`
}
