package models

import "time"

// Segment values derived from purchase history.
const (
	SegmentNew    = "new"
	SegmentRepeat = "repeat"
)

// Tone values returned alongside a price assignment.
const (
	TonePremium = "premium"
	ToneLight   = "light"
)

// VariantManual marks a price supplied explicitly by the caller.
const VariantManual = "MANUAL"

// AssignmentKey identifies one sticky experiment decision.
type AssignmentKey struct {
	BuyerID  string `json:"buyer_id"`
	Platform string `json:"platform"`
	Weekday  string `json:"weekday"`
	Segment  string `json:"segment"`
}

// Assignment is the price variant a buyer sees for a key. It is written once
// and never mutated.
type Assignment struct {
	AssignmentKey
	Variant    string    `json:"variant"`
	Price      int64     `json:"price"`
	Source     string    `json:"source"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Assignment sources.
const (
	SourceStats     = "stats"
	SourceColdStart = "cold_start"
)
