package models

import "time"

// StatsKind separates the price experiment from the offer experiment.
type StatsKind string

const (
	StatsPrice StatsKind = "price"
	StatsOffer StatsKind = "offer"
)

// StatsCell is one aggregated row of the statistics table.
type StatsCell struct {
	Kind      StatsKind `json:"kind"`
	Segment   string    `json:"segment"`
	Platform  string    `json:"platform"`
	Weekday   string    `json:"weekday"`
	Season    string    `json:"season,omitempty"`
	Variant   string    `json:"variant,omitempty"`
	OfferCode string    `json:"offer_code,omitempty"`
	OfferDays int       `json:"offer_days,omitempty"`
	Price     int64     `json:"price"`
	Month     string    `json:"month"`

	LinksIssued      int64   `json:"links_issued"`
	Clicks           int64   `json:"clicks"`
	UniqueClickers   int64   `json:"unique_clickers"`
	ClickRate        float64 `json:"click_rate"`
	ConversionsTotal int64   `json:"conversions_total"`
	ConvRateLinks    float64 `json:"conv_rate_links"`
	ClickCVR         float64 `json:"click_cvr"`
	ConvPurchase     int64   `json:"conv_purchase"`
	ConvCoupon       int64   `json:"conv_coupon"`
	ConvRevisit      int64   `json:"conv_revisit"`
	EVLinks          float64 `json:"ev_links"`
	EVClickers       float64 `json:"ev_clickers"`
}

// Arm returns the variant label or offer code depending on the kind.
func (c StatsCell) Arm() string {
	if c.Kind == StatsOffer {
		return c.OfferCode
	}
	return c.Variant
}

// StatsFilter selects statistics rows for variant selection and listing.
type StatsFilter struct {
	Kind     StatsKind
	Segment  string
	Platform string
	Weekday  string
	Season   string
	Month    string
}

// AggregationRun records a completed aggregation for a month.
type AggregationRun struct {
	Kind       StatsKind `json:"kind"`
	Month      string    `json:"month"`
	Rows       int       `json:"rows"`
	ComputedAt time.Time `json:"computed_at"`
}
