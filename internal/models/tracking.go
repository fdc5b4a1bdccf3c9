package models

import "time"

// TrackingLink is a personalized bonus link. ClickCount is the only mutable
// field.
type TrackingLink struct {
	Token        string    `json:"token"`
	BuyerID      string    `json:"buyer_id"`
	Day          string    `json:"day"`
	TargetURL    string    `json:"target_url"`
	Platform     string    `json:"platform"`
	CreatedAt    time.Time `json:"created_at"`
	ClickCount   int64     `json:"click_count"`
	Season       string    `json:"season,omitempty"`
	OfferCode    string    `json:"offer_code,omitempty"`
	OfferDays    int       `json:"offer_days"`
	PriceVariant string    `json:"price_variant,omitempty"`
}

// Click is one redirect through a tracking link.
type Click struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	BuyerID    string    `json:"buyer_id"`
	Day        string    `json:"day"`
	Platform   string    `json:"platform"`
	Timestamp  time.Time `json:"ts"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	IP         string    `json:"ip,omitempty"`
	GeoCountry string    `json:"geo_country,omitempty"`
}

// LinkFilter selects links for attribution.
type LinkFilter struct {
	From     time.Time
	To       time.Time
	Days     []string
	Platform string
	BuyerIDs []string
}
