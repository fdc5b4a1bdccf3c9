package models

import "time"

// Order is a single storefront order fact feeding the live counter.
// Amount is nil when the platform payload carries no amount.
type Order struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Amount    *int64    `json:"amount,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	BuyerID   string    `json:"buyer_id,omitempty"`
}

// AmountValue returns the order amount, treating a missing amount as zero.
func (o Order) AmountValue() int64 {
	if o.Amount == nil {
		return 0
	}
	return *o.Amount
}

// CounterSnapshot is the rolling window view over recent orders.
type CounterSnapshot struct {
	WindowMin        int        `json:"window_min"`
	SubWindowMin     int        `json:"sub_window_min"`
	Count5Min        int        `json:"count_5min"`
	Count30Min       int        `json:"count_30min"`
	Sum5Min          int64      `json:"sum_5min"`
	Sum30Min         int64      `json:"sum_30min"`
	Bins5Min         []int      `json:"bins_5min"`
	Bins30Min        []int      `json:"bins_30min"`
	CurrentBuyingNow int        `json:"current_buying_now"`
	LastAmount       *int64     `json:"last_amount,omitempty"`
	LastOrderAt      *time.Time `json:"last_order_at,omitempty"`
	HighAmountHit    bool       `json:"high_amount_hit"`
	HighAmountRecent bool       `json:"high_amount_recent"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
