// Package promo implements price and offer experiments: sticky assignment,
// tracking links, event ingestion and the monthly statistics that feed the
// next month's decisions.
package promo

import "errors"

var (
	// ErrInvalidInput marks caller mistakes such as a missing buyer_id.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMonthNotClosed is returned when aggregating a month that has not ended.
	ErrMonthNotClosed = errors.New("month not closed")
	// ErrAggregationInProgress is returned when another run holds the month lock.
	ErrAggregationInProgress = errors.New("aggregation in progress")
	// ErrDuplicateEvent is returned when the order already produced an event
	// of the same type for the buyer.
	ErrDuplicateEvent = errors.New("duplicate event")
)
