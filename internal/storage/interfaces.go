package storage

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
)

var (
	// ErrNotFound is returned when an operation targets a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrLockHeld is returned by Locker.TryLock when another holder owns the key.
	ErrLockHeld = errors.New("lock held")
	// ErrDuplicate is returned when a write collides with an existing unique key.
	ErrDuplicate = errors.New("duplicate")
)

// =============================================
// LIVE ORDER LOG
// =============================================

// OrderLog is the pruned, time-ordered log behind the live counter.
// Entries with a timestamp at or before cutoff are outside the window.
type OrderLog interface {
	// AppendAndRead adds the order, drops entries at or before cutoff and
	// returns the remaining entries from the same atomic step.
	AppendAndRead(ctx context.Context, order *models.Order, cutoff time.Time) ([]*models.Order, error)
	// Read returns entries after cutoff without modifying the log.
	Read(ctx context.Context, cutoff time.Time) ([]*models.Order, error)
}

// =============================================
// ASSIGNMENT STORE
// =============================================

// AssignmentRepo stores sticky price assignments. A key is written at most once.
type AssignmentRepo interface {
	// Get returns nil, nil when the key has no assignment.
	Get(ctx context.Context, key models.AssignmentKey) (*models.Assignment, error)
	// CreateIfAbsent stores a when the key is free and returns the stored
	// assignment, which is the earlier one if a concurrent writer won.
	CreateIfAbsent(ctx context.Context, a *models.Assignment) (*models.Assignment, error)
	// ListAssigned returns assignments with assigned_at in [from, to).
	ListAssigned(ctx context.Context, from, to time.Time) ([]*models.Assignment, error)
}

// =============================================
// TRACKING LINKS & CLICKS
// =============================================

// LinkRepo stores bonus links and the click log.
type LinkRepo interface {
	CreateLink(ctx context.Context, link *models.TrackingLink) error
	// GetLink returns nil, nil for unknown tokens.
	GetLink(ctx context.Context, token string) (*models.TrackingLink, error)
	// RegisterClick increments the link's click count and appends the click in
	// one atomic step. Token, buyer, day and platform of click are filled from
	// the link. Unknown tokens yield ErrNotFound.
	RegisterClick(ctx context.Context, token string, click *models.Click) (*models.TrackingLink, error)
	// ListLinks returns links created in [From, To) matching the filter.
	ListLinks(ctx context.Context, filter models.LinkFilter) ([]*models.TrackingLink, error)
	// ListClicks returns clicks on the tokens with ts in [from, to), oldest first.
	ListClicks(ctx context.Context, tokens []string, from, to time.Time) ([]*models.Click, error)
}

// =============================================
// BUSINESS EVENTS & BUYERS
// =============================================

// EventLog stores downstream business events and buyer profiles.
type EventLog interface {
	// AppendEvent returns ErrDuplicate when the buyer already has an event of
	// the same type for the same non-empty order ID.
	AppendEvent(ctx context.Context, ev *models.BusinessEvent) error
	// UpsertBuyer inserts the buyer or updates its name when one is given.
	UpsertBuyer(ctx context.Context, b *models.Buyer) error
	// GetBuyer returns nil, nil for unknown buyers.
	GetBuyer(ctx context.Context, buyerID string) (*models.Buyer, error)
	// EventsInWindow returns the buyer's events with created_at in (after, until].
	EventsInWindow(ctx context.Context, buyerID string, after, until time.Time) ([]*models.BusinessEvent, error)
	// CountByType counts the buyer's events per lowercased event type.
	CountByType(ctx context.Context, buyerID string) (map[string]int, error)
}

// =============================================
// STATISTICS TABLE
// =============================================

// StatsRepo is the statistics table. Only the aggregator and the importer write it.
type StatsRepo interface {
	// Query returns matching rows ordered by month, arm, price, season and
	// offer days, then by segment, platform and weekday.
	Query(ctx context.Context, filter models.StatsFilter) ([]*models.StatsCell, error)
	// ReplaceMonth deletes every row of kind for month, inserts cells and
	// records run, all or nothing. Two cells with the same CellKey yield
	// ErrDuplicate.
	ReplaceMonth(ctx context.Context, run models.AggregationRun, cells []*models.StatsCell) error
	// GetRun returns nil, nil when the month was never computed.
	GetRun(ctx context.Context, kind models.StatsKind, month string) (*models.AggregationRun, error)
	ListRuns(ctx context.Context) ([]*models.AggregationRun, error)
}

// =============================================
// LOCKING
// =============================================

// Unlock releases a lock obtained from Locker.
type Unlock func(ctx context.Context) error

// Locker provides expiring advisory locks.
type Locker interface {
	// TryLock returns ErrLockHeld without waiting when the key is taken.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}
