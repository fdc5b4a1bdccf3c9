package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
)

// In-memory implementations, used when PostgreSQL or Redis is disabled and in
// unit tests.

// =============================================
// Orders
// =============================================

// InMemoryOrderLog keeps the live order window in a slice.
type InMemoryOrderLog struct {
	mu     sync.Mutex
	orders []*models.Order
}

func NewInMemoryOrderLog() *InMemoryOrderLog {
	return &InMemoryOrderLog{}
}

func (l *InMemoryOrderLog) AppendAndRead(ctx context.Context, order *models.Order, cutoff time.Time) ([]*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *order
	l.orders = append(l.orders, &cp)

	kept := l.orders[:0]
	for _, o := range l.orders {
		if o.Timestamp.After(cutoff) {
			kept = append(kept, o)
		}
	}
	l.orders = kept

	return copyOrders(l.orders), nil
}

func (l *InMemoryOrderLog) Read(ctx context.Context, cutoff time.Time) ([]*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.Order, 0, len(l.orders))
	for _, o := range l.orders {
		if o.Timestamp.After(cutoff) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func copyOrders(src []*models.Order) []*models.Order {
	out := make([]*models.Order, len(src))
	for i, o := range src {
		cp := *o
		out[i] = &cp
	}
	return out
}

// =============================================
// Assignments
// =============================================

// InMemoryAssignmentRepo stores assignments keyed by buyer, platform, weekday and segment.
type InMemoryAssignmentRepo struct {
	mu          sync.RWMutex
	assignments map[models.AssignmentKey]*models.Assignment
	order       []models.AssignmentKey
}

func NewInMemoryAssignmentRepo() *InMemoryAssignmentRepo {
	return &InMemoryAssignmentRepo{
		assignments: make(map[models.AssignmentKey]*models.Assignment),
	}
}

func (r *InMemoryAssignmentRepo) Get(ctx context.Context, key models.AssignmentKey) (*models.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[key]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *InMemoryAssignmentRepo) CreateIfAbsent(ctx context.Context, a *models.Assignment) (*models.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.assignments[a.AssignmentKey]; ok {
		cp := *existing
		return &cp, nil
	}

	stored := *a
	r.assignments[a.AssignmentKey] = &stored
	r.order = append(r.order, a.AssignmentKey)

	cp := stored
	return &cp, nil
}

func (r *InMemoryAssignmentRepo) ListAssigned(ctx context.Context, from, to time.Time) ([]*models.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Assignment
	for _, key := range r.order {
		a := r.assignments[key]
		if inRange(a.AssignedAt, from, to) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// =============================================
// Links & clicks
// =============================================

// InMemoryLinkRepo stores tracking links and clicks.
type InMemoryLinkRepo struct {
	mu     sync.Mutex
	links  map[string]*models.TrackingLink
	tokens []string
	clicks []*models.Click
}

func NewInMemoryLinkRepo() *InMemoryLinkRepo {
	return &InMemoryLinkRepo{
		links: make(map[string]*models.TrackingLink),
	}
}

func (r *InMemoryLinkRepo) CreateLink(ctx context.Context, link *models.TrackingLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.links[link.Token]; !ok {
		r.tokens = append(r.tokens, link.Token)
	}
	cp := *link
	r.links[link.Token] = &cp
	return nil
}

func (r *InMemoryLinkRepo) GetLink(ctx context.Context, token string) (*models.TrackingLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[token]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r *InMemoryLinkRepo) RegisterClick(ctx context.Context, token string, click *models.Click) (*models.TrackingLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[token]
	if !ok {
		return nil, ErrNotFound
	}
	l.ClickCount++

	click.Token = l.Token
	click.BuyerID = l.BuyerID
	click.Day = l.Day
	click.Platform = l.Platform
	cp := *click
	r.clicks = append(r.clicks, &cp)

	out := *l
	return &out, nil
}

func (r *InMemoryLinkRepo) ListLinks(ctx context.Context, filter models.LinkFilter) ([]*models.TrackingLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	days := toSet(filter.Days)
	buyers := toSet(filter.BuyerIDs)

	var out []*models.TrackingLink
	for _, token := range r.tokens {
		l := r.links[token]
		if !inRange(l.CreatedAt, filter.From, filter.To) {
			continue
		}
		if days != nil && !days[l.Day] {
			continue
		}
		if filter.Platform != "" && l.Platform != filter.Platform {
			continue
		}
		if buyers != nil && !buyers[l.BuyerID] {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryLinkRepo) ListClicks(ctx context.Context, tokens []string, from, to time.Time) ([]*models.Click, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := toSet(tokens)
	var out []*models.Click
	for _, c := range r.clicks {
		if want[c.Token] && inRange(c.Timestamp, from, to) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// =============================================
// Business events
// =============================================

// InMemoryEventLog stores business events and buyers.
type InMemoryEventLog struct {
	mu     sync.RWMutex
	events map[string][]*models.BusinessEvent // buyer_id -> events
	buyers map[string]*models.Buyer
}

func NewInMemoryEventLog() *InMemoryEventLog {
	return &InMemoryEventLog{
		events: make(map[string][]*models.BusinessEvent),
		buyers: make(map[string]*models.Buyer),
	}
}

func (l *InMemoryEventLog) AppendEvent(ctx context.Context, ev *models.BusinessEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.OrderID != "" {
		for _, existing := range l.events[ev.BuyerID] {
			if existing.OrderID == ev.OrderID && strings.EqualFold(existing.EventType, ev.EventType) {
				return ErrDuplicate
			}
		}
	}
	cp := *ev
	l.events[ev.BuyerID] = append(l.events[ev.BuyerID], &cp)
	return nil
}

func (l *InMemoryEventLog) UpsertBuyer(ctx context.Context, b *models.Buyer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.buyers[b.BuyerID]; ok {
		if b.BuyerName != "" {
			existing.BuyerName = b.BuyerName
		}
		return nil
	}
	cp := *b
	l.buyers[b.BuyerID] = &cp
	return nil
}

func (l *InMemoryEventLog) GetBuyer(ctx context.Context, buyerID string) (*models.Buyer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.buyers[buyerID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (l *InMemoryEventLog) EventsInWindow(ctx context.Context, buyerID string, after, until time.Time) ([]*models.BusinessEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.BusinessEvent
	for _, ev := range l.events[buyerID] {
		if ev.CreatedAt.After(after) && !ev.CreatedAt.After(until) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *InMemoryEventLog) CountByType(ctx context.Context, buyerID string) (map[string]int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[string]int)
	for _, ev := range l.events[buyerID] {
		counts[strings.ToLower(ev.EventType)]++
	}
	return counts, nil
}

// =============================================
// Statistics
// =============================================

type runKey struct {
	kind  models.StatsKind
	month string
}

// InMemoryStatsRepo holds the statistics table.
type InMemoryStatsRepo struct {
	mu    sync.RWMutex
	cells []*models.StatsCell
	runs  map[runKey]*models.AggregationRun
}

func NewInMemoryStatsRepo() *InMemoryStatsRepo {
	return &InMemoryStatsRepo{
		runs: make(map[runKey]*models.AggregationRun),
	}
}

func (r *InMemoryStatsRepo) Query(ctx context.Context, filter models.StatsFilter) ([]*models.StatsCell, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.StatsCell
	for _, c := range r.cells {
		if MatchesFilter(c, filter) {
			cp := *c
			out = append(out, &cp)
		}
	}
	SortCells(out)
	return out, nil
}

func (r *InMemoryStatsRepo) ReplaceMonth(ctx context.Context, run models.AggregationRun, cells []*models.StatsCell) error {
	keys := make(map[CellKey]bool, len(cells))
	for _, c := range cells {
		k := KeyOf(run.Kind, run.Month, c)
		if keys[k] {
			return fmt.Errorf("%w: stats cell %+v", ErrDuplicate, k)
		}
		keys[k] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*models.StatsCell, 0, len(r.cells)+len(cells))
	for _, c := range r.cells {
		if c.Kind == run.Kind && c.Month == run.Month {
			continue
		}
		kept = append(kept, c)
	}
	for _, c := range cells {
		cp := *c
		cp.Kind = run.Kind
		cp.Month = run.Month
		kept = append(kept, &cp)
	}
	r.cells = kept

	stored := run
	r.runs[runKey{run.Kind, run.Month}] = &stored
	return nil
}

func (r *InMemoryStatsRepo) GetRun(ctx context.Context, kind models.StatsKind, month string) (*models.AggregationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runKey{kind, month}]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (r *InMemoryStatsRepo) ListRuns(ctx context.Context) ([]*models.AggregationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AggregationRun, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

// =============================================
// Locks
// =============================================

// InMemoryLocker is a process-local Locker.
type InMemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time // key -> expiry
	clock func() time.Time
}

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (l *InMemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrLockHeld
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry

	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(expiry) {
			delete(l.held, key)
		}
		return nil
	}, nil
}

// =============================================
// Helpers
// =============================================

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// MatchesFilter reports whether the cell is selected by filter. Empty filter
// fields match everything; season only narrows when both sides carry one.
func MatchesFilter(c *models.StatsCell, f models.StatsFilter) bool {
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if f.Segment != "" && c.Segment != f.Segment {
		return false
	}
	if f.Platform != "" && c.Platform != f.Platform {
		return false
	}
	if f.Weekday != "" && c.Weekday != f.Weekday {
		return false
	}
	if f.Month != "" && c.Month != f.Month {
		return false
	}
	if f.Season != "" && c.Season != "" && c.Season != f.Season {
		return false
	}
	return true
}

// CellKey is the primary key of a statistics row.
type CellKey struct {
	Kind      models.StatsKind
	Month     string
	Segment   string
	Platform  string
	Weekday   string
	Season    string
	Variant   string
	OfferCode string
	OfferDays int
	Price     int64
}

// KeyOf returns the key c is stored under as a row of kind for month.
func KeyOf(kind models.StatsKind, month string, c *models.StatsCell) CellKey {
	return CellKey{
		Kind:      kind,
		Month:     month,
		Segment:   c.Segment,
		Platform:  c.Platform,
		Weekday:   c.Weekday,
		Season:    c.Season,
		Variant:   c.Variant,
		OfferCode: c.OfferCode,
		OfferDays: c.OfferDays,
		Price:     c.Price,
	}
}

// SortCells orders cells the way StatsRepo.Query promises. Segment, platform
// and weekday are the secondary keys, so rows of one selector keep the
// primary order.
func SortCells(cells []*models.StatsCell) {
	sort.SliceStable(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.Arm() != b.Arm() {
			return a.Arm() < b.Arm()
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if a.Season != b.Season {
			return a.Season < b.Season
		}
		if a.OfferDays != b.OfferDays {
			return a.OfferDays < b.OfferDays
		}
		if a.Segment != b.Segment {
			return a.Segment < b.Segment
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.Weekday < b.Weekday
	})
}
