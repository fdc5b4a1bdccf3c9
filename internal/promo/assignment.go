package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

// AssignRequest identifies the cell a price is requested for. Season only
// narrows the statistics lookup; it is not part of the sticky key.
type AssignRequest struct {
	BuyerID  string
	Platform string
	Weekday  string
	Segment  string
	Season   string
}

// PriceDecision is what a buyer is shown.
type PriceDecision struct {
	Variant string `json:"variant"`
	Price   int64  `json:"price"`
	Tone    string `json:"tone"`
	Source  string `json:"source"`
	Sticky  bool   `json:"sticky"`
}

// AssignmentService hands out sticky price variants.
type AssignmentService struct {
	repo    storage.AssignmentRepo
	stats   storage.StatsRepo
	policy  *Policy
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewAssignmentService(
	repo storage.AssignmentRepo,
	stats storage.StatsRepo,
	policy *Policy,
	clock func() time.Time,
	logger *zap.Logger,
	m *metrics.Metrics,
) *AssignmentService {
	if clock == nil {
		clock = time.Now
	}
	return &AssignmentService{
		repo:    repo,
		stats:   stats,
		policy:  policy,
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

func (r AssignRequest) key() (models.AssignmentKey, error) {
	key := models.AssignmentKey{
		BuyerID:  strings.TrimSpace(r.BuyerID),
		Platform: strings.ToLower(strings.TrimSpace(r.Platform)),
		Weekday:  strings.TrimSpace(r.Weekday),
		Segment:  strings.ToLower(strings.TrimSpace(r.Segment)),
	}
	switch {
	case key.BuyerID == "":
		return key, fmt.Errorf("%w: buyer_id is required", ErrInvalidInput)
	case key.Platform == "":
		return key, fmt.Errorf("%w: platform is required", ErrInvalidInput)
	case !IsWeekdayLabel(key.Weekday):
		return key, fmt.Errorf("%w: weekday %q", ErrInvalidInput, r.Weekday)
	case key.Segment != models.SegmentNew && key.Segment != models.SegmentRepeat:
		return key, fmt.Errorf("%w: segment %q", ErrInvalidInput, r.Segment)
	}
	return key, nil
}

// GetOrAssign returns the key's existing assignment or decides, persists and
// returns a new one. Concurrent first calls for a key all return the value
// that reached storage first.
func (s *AssignmentService) GetOrAssign(ctx context.Context, req AssignRequest) (*PriceDecision, error) {
	key, err := req.key()
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read assignment: %w", err)
	}
	if existing != nil {
		s.metrics.RecordAssignment("sticky", existing.Variant)
		return s.decision(existing, true), nil
	}

	candidate, err := s.decide(ctx, key, strings.ToLower(strings.TrimSpace(req.Season)))
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to persist assignment: %w", err)
	}

	sticky := stored.Variant != candidate.Variant || !stored.AssignedAt.Equal(candidate.AssignedAt)
	if sticky {
		s.metrics.RecordAssignment("sticky", stored.Variant)
	} else {
		s.metrics.RecordAssignment(stored.Source, stored.Variant)
	}

	s.logger.Info("price variant assigned",
		zap.String("buyer_id", key.BuyerID),
		zap.String("platform", key.Platform),
		zap.String("weekday", key.Weekday),
		zap.String("segment", key.Segment),
		zap.String("variant", stored.Variant),
		zap.Int64("price", stored.Price),
		zap.String("source", stored.Source),
	)
	return s.decision(stored, sticky), nil
}

func (s *AssignmentService) decide(ctx context.Context, key models.AssignmentKey, season string) (*models.Assignment, error) {
	a := &models.Assignment{
		AssignmentKey: key,
		AssignedAt:    s.clock().Truncate(time.Microsecond),
	}

	rows, err := s.stats.Query(ctx, models.StatsFilter{
		Kind:     models.StatsPrice,
		Segment:  key.Segment,
		Platform: key.Platform,
		Weekday:  key.Weekday,
		Season:   season,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read price stats: %w", err)
	}

	if best := s.policy.Best(rows, key.Platform, key.Weekday, season); best != nil {
		a.Variant = strings.ToUpper(best.Variant)
		a.Price = best.Price
		if a.Price <= 0 {
			a.Price = s.policy.VariantPrice(a.Variant)
		}
		if a.Variant != "" && a.Price > 0 {
			a.Source = models.SourceStats
			return a, nil
		}
		s.logger.Warn("ignoring unusable stats row for selection",
			zap.String("variant", best.Variant),
			zap.String("month", best.Month),
		)
	}

	v := s.policy.ColdStart(key)
	a.Variant, a.Price, a.Source = v.Label, v.Price, models.SourceColdStart
	return a, nil
}

func (s *AssignmentService) decision(a *models.Assignment, sticky bool) *PriceDecision {
	return &PriceDecision{
		Variant: a.Variant,
		Price:   a.Price,
		Tone:    s.policy.Tone(a.Price),
		Source:  a.Source,
		Sticky:  sticky,
	}
}
