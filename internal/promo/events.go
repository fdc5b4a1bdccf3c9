package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

// EventRequest is an inbound business event.
type EventRequest struct {
	BuyerID     string `json:"buyer_id" validate:"required,max=128"`
	EventType   string `json:"event_type" validate:"required,max=64"`
	Platform    string `json:"platform" validate:"max=64"`
	OrderID     string `json:"order_id,omitempty" validate:"max=128"`
	ProductName string `json:"product_name,omitempty" validate:"max=512"`
	BuyerName   string `json:"buyer_name,omitempty" validate:"max=128"`
}

// EventService ingests business events and derives buyer segments.
type EventService struct {
	events    storage.EventLog
	validator *validator.Validate
	clock     func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewEventService(events storage.EventLog, clock func() time.Time, logger *zap.Logger, m *metrics.Metrics) *EventService {
	if clock == nil {
		clock = time.Now
	}
	return &EventService{
		events:    events,
		validator: validator.New(),
		clock:     clock,
		logger:    logger,
		metrics:   m,
	}
}

// Ingest validates and appends the event and upserts the buyer profile.
// Unrecognized event types are stored unchanged. An event repeating the type
// and order ID of a stored one is dropped with ErrDuplicateEvent, so order
// lifecycle callbacks count one purchase per order.
func (s *EventService) Ingest(ctx context.Context, req EventRequest) (*models.BusinessEvent, error) {
	req.BuyerID = strings.TrimSpace(req.BuyerID)
	req.EventType = strings.ToLower(strings.TrimSpace(req.EventType))
	if err := s.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	now := s.clock().Truncate(time.Microsecond)
	ev := &models.BusinessEvent{
		ID:          uuid.NewString(),
		BuyerID:     req.BuyerID,
		EventType:   req.EventType,
		Platform:    strings.ToLower(strings.TrimSpace(req.Platform)),
		OrderID:     strings.TrimSpace(req.OrderID),
		ProductName: strings.TrimSpace(req.ProductName),
		CreatedAt:   now,
	}

	if err := s.events.UpsertBuyer(ctx, &models.Buyer{
		BuyerID:   req.BuyerID,
		BuyerName: strings.TrimSpace(req.BuyerName),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to upsert buyer: %w", err)
	}
	if err := s.events.AppendEvent(ctx, ev); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.logger.Debug("dropped duplicate event",
				zap.String("buyer_id", ev.BuyerID),
				zap.String("event_type", ev.EventType),
				zap.String("order_id", ev.OrderID),
			)
			return nil, fmt.Errorf("%w: %s for order %s", ErrDuplicateEvent, ev.EventType, ev.OrderID)
		}
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if models.KindOf(ev.EventType) == models.ConversionNone {
		s.logger.Debug("stored event of unrecognized type", zap.String("event_type", ev.EventType))
	}
	s.metrics.RecordBusinessEvent(ev.EventType)
	return ev, nil
}

// Summary returns the buyer's purchase and review counts and segment. Unknown
// buyers are summarized as new with zero counts.
func (s *EventService) Summary(ctx context.Context, buyerID string) (*models.BuyerSummary, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer_id is required", ErrInvalidInput)
	}

	b, err := s.events.GetBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read buyer: %w", err)
	}
	counts, err := s.events.CountByType(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	sum := &models.BuyerSummary{
		BuyerID:   buyerID,
		Purchases: counts[models.EventPurchase],
		Reviews:   counts[models.EventReview],
	}
	if b != nil {
		sum.BuyerName = b.BuyerName
	}
	sum.Segment = SegmentFor(sum.Purchases)
	return sum, nil
}

// Segment returns "repeat" or "new" for the buyer.
func (s *EventService) Segment(ctx context.Context, buyerID string) (string, error) {
	sum, err := s.Summary(ctx, buyerID)
	if err != nil {
		return "", err
	}
	return sum.Segment, nil
}

// SegmentFor classifies a buyer with the given number of purchases.
func SegmentFor(purchases int) string {
	if purchases >= 2 {
		return models.SegmentRepeat
	}
	return models.SegmentNew
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s %s", toSnake(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func toSnake(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (field[i-1] < 'A' || field[i-1] > 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
