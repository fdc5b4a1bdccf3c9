package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
	"go.uber.org/zap"
)

// BonusRequest asks for a personalized bonus link.
type BonusRequest struct {
	BuyerID   string `json:"buyer_id"`
	Platform  string `json:"platform"`
	Day       string `json:"day"`
	TargetURL string `json:"target_url"`
	Season    string `json:"season,omitempty"`
	Segment   string `json:"segment,omitempty"`
	Price     *int64 `json:"price,omitempty"`
	OfferCode string `json:"offer_code,omitempty"`
}

// BonusResult is the personalization attached to an issued link.
type BonusResult struct {
	BuyerID     string         `json:"buyer_id"`
	Platform    string         `json:"platform"`
	Day         string         `json:"day"`
	Weekday     string         `json:"weekday"`
	Segment     string         `json:"segment"`
	Season      string         `json:"season,omitempty"`
	Price       PriceDecision  `json:"price"`
	Offer       *OfferDecision `json:"offer"`
	Token       string         `json:"token"`
	TrackingURL string         `json:"tracking_url"`
}

// BonusService combines assignment, offer choice and link issuance.
type BonusService struct {
	assignments *AssignmentService
	offers      *OfferService
	events      *EventService
	tracking    *TrackingService
	policy      *Policy
	loc         *time.Location
	clock       func() time.Time
	logger      *zap.Logger
}

func NewBonusService(
	assignments *AssignmentService,
	offers *OfferService,
	events *EventService,
	tracking *TrackingService,
	policy *Policy,
	loc *time.Location,
	clock func() time.Time,
	logger *zap.Logger,
) *BonusService {
	if clock == nil {
		clock = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &BonusService{
		assignments: assignments,
		offers:      offers,
		events:      events,
		tracking:    tracking,
		policy:      policy,
		loc:         loc,
		clock:       clock,
		logger:      logger,
	}
}

// Issue decides price and offer for the buyer and issues the tracking link.
func (s *BonusService) Issue(ctx context.Context, req BonusRequest) (*BonusResult, error) {
	buyerID := strings.TrimSpace(req.BuyerID)
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer_id is required", ErrInvalidInput)
	}
	if platform == "" {
		return nil, fmt.Errorf("%w: platform is required", ErrInvalidInput)
	}
	day, err := NormalizeDay(req.Day)
	if err != nil {
		return nil, err
	}
	if err := validateTarget(req.TargetURL); err != nil {
		return nil, err
	}

	segment := strings.ToLower(strings.TrimSpace(req.Segment))
	if segment == "" {
		if segment, err = s.events.Segment(ctx, buyerID); err != nil {
			return nil, err
		}
	}
	season := strings.ToLower(strings.TrimSpace(req.Season))
	weekday := WeekdayLabel(s.clock().In(s.loc))

	var price *PriceDecision
	if req.Price != nil {
		if *req.Price <= 0 {
			return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
		}
		price = &PriceDecision{
			Variant: models.VariantManual,
			Price:   *req.Price,
			Tone:    s.policy.Tone(*req.Price),
			Source:  "manual",
		}
	} else {
		price, err = s.assignments.GetOrAssign(ctx, AssignRequest{
			BuyerID:  buyerID,
			Platform: platform,
			Weekday:  weekday,
			Segment:  segment,
			Season:   season,
		})
		if err != nil {
			return nil, err
		}
	}

	var offer *OfferDecision
	if strings.TrimSpace(req.OfferCode) != "" {
		offer, err = s.offers.Resolve(req.OfferCode)
	} else {
		offer, err = s.offers.ChooseOffer(ctx, segment, platform, weekday, season)
	}
	if err != nil {
		return nil, err
	}

	issued, err := s.tracking.IssueLink(ctx, LinkRequest{
		Day:          day,
		BuyerID:      buyerID,
		Platform:     platform,
		TargetURL:    req.TargetURL,
		Season:       season,
		OfferCode:    offer.Code,
		OfferDays:    offer.Days,
		PriceVariant: price.Variant,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bonus issued",
		zap.String("buyer_id", buyerID),
		zap.String("segment", segment),
		zap.String("variant", price.Variant),
		zap.String("offer_code", offer.Code),
	)

	return &BonusResult{
		BuyerID:     buyerID,
		Platform:    platform,
		Day:         day,
		Weekday:     weekday,
		Segment:     segment,
		Season:      season,
		Price:       *price,
		Offer:       offer,
		Token:       issued.Link.Token,
		TrackingURL: issued.TrackingURL,
	}, nil
}
