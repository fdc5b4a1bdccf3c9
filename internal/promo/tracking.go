package promo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-promo/internal/geo"
	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

// tokenBytes gives 128-bit tokens.
const tokenBytes = 16

// LinkRequest describes a bonus link to issue.
type LinkRequest struct {
	Day          string
	BuyerID      string
	Platform     string
	TargetURL    string
	Season       string
	OfferCode    string
	OfferDays    int
	PriceVariant string
}

// IssuedLink is the stored link plus its public URL.
type IssuedLink struct {
	Link        *models.TrackingLink
	TrackingURL string
}

// ClickRequest carries the request metadata of a redirect.
type ClickRequest struct {
	Token     string
	UserAgent string
	Referrer  string
	IP        string
}

// RedirectResult is returned for a known token.
type RedirectResult struct {
	TargetURL string
	Link      *models.TrackingLink
	Click     *models.Click
	Geo       Outcome
}

// TrackingService issues bonus links and resolves their redirects.
type TrackingService struct {
	links   storage.LinkRepo
	geo     geo.Provider
	baseURL string
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewTrackingService creates the service. geoProvider may be nil.
func NewTrackingService(
	links storage.LinkRepo,
	geoProvider geo.Provider,
	baseURL string,
	clock func() time.Time,
	logger *zap.Logger,
	m *metrics.Metrics,
) *TrackingService {
	if clock == nil {
		clock = time.Now
	}
	return &TrackingService{
		links:   links,
		geo:     geoProvider,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// IssueLink stores a new link under a random token.
func (s *TrackingService) IssueLink(ctx context.Context, req LinkRequest) (*IssuedLink, error) {
	day, err := NormalizeDay(req.Day)
	if err != nil {
		return nil, err
	}
	buyerID := strings.TrimSpace(req.BuyerID)
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer_id is required", ErrInvalidInput)
	}
	if platform == "" {
		return nil, fmt.Errorf("%w: platform is required", ErrInvalidInput)
	}
	if err := validateTarget(req.TargetURL); err != nil {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	link := &models.TrackingLink{
		Token:        token,
		BuyerID:      buyerID,
		Day:          day,
		TargetURL:    strings.TrimSpace(req.TargetURL),
		Platform:     platform,
		CreatedAt:    s.clock().Truncate(time.Microsecond),
		Season:       strings.ToLower(strings.TrimSpace(req.Season)),
		OfferCode:    strings.ToUpper(strings.TrimSpace(req.OfferCode)),
		OfferDays:    req.OfferDays,
		PriceVariant: strings.ToUpper(strings.TrimSpace(req.PriceVariant)),
	}
	if err := s.links.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to store tracking link: %w", err)
	}

	s.metrics.RecordLinkIssued(day, platform)
	s.logger.Info("tracking link issued",
		zap.String("buyer_id", buyerID),
		zap.String("day", day),
		zap.String("platform", platform),
	)

	return &IssuedLink{Link: link, TrackingURL: s.TrackingURL(day, token)}, nil
}

// TrackingURL builds the public redirect URL of a token.
func (s *TrackingService) TrackingURL(day, token string) string {
	return s.baseURL + "/r/" + url.PathEscape(day) + "/" + url.PathEscape(token)
}

// Redirect records a click on token and returns where to send the visitor.
// Unknown tokens yield storage.ErrNotFound and record nothing.
func (s *TrackingService) Redirect(ctx context.Context, req ClickRequest) (*RedirectResult, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		s.metrics.RecordRedirect("not_found")
		return nil, storage.ErrNotFound
	}

	click := &models.Click{
		ID:        uuid.NewString(),
		Timestamp: s.clock().Truncate(time.Microsecond),
		UserAgent: req.UserAgent,
		Referrer:  req.Referrer,
		IP:        req.IP,
	}
	country, outcome := s.lookupCountry(req.IP)
	click.GeoCountry = country

	link, err := s.links.RegisterClick(ctx, token, click)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.RecordRedirect("not_found")
			return nil, storage.ErrNotFound
		}
		s.metrics.RecordRedirect("error")
		return nil, fmt.Errorf("failed to register click: %w", err)
	}

	s.metrics.RecordRedirect("ok")
	s.logger.Debug("click registered",
		zap.String("token", token),
		zap.String("buyer_id", link.BuyerID),
		zap.Int64("click_count", link.ClickCount),
	)

	return &RedirectResult{
		TargetURL: link.TargetURL,
		Link:      link,
		Click:     click,
		Geo:       outcome,
	}, nil
}

func (s *TrackingService) lookupCountry(ip string) (string, Outcome) {
	if s.geo == nil {
		return "", Skipped("geo disabled")
	}
	if ip == "" {
		return "", Skipped("no client ip")
	}
	country, err := s.geo.Country(ip)
	if err != nil {
		s.metrics.RecordGeoLookup("error")
		s.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return "", Failed(err.Error())
	}
	if country == "" {
		s.metrics.RecordGeoLookup("miss")
		return "", Skipped("unknown location")
	}
	s.metrics.RecordGeoLookup("hit")
	return country, Ok()
}

func validateTarget(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: target_url must be an absolute http(s) URL", ErrInvalidInput)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
