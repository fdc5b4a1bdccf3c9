package promo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/storage"
	"go.uber.org/zap"
)

// SeasonPack is the whole-season bundle; every other offer is "D<days>".
const SeasonPack = "SEASONPACK"

// Offer is one entry of the offer catalog.
type Offer struct {
	Code  string `json:"offer_code"`
	Days  int    `json:"offer_days"`
	Price int64  `json:"price"`
}

// OfferCatalog resolves offer codes to days and prices.
type OfferCatalog struct {
	offers map[string]Offer
}

// NewOfferCatalog builds the catalog from code -> price. Days are read from
// the "D<n>" code; SEASONPACK and unparseable codes get 0 days.
func NewOfferCatalog(prices map[string]int64) *OfferCatalog {
	c := &OfferCatalog{offers: make(map[string]Offer, len(prices))}
	for code, price := range prices {
		code = strings.ToUpper(strings.TrimSpace(code))
		c.offers[code] = Offer{Code: code, Days: daysFromCode(code), Price: price}
	}
	return c
}

func daysFromCode(code string) int {
	if !strings.HasPrefix(code, "D") {
		return 0
	}
	n, err := strconv.Atoi(code[1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Lookup returns the offer for code.
func (c *OfferCatalog) Lookup(code string) (Offer, bool) {
	o, ok := c.offers[strings.ToUpper(strings.TrimSpace(code))]
	return o, ok
}

// Price returns the catalog price of code, 0 when unknown.
func (c *OfferCatalog) Price(code string) int64 {
	o, _ := c.Lookup(code)
	return o.Price
}

// Codes lists the catalog codes in sorted order.
func (c *OfferCatalog) Codes() []string {
	codes := make([]string, 0, len(c.offers))
	for code := range c.offers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// CodeFor normalizes a link's offer fields to a code, deriving it from
// the day count when the link carries none.
func CodeFor(offerCode string, offerDays int) string {
	if code := strings.ToUpper(strings.TrimSpace(offerCode)); code != "" {
		return code
	}
	switch offerDays {
	case 7, 14, 21:
		return "D" + strconv.Itoa(offerDays)
	}
	return SeasonPack
}

// ProductMatchesOffer decides whether a purchased product belongs to the
// offer. Matching is by substring of the product name and is a heuristic.
func ProductMatchesOffer(offerCode string, offerDays int, productName string) bool {
	if strings.EqualFold(offerCode, SeasonPack) {
		return strings.Contains(productName, "시즌") ||
			strings.Contains(strings.ToLower(productName), "season")
	}
	if offerDays == 0 {
		return true
	}
	return ProductDays(productName) == offerDays
}

// ProductDays extracts a 7, 14 or 21 day duration from a product name.
func ProductDays(productName string) int {
	s := strings.ToLower(productName)
	for _, n := range []int{21, 14, 7} {
		d := strconv.Itoa(n)
		if containsDuration(s, d+"일") || containsDuration(s, d+"-day") || containsDuration(s, d+"day") {
			return n
		}
	}
	return 0
}

// containsDuration requires that the match is not the tail of a longer
// number, so "17일" is not read as 7 days.
func containsDuration(s, needle string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], needle)
		if j < 0 {
			return false
		}
		at := i + j
		if at == 0 || s[at-1] < '0' || s[at-1] > '9' {
			return true
		}
		i = at + 1
	}
}

// OfferDecision is the offer chosen for a buyer cell.
type OfferDecision struct {
	Offer
	Source string `json:"source"`
}

// Offer decision sources.
const (
	OfferSourceStats    = "stats"
	OfferSourceRule     = "rule"
	OfferSourceExplicit = "explicit"
)

// OfferService picks the offer of the duration/bundle experiment.
type OfferService struct {
	stats   storage.StatsRepo
	catalog *OfferCatalog
	policy  *Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewOfferService(stats storage.StatsRepo, catalog *OfferCatalog, policy *Policy, logger *zap.Logger, m *metrics.Metrics) *OfferService {
	return &OfferService{
		stats:   stats,
		catalog: catalog,
		policy:  policy,
		logger:  logger,
		metrics: m,
	}
}

// Catalog exposes the configured offers.
func (s *OfferService) Catalog() *OfferCatalog { return s.catalog }

// Resolve validates an explicitly requested offer code.
func (s *OfferService) Resolve(code string) (*OfferDecision, error) {
	o, ok := s.catalog.Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w: unknown offer code %q", ErrInvalidInput, code)
	}
	s.metrics.RecordOfferChoice(OfferSourceExplicit, o.Code)
	return &OfferDecision{Offer: o, Source: OfferSourceExplicit}, nil
}

// ChooseOffer returns the highest weighted-EV offer recorded for the cell,
// falling back to fixed rules while no statistics exist.
func (s *OfferService) ChooseOffer(ctx context.Context, segment, platform, weekday, season string) (*OfferDecision, error) {
	segment = strings.ToLower(strings.TrimSpace(segment))
	platform = strings.ToLower(strings.TrimSpace(platform))
	season = strings.ToLower(strings.TrimSpace(season))

	rows, err := s.stats.Query(ctx, models.StatsFilter{
		Kind:     models.StatsOffer,
		Segment:  segment,
		Platform: platform,
		Weekday:  weekday,
		Season:   season,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read offer stats: %w", err)
	}

	if best := s.policy.Best(rows, platform, weekday, season); best != nil {
		if o, ok := s.catalog.Lookup(best.OfferCode); ok {
			s.metrics.RecordOfferChoice(OfferSourceStats, o.Code)
			return &OfferDecision{Offer: o, Source: OfferSourceStats}, nil
		}
		s.logger.Warn("best offer row not in catalog, using rules", zap.String("offer_code", best.OfferCode))
	}

	code := fallbackOffer(segment, weekday)
	o, ok := s.catalog.Lookup(code)
	if !ok {
		o = Offer{Code: code, Days: daysFromCode(code)}
	}
	s.metrics.RecordOfferChoice(OfferSourceRule, o.Code)
	return &OfferDecision{Offer: o, Source: OfferSourceRule}, nil
}

// fallbackOffer: Sunday sells the season pack; repeat buyers get 14 days at
// the weekend and 21 days otherwise; new buyers start with 7 days.
func fallbackOffer(segment, weekday string) string {
	switch {
	case weekday == "일":
		return SeasonPack
	case segment == models.SegmentRepeat && (weekday == "금" || weekday == "토"):
		return "D14"
	case segment == models.SegmentRepeat:
		return "D21"
	default:
		return "D7"
	}
}
