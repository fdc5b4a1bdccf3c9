package promo

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/models"
)

// Policy ranks statistics rows by weighted EV and provides the cold-start
// split. It is immutable after construction.
type Policy struct {
	platformWeights  map[string]float64
	weekdayWeights   map[string]float64
	seasonWeights    map[string]float64
	clickPlatforms   map[string]bool
	variants         []config.PriceVariant
	premiumThreshold int64
}

func NewPolicy(cfg config.ExperimentConfig) *Policy {
	p := &Policy{
		platformWeights:  lowerKeys(cfg.PlatformWeights),
		weekdayWeights:   cfg.WeekdayWeights,
		seasonWeights:    lowerKeys(cfg.SeasonWeights),
		clickPlatforms:   make(map[string]bool, len(cfg.ClickMetricPlatforms)),
		variants:         append([]config.PriceVariant(nil), cfg.PriceVariants...),
		premiumThreshold: cfg.PremiumThreshold,
	}
	for _, pl := range cfg.ClickMetricPlatforms {
		p.clickPlatforms[strings.ToLower(pl)] = true
	}
	return p
}

func lowerKeys(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func weightOf(m map[string]float64, key string) float64 {
	if w, ok := m[key]; ok {
		return w
	}
	return 1.0
}

// UsesClickMetric reports whether platform is ranked by ev_clickers.
func (p *Policy) UsesClickMetric(platform string) bool {
	return p.clickPlatforms[strings.ToLower(platform)]
}

// WeightedEV scales the platform's base EV of c by the configured weights.
// When season is empty the row's own season is weighted.
func (p *Policy) WeightedEV(c *models.StatsCell, platform, weekday, season string) float64 {
	base := c.EVLinks
	if p.UsesClickMetric(platform) {
		base = c.EVClickers
	}
	if season == "" {
		season = c.Season
	}
	return base *
		weightOf(p.platformWeights, strings.ToLower(platform)) *
		weightOf(p.weekdayWeights, weekday) *
		weightOf(p.seasonWeights, strings.ToLower(season))
}

// Best returns the highest weighted-EV row. Ties keep the earliest row in
// cells, so the result is deterministic for a stable input order.
func (p *Policy) Best(cells []*models.StatsCell, platform, weekday, season string) *models.StatsCell {
	var (
		best   *models.StatsCell
		bestEV float64
	)
	for _, c := range cells {
		ev := p.WeightedEV(c, platform, weekday, season)
		if best == nil || ev > bestEV {
			best, bestEV = c, ev
		}
	}
	return best
}

// ColdStart picks a configured variant from a stable hash of the key.
func (p *Policy) ColdStart(key models.AssignmentKey) config.PriceVariant {
	return p.variants[ColdStartIndex(key, len(p.variants))]
}

// ColdStartIndex hashes the key fields into [0, n).
func ColdStartIndex(key models.AssignmentKey, n int) int {
	h := xxhash.Sum64String(key.BuyerID + "|" + key.Platform + "|" + key.Weekday + "|" + key.Segment)
	return int(h % uint64(n))
}

// VariantPrice returns the configured price for a label, or 0 if unknown.
func (p *Policy) VariantPrice(label string) int64 {
	for _, v := range p.variants {
		if strings.EqualFold(v.Label, label) {
			return v.Price
		}
	}
	return 0
}

// Tone is premium at or above the threshold price.
func (p *Policy) Tone(price int64) string {
	if price >= p.premiumThreshold {
		return models.TonePremium
	}
	return models.ToneLight
}
