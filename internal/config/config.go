package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Vector-Promo service.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Counter     CounterConfig
	Experiment  ExperimentConfig
	Attribution AttributionConfig
	Jobs        JobsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	// PublicBaseURL prefixes issued tracking links.
	PublicBaseURL string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled    bool
	RPS        float64
	Burst      int
	AdminRPS   float64
	AdminBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of clicks.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// CounterConfig configures the live order counter.
type CounterConfig struct {
	Window              time.Duration
	SubWindow           time.Duration
	HighAmountThreshold int64
	RecentSpan          time.Duration
	// RedisKey is the sorted set holding the order log.
	RedisKey string
}

// PriceVariant is one cold-start arm of the price experiment.
type PriceVariant struct {
	Label string
	Price int64
}

// ExperimentConfig holds variant catalogs and EV weight tables.
type ExperimentConfig struct {
	// PriceVariants are the cold-start arms, in hash order.
	PriceVariants []PriceVariant
	// PremiumThreshold is the price at or above which the tone is premium.
	PremiumThreshold int64
	// OfferPrices maps offer codes to their price.
	OfferPrices map[string]int64
	// ClickMetricPlatforms rank by ev_clickers; all others by ev_links.
	ClickMetricPlatforms []string

	PlatformWeights map[string]float64
	WeekdayWeights  map[string]float64
	SeasonWeights   map[string]float64

	DefaultSeason string
}

// AttributionConfig configures the monthly aggregator.
type AttributionConfig struct {
	ConversionWindowDays int
	BonusDays            []string
	Timezone             string
	Location             *time.Location
}

// JobsConfig configures scheduled recomputation.
type JobsConfig struct {
	MonthlyEnabled bool
	MonthlySpec    string
	RunOnStart     bool
	LockTTL        time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("VECTOR_PROMO_HTTP_ADDR", ":8787"),
			Env:             getEnv("VECTOR_PROMO_ENV", "development"),
			ShutdownTimeout: getDurationEnv("VECTOR_PROMO_SHUTDOWN_TIMEOUT", 30*time.Second),
			PublicBaseURL:   strings.TrimRight(getEnv("VECTOR_PROMO_PUBLIC_BASE_URL", "http://localhost:8787"), "/"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("VECTOR_PROMO_DB_ENABLED", true),
			Host:     getEnv("VECTOR_PROMO_DB_HOST", "localhost"),
			Port:     getIntEnv("VECTOR_PROMO_DB_PORT", 5432),
			User:     getEnv("VECTOR_PROMO_DB_USER", "vectorpromo"),
			Password: getEnv("VECTOR_PROMO_DB_PASSWORD", "vectorpromo_secret"),
			DBName:   getEnv("VECTOR_PROMO_DB_NAME", "vectorpromo"),
			SSLMode:  getEnv("VECTOR_PROMO_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("VECTOR_PROMO_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("VECTOR_PROMO_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("VECTOR_PROMO_REDIS_ENABLED", true),
			Addr:     getEnv("VECTOR_PROMO_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("VECTOR_PROMO_REDIS_PASSWORD", ""),
			DB:       getIntEnv("VECTOR_PROMO_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("VECTOR_PROMO_AUTH_ENABLED", true),
			MasterKey: getEnv("VECTOR_PROMO_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("VECTOR_PROMO_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/counter", "/webhook/", "/r/", "/postback/"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("VECTOR_PROMO_RATE_LIMIT_ENABLED", true),
			RPS:        getFloatEnv("VECTOR_PROMO_RATE_LIMIT_RPS", 200),
			Burst:      getIntEnv("VECTOR_PROMO_RATE_LIMIT_BURST", 50),
			AdminRPS:   getFloatEnv("VECTOR_PROMO_RATE_LIMIT_ADMIN_RPS", 10),
			AdminBurst: getIntEnv("VECTOR_PROMO_RATE_LIMIT_ADMIN_BURST", 5),
		},
		Log: LogConfig{
			Level:  getEnv("VECTOR_PROMO_LOG_LEVEL", "info"),
			Format: getEnv("VECTOR_PROMO_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("VECTOR_PROMO_METRICS_ENABLED", true),
			Path:    getEnv("VECTOR_PROMO_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("VECTOR_PROMO_GEO_ENABLED", false),
			DatabasePath: getEnv("VECTOR_PROMO_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Counter: CounterConfig{
			Window:              getDurationEnv("VECTOR_PROMO_COUNTER_WINDOW", 30*time.Minute),
			SubWindow:           getDurationEnv("VECTOR_PROMO_COUNTER_SUB_WINDOW", 5*time.Minute),
			HighAmountThreshold: int64(getIntEnv("VECTOR_PROMO_HIGH_AMOUNT_THRESHOLD", 50000)),
			RecentSpan:          getDurationEnv("VECTOR_PROMO_HIGH_AMOUNT_RECENT", 2*time.Minute),
			RedisKey:            getEnv("VECTOR_PROMO_COUNTER_REDIS_KEY", "promo:counter:orders"),
		},
		Experiment: ExperimentConfig{
			PriceVariants:    getVariantsEnv("VECTOR_PROMO_PRICE_VARIANTS", []PriceVariant{{Label: "A", Price: 3900}, {Label: "B", Price: 4900}}),
			PremiumThreshold: int64(getIntEnv("VECTOR_PROMO_PREMIUM_THRESHOLD", 4900)),
			OfferPrices: map[string]int64{
				"D7":         int64(getIntEnv("VECTOR_PROMO_OFFER_PRICE_7", 3900)),
				"D14":        int64(getIntEnv("VECTOR_PROMO_OFFER_PRICE_14", 4900)),
				"D21":        int64(getIntEnv("VECTOR_PROMO_OFFER_PRICE_21", 7900)),
				"SEASONPACK": int64(getIntEnv("VECTOR_PROMO_OFFER_PRICE_SEASONPACK", 12900)),
			},
			ClickMetricPlatforms: getSliceEnv("VECTOR_PROMO_CLICK_METRIC_PLATFORMS", []string{"instagram", "tiktok", "reels", "shorts"}),
			PlatformWeights:      getWeightsEnv("VECTOR_PROMO_PLATFORM_WEIGHTS"),
			WeekdayWeights:       getWeightsEnv("VECTOR_PROMO_WEEKDAY_WEIGHTS"),
			SeasonWeights:        getWeightsEnv("VECTOR_PROMO_SEASON_WEIGHTS"),
			DefaultSeason:        getEnv("VECTOR_PROMO_DEFAULT_SEASON", "winter"),
		},
		Attribution: AttributionConfig{
			ConversionWindowDays: getIntEnv("VECTOR_PROMO_CONV_WINDOW_DAYS", 7),
			BonusDays:            getSliceEnv("VECTOR_PROMO_BONUS_DAYS", []string{"DAY09", "DAY10"}),
			Timezone:             getEnv("VECTOR_PROMO_TIMEZONE", "Asia/Seoul"),
		},
		Jobs: JobsConfig{
			MonthlyEnabled: getBoolEnv("VECTOR_PROMO_MONTHLY_STATS", true),
			MonthlySpec:    getEnv("VECTOR_PROMO_MONTHLY_STATS_CRON", "10 3 1 * *"),
			RunOnStart:     getBoolEnv("VECTOR_PROMO_MONTHLY_STATS_ON_START", true),
			LockTTL:        getDurationEnv("VECTOR_PROMO_AGGREGATION_LOCK_TTL", 30*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and resolves the
// attribution timezone.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("VECTOR_PROMO_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Counter.Window <= 0 || c.Counter.SubWindow <= 0 {
		return errors.New("counter windows must be positive")
	}
	if c.Counter.SubWindow > c.Counter.Window {
		return errors.New("counter sub-window must not exceed the window")
	}
	if c.Attribution.ConversionWindowDays <= 0 {
		return errors.New("VECTOR_PROMO_CONV_WINDOW_DAYS must be positive")
	}
	if len(c.Attribution.BonusDays) == 0 {
		return errors.New("VECTOR_PROMO_BONUS_DAYS must list at least one day label")
	}
	if len(c.Experiment.PriceVariants) == 0 {
		return errors.New("VECTOR_PROMO_PRICE_VARIANTS must list at least one variant")
	}
	for _, v := range c.Experiment.PriceVariants {
		if v.Label == "" || v.Price <= 0 {
			return fmt.Errorf("invalid price variant %q=%d", v.Label, v.Price)
		}
	}

	loc, err := time.LoadLocation(c.Attribution.Timezone)
	if err != nil {
		return fmt.Errorf("invalid VECTOR_PROMO_TIMEZONE %q: %w", c.Attribution.Timezone, err)
	}
	c.Attribution.Location = loc

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}

// getWeightsEnv parses "instagram=1.2,tiktok=0.8". Keys are kept as written
// except for surrounding spaces; malformed pairs are ignored.
func getWeightsEnv(key string) map[string]float64 {
	weights := make(map[string]float64)
	for _, pair := range getSliceEnv(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		weights[strings.TrimSpace(k)] = f
	}
	return weights
}

// getVariantsEnv parses "A=3900,B=4900" preserving order.
func getVariantsEnv(key string, def []PriceVariant) []PriceVariant {
	pairs := getSliceEnv(key, nil)
	if len(pairs) == 0 {
		return def
	}
	variants := make([]PriceVariant, 0, len(pairs))
	for _, pair := range pairs {
		label, price, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		p, err := strconv.ParseInt(strings.TrimSpace(price), 10, 64)
		if err != nil {
			continue
		}
		variants = append(variants, PriceVariant{Label: strings.ToUpper(strings.TrimSpace(label)), Price: p})
	}
	if len(variants) == 0 {
		return def
	}
	return variants
}
