package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Rate limit buckets.
const (
	BucketWebhook = "webhook"
	BucketAdmin   = "admin"
	BucketIP      = "ip"
)

// High volume public routes share the webhook bucket; everything else is admin.
var webhookPrefixes = []string{"/webhook/", "/postback/", "/r/", "/events", "/counter"}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies a global token bucket per route class and a
// tighter bucket per client IP.
type RateLimitMiddleware struct {
	cfg            config.RateLimitConfig
	logger         *zap.Logger
	metrics        *metrics.Metrics
	webhookLimiter *rate.Limiter
	adminLimiter   *rate.Limiter

	mu         sync.Mutex
	ipLimiters map[string]*ipLimiter
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger, m *metrics.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		webhookLimiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		adminLimiter:   rate.NewLimiter(rate.Limit(cfg.AdminRPS), cfg.AdminBurst),
		ipLimiters:     make(map[string]*ipLimiter),
	}
}

func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		bucket, limiter := BucketAdmin, rl.adminLimiter
		if isWebhookPath(r.URL.Path) {
			bucket, limiter = BucketWebhook, rl.webhookLimiter
		}
		if !limiter.Allow() {
			rl.reject(w, r, bucket)
			return
		}

		ip := ClientIP(r)
		if !rl.getIPLimiter(ip).Allow() {
			rl.reject(w, r, BucketIP)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isWebhookPath(path string) bool {
	for _, p := range webhookPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// getIPLimiter returns or creates the limiter for ip. Per-IP limits are a
// tenth of the webhook bucket, with a floor of one request per second.
func (rl *RateLimitMiddleware) getIPLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.ipLimiters[ip]
	if !ok {
		rps := rl.cfg.RPS / 10
		if rps < 1 {
			rps = 1
		}
		burst := rl.cfg.Burst / 10
		if burst < 1 {
			burst = 1
		}
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		rl.ipLimiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

func (rl *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, bucket string) {
	rl.logger.Warn("rate limit exceeded",
		zap.String("bucket", bucket),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)
	rl.metrics.RecordRateLimitHit(bucket)
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "rate_limited")
}

// CleanupIPLimiters drops limiters idle for longer than maxIdle and returns
// how many were removed.
func (rl *RateLimitMiddleware) CleanupIPLimiters(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for ip, l := range rl.ipLimiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.ipLimiters, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("cleaned up IP rate limiters", zap.Int("removed", removed))
	}
	return removed
}
