package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/counter"
	"github.com/radiusdt/vector-promo/internal/database"
	"github.com/radiusdt/vector-promo/internal/export"
	"github.com/radiusdt/vector-promo/internal/geo"
	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/postback"
	"github.com/radiusdt/vector-promo/internal/promo"
	"github.com/radiusdt/vector-promo/internal/storage"
	"github.com/radiusdt/vector-promo/internal/webhook"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server. DB, Redis,
// Geo and Metrics may be nil.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Geo     geo.Provider
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Server wraps the HTTP handlers and the promo services behind them.
type Server struct {
	counter     *counter.Counter
	assignments *promo.AssignmentService
	offers      *promo.OfferService
	events      *promo.EventService
	tracking    *promo.TrackingService
	bonus       *promo.BonusService
	aggregator  *promo.Aggregator
	exporter    *export.Service
	postbacks   *postback.Handler
	stats       storage.StatsRepo

	db      *database.PostgresDB
	redis   *database.RedisDB
	loc     *time.Location
	clock   func() time.Time
	logger  *zap.Logger
	config  *config.Config
	metrics *metrics.Metrics
}

// New builds repositories and services. Postgres backs the durable tables
// and Redis the order log and aggregation lock; either falls back to memory.
func New(deps *Dependencies) *Server {
	cfg := deps.Config
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := cfg.Attribution.Location
	if loc == nil {
		loc = time.Local
	}

	var (
		assignRepo storage.AssignmentRepo
		linkRepo   storage.LinkRepo
		eventLog   storage.EventLog
		statsRepo  storage.StatsRepo
		orderLog   storage.OrderLog
		locker     storage.Locker
	)

	if deps.DB != nil {
		assignRepo = storage.NewPostgresAssignmentRepo(deps.DB.Pool)
		linkRepo = storage.NewPostgresLinkRepo(deps.DB.Pool)
		eventLog = storage.NewPostgresEventLog(deps.DB.Pool)
		statsRepo = storage.NewPostgresStatsRepo(deps.DB.Pool)
	} else {
		assignRepo = storage.NewInMemoryAssignmentRepo()
		linkRepo = storage.NewInMemoryLinkRepo()
		eventLog = storage.NewInMemoryEventLog()
		statsRepo = storage.NewInMemoryStatsRepo()
	}

	if deps.Redis != nil {
		orderLog = storage.NewRedisOrderLog(deps.Redis.Client, cfg.Counter.RedisKey, 2*cfg.Counter.Window, deps.Logger)
		locker = storage.NewRedisLocker(deps.Redis.Client, "promo:lock:")
	} else {
		orderLog = storage.NewInMemoryOrderLog()
		locker = storage.NewInMemoryLocker()
	}

	policy := promo.NewPolicy(cfg.Experiment)
	catalog := promo.NewOfferCatalog(cfg.Experiment.OfferPrices)

	assignSvc := promo.NewAssignmentService(assignRepo, statsRepo, policy, clock, deps.Logger, deps.Metrics)
	offerSvc := promo.NewOfferService(statsRepo, catalog, policy, deps.Logger, deps.Metrics)
	eventSvc := promo.NewEventService(eventLog, clock, deps.Logger, deps.Metrics)
	trackSvc := promo.NewTrackingService(linkRepo, deps.Geo, cfg.Server.PublicBaseURL, clock, deps.Logger, deps.Metrics)

	return &Server{
		counter: counter.New(orderLog, cfg.Counter, deps.Logger,
			counter.WithClock(clock),
			counter.WithMetrics(deps.Metrics),
		),
		assignments: assignSvc,
		offers:      offerSvc,
		events:      eventSvc,
		tracking:    trackSvc,
		bonus:       promo.NewBonusService(assignSvc, offerSvc, eventSvc, trackSvc, policy, loc, clock, deps.Logger),
		aggregator: promo.NewAggregator(promo.AggregatorDeps{
			Assignments: assignRepo,
			Links:       linkRepo,
			Events:      eventLog,
			Stats:       statsRepo,
			Locker:      locker,
		}, catalog, cfg.Attribution, cfg.Jobs.LockTTL, clock, deps.Logger, deps.Metrics),
		exporter:  export.NewService(statsRepo, clock, deps.Logger),
		postbacks: postback.NewHandler(linkRepo, eventSvc, deps.Logger),
		stats:     statsRepo,

		db:      deps.DB,
		redis:   deps.Redis,
		loc:     loc,
		clock:   clock,
		logger:  deps.Logger,
		config:  cfg,
		metrics: deps.Metrics,
	}
}

// Aggregator is shared with the monthly job.
func (s *Server) Aggregator() *promo.Aggregator { return s.aggregator }

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.config.Metrics.Enabled && s.metrics != nil {
		mux.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}

	// Live counter
	mux.HandleFunc("/counter", s.handleCounter)
	mux.HandleFunc("/webhook/", s.handleWebhook)

	// Tracking
	mux.HandleFunc("/r/", s.handleRedirect)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/postback/", s.handlePostback)
	mux.HandleFunc("/buyers/", s.handleBuyer)

	// Experiment
	mux.HandleFunc("/assign", s.handleAssign)
	mux.HandleFunc("/offers/choose", s.handleChooseOffer)
	mux.HandleFunc("/bonus/issue", s.handleBonusIssue)

	// Statistics
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/stats/aggregate", s.handleAggregate)
	mux.HandleFunc("/stats/runs", s.handleRuns)
	mux.HandleFunc("/stats/export", s.handleExport)
	mux.HandleFunc("/stats/import", s.handleImport)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if s.db != nil {
		checks["postgres"] = "ok"
		if err := s.db.Health(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
	}
	if s.redis != nil {
		checks["redis"] = "ok"
		if err := s.redis.Health(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{"ok": healthy, "checks": checks})
}

// ---- Responses ----

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) ok(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, reason, detail string) {
	body := map[string]interface{}{"ok": false, "error": reason}
	if detail != "" {
		body["detail"] = detail
	}
	s.writeJSON(w, status, body)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.errorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
}

// fail maps service errors to status codes. Only unexpected errors are
// logged; client errors are logged by the request middleware.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, promo.ErrInvalidInput):
		s.errorResponse(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, webhook.ErrUnknownPlatform),
		errors.Is(err, webhook.ErrMissingAmount),
		errors.Is(err, webhook.ErrInvalidAmount),
		errors.Is(err, webhook.ErrInvalidPayload):
		s.errorResponse(w, http.StatusBadRequest, webhook.Reason(err), err.Error())
	case errors.Is(err, postback.ErrUnknownSource):
		s.errorResponse(w, http.StatusBadRequest, "unknown_source", err.Error())
	case errors.Is(err, postback.ErrTokenRequired):
		s.errorResponse(w, http.StatusUnauthorized, "token_required", "")
	case errors.Is(err, postback.ErrBuyerMismatch):
		s.errorResponse(w, http.StatusForbidden, "buyer_mismatch", "")
	case errors.Is(err, storage.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "not_found", "")
	case errors.Is(err, promo.ErrAggregationInProgress):
		s.errorResponse(w, http.StatusConflict, "aggregation_in_progress", err.Error())
	case errors.Is(err, promo.ErrMonthNotClosed):
		s.errorResponse(w, http.StatusUnprocessableEntity, "month_not_closed", err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", "")
	}
}

const (
	maxJSONBody     = 1 << 20
	maxWorkbookBody = 32 << 20
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", promo.ErrInvalidInput, err)
	}
	return nil
}
