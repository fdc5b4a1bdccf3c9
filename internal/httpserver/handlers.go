package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/radiusdt/vector-promo/internal/middleware"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/promo"
	"github.com/radiusdt/vector-promo/internal/webhook"
	"go.uber.org/zap"
)

// ---- Live counter ----

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	snap, err := s.counter.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{"counter": snap})
}

// handleWebhook receives storefront order notifications on
// /webhook/{platform} and feeds them to the live counter.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	platform := strings.ToLower(strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhook/"), "/"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		s.metrics.RecordWebhookRejection(platform, "invalid_payload")
		s.errorResponse(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	order, err := webhook.Parse(platform, body)
	if err != nil {
		s.metrics.RecordWebhookRejection(platform, webhook.Reason(err))
		s.fail(w, r, err)
		return
	}

	snap, err := s.counter.Record(r.Context(), order.Amount, order.Platform, order.BuyerID)
	if err != nil {
		s.metrics.RecordWebhookRejection(order.Platform, "storage_error")
		s.fail(w, r, err)
		return
	}

	s.ok(w, map[string]interface{}{
		"platform": order.Platform,
		"amount":   order.Amount,
		"order_id": order.OrderID,
		"counter":  snap,
	})
}

// ---- Tracking ----

// handleRedirect serves /r/{day}/{token}. The token alone identifies the
// link; the day segment is informational.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.methodNotAllowed(w, "GET, HEAD")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/r/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		s.errorResponse(w, http.StatusNotFound, "not_found", "")
		return
	}

	res, err := s.tracking.Redirect(r.Context(), promo.ClickRequest{
		Token:     parts[1],
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		IP:        middleware.ClientIP(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.Geo.OK {
		s.logger.Debug("click geo lookup failed", zap.String("reason", res.Geo.Reason))
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.TargetURL, http.StatusFound)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req promo.EventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := s.events.Ingest(r.Context(), req)
	if errors.Is(err, promo.ErrDuplicateEvent) {
		s.ok(w, map[string]interface{}{"duplicate": true})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{
		"event":      ev,
		"conversion": string(models.KindOf(ev.EventType)),
	})
}

// handlePostback serves /postback/{source} conversion callbacks. Parameters
// come from the query string or a form body.
func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.methodNotAllowed(w, "GET, POST")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := r.ParseForm(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	source := strings.Trim(strings.TrimPrefix(r.URL.Path, "/postback/"), "/")

	res, err := s.postbacks.Handle(r.Context(), source, r.Form, middleware.Trusted(r, s.config.Auth))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{"postback": res})
}

func (s *Server) handleBuyer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/buyers/")
	if id == "" || strings.Contains(id, "/") {
		s.errorResponse(w, http.StatusNotFound, "not_found", "")
		return
	}
	sum, err := s.events.Summary(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{"buyer": sum})
}

// ---- Experiment ----

type assignRequest struct {
	BuyerID  string `json:"buyer_id"`
	Platform string `json:"platform"`
	Weekday  string `json:"weekday,omitempty"`
	Segment  string `json:"segment,omitempty"`
	Season   string `json:"season,omitempty"`
}

// fill derives the weekday from today and the segment from the buyer's
// history when the caller leaves them out.
func (s *Server) fill(r *http.Request, req *assignRequest) error {
	if req.Weekday == "" {
		req.Weekday = promo.WeekdayLabel(s.clock().In(s.loc))
	}
	if strings.TrimSpace(req.Segment) != "" {
		return nil
	}
	if strings.TrimSpace(req.BuyerID) == "" {
		req.Segment = models.SegmentNew
		return nil
	}
	seg, err := s.events.Segment(r.Context(), req.BuyerID)
	if err != nil {
		return err
	}
	req.Segment = seg
	return nil
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.BuyerID) == "" {
		s.errorResponse(w, http.StatusBadRequest, "invalid_input", "buyer_id is required")
		return
	}
	if err := s.fill(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	decision, err := s.assignments.GetOrAssign(r.Context(), promo.AssignRequest{
		BuyerID:  req.BuyerID,
		Platform: req.Platform,
		Weekday:  req.Weekday,
		Segment:  req.Segment,
		Season:   req.Season,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{
		"buyer_id": req.BuyerID,
		"weekday":  req.Weekday,
		"segment":  strings.ToLower(req.Segment),
		"price":    decision,
	})
}

func (s *Server) handleChooseOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.fill(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	offer, err := s.offers.ChooseOffer(r.Context(), req.Segment, req.Platform, req.Weekday, req.Season)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{
		"weekday": req.Weekday,
		"segment": strings.ToLower(req.Segment),
		"offer":   offer,
	})
}

func (s *Server) handleBonusIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req promo.BonusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.bonus.Issue(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{
		"bonus":        res,
		"tracking_url": res.TrackingURL,
	})
}
