package httpserver

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/radiusdt/vector-promo/internal/export"
	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/radiusdt/vector-promo/internal/promo"
)

// handleStats lists statistics rows. Every query parameter is optional.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	filter := models.StatsFilter{
		Segment:  strings.ToLower(q.Get("segment")),
		Platform: strings.ToLower(q.Get("platform")),
		Weekday:  q.Get("weekday"),
		Season:   strings.ToLower(q.Get("season")),
	}
	if k := q.Get("kind"); k != "" {
		kind, err := promo.ParseKind(k)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter.Kind = kind
	}
	if m := q.Get("month"); m != "" {
		month, err := promo.ParseMonth(m)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter.Month = month.String()
	}

	rows, err := s.stats.Query(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []*models.StatsCell{}
	}
	s.ok(w, map[string]interface{}{"count": len(rows), "rows": rows})
}

// handleAggregate recomputes one closed month. month defaults to the previous
// month and kind to both kinds.
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	q := r.URL.Query()

	month := promo.MonthOf(s.clock(), s.loc).Previous()
	if m := q.Get("month"); m != "" {
		var err error
		if month, err = promo.ParseMonth(m); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	var (
		runs []*models.AggregationRun
		err  error
	)
	switch kind := q.Get("kind"); kind {
	case "", "all":
		runs, err = s.aggregator.AggregateAll(r.Context(), month)
	default:
		var k models.StatsKind
		if k, err = promo.ParseKind(kind); err == nil {
			var run *models.AggregationRun
			if run, err = s.aggregator.AggregateMonth(r.Context(), k, month); err == nil {
				runs = append(runs, run)
			}
		}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{"month": month.String(), "runs": runs})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	runs, err := s.stats.ListRuns(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []*models.AggregationRun{}
	}
	s.ok(w, map[string]interface{}{"runs": runs})
}

// handleExport streams the statistics workbook. The workbook is rendered in
// memory first so a failure still yields a JSON error.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	name := "all"
	month := r.URL.Query().Get("month")
	if month != "" {
		m, err := promo.ParseMonth(month)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		month = m.String()
		name = month
	}

	var buf bytes.Buffer
	if err := s.exporter.Export(r.Context(), &buf, month); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": "promo_stats_" + name + ".xlsx",
	}))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleImport accepts the workbook as a raw body or as the "file" field of
// a multipart form.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWorkbookBody)

	var src io.Reader = r.Body
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid_input", "multipart field \"file\" is required")
			return
		}
		defer file.Close()
		src = file
	}

	res, err := s.exporter.Import(r.Context(), src)
	if err != nil {
		if res == nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid_workbook", err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]interface{}{"runs": res.Runs, "skipped": res.Skipped})
}
