package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the promo service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Live counter
	OrdersRecorded    *prometheus.CounterVec
	WebhookRejections *prometheus.CounterVec
	BuyingNow         prometheus.Gauge

	// Experiment
	Assignments  *prometheus.CounterVec
	OfferChoices *prometheus.CounterVec

	// Tracking
	LinksIssued    *prometheus.CounterVec
	Redirects      *prometheus.CounterVec
	GeoLookups     *prometheus.CounterVec
	BusinessEvents *prometheus.CounterVec

	// Aggregation
	AggregationRuns     *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec
	StatsRows           *prometheus.GaugeVec
	SkippedRecords      *prometheus.CounterVec

	// HTTP
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry that also carries the
// Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OrdersRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_recorded_total",
				Help:      "Orders appended to the live counter",
			},
			[]string{"platform"},
		),
		WebhookRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_rejections_total",
				Help:      "Order webhooks rejected before recording",
			},
			[]string{"platform", "reason"},
		),
		BuyingNow: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "counter_buying_now",
				Help:      "Orders inside the live counter window at last snapshot",
			},
		),
		Assignments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_assignments_total",
				Help:      "Price variant lookups by decision source",
			},
			[]string{"source", "variant"},
		),
		OfferChoices: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offer_choices_total",
				Help:      "Offer decisions by source and offer code",
			},
			[]string{"source", "offer_code"},
		),
		LinksIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "links_issued_total",
				Help:      "Tracking links issued",
			},
			[]string{"day", "platform"},
		),
		Redirects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redirects_total",
				Help:      "Tracking link redirects by outcome",
			},
			[]string{"outcome"},
		),
		GeoLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geo_lookups_total",
				Help:      "Click geo enrichment attempts by outcome",
			},
			[]string{"outcome"},
		),
		BusinessEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "business_events_total",
				Help:      "Business events ingested by type",
			},
			[]string{"event_type"},
		),
		AggregationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_runs_total",
				Help:      "Monthly aggregation runs by kind and status",
			},
			[]string{"kind", "status"},
		),
		AggregationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Monthly aggregation run duration",
				Buckets:   []float64{.05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"kind"},
		),
		StatsRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stats_rows",
				Help:      "Statistics rows written by the last run per kind",
			},
			[]string{"kind"},
		),
		SkippedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_skipped_records_total",
				Help:      "Malformed records skipped during aggregation",
			},
			[]string{"source"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"bucket"},
		),
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordOrder(platform string, buyingNow int) {
	if m == nil {
		return
	}
	m.OrdersRecorded.WithLabelValues(platform).Inc()
	m.BuyingNow.Set(float64(buyingNow))
}

func (m *Metrics) RecordWebhookRejection(platform, reason string) {
	if m == nil {
		return
	}
	m.WebhookRejections.WithLabelValues(platform, reason).Inc()
}

func (m *Metrics) RecordAssignment(source, variant string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(source, variant).Inc()
}

func (m *Metrics) RecordOfferChoice(source, offerCode string) {
	if m == nil {
		return
	}
	m.OfferChoices.WithLabelValues(source, offerCode).Inc()
}

func (m *Metrics) RecordLinkIssued(day, platform string) {
	if m == nil {
		return
	}
	m.LinksIssued.WithLabelValues(day, platform).Inc()
}

func (m *Metrics) RecordRedirect(outcome string) {
	if m == nil {
		return
	}
	m.Redirects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordGeoLookup(outcome string) {
	if m == nil {
		return
	}
	m.GeoLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordBusinessEvent(eventType string) {
	if m == nil {
		return
	}
	m.BusinessEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordAggregation(kind, status string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.AggregationRuns.WithLabelValues(kind, status).Inc()
	m.AggregationDuration.WithLabelValues(kind).Observe(d.Seconds())
	if status == "ok" {
		m.StatsRows.WithLabelValues(kind).Set(float64(rows))
	}
}

func (m *Metrics) RecordSkipped(source string) {
	if m == nil {
		return
	}
	m.SkippedRecords.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordRateLimitHit(bucket string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(bucket).Inc()
}
