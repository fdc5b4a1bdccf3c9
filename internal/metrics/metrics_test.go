package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOrder("smartstore", 3)
		m.RecordAssignment("cold_start", "A")
		m.RecordAggregation("price", "ok", 4, time.Second)
	})
}

func TestMetricsAreIndependentPerInstance(t *testing.T) {
	a := NewMetrics("vector_promo")
	b := NewMetrics("vector_promo")

	a.RecordOrder("smartstore", 1)
	a.RecordOrder("smartstore", 2)
	b.RecordOrder("smartstore", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.OrdersRecorded.WithLabelValues("smartstore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.OrdersRecorded.WithLabelValues("smartstore")))
	assert.Equal(t, 7.0, testutil.ToFloat64(b.BuyingNow))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics("vector_promo")
	m.RecordRedirect("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `vector_promo_redirects_total{outcome="ok"} 1`)
}
