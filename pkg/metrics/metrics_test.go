package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRetrieval("full", 0.001, 3, nil)
	m.ObserveRetrieval("full", 0.001, 0, nil)
	m.ObserveRetrieval("topk", 0.001, 0, errors.New("boom"))
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	m.ObserveSpanEdit("discarded")
	m.ObserveGroupBuild(0.01, 4)
	m.ObservePatternPass(0.2, 7)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalsTotal.WithLabelValues("full", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalsTotal.WithLabelValues("full", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalsTotal.WithLabelValues("topk", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpanEditsTotal.WithLabelValues("discarded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.GroupsTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PatternsRetained))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRetrieval("full", 0, 0, nil)
		m.ObserveCache(true)
		m.ObserveSpanEdit("inserted")
		m.ObserveGroupBuild(0, 0)
		m.ObservePatternPass(0, 0)
		m.SessionOpened()
		m.SessionClosed()
		m.EventDropped()
	})
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveSpanEdit("inserted")

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `span_edits_total{outcome="inserted"} 1`))
}
