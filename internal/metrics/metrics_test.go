package metrics

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDecision(t *testing.T) {
	m := New()
	m.ObserveDecision("verify", "match", 0.3, 10, 2, 5*time.Millisecond)
	m.ObserveDecision("verify", "no_match", math.Inf(1), 0, 0, time.Millisecond)
	m.ObserveDecision("duplicate", "no_match", 0.9, 4, 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionOutcome.WithLabelValues("verify", "match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionOutcome.WithLabelValues("verify", "no_match")))
	assert.Equal(t, 14.0, testutil.ToFloat64(m.ScannedCandidates))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SkippedCandidates))
	// The +Inf distance is not observed.
	assert.Equal(t, 2, testutil.CollectAndCount(m.DecisionDistance))
}

func TestIncrementers(t *testing.T) {
	m := New()
	m.IncrementEnrollment("registered")
	m.IncrementEnrollment("registered")
	m.IncrementEnrollment("duplicate")
	m.IncrementDecisionError("verify")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Enrollments.WithLabelValues("registered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Enrollments.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionOutcome.WithLabelValues("verify", "error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("verify", "match", 0.1, 1, 0, time.Millisecond)
		m.IncrementEnrollment("registered")
		m.IncrementDecisionError("duplicate")
	})
}

func TestInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.IncrementEnrollment("registered")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Enrollments.WithLabelValues("registered")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDecision("verify", "match", 0.2, 3, 0, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `facegate_decisions_total{outcome="match",policy="verify"} 1`), body)
	assert.Contains(t, body, "facegate_scan_candidates_total 3")
	assert.Contains(t, body, "go_goroutines")
}
