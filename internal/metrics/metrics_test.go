package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobEnqueued()
	m.JobEnqueued()
	m.JobProcessed(OutcomeCompleted, 2*time.Second)
	m.JobProcessed(OutcomeFailed, time.Second)
	m.JobsRetried(3)
	m.JobsReaped(2, 1)
	m.JobsCleaned(7)
	m.LeaseLost()
	m.ProfileUpdated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.jobsRetried))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsReaped.WithLabelValues("requeued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsReaped.WithLabelValues("failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.jobsCleaned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lostLeases))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.profileUpdates))
}

func TestMaintenanceRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.MaintenanceRun("retry", nil)
	m.MaintenanceRun("retry", errors.New("db down"))
	m.MaintenanceRun("retry", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.maintenanceRuns.WithLabelValues("retry", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.maintenanceRuns.WithLabelValues("retry", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobEnqueued()
		m.JobProcessed(OutcomeCompleted, time.Second)
		m.JobsRetried(1)
		m.JobsReaped(1, 1)
		m.JobsCleaned(1)
		m.LeaseLost()
		m.ProfileUpdated()
		m.MaintenanceRun("cleanup", nil)
	})
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.JobEnqueued()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "callcoach_analysis_jobs_enqueued_total 1"), body)
}
