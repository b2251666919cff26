package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/metrics"
)

var _ leave.Recorder = (*metrics.Metrics)(nil)

func TestMetrics_Transitions(t *testing.T) {
	m := metrics.New()
	m.ObserveTransition("apply", "ok", 20*time.Millisecond)
	m.ObserveTransition("apply", "ok", 30*time.Millisecond)
	m.ObserveTransition("apply", "denied", time.Millisecond)
	m.LedgerRetry("apply")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	counts := map[string]int{}
	for _, f := range families {
		counts[f.GetName()] = len(f.GetMetric())
	}
	assert.Equal(t, 2, counts["leave_transitions_total"])
	assert.Equal(t, 1, counts["leave_ledger_retries_total"])
	assert.Equal(t, 1, counts["leave_transition_seconds"])

	n, err := testutil.GatherAndCount(m.Registry(), "leave_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.ObserveHTTP("POST", "/api/leave", 201)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `leave_http_requests_total{method="POST",route="/api/leave",status="201"} 1`)
}
