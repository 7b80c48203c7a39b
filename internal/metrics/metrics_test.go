package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectTracker(t *testing.T) {
	before := testutil.ToFloat64(StreamReconnects)
	var tr ReconnectTracker
	tr.Observe(2)
	tr.Observe(2)
	tr.Observe(5)
	assert.Equal(t, before+5, testutil.ToFloat64(StreamReconnects))
}

func TestSetBoolAndHandler(t *testing.T) {
	SetBool(BreakerActive, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(BreakerActive))
	SetBool(BreakerActive, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(BreakerActive))

	BlockedTotal.WithLabelValues("frequency").Inc()
	ObserveTick(time.Now().Add(-time.Second), time.Now())
	Register()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `perpflow_blocked_total{kind="frequency"}`))
	assert.Contains(t, body, "perpflow_tick_duration_seconds_count")
}
