// ABOUTME: Tests for the Prometheus metric set
// ABOUTME: Uses client_golang testutil to read counter and gauge values

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMetrics(t *testing.T) {
	m := New()

	m.RecordSessionAccepted()
	m.RecordSessionAccepted()
	m.SetActiveSessions(2)
	m.RecordSessionClosed()
	m.SetActiveSessions(1)
	m.RecordSessionForceClosed()
	m.RecordAcceptError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsForceClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptErrors))
}

func TestLoginMetrics(t *testing.T) {
	m := New()

	m.RecordLogin("ok")
	m.RecordLogin("bad_password")
	m.RecordLogin("bad_password")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("bad_password")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.logins))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSessionAccepted()
		m.RecordSessionClosed()
		m.RecordSessionForceClosed()
		m.SetActiveSessions(3)
		m.RecordAcceptError()
		m.RecordLogin("ok")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordSessionAccepted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "realmgate_sessions_accepted_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
