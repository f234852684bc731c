package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewIsIndependent(t *testing.T) {
	// Two instances must not clash on registration.
	a := New()
	b := New()

	a.DetectEvents.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(a.DetectEvents))
	require.Equal(t, float64(0), testutil.ToFloat64(b.DetectEvents))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.KLines.WithLabelValues("MEXC").Add(42)
	m.HTTPRequests.WithLabelValues("/login", "200").Inc()
	m.ObserveSessions(func() int { return 3 })

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `tradingcat_klines_total{stock_exchange="MEXC"} 42`)
	require.Contains(t, string(body), `tradingcat_http_requests_total{code="200",route="/login"} 1`)
	require.Contains(t, string(body), "tradingcat_sessions_online 3")
}
