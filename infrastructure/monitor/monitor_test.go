package monitor

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTick(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordTick("", 120*time.Millisecond)
	m.RecordTick("", 80*time.Millisecond)
	m.RecordTick("transport", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("transport")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.tickLatency))
}

func TestObserveFetch(t *testing.T) {
	m := New(DefaultConfig())
	m.ObserveFetch("coinut_orderbook", "", 10*time.Millisecond)
	m.ObserveFetch("coinut_orderbook", "decode", 10*time.Millisecond)
	m.ObserveFetch("coinut_orderbook", "decode", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues("coinut_orderbook", "decode")))
}

func TestGaugesAndHandler(t *testing.T) {
	m := New(Config{Namespace: "t", Subsystem: "opt"})
	m.UpdateMarket(40000, 1200, 0.1, 0.02, 0.25)
	m.UpdateAnalytics(0.65, 0.55, 7800, -30, 5000)
	m.RecordSolverIterations(4)

	assert.Equal(t, 40000.0, testutil.ToFloat64(m.spot))
	assert.Equal(t, 0.65, testutil.ToFloat64(m.impliedVol))
	assert.Equal(t, -30.0, testutil.ToFloat64(m.greeks.WithLabelValues("theta")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "t_opt_spot_price 40000")
	assert.Contains(t, string(body), `t_opt_greek{name="delta"} 0.55`)
}
