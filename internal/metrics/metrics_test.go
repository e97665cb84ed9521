package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CountersMove(t *testing.T) {
	m := New()

	m.HashReceived()
	m.HashReceived()
	m.HashDropped("invalid")
	m.FetchOutcome("timeout")
	m.CallDecoded("swapExactETHForTokens")
	m.Broadcast("status")
	m.SetUpstreamConnected(true)
	m.SetSubscribers(3)
	m.InflightInc()
	m.InflightInc()
	m.InflightDec()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.hashesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hashesDropped.WithLabelValues("invalid")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.hashesDropped.WithLabelValues("overload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodedCalls.WithLabelValues("swapExactETHForTokens")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamConnected))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.subscribers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))

	m.SetUpstreamConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.upstreamConnected))
}

func Test_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.HashReceived()
		m.HashDropped("overload")
		m.FetchOutcome("ok")
		m.TransactionMonitored()
		m.CallDecoded("WETH")
		m.Broadcast("raw-transaction")
		m.BroadcastDropped()
		m.ReconnectAttempt()
		m.SinkDropped()
		m.SetUpstreamConnected(true)
		m.SetSubscribers(1)
		m.InflightInc()
		m.InflightDec()
	})
}

func Test_HandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ReconnectAttempt()

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "mempool_relay_reconnect_attempts_total 1"))
}
