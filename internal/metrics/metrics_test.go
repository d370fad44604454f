package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOpCountsByResult(t *testing.T) {
	c := New()
	c.ObserveOp("submit_prediction", "ok", time.Millisecond)
	c.ObserveOp("submit_prediction", "ok", time.Millisecond)
	c.ObserveOp("submit_prediction", "stream_locked", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.opsTotal.WithLabelValues("submit_prediction", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opsTotal.WithLabelValues("submit_prediction", "stream_locked")))
}

func TestEscrowCounters(t *testing.T) {
	c := New()
	c.Staked(100)
	c.Released("reward", 60)
	c.Released("tip", 5)

	assert.Equal(t, 100.0, testutil.ToFloat64(c.stakedTotal))
	assert.Equal(t, 60.0, testutil.ToFloat64(c.paidOutTotal.WithLabelValues("reward")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := New()
	c.Event("stream_created")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cyphercast_events_emitted_total{type="stream_created"} 1`)
}
