package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tiersched/pkg/logx"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.JobQueued()
	m.JobStarted()
	m.JobDone()
	m.JobFinished("success", time.Second)
	m.RollbackFailed()
	m.TierDispatched(3)
	m.TierDrained(time.Second)
}

func TestMetrics_Counts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobQueued()
	m.JobQueued()
	m.JobStarted()
	m.JobFinished("success", 10*time.Millisecond)
	m.JobFinished("failed", 10*time.Millisecond)
	m.JobFinished("failed", 10*time.Millisecond)
	m.RollbackFailed()
	m.TierDispatched(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsQueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollbacksFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TiersDispatched))

	m.JobDone()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.JobsInFlight))

	// Registering twice on one registry must fail loudly.
	assert.Panics(t, func() { New(reg) })
}

func TestServer_ServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.JobQueued()

	srv := NewServer("127.0.0.1:0", reg, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "tiersched_jobs_queued_total 1"))

	resp, err = http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
