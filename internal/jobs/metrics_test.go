package jobmetrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	clock := time.Date(2024, 7, 1, 2, 0, 0, 0, time.UTC)
	metrics.now = func() time.Time { return clock }
	boom := errors.New("gotenberg unavailable")
	skip := fmt.Errorf("bad payload: %w", asynq.SkipRetry)

	require.NoError(t, metrics.Track("statement:render").End(nil))
	require.ErrorIs(t, metrics.Track("statement:render").End(boom), boom)
	require.ErrorIs(t, metrics.Track("statement:render").End(skip), asynq.SkipRetry)
	metrics.AddBytes("statement:render", 2048)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("statement:render", StatusSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("statement:render", StatusFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("statement:render", StatusSkipped)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("statement:render")))
	require.Equal(t, 2048.0, testutil.ToFloat64(metrics.bytes.WithLabelValues("statement:render")))
	require.Equal(t, float64(clock.Unix()), testutil.ToFloat64(metrics.lastSuccess.WithLabelValues("statement:render")))
}

func TestStatus(t *testing.T) {
	require.Equal(t, StatusSuccess, Status(nil))
	require.Equal(t, StatusSkipped, Status(fmt.Errorf("x: %w", asynq.SkipRetry)))
	require.Equal(t, StatusFailure, Status(errors.New("x")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")

	require.ErrorIs(t, metrics.Track("x").End(boom), boom)
	metrics.AddBytes("x", 10)
}
