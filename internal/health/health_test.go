package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	return testutil.ToFloat64(g)
}

func TestCheckerReportAllHealthy(t *testing.T) {
	c := NewChecker(time.Second,
		Check{Name: "broker", Fn: func(ctx context.Context) error { return nil }},
		Check{Name: "storage", Fn: func(ctx context.Context) error { return nil }},
	)

	report := c.Report(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, CheckResult{Status: StatusHealthy}, report.Checks["broker"])
	assert.Equal(t, CheckResult{Status: StatusHealthy}, report.Checks["storage"])
}

func TestCheckerReportOneFailureMarksUnhealthy(t *testing.T) {
	c := NewChecker(time.Second,
		Check{Name: "broker", Fn: func(ctx context.Context) error { return nil }},
		Check{Name: "sandbox", Fn: func(ctx context.Context) error { return errors.New("docker daemon unreachable") }},
	)

	report := c.Report(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusHealthy, report.Checks["broker"].Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["sandbox"].Status)
	assert.Equal(t, "docker daemon unreachable", report.Checks["sandbox"].Message)
}

func TestCheckerReportWithNoChecksIsHealthy(t *testing.T) {
	c := NewChecker(time.Second)
	report := c.Report(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Checks)
}

func TestHeartbeatWritesFileImmediatelyAndOnTick(t *testing.T) {
	dir := t.TempDir()
	hb := NewHeartbeat(dir, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	path := filepath.Join(dir, "heartbeat")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond, "heartbeat file should appear promptly")

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		second, err := os.ReadFile(path)
		return err == nil && string(second) != string(first)
	}, time.Second, 5*time.Millisecond, "heartbeat file should be rewritten on tick")

	cancel()
	<-done
}

func TestHeartbeatStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	hb := NewHeartbeat(dir, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop after context cancel")
	}
}

func TestMetricsRecordingIsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetQueueDepth(5)
		m.SetActiveWorkers(1)
		m.RecordTaskOutcome("completed")
		m.RecordProducerPass("ok")
		m.RecordCompression("compressed")
	})
}

func TestMetricsRecordingUpdatesCollectors(t *testing.T) {
	m := NewMetrics()
	m.SetQueueDepth(3)
	m.SetActiveWorkers(1)
	m.RecordTaskOutcome("completed")
	m.RecordProducerPass("ok")
	m.RecordCompression("skipped")

	assert.Equal(t, float64(3), testGaugeValue(t, m.QueueDepth))
	assert.Equal(t, float64(1), testGaugeValue(t, m.ActiveWorkers))
}
