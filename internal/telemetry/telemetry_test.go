package telemetry_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"libracirc/internal/circulation"
	"libracirc/internal/library"
	"libracirc/internal/store/storetest"
	"libracirc/internal/telemetry"
)

func Test_NewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := telemetry.NewLogger(&buf, "json", "warn")
	logger.Info("hidden")
	logger.Warn("shown", "copy_id", 7)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"copy_id":7`)

	buf.Reset()
	telemetry.NewLogger(&buf, "text", "bogus").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func Test_SetupTracing_Without_Endpoint_Is_A_Noop(t *testing.T) {
	shutdown, err := telemetry.SetupTracing(context.Background(), "libracirc-test", "")

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func Test_SetupTracing_With_Endpoint(t *testing.T) {
	shutdown, err := telemetry.SetupTracing(context.Background(), "libracirc-test", "http://127.0.0.1:1/v1/traces")

	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func Test_SetupMetrics_Without_Endpoint_Or_Reader_Is_A_Noop(t *testing.T) {
	shutdown, err := telemetry.SetupMetrics(context.Background(), "libracirc-test", "")

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func Test_SetupMetrics_Records_Sweeper_Instruments(t *testing.T) {
	// setup
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	shutdown, err := telemetry.SetupMetrics(ctx, "libracirc-test", "", reader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	st := storetest.Open(t)
	now := time.Now().UTC()
	svc, err := circulation.NewService(st, circulation.WithClock(library.ClockFunc(func() time.Time { return now })))
	require.NoError(t, err)
	book, _ := storetest.AddBook(t, st, "Solaris", 1)
	_, err = svc.Reserve(ctx, book.ID, storetest.AddUser(t, st).ID)
	require.NoError(t, err)
	now = now.Add(library.DefaultReservationTTL + time.Hour)

	sweeper, err := circulation.NewSweeper(svc, time.Minute)
	require.NoError(t, err)

	// act
	report, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	// assert
	assert.Equal(t, 1, report.Expired)
	sum, ok := findMetric(rm, "circulation.sweep.expired").(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	transitions, ok := findMetric(rm, "circulation.transitions").(metricdata.Sum[int64])
	require.True(t, ok)
	assert.NotEmpty(t, transitions.DataPoints)
}

func findMetric(rm metricdata.ResourceMetrics, name string) metricdata.Aggregation {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	return nil
}

func Test_Setup_Shuts_Down_Both_Providers(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "libracirc-test", "", "")

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
