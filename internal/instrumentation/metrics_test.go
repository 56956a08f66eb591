package instrumentation

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func counterPoints(t *testing.T, data metricdata.Aggregation) []metricdata.DataPoint[int64] {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected an int64 sum, got %T", data)
	}
	return sum.DataPoints
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func TestMetrics_RecordAuthAttempt(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordAuthAttempt(ctx, "outlook", "device", ResultSuccess)
	m.RecordAuthAttempt(ctx, "outlook", "device", ResultSuccess)
	m.RecordAuthAttempt(ctx, "gmail", "manual", ResultFailure)

	points := counterPoints(t, collect(t, reader)["clawmail_auth_attempts_total"])
	if len(points) != 2 {
		t.Fatalf("expected 2 series, got %d", len(points))
	}
	for _, p := range points {
		switch attr(p.Attributes, attrStrategy) {
		case "device":
			if p.Value != 2 || attr(p.Attributes, attrResult) != ResultSuccess {
				t.Errorf("unexpected device series: %v %v", p.Value, p.Attributes)
			}
		case "manual":
			if p.Value != 1 || attr(p.Attributes, attrProvider) != "gmail" {
				t.Errorf("unexpected manual series: %v %v", p.Value, p.Attributes)
			}
		default:
			t.Errorf("unexpected series %v", p.Attributes)
		}
	}
}

func TestMetrics_RecordProviderOperation(t *testing.T) {
	tests := []struct {
		name        string
		detailed    bool
		wantAccount string
	}{
		{"account omitted by default", false, ""},
		{"account with detailed labels", true, "work"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t, tt.detailed)
			m.RecordProviderOperation(context.Background(), "gmail", "read", StatusSuccess, "work", 150*time.Millisecond)

			data := collect(t, reader)
			points := counterPoints(t, data["clawmail_provider_operations_total"])
			if len(points) != 1 {
				t.Fatalf("expected 1 series, got %d", len(points))
			}
			if got := attr(points[0].Attributes, attrAccount); got != tt.wantAccount {
				t.Errorf("account label = %q, want %q", got, tt.wantAccount)
			}
			if got := attr(points[0].Attributes, attrOperation); got != "read" {
				t.Errorf("operation label = %q, want read", got)
			}

			hist, ok := data["clawmail_provider_operation_duration_seconds"].(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("expected duration histogram")
			}
			if hist.DataPoints[0].Count != 1 {
				t.Errorf("expected one observation, got %d", hist.DataPoints[0].Count)
			}
		})
	}
}

func TestMetrics_RefreshAndRegistry(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordTokenRefresh(ctx, "gmail", ResultFailure)
	m.RecordRegistryAccount(ctx, "gmail", OutcomeReady)
	m.RecordRegistryAccount(ctx, "outlook", OutcomeOmitted)
	m.RecordToolInvocation(ctx, "email_read", StatusSuccess, time.Second)

	data := collect(t, reader)
	if points := counterPoints(t, data["clawmail_token_refreshes_total"]); len(points) != 1 || points[0].Value != 1 {
		t.Errorf("unexpected refresh series: %+v", points)
	}
	if points := counterPoints(t, data["clawmail_registry_accounts_total"]); len(points) != 2 {
		t.Errorf("expected 2 registry series, got %d", len(points))
	}
	if points := counterPoints(t, data["clawmail_mcp_tool_invocations_total"]); len(points) != 1 {
		t.Errorf("expected 1 tool series, got %d", len(points))
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()

	var m *Metrics
	m.RecordAuthAttempt(ctx, "gmail", "callback", ResultSuccess)
	m.RecordTokenRefresh(ctx, "gmail", ResultSuccess)
	m.RecordProviderOperation(ctx, "gmail", "read", StatusError, "", time.Second)
	m.RecordRegistryAccount(ctx, "gmail", OutcomeReady)
	m.RecordToolInvocation(ctx, "email_send", StatusError, time.Second)

	zero := &Metrics{}
	zero.RecordAuthAttempt(ctx, "gmail", "callback", ResultSuccess)
	zero.RecordProviderOperation(ctx, "gmail", "read", StatusError, "", time.Second)
}
