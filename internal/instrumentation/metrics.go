package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrProvider  = "provider"
	attrOperation = "operation"
	attrStatus    = "status"
	attrStrategy  = "strategy"
	attrResult    = "result"
	attrOutcome   = "outcome"
	attrTool      = "tool"
	attrAccount   = "account"
)

// Metrics records clawmail's observability metrics. A nil or zero Metrics
// is a valid no-op recorder.
type Metrics struct {
	// Authentication metrics
	authAttemptsTotal   metric.Int64Counter
	tokenRefreshesTotal metric.Int64Counter

	// Provider API metrics
	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram

	// Registry metrics
	registryAccountsTotal metric.Int64Counter

	// MCP tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels adds the account id to provider operation metrics
	detailedLabels bool
}

// NewMetrics creates a Metrics instance with all instruments initialised.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error
	m.authAttemptsTotal, err = meter.Int64Counter(
		"clawmail_auth_attempts_total",
		metric.WithDescription("Total number of interactive or imported authentications"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clawmail_auth_attempts_total counter: %w", err)
	}

	m.tokenRefreshesTotal, err = meter.Int64Counter(
		"clawmail_token_refreshes_total",
		metric.WithDescription("Total number of silent token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clawmail_token_refreshes_total counter: %w", err)
	}

	m.providerOperationsTotal, err = meter.Int64Counter(
		"clawmail_provider_operations_total",
		metric.WithDescription("Total number of mail provider API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clawmail_provider_operations_total counter: %w", err)
	}

	m.providerOperationDuration, err = meter.Float64Histogram(
		"clawmail_provider_operation_duration_seconds",
		metric.WithDescription("Mail provider API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clawmail_provider_operation_duration_seconds histogram: %w", err)
	}

	m.registryAccountsTotal, err = meter.Int64Counter(
		"clawmail_registry_accounts_total",
		metric.WithDescription("Accounts processed while building the client registry, by outcome"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clawmail_registry_accounts_total counter: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"clawmail_mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clawmail_mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"clawmail_mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clawmail_mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordAuthAttempt records one authentication through strategy.
// Result is ResultSuccess or ResultFailure.
func (m *Metrics) RecordAuthAttempt(ctx context.Context, provider, strategy, result string) {
	if m == nil || m.authAttemptsTotal == nil {
		return
	}
	m.authAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrStrategy, strategy),
		attribute.String(attrResult, result),
	))
}

// RecordTokenRefresh records a silent refresh attempt.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider, result string) {
	if m == nil || m.tokenRefreshesTotal == nil {
		return
	}
	m.tokenRefreshesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrResult, result),
	))
}

// RecordProviderOperation records a mail provider API operation.
//
// Parameters:
//   - provider: provider kind (gmail, outlook)
//   - operation: read, search, send or profile
//   - status: StatusSuccess, StatusRejected or StatusError
//   - account: account id, only recorded with detailed labels
func (m *Metrics) RecordProviderOperation(ctx context.Context, provider, operation, status, account string, duration time.Duration) {
	if m == nil || m.providerOperationsTotal == nil || m.providerOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && account != "" {
		attrs = append(attrs, attribute.String(attrAccount, account))
	}

	m.providerOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.providerOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRegistryAccount records the outcome of one account during a
// registry build.
func (m *Metrics) RecordRegistryAccount(ctx context.Context, provider, outcome string) {
	if m == nil || m.registryAccountsTotal == nil {
		return
	}
	m.registryAccountsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordToolInvocation records an MCP tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}
	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
