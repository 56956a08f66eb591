// Package instrumentation provides OpenTelemetry metrics and tracing for
// clawmail.
//
// # Metrics
//
//   - clawmail_auth_attempts_total: authentications by provider, strategy and result
//   - clawmail_token_refreshes_total: silent refreshes by provider and result
//   - clawmail_provider_operations_total: provider API calls by provider, operation and status
//   - clawmail_provider_operation_duration_seconds: provider API call durations
//   - clawmail_registry_accounts_total: registry build outcomes per account
//   - clawmail_mcp_tool_invocations_total: MCP tool calls by tool and status
//   - clawmail_mcp_tool_duration_seconds: MCP tool durations
//
// # Tracing
//
// Spans are created for credential acquisition (credentials.acquire),
// provider operations (<provider>.<operation>) and MCP tools (tool.<name>).
//
// # Configuration
//
// Instrumentation is off by default. It is configured through environment
// variables:
//   - INSTRUMENTATION_ENABLED: enable metrics and tracing
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces and metrics
//   - OTEL_TRACES_SAMPLER_ARG: sampling rate (default: 1.0)
//   - METRICS_DETAILED_LABELS: add account ids to provider metrics
//
// Passing --metrics-addr to the CLI enables instrumentation and serves the
// Prometheus endpoint through MetricsServer.
package instrumentation
