// Package telemetry provides observability instrumentation for Pilot.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and lifecycle event publishing.
//
// # Usage
//
// Initialize telemetry once at startup and hand component loggers to each
// part of the system:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("bridge")
//	logger.WithProjectID(id).Info("run started")
//
// # Tracing
//
// Every bridge invocation opens one span (StartInvocationSpan); runs and
// plan steps open child spans. Supported exporters are "stdout", "otlp"
// (gRPC) and "none".
//
// # Metrics
//
// Metrics are served by the API server on /metrics, and optionally on a
// dedicated listener when MetricsConfig.ListenAddress is set. A Metrics
// value built with metrics disabled accepts every Record call and does
// nothing.
//
//   - pilot_http_requests_total{method,route,code}
//   - pilot_bridge_invocations_total{operation,result}
//   - pilot_runs_started_total, pilot_runs_finished_total{outcome}
//   - pilot_rollbacks_total{cause}
//   - pilot_steps_executed_total{status}
//   - pilot_policy_denials_total{operation}
//   - pilot_active_runs
//
// # Events
//
// The EventPublisher fans lifecycle events (project.created, run.started,
// run.failed, project.rolled_back, ...) out to subscribers. The engine
// subscribes a writer that appends them to the store's event log.
package telemetry
