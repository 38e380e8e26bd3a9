package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/pilot/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.Logger.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	fmt.Println("Telemetry ready")
	// Output: Telemetry ready
}

// Example_metricsCollection demonstrates recording the lifecycle metrics of one run.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordInvocation("run_project", "completed", 120*time.Millisecond)
	tel.Metrics.RecordRunStarted()
	tel.Metrics.RecordStepExecution("completed", 25*time.Millisecond)
	tel.Metrics.RecordRunFinished("failed", 80*time.Millisecond)
	tel.Metrics.RecordRollback("failed")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventFiltering demonstrates synchronous event delivery with filters.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = tel.Events.PublishRunStarted("p-1", "run-1", "main", 0)
	_ = tel.Events.PublishRunFinished("p-1", "run-1", "failed", time.Second, "boom")
	_ = tel.Events.PublishRolledBack("p-1", "run-1", 2)

	// Output:
	// Important event: run.failed
	// Important event: project.rolled_back
}

// Example_tracedOperation demonstrates tracing one run with its span helpers.
func Example_tracedOperation() {
	tel := telemetry.NewNopTelemetry()

	ctx, span := tel.Tracer.StartRunSpan(context.Background(), "p-1", "run-1")
	telemetry.FromContext(ctx).WithRunID("run-1").Info("Running")
	telemetry.RecordSuccess(span)
	span.End()

	fmt.Println("Run traced")
	// Output: Run traced
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Metrics.ListenAddress = ":9090"

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}
