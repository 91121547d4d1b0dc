// Package telemetry provides OpenTelemetry integration for commcellctl.
//
// This package manages the lifecycle of OpenTelemetry tracing and provides
// instrumentation for Commcell API calls issued by the CLI.
//
// # Key Components
//
// Manager: Handles OpenTelemetry initialization, lifecycle management, and shutdown.
// The Manager centralizes TracerProvider configuration and ensures proper resource cleanup.
//
// Attributes: Centralized span attribute constants organized by category (HTTP, Commcell).
// Using constants prevents typos and enables IDE autocomplete.
//
// Error Templates: Reusable error message templates for common failure scenarios with
// actionable troubleshooting steps.
//
// # Usage Example
//
// Initializing telemetry:
//
//	cfg := telemetry.Config{
//	    Enabled:        true,
//	    Endpoint:       "localhost:4317",
//	    Insecure:       true,
//	    SamplingRate:   1.0,
//	    ServiceName:    "commcellctl",
//	    ServiceVersion: "1.0.0",
//	    CommServe:      "commserve01",
//	}
//	manager := telemetry.NewManager(cfg)
//	if err := manager.Initialize(ctx); err != nil {
//	    log.Fatalf("Failed to initialize telemetry: %v", err)
//	}
//	defer manager.Shutdown(ctx)
//
// The resulting TracerProvider is injected into the SDK client with
// commcell.WithTracerProvider, so transport spans carry the resource
// attributes configured here.
//
// # Design Patterns
//
// Graceful Degradation: If OpenTelemetry initialization fails, the manager
// disables tracing and allows the application to continue without telemetry.
// This ensures monitoring failures don't impact core functionality.
//
// # Sampling Strategies
//
// The package supports two sampling strategies:
//
//   - AlwaysSample: Sample all traces (SamplingRate = 1.0)
//   - TraceIDRatioBased: Sample based on trace ID ratio (SamplingRate < 1.0)
//
// Use lower sampling rates against busy CommServes to reduce overhead and
// storage costs.
package telemetry
