// Package observability provides the logging, metrics, and tracing surface
// threaded through the Engine, Coordinator, and Checkpointer.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track engine
// iterations, action executions, stream coalescing, and message-bus drops:
//
//	metrics := observability.NewMetrics()
//
//	metrics.RecordEngineIteration("sess-1", "completed")
//	metrics.RecordActionExecution("run", "completed", 0.4)
//	metrics.RecordStreamFlush("content", 128)
//	metrics.RecordBusDrop("agent-2", "queue_full")
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic run/agent/session ID correlation from context
//   - Sensitive data redaction (provider API keys, tokens, passwords)
//   - JSON output for production, text for development
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddAgentID(ctx, agentID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "turn completed", "iterations", n)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry spans around Engine.RunTurn,
// ActionExecutor.Execute, and ConversationStore.Append:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "penguin",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceEngineRun(ctx, "turn", agentID, sessionID)
//	defer span.End()
//
// A zero-value TraceConfig (no Endpoint) yields a no-op tracer, so tracing
// can stay wired unconditionally without requiring a collector in tests.
package observability
