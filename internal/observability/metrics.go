package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting engine metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Engine iterations and stop-condition outcomes
//   - Model-gateway request performance and token usage
//   - Action execution patterns and latencies
//   - Stream coalescing behavior
//   - MessageBus and EventBus backpressure (drops, queue-full)
//   - Active agent counts for capacity planning
type Metrics struct {
	// EngineIterations counts RunTask iterations by session and outcome.
	// Labels: session_id, outcome (completed|cancelled|failed|continuing)
	EngineIterations *prometheus.CounterVec

	// GatewayRequestDuration measures ModelGateway.Stream latency in seconds.
	// Labels: provider, model
	GatewayRequestDuration *prometheus.HistogramVec

	// GatewayRequestCounter counts gateway requests by provider/model/status.
	// Labels: provider, model, status (success|error|retried)
	GatewayRequestCounter *prometheus.CounterVec

	// GatewayTokensUsed tracks token consumption by provider/model/kind.
	// Labels: provider, model, kind (prompt|completion)
	GatewayTokensUsed *prometheus.CounterVec

	// ActionExecutions counts action executions by name and status.
	// Labels: action_name, status (completed|failed|cancelled)
	ActionExecutions *prometheus.CounterVec

	// ActionExecutionDuration measures action execution time in seconds.
	// Labels: action_name
	ActionExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component (engine|gateway|action|bus), error_kind
	ErrorCounter *prometheus.CounterVec

	// ActiveAgents is a gauge tracking currently active agents.
	ActiveAgents prometheus.Gauge

	// AgentRunDuration measures a RunTask's wall-clock duration in seconds.
	AgentRunDuration prometheus.Histogram

	// StreamFlushes counts StreamMultiplexer coalesced emissions by kind.
	// Labels: kind (content|reasoning)
	StreamFlushes *prometheus.CounterVec

	// StreamFlushBytes measures the size of each coalesced flush.
	// Labels: kind
	StreamFlushBytes *prometheus.HistogramVec

	// StreamCancellations counts stream.cancelled events.
	StreamCancellations prometheus.Counter

	// BusDrops counts MessageBus/EventBus deliveries dropped or refused.
	// Labels: recipient_id, reason (queue_full|dropped_oldest|undeliverable)
	BusDrops *prometheus.CounterVec

	// CheckpointsCreated counts Checkpointer snapshots by kind.
	// Labels: kind (manual|auto)
	CheckpointsCreated *prometheus.CounterVec

	// CheckpointsPruned counts checkpoints removed by the cleanup pass.
	CheckpointsPruned prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics. This should be
// called once at Runtime construction.
func NewMetrics() *Metrics {
	return &Metrics{
		EngineIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_engine_iterations_total",
				Help: "Total number of Engine.RunTask iterations by session and outcome",
			},
			[]string{"session_id", "outcome"},
		),

		GatewayRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "penguin_gateway_request_duration_seconds",
				Help:    "Duration of ModelGateway.Stream calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		GatewayRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_gateway_requests_total",
				Help: "Total number of gateway requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		GatewayTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_gateway_tokens_total",
				Help: "Total number of tokens used by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),

		ActionExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_action_executions_total",
				Help: "Total number of action executions by name and status",
			},
			[]string{"action_name", "status"},
		),

		ActionExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "penguin_action_execution_duration_seconds",
				Help:    "Duration of action executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"action_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		ActiveAgents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "penguin_active_agents",
				Help: "Current number of agents in the active state",
			},
		),

		AgentRunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "penguin_agent_run_duration_seconds",
				Help:    "Duration of a RunTask call in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),

		StreamFlushes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_stream_flushes_total",
				Help: "Total number of coalesced StreamMultiplexer emissions by kind",
			},
			[]string{"kind"},
		),

		StreamFlushBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "penguin_stream_flush_bytes",
				Help:    "Size in bytes of each coalesced stream flush",
				Buckets: []float64{16, 64, 128, 256, 512, 1024, 4096},
			},
			[]string{"kind"},
		),

		StreamCancellations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "penguin_stream_cancellations_total",
				Help: "Total number of stream.cancelled events",
			},
		),

		BusDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_bus_drops_total",
				Help: "Total number of MessageBus/EventBus deliveries dropped or refused",
			},
			[]string{"recipient_id", "reason"},
		),

		CheckpointsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "penguin_checkpoints_created_total",
				Help: "Total number of checkpoints created by kind",
			},
			[]string{"kind"},
		),

		CheckpointsPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "penguin_checkpoints_pruned_total",
				Help: "Total number of checkpoints removed by the cleanup pass",
			},
		),
	}
}

// RecordEngineIteration records one RunTask iteration's outcome.
func (m *Metrics) RecordEngineIteration(sessionID, outcome string) {
	m.EngineIterations.WithLabelValues(sessionID, outcome).Inc()
}

// RecordGatewayRequest records metrics for a ModelGateway.Stream call.
func (m *Metrics) RecordGatewayRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.GatewayRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.GatewayRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.GatewayTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.GatewayTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordActionExecution records metrics for one ActionExecutor.Execute call.
func (m *Metrics) RecordActionExecution(actionName, status string, durationSeconds float64) {
	m.ActionExecutions.WithLabelValues(actionName, status).Inc()
	m.ActionExecutionDuration.WithLabelValues(actionName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// AgentStarted increments the active-agent gauge.
func (m *Metrics) AgentStarted() {
	m.ActiveAgents.Inc()
}

// AgentStopped decrements the active-agent gauge and records run duration.
func (m *Metrics) AgentStopped(durationSeconds float64) {
	m.ActiveAgents.Dec()
	m.AgentRunDuration.Observe(durationSeconds)
}

// RecordStreamFlush records one coalesced emission from the StreamMultiplexer.
func (m *Metrics) RecordStreamFlush(kind string, bytes int) {
	m.StreamFlushes.WithLabelValues(kind).Inc()
	m.StreamFlushBytes.WithLabelValues(kind).Observe(float64(bytes))
}

// RecordStreamCancellation records a stream.cancelled event.
func (m *Metrics) RecordStreamCancellation() {
	m.StreamCancellations.Inc()
}

// RecordBusDrop records a MessageBus/EventBus delivery that was dropped or
// refused (queue_full, dropped_oldest, undeliverable).
func (m *Metrics) RecordBusDrop(recipientID, reason string) {
	m.BusDrops.WithLabelValues(recipientID, reason).Inc()
}

// RecordCheckpoint records a checkpoint creation by kind (manual|auto).
func (m *Metrics) RecordCheckpoint(kind string) {
	m.CheckpointsCreated.WithLabelValues(kind).Inc()
}

// RecordCheckpointPruned records one checkpoint removed by the cleanup pass.
func (m *Metrics) RecordCheckpointPruned() {
	m.CheckpointsPruned.Inc()
}
