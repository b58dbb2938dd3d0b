package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every counter/histogram the kernel's components publish.
// A single instance is constructed once per process and threaded through
// the components that need it.
type Metrics struct {
	TaskDuration          metric.Float64Histogram
	TaskRetries           metric.Int64Counter
	TaskFailures          metric.Int64Counter
	ScheduleRuns          metric.Int64Counter
	Cancellations         metric.Int64Counter
	ContractViolations    metric.Int64Counter
	CircuitTransitions    metric.Int64Counter
	BroadcastDrops        metric.Int64Counter
	BroadcastDelivered    metric.Int64Counter
	WorkerAcquireTimeouts metric.Int64Counter
}

// NewMetrics registers the kernel's instrument set against the global
// meter provider (which may be a no-op provider if InitMeter degraded, in
// which case every Add/Record below is a harmless no-op).
func NewMetrics() Metrics {
	meter := otel.Meter("agentkernel")

	taskDuration, _ := meter.Float64Histogram("agentkernel_task_duration_seconds")
	taskRetries, _ := meter.Int64Counter("agentkernel_task_retries_total")
	taskFailures, _ := meter.Int64Counter("agentkernel_task_failures_total")
	scheduleRuns, _ := meter.Int64Counter("agentkernel_schedule_runs_total")
	cancellations, _ := meter.Int64Counter("agentkernel_cancellations_total")
	contractViolations, _ := meter.Int64Counter("agentkernel_contract_violations_total")
	circuitTransitions, _ := meter.Int64Counter("agentkernel_circuit_transitions_total")
	broadcastDrops, _ := meter.Int64Counter("agentkernel_broadcast_drops_total")
	broadcastDelivered, _ := meter.Int64Counter("agentkernel_broadcast_delivered_total")
	workerAcquireTimeouts, _ := meter.Int64Counter("agentkernel_worker_acquire_timeouts_total")

	return Metrics{
		TaskDuration:          taskDuration,
		TaskRetries:           taskRetries,
		TaskFailures:          taskFailures,
		ScheduleRuns:          scheduleRuns,
		Cancellations:         cancellations,
		ContractViolations:    contractViolations,
		CircuitTransitions:    circuitTransitions,
		BroadcastDrops:        broadcastDrops,
		BroadcastDelivered:    broadcastDelivered,
		WorkerAcquireTimeouts: workerAcquireTimeouts,
	}
}

// Noop returns a Metrics value safe to use when no meter provider was
// configured (e.g. inside unit tests), backed by the global otel no-op
// meter.
func Noop() Metrics {
	return NewMetrics()
}

// background is a convenience for fire-and-forget metric recording on
// paths that don't already carry a context.
var background = context.Background()
