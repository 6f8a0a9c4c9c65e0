package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "rewryte"

// Metrics holds all rewryte metric instruments.
type Metrics struct {
	TasksCreated    metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	DispatchRetries metric.Int64Counter
	CallbackReplays metric.Int64Counter
	TriggerDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksCreated, err = meter.Int64Counter("rewryte.tasks.created",
		metric.WithDescription("Number of tasks created"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("rewryte.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("rewryte.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.DispatchRetries, err = meter.Int64Counter("rewryte.dispatch.retries",
		metric.WithDescription("Number of dispatch attempts retried"))
	if err != nil {
		return nil, err
	}

	m.CallbackReplays, err = meter.Int64Counter("rewryte.callbacks.replays",
		metric.WithDescription("Number of duplicate result callbacks absorbed"))
	if err != nil {
		return nil, err
	}

	m.TriggerDuration, err = meter.Float64Histogram("rewryte.trigger.duration_seconds",
		metric.WithDescription("Workflow trigger duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
