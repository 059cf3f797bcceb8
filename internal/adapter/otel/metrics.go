package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskloom"

// Metrics holds all TaskLoom metric instruments.
type Metrics struct {
	EventsAppended       metric.Int64Counter
	ToolCalls            metric.Int64Counter
	ToolCallsDenied      metric.Int64Counter
	InteractionsOpened   metric.Int64Counter
	InteractionsResolved metric.Int64Counter
	RebaseSignals        metric.Int64Counter
	ToolCallDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsAppended, err = meter.Int64Counter("taskloom.events.appended",
		metric.WithDescription("Number of events committed to the log"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("taskloom.toolcalls",
		metric.WithDescription("Number of tool calls that reached the gate"))
	if err != nil {
		return nil, err
	}

	m.ToolCallsDenied, err = meter.Int64Counter("taskloom.toolcalls.denied",
		metric.WithDescription("Number of tool calls refused by the gate"))
	if err != nil {
		return nil, err
	}

	m.InteractionsOpened, err = meter.Int64Counter("taskloom.interactions.opened",
		metric.WithDescription("Number of user interactions requested"))
	if err != nil {
		return nil, err
	}

	m.InteractionsResolved, err = meter.Int64Counter("taskloom.interactions.resolved",
		metric.WithDescription("Number of user interactions answered"))
	if err != nil {
		return nil, err
	}

	m.RebaseSignals, err = meter.Int64Counter("taskloom.rebase.signals",
		metric.WithDescription("Number of needs-rebase events emitted"))
	if err != nil {
		return nil, err
	}

	m.ToolCallDuration, err = meter.Float64Histogram("taskloom.toolcall.duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
