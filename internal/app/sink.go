package app

import (
	"context"
	"log/slog"

	"github.com/scaffold-rental/rental-admin/internal/customers"
	jobmetrics "github.com/scaffold-rental/rental-admin/internal/jobs"
)

// NewStatusSink builds the post-commit fan-out shared by the API and the worker:
// a structured log line and the transition counter per change.
func NewStatusSink(logger *slog.Logger, metrics *jobmetrics.Metrics) customers.LogSink {
	sinks := customers.MultiSink{customers.NewSlogSink(logger)}
	if metrics != nil {
		sinks = append(sinks, customers.SinkFunc(func(_ context.Context, change customers.StatusChange) error {
			metrics.ObserveTransition(string(change.Reason), string(change.PreviousStatus), string(change.NewStatus))
			return nil
		}))
	}
	return sinks
}
