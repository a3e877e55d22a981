package customers

import (
	"context"
	"errors"
	"log/slog"
)

// LogSink receives committed status transitions.
type LogSink interface {
	Append(ctx context.Context, change StatusChange) error
}

// SinkFunc adapts a function to LogSink.
type SinkFunc func(ctx context.Context, change StatusChange) error

func (f SinkFunc) Append(ctx context.Context, change StatusChange) error {
	return f(ctx, change)
}

// MultiSink fans a change out to every sink and joins their errors.
type MultiSink []LogSink

func (m MultiSink) Append(ctx context.Context, change StatusChange) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSlogSink writes transitions to the structured logger.
func NewSlogSink(logger *slog.Logger) LogSink {
	return SinkFunc(func(ctx context.Context, change StatusChange) error {
		attrs := []any{
			slog.String("change_id", change.ID.String()),
			slog.Int64("customer_id", change.CustomerID),
			slog.String("previous_status", string(change.PreviousStatus)),
			slog.String("new_status", string(change.NewStatus)),
			slog.String("reason", string(change.Reason)),
		}
		if change.ContractID != nil {
			attrs = append(attrs, slog.Int64("contract_id", *change.ContractID))
		}
		logger.InfoContext(ctx, "customer status changed", attrs...)
		return nil
	})
}
