package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Multi fans an event out to every dispatcher and joins their errors.
func Multi(dispatchers ...Dispatcher) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, event Event) error {
		var errs []error
		for _, d := range dispatchers {
			if d == nil {
				continue
			}
			if err := d.Dispatch(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// LogDispatcher writes events to a zap logger.
func LogDispatcher(logger *zap.Logger) Dispatcher {
	return DispatcherFunc(func(_ context.Context, event Event) error {
		eventType, err := event.Kind.LegacyType()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDispatch, err)
		}
		logger.Info("storage event",
			zap.String("event_id", event.ID),
			zap.String("project", event.ProjectID),
			zap.String("type", eventType),
			zap.String("resource", event.Resource()),
			zap.Int64("generation", event.Metadata.Generation),
		)
		return nil
	})
}
