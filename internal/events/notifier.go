// Package events builds object change notifications and hands them to
// dispatch targets such as the functions emulator or a Postgres outbox.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/abduss/storage-emulator/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher delivers an event to one target.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, event Event) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Notifier builds events for one project and dispatches them in the
// background. Dispatch failures are logged and counted, never returned to the
// mutating caller.
type Notifier struct {
	projectID  string
	dispatcher Dispatcher
	logger     *zap.Logger
	timeout    time.Duration

	wg      sync.WaitGroup
	nowFunc func() time.Time
	newID   func() string
}

// NewNotifier creates a notifier. A nil logger discards log output.
func NewNotifier(projectID string, dispatcher Dispatcher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		projectID:  projectID,
		dispatcher: dispatcher,
		logger:     logger,
		timeout:    defaultDispatchTimeout,
		nowFunc:    time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// ProjectID returns the project the notifier scopes events to.
func (n *Notifier) ProjectID() string {
	return n.projectID
}

// Build constructs the event payload for obj without dispatching it.
func (n *Notifier) Build(kind Kind, obj metadata.Object) Event {
	return Event{
		ID:        n.newID(),
		ProjectID: n.projectID,
		Kind:      kind,
		Bucket:    obj.Bucket,
		Name:      obj.Name,
		Metadata:  metadata.ToRecord(obj),
		Time:      n.nowFunc().UTC(),
	}
}

// Notify builds an event and dispatches it asynchronously. The dispatch keeps
// the values of ctx but not its cancellation.
func (n *Notifier) Notify(ctx context.Context, kind Kind, obj metadata.Object) {
	if n.dispatcher == nil {
		return
	}
	event := n.Build(kind, obj)
	dispatchCtx := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(dispatchCtx, n.timeout)
		defer cancel()

		err := n.dispatcher.Dispatch(ctx, event)
		metrics.ObserveEvent(string(kind), err)
		if err != nil {
			n.logger.Warn("event dispatch failed",
				zap.String("event_id", event.ID),
				zap.String("kind", string(kind)),
				zap.String("bucket", event.Bucket),
				zap.String("object", event.Name),
				zap.Error(err),
			)
			return
		}
		n.logger.Debug("event dispatched",
			zap.String("event_id", event.ID),
			zap.String("kind", string(kind)),
			zap.String("resource", event.Resource()),
		)
	}()
}

// Wait blocks until every dispatch started so far has returned.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
