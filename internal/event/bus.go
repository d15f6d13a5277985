// Package event carries deployment lifecycle notifications to in-process
// listeners over an explicit channel, keeping side effects (quota accounting,
// notifications) out of the orchestrator itself.
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/nebur242/deploy-hub/internal/domain"
)

// Kind enumerates lifecycle notifications.
type Kind string

const (
	DeploymentCreated   Kind = "deployment.created"
	DeploymentSucceeded Kind = "deployment.succeeded"
	DeploymentFailed    Kind = "deployment.failed"
	DeploymentCanceled  Kind = "deployment.canceled"
)

// Event couples a kind with the deployment it concerns.
type Event struct {
	Kind       Kind
	Deployment domain.Deployment
	At         time.Time
}

// Handler consumes one event. Handlers run on the bus goroutine and must not
// block for long.
type Handler func(ctx context.Context, evt Event)

// Bus fans events out to registered handlers from a single consumer
// goroutine, so listener ordering is deterministic.
type Bus struct {
	logger   *slog.Logger
	events   chan Event
	handlers []Handler
}

// NewBus creates a bus with the given queue depth.
func NewBus(logger *slog.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		logger: logger.With("component", "events"),
		events: make(chan Event, buffer),
	}
}

// Subscribe registers a handler. Must be called before Run.
func (b *Bus) Subscribe(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event. A full queue drops the event with a warning
// rather than stalling the publisher.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case b.events <- evt:
	default:
		b.logger.Warn("event queue full, dropping event", "kind", evt.Kind, "deployment_id", evt.Deployment.ID)
	}
}

// Run consumes events until the context is cancelled.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.events:
			for _, h := range b.handlers {
				h(ctx, evt)
			}
		}
	}
}
