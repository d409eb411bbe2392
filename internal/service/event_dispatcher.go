package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/pkg/jobs"
)

const (
	jobNotify  = "notify"
	jobPublish = "publish"
)

// EventHandler consumes a committed domain event.
type EventHandler func(ctx context.Context, event models.DomainEvent) error

// EventPublisher forwards events to an external channel.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// EventDispatcher fans committed domain events out to in-process subscribers
// and the external pub/sub channel through a background worker queue.
type EventDispatcher struct {
	queue     *jobs.Queue
	publisher EventPublisher
	channel   string
	metrics   *MetricsService
	logger    *zap.Logger

	mu     sync.RWMutex
	subs   map[models.DomainEventType]map[int]EventHandler
	nextID int
}

// NewEventDispatcher builds a dispatcher. publisher may be nil.
func NewEventDispatcher(publisher EventPublisher, channel string, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "admission.events"
	}
	d := &EventDispatcher{
		publisher: publisher,
		channel:   channel,
		metrics:   metrics,
		logger:    logger,
		subs:      map[models.DomainEventType]map[int]EventHandler{},
	}
	cfg.Logger = logger
	d.queue = jobs.NewQueue("admission-events", d.handle, cfg)
	return d
}

// Start launches the delivery workers.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains pending deliveries and stops the workers.
func (d *EventDispatcher) Stop() {
	d.queue.Stop()
}

// Subscribe registers handler for eventType; an empty type receives every
// event. The returned func removes the subscription.
func (d *EventDispatcher) Subscribe(eventType models.DomainEventType, handler EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	if d.subs[eventType] == nil {
		d.subs[eventType] = map[int]EventHandler{}
	}
	d.subs[eventType][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.subs[eventType], id)
		})
	}
}

// Publish enqueues events for delivery. When the queue is unavailable the
// events are delivered inline so that none is dropped.
func (d *EventDispatcher) Publish(ctx context.Context, events ...models.DomainEvent) {
	for _, event := range events {
		for _, kind := range []string{jobNotify, jobPublish} {
			if kind == jobPublish && d.publisher == nil {
				continue
			}
			job := jobs.Job{ID: event.ID + ":" + kind, Type: kind, Payload: event}
			if err := d.queue.TryEnqueue(job); err != nil {
				d.logger.Warn("event queue unavailable, delivering inline", zap.String("event", string(event.Type)), zap.Error(err))
				if err := d.handle(ctx, job); err != nil {
					d.logger.Error("inline event delivery failed", zap.String("event_id", event.ID), zap.Error(err))
				}
			}
		}
	}
}

func (d *EventDispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.DomainEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", job.Payload)
	}

	switch job.Type {
	case jobNotify:
		for _, handler := range d.handlersFor(event.Type) {
			if err := handler(ctx, event); err != nil {
				d.metrics.RecordEvent(event.Type, "subscriber_error")
				d.logger.Warn("event subscriber failed", zap.String("event_id", event.ID), zap.String("type", string(event.Type)), zap.Error(err))
			}
		}
		d.metrics.RecordEvent(event.Type, "ok")
		return nil
	case jobPublish:
		if err := d.publisher.Publish(ctx, d.channel, event); err != nil {
			d.metrics.RecordEvent(event.Type, "publish_error")
			return err
		}
		return nil
	}
	return fmt.Errorf("unknown event job type %q", job.Type)
}

func (d *EventDispatcher) handlersFor(eventType models.DomainEventType) []EventHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handlers := make([]EventHandler, 0, len(d.subs[eventType])+len(d.subs[""]))
	for _, h := range d.subs[eventType] {
		handlers = append(handlers, h)
	}
	if eventType != "" {
		for _, h := range d.subs[""] {
			handlers = append(handlers, h)
		}
	}
	return handlers
}

// LogEvents returns a subscriber writing every event to logger.
func LogEvents(logger *zap.Logger) EventHandler {
	return func(_ context.Context, event models.DomainEvent) error {
		logger.Info("admission event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.String("application_id", event.ApplicationID),
			zap.String("plan_id", event.PlanID),
			zap.String("new_status", string(event.NewStatus)))
		return nil
	}
}
