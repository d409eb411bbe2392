package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/pkg/jobs"
)

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	messages []interface{}
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func sampleEvent(id string, kind models.DomainEventType) models.DomainEvent {
	return models.DomainEvent{
		ID:            id,
		Type:          kind,
		ApplicationID: "app-" + id,
		StudentID:     "student-1",
		ParentID:      "parent-1",
		PlanID:        "plan-1",
		NewStatus:     models.StatusSubmitted,
		Timestamp:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestEventDispatcherDeliversInlineBeforeStart(t *testing.T) {
	metrics := NewMetricsService()
	publisher := &recordingPublisher{}
	d := NewEventDispatcher(publisher, "", jobs.QueueConfig{}, metrics, nil)

	var typed, all []string
	d.Subscribe(models.EventApplicationSubmitted, func(_ context.Context, e models.DomainEvent) error {
		typed = append(typed, e.ID)
		return nil
	})
	unsubscribe := d.Subscribe("", func(_ context.Context, e models.DomainEvent) error {
		all = append(all, e.ID)
		return nil
	})

	d.Publish(context.Background(), sampleEvent("e1", models.EventApplicationSubmitted), sampleEvent("e2", models.EventApplicationApproved))
	assert.Equal(t, []string{"e1"}, typed)
	assert.Equal(t, []string{"e1", "e2"}, all)
	assert.Equal(t, []string{"admission.events", "admission.events"}, publisher.channels)
	assert.Equal(t, uint64(2), metrics.Snapshot().EventsDelivered)

	unsubscribe()
	unsubscribe()
	d.Publish(context.Background(), sampleEvent("e3", models.EventApplicationSubmitted))
	assert.Equal(t, []string{"e1", "e3"}, typed)
	assert.Equal(t, []string{"e1", "e2"}, all)
}

func TestEventDispatcherIsolatesFailingSubscribers(t *testing.T) {
	metrics := NewMetricsService()
	publisher := &recordingPublisher{err: errors.New("redis down")}
	d := NewEventDispatcher(publisher, "custom", jobs.QueueConfig{}, metrics, nil)

	delivered := 0
	d.Subscribe(models.EventApplicationCancelled, func(context.Context, models.DomainEvent) error {
		return errors.New("mailer offline")
	})
	d.Subscribe(models.EventApplicationCancelled, func(context.Context, models.DomainEvent) error {
		delivered++
		return nil
	})

	d.Publish(context.Background(), sampleEvent("e1", models.EventApplicationCancelled))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, uint64(1), metrics.Snapshot().EventsDelivered)
	assert.Zero(t, publisher.count())
}

func TestEventDispatcherDeliversThroughWorkers(t *testing.T) {
	publisher := &recordingPublisher{}
	d := NewEventDispatcher(publisher, "admission.test", jobs.QueueConfig{Workers: 2, BufferSize: 16}, NewMetricsService(), nil)

	var mu sync.Mutex
	seen := map[string]bool{}
	d.Subscribe("", func(_ context.Context, e models.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.ID] = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Publish(ctx,
		sampleEvent("e1", models.EventApplicationSubmitted),
		sampleEvent("e2", models.EventApplicationWaitlisted),
		sampleEvent("e3", models.EventSlotPromoted))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3 && publisher.count() == 3
	}, 2*time.Second, 10*time.Millisecond)
	d.Stop()

	// stopped queues fall back to inline delivery
	d.Publish(context.Background(), sampleEvent("e4", models.EventApplicationEnrolled))
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen["e4"])
}
