package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/interfaces"
)

// subscriberQueueSize bounds each handler's dispatch queue. Publish blocks
// when a queue is full rather than reordering or dropping events.
const subscriberQueueSize = 256

// dispatch is one queued delivery. done is non-nil for sync publishes.
type dispatch struct {
	ctx   context.Context
	event interfaces.Event
	done  chan error
}

// subscription is one registered handler with its dispatch queue. A single
// worker goroutine drains the queue, so every handler observes events in
// publish order.
type subscription struct {
	handler interfaces.EventHandler
	queue   chan dispatch
}

// Service implements EventService with per-subscriber ordered delivery.
// Events published sequentially for an event type reach each handler in
// that same sequence; handlers never see event N+1 before event N.
type Service struct {
	subscribers map[interfaces.EventType][]*subscription
	mu          sync.RWMutex
	closed      bool
	wg          sync.WaitGroup
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]*subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type and starts its dispatch
// worker.
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	sub := &subscription{
		handler: handler,
		queue:   make(chan dispatch, subscriberQueueSize),
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], sub)

	s.wg.Add(1)
	go s.runWorker(sub)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

func (s *Service) runWorker(sub *subscription) {
	defer s.wg.Done()
	for d := range sub.queue {
		err := sub.handler(d.ctx, d.event)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(d.event.Type)).
				Msg("Event handler failed")
		}
		if d.done != nil {
			d.done <- err
		}
	}
}

// Publish enqueues an event for every subscriber of its type and returns
// without waiting for handlers. Delivery order per subscriber matches
// publish order; a full queue backpressures the publisher briefly instead
// of reordering.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	for _, sub := range s.subscribers[event.Type] {
		sub.queue <- dispatch{ctx: ctx, event: event}
	}

	return nil
}

// PublishSync enqueues an event and waits for every handler to process it.
// Sync publishes share the per-subscriber queues, so they stay ordered
// relative to earlier async publishes.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()

	if s.closed {
		s.mu.RUnlock()
		return nil
	}

	subs := s.subscribers[event.Type]
	dones := make([]chan error, 0, len(subs))
	for _, sub := range subs {
		done := make(chan error, 1)
		sub.queue <- dispatch{ctx: ctx, event: event, done: done}
		dones = append(dones, done)
	}
	s.mu.RUnlock()

	var errCount int
	for _, done := range dones {
		if err := <-done; err != nil {
			errCount++
		}
	}

	if errCount > 0 {
		return fmt.Errorf("event handlers failed: %d errors", errCount)
	}

	return nil
}

// Close stops the dispatch workers after draining queued events.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	s.subscribers = make(map[interfaces.EventType][]*subscription)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Event service closed")

	return nil
}
