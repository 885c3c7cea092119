// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package a2a

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultSubscriberQueueSize bounds each subscriber's event queue.
const DefaultSubscriberQueueSize = 100

// EventBus fans events out to per-event-type subscribers. Delivery is
// at-most-once per subscriber per event: each subscriber owns a bounded
// queue drained by its own dispatch goroutine, and a full queue drops
// the oldest queued event rather than blocking the publisher. Per
// subscriber, events arrive in publish order; across subscribers the
// order is unspecified.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber

	queueSize int
	logger    *zap.Logger

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

type subscriber struct {
	id      string
	event   EventType
	handler Handler
	queue   chan Event
	dropped atomic.Int64
}

// BusStats is the bus counter snapshot.
type BusStats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
}

// NewEventBus creates a bus. queueSize <= 0 selects
// DefaultSubscriberQueueSize.
func NewEventBus(queueSize int, logger *zap.Logger) *EventBus {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:      make(map[string]*subscriber),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers handler for one event type and returns the
// subscription id used by Unsubscribe.
func (b *EventBus) Subscribe(event EventType, handler Handler) (string, error) {
	if b.closed.Load() {
		return "", fmt.Errorf("event bus is closed")
	}
	if event == "" {
		return "", fmt.Errorf("event type cannot be empty")
	}
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	sub := &subscriber{
		id:      fmt.Sprintf("%s-%d", event, time.Now().UnixNano()),
		event:   event,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(sub)

	b.logger.Debug("bus subscribe",
		zap.String("subscription_id", sub.id),
		zap.String("event", string(event)))
	return sub.id, nil
}

// Unsubscribe removes a subscription and stops its dispatcher once the
// queue drains.
func (b *EventBus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	sub, ok := b.subs[subscriptionID]
	if ok {
		delete(b.subs, subscriptionID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	close(sub.queue)
	return nil
}

// Publish enqueues the event for every subscriber of its type. Returns
// how many subscribers received it and how many queued events were
// dropped to make room. Never blocks on slow subscribers.
func (b *EventBus) Publish(event Event) (delivered, dropped int) {
	if b.closed.Load() {
		return 0, 0
	}
	b.published.Add(1)

	b.mu.RLock()
	for _, sub := range b.subs {
		if sub.event != event.Type {
			continue
		}
		select {
		case sub.queue <- event:
			delivered++
		default:
			// Queue full: evict the oldest so fresh state wins.
			select {
			case <-sub.queue:
				dropped++
				sub.dropped.Add(1)
			default:
			}
			select {
			case sub.queue <- event:
				delivered++
			default:
				dropped++
				sub.dropped.Add(1)
			}
		}
	}
	b.mu.RUnlock()

	b.delivered.Add(int64(delivered))
	b.dropped.Add(int64(dropped))
	return delivered, dropped
}

// dispatch drains one subscriber queue. Handler panics are contained so
// one bad subscriber cannot take down delivery.
func (b *EventBus) dispatch(sub *subscriber) {
	defer b.wg.Done()
	for event := range sub.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("subscription_id", sub.id),
						zap.String("event", string(sub.event)),
						zap.Any("panic", r))
				}
			}()
			sub.handler(event)
		}()
	}
}

// Stats returns the bus counter snapshot.
func (b *EventBus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Close stops the bus. Queued events still drain to their handlers.
func (b *EventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	for id, sub := range b.subs {
		close(sub.queue)
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()

	b.logger.Info("event bus closed",
		zap.Int64("published", b.published.Load()),
		zap.Int64("delivered", b.delivered.Load()),
		zap.Int64("dropped", b.dropped.Load()))
	return nil
}
