package bus

import (
	"fmt"
	"sync"

	"CrashPilot/internal/domain/models"
	domrepo "CrashPilot/internal/domain/repository"
	"CrashPilot/pkg/logger"
)

// Handler receives every published message. Handlers run on the publisher's
// goroutine and must hand slow work off elsewhere.
type Handler func(msg models.BusMessage)

// EventBus is a synchronous in-process fan-out.
type EventBus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]subscriber
	order   []int
	log     *logger.Logger
	metrics domrepo.Metrics
}

type subscriber struct {
	name string
	fn   Handler
}

func New(log *logger.Logger, metrics domrepo.Metrics) *EventBus {
	if log == nil {
		log = logger.Nop()
	}
	return &EventBus{
		subs:    make(map[int]subscriber),
		log:     log,
		metrics: metrics,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *EventBus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{name: name, fn: fn}
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers msg to every subscriber in subscription order. A panicking
// subscriber is logged and skipped.
func (b *EventBus) Publish(msg models.BusMessage) {
	b.mu.RLock()
	targets := make([]subscriber, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.subs[id])
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, msg)
	}
}

func (b *EventBus) deliver(s subscriber, msg models.BusMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus subscriber panicked",
				logger.String("subscriber", s.name),
				logger.String("type", string(msg.Type)),
				logger.Error(fmt.Errorf("%v", r)))
			if b.metrics != nil {
				b.metrics.RecordError("bus_subscriber_panic")
			}
		}
	}()
	s.fn(msg)
}

// Len returns the number of subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}
