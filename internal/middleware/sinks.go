package middleware

import (
	"context"
	"sync"

	"CrashPilot/internal/domain/models"
	domrepo "CrashPilot/internal/domain/repository"
	"CrashPilot/pkg/cache"
)

// PublisherSink forwards every message to an external Publisher.
type PublisherSink struct {
	name string
	pub  domrepo.Publisher
}

func NewPublisherSink(name string, pub domrepo.Publisher) *PublisherSink {
	return &PublisherSink{name: name, pub: pub}
}

func (s *PublisherSink) Name() string { return s.name }

func (s *PublisherSink) Accept(models.BusMessage) bool { return true }

func (s *PublisherSink) Handle(ctx context.Context, msg models.BusMessage) error {
	return s.pub.Publish(ctx, msg)
}

// RoundStoreSink batches round messages into a RoundStore. A round already
// buffered for its source is not buffered twice, so a retried Handle is safe.
type RoundStoreSink struct {
	store     domrepo.RoundStore
	batchSize int
	maxBuffer int
	metrics   domrepo.Metrics

	mu      sync.Mutex
	batch   []models.RoundEvent
	lastIDs map[string]int64
}

func NewRoundStoreSink(store domrepo.RoundStore, batchSize int, metrics domrepo.Metrics) *RoundStoreSink {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &RoundStoreSink{
		store:     store,
		batchSize: batchSize,
		maxBuffer: batchSize * 10,
		metrics:   metrics,
		lastIDs:   make(map[string]int64),
	}
}

func (s *RoundStoreSink) Name() string { return "round_store" }

func (s *RoundStoreSink) Accept(msg models.BusMessage) bool {
	return msg.Type == models.MessageRound
}

func (s *RoundStoreSink) Handle(ctx context.Context, msg models.BusMessage) error {
	e, ok := msg.Round()
	if !ok {
		return nil
	}
	s.mu.Lock()
	if e.ID > s.lastIDs[e.SourceID] {
		s.lastIDs[e.SourceID] = e.ID
		s.batch = append(s.batch, e)
		if over := len(s.batch) - s.maxBuffer; over > 0 {
			// storage has been down for a while; keep the newest
			s.batch = append(s.batch[:0:0], s.batch[over:]...)
			if s.metrics != nil {
				s.metrics.RecordError("round_store_overflow")
			}
		}
	}
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rounds. On failure they stay buffered.
func (s *RoundStoreSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()

	if err := s.store.SaveRounds(ctx, batch); err != nil {
		s.mu.Lock()
		s.batch = append(batch, s.batch...)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Buffered returns the number of rounds waiting for a flush.
func (s *RoundStoreSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batch)
}

// CacheInvalidationSink drops cached responses of a source whenever it
// produces a new round.
type CacheInvalidationSink struct {
	cache  cache.Service
	prefix func(sourceID string) string
}

func NewCacheInvalidationSink(c cache.Service, prefix func(sourceID string) string) *CacheInvalidationSink {
	return &CacheInvalidationSink{cache: c, prefix: prefix}
}

func (s *CacheInvalidationSink) Name() string { return "cache_invalidation" }

func (s *CacheInvalidationSink) Accept(msg models.BusMessage) bool {
	return msg.Type == models.MessageRound
}

func (s *CacheInvalidationSink) Handle(ctx context.Context, msg models.BusMessage) error {
	return s.cache.DeleteByPrefix(ctx, s.prefix(msg.SourceID))
}
