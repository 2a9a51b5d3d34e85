package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CrashPilot/internal/domain/models"
	domrepo "CrashPilot/internal/domain/repository"
	pkgkafka "CrashPilot/pkg/kafka"
)

// KafkaRoundsHandler consumes the event stream and writes round messages to
// storage. Other message types on the topic are skipped.
type KafkaRoundsHandler struct {
	topic   string
	store   domrepo.RoundStore
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaRoundsHandler)(nil)

func NewKafkaRoundsHandler(topic string, store domrepo.RoundStore, metrics domrepo.Metrics) *KafkaRoundsHandler {
	return &KafkaRoundsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaRoundsHandler) Topic() string { return h.topic }

// incoming schema: {"type":"round","source_id":"...","data":{RoundEvent}}
func (h *KafkaRoundsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Type     models.MessageType `json:"type"`
		SourceID string             `json:"source_id"`
		Data     json.RawMessage    `json:"data"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.recordError("consumer_unmarshal")
		return fmt.Errorf("decode bus message: %w", err)
	}
	if m.Type != models.MessageRound {
		return nil
	}
	var e models.RoundEvent
	if err := json.Unmarshal(m.Data, &e); err != nil {
		h.recordError("consumer_unmarshal")
		return fmt.Errorf("decode round: %w", err)
	}
	if e.SourceID == "" {
		e.SourceID = m.SourceID
	}
	if e.SourceID == "" || e.ID <= 0 {
		h.recordError("consumer_invalid_round")
		return nil
	}

	if start, ok := pkgkafka.StartTime(ctx); ok && h.metrics != nil {
		h.metrics.RecordLatency("round_ingest_queue", time.Since(start).Seconds())
	}
	if h.metrics != nil && !e.OccurredAt.IsZero() {
		h.metrics.RecordLatency("round_ingest_e2e", time.Since(e.OccurredAt).Seconds())
	}

	begin := time.Now()
	err := h.store.SaveRound(ctx, e)
	if h.metrics != nil {
		h.metrics.RecordLatency("round_store_insert", time.Since(begin).Seconds())
	}
	if err != nil {
		h.recordError("consumer_store")
		return fmt.Errorf("save round %s/%d: %w", e.SourceID, e.ID, err)
	}
	return nil
}

func (h *KafkaRoundsHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}
