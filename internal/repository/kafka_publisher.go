package repository

import (
	"context"

	"github.com/google/uuid"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/domain/repository"
	pkgkafka "CrashPilot/pkg/kafka"
)

// KafkaPublisher ships bus messages to one topic keyed by source id, so a
// source's rounds stay on one partition and keep their order.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg models.BusMessage) error {
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{{
		Key:     []byte(msg.SourceID),
		Value:   msg,
		TraceID: uuid.NewString(),
	}})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
