package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig controls the consumer side. Publishers ignore it.
type QueueConfig struct {
	Workers    int
	RetryLimit int           // attempts after the first failure before dead-lettering
	RetryDelay time.Duration // multiplied by the attempt number
}

// Message is the envelope stored in Redis. Payload is encoded once at enqueue.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// retryAt spreads retries linearly so a flapping store is not hammered.
func (c *QueueConfig) retryAt(now time.Time, attempts int) time.Time {
	if attempts < 1 {
		attempts = 1
	}
	return now.Add(time.Duration(attempts) * c.RetryDelay)
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
