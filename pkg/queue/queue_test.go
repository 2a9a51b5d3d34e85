package queue

import (
	"encoding/json"
	"testing"
	"time"
)

type betPayload struct {
	BetID  string  `json:"bet_id"`
	Amount float64 `json:"amount"`
}

func TestParsePayload(t *testing.T) {
	raw := json.RawMessage(`{"bet_id":"b1","amount":2.5}`)
	got, err := ParsePayload[betPayload](raw)
	if err != nil || got.BetID != "b1" || got.Amount != 2.5 {
		t.Fatalf("raw payload: %+v %v", got, err)
	}

	direct, err := ParsePayload[betPayload](betPayload{BetID: "b2"})
	if err != nil || direct.BetID != "b2" {
		t.Fatalf("value payload: %+v %v", direct, err)
	}

	if _, err := ParsePayload[betPayload](42); err == nil {
		t.Fatalf("expected error for unsupported payload")
	}
	if _, err := ParsePayload[betPayload](json.RawMessage(`{`)); err == nil {
		t.Fatalf("expected error for broken json")
	}
}

func TestRetryBackoffIsLinear(t *testing.T) {
	cfg := &QueueConfig{RetryDelay: 2 * time.Second}
	now := time.Unix(1000, 0)
	if got := cfg.retryAt(now, 1).Sub(now); got != 2*time.Second {
		t.Fatalf("attempt 1 delay %v", got)
	}
	if got := cfg.retryAt(now, 3).Sub(now); got != 6*time.Second {
		t.Fatalf("attempt 3 delay %v", got)
	}
}

func TestConsumerDefaultsAndKeys(t *testing.T) {
	q := NewRedisConsumer(nil, &QueueConfig{}, nil, nil, WithKeyPrefix("crashpilot:queue:bets"))
	if q.cfg.Workers != 1 || q.cfg.RetryDelay != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", q.cfg)
	}
	if q.keys.pending != "crashpilot:queue:bets:messages" || q.keys.dead != "crashpilot:queue:bets:dlq" {
		t.Fatalf("unexpected keys %+v", q.keys)
	}
}
