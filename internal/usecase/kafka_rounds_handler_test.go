package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
)

func TestKafkaRoundsHandlerStoresRounds(t *testing.T) {
	store := &memoryRoundStore{}
	h := NewKafkaRoundsHandler("crash.events", store, nil)

	e := models.RoundEvent{
		ID:              42,
		SourceID:        "s1",
		OccurredAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Multiplier:      2.35,
		DetectionMethod: models.DetectionHistory,
	}
	b, err := json.Marshal(models.NewRoundMessage(e))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := store.RecentRounds(context.Background(), "s1", 10)
	if len(got) != 1 {
		t.Fatalf("expected one stored round, got %d", len(got))
	}
	if got[0].ID != 42 || got[0].Multiplier != 2.35 || got[0].DetectionMethod != models.DetectionHistory {
		t.Fatalf("unexpected round: %+v", got[0])
	}
	if !got[0].OccurredAt.Equal(e.OccurredAt) {
		t.Fatalf("timestamp changed: %v", got[0].OccurredAt)
	}
}

func TestKafkaRoundsHandlerSkipsOtherTypes(t *testing.T) {
	store := &memoryRoundStore{}
	h := NewKafkaRoundsHandler("crash.events", store, nil)

	b, _ := json.Marshal(models.NewSignalClearedMessage("s1", 7))
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("non-round message stored")
	}
}

func TestKafkaRoundsHandlerRejectsGarbage(t *testing.T) {
	h := NewKafkaRoundsHandler("crash.events", &memoryRoundStore{}, nil)
	if err := h.Handle(context.Background(), []byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestKafkaRoundsHandlerFillsSourceFromEnvelope(t *testing.T) {
	store := &memoryRoundStore{}
	h := NewKafkaRoundsHandler("crash.events", store, nil)

	raw := []byte(`{"type":"round","source_id":"s9","data":{"id":3,"multiplier":1.2}}`)
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.RecentRounds(context.Background(), "s9", 0)
	if len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("expected round stored under envelope source, got %+v", store.events)
	}
}
