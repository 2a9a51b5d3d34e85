package prediction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
)

func TestRedisFeedIngestAndFreshness(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	f := NewRedisFeed(nil, WithMaxAge(10*time.Second), WithFeedClock(func() time.Time { return now }))

	if p, _ := f.Predict(context.Background(), "s1", nil); p != nil {
		t.Fatalf("no prediction expected yet")
	}

	payload := `{"round_id":12,"generated_at":"2025-05-01T09:59:55Z","prob_gt_2x":0.71,
		"prob_gt_10x":0.04,"prob_early_crash":0.12,"model_version":"v3"}`
	if err := f.Ingest([]byte(payload)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	p, err := f.Predict(context.Background(), "s1", nil)
	if err != nil || p == nil {
		t.Fatalf("expected fallback to source-less prediction, got %v %v", p, err)
	}
	if p.Confidence() != 0.71 || p.Prob("gt_10x") != 0.04 || p.ModelVersion != "v3" {
		t.Fatalf("unexpected prediction %+v", p)
	}

	now = now.Add(time.Minute)
	if p, _ := f.Predict(context.Background(), "s1", nil); p != nil {
		t.Fatalf("stale prediction must be dropped")
	}

	if err := f.Ingest([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRedisFeedKeepsNewest(t *testing.T) {
	f := NewRedisFeed(nil, WithMaxAge(0))
	_ = f.Ingest([]byte(`{"source_id":"s1","generated_at":"2025-05-01T10:00:05Z","prob_gt_2x":0.8}`))
	_ = f.Ingest([]byte(`{"source_id":"s1","generated_at":"2025-05-01T10:00:00Z","prob_gt_2x":0.2}`))
	p, _ := f.Predict(context.Background(), "s1", nil)
	if p == nil || p.ProbGt2x != 0.8 {
		t.Fatalf("older prediction replaced a newer one: %+v", p)
	}
}

func TestHTTPClientPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Multipliers) != 2 || req.RoundID != 8 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"round_id":9,"prob_gt_2x":0.66,"prob_high_loss_streak":0.1}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, time.Minute)
	hist := []models.RoundEvent{{ID: 7, Multiplier: 1.2}, {ID: 8, Multiplier: 3.4}}
	p, err := c.Predict(context.Background(), "s1", hist)
	if err != nil || p == nil {
		t.Fatalf("predict: %v %v", p, err)
	}
	if p.SourceID != "s1" || p.RoundID != 9 || p.Confidence() != 0.66 {
		t.Fatalf("unexpected prediction %+v", p)
	}
	if p, _ := c.Predict(context.Background(), "s1", nil); p != nil {
		t.Fatalf("empty history yields no prediction")
	}
}
