package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
)

func TestSimulatorLedger(t *testing.T) {
	ctx := context.Background()
	s := NewSimulator(10)

	res, err := s.PlaceBet(ctx, 1, 2.0, 1, 5.0)
	if err != nil || !res.Success {
		t.Fatalf("place: %+v %v", res, err)
	}
	if b, _ := s.FetchBalance(ctx); b != 8 {
		t.Fatalf("stake not debited: %v", b)
	}
	if res, _ := s.PlaceBet(ctx, 1, 2, 0, 0); res.Success {
		t.Fatalf("second open bet must be refused")
	}

	payout := s.Settle(ctx, 3.1)
	if payout != 2 {
		t.Fatalf("only the 2x leg wins, got %v", payout)
	}
	if b, _ := s.FetchBalance(ctx); b != 10 {
		t.Fatalf("unexpected balance %v", b)
	}
	hist, _ := s.FetchRecentHistory(ctx, 2)
	if len(hist) != 2 || hist[0].IsWin || !hist[1].IsWin || hist[1].WinAmount != 2 {
		t.Fatalf("unexpected history %+v", hist)
	}

	if res, _ := s.PlaceBet(ctx, 20, 2, 0, 0); res.Success || res.Error == "" {
		t.Fatalf("stake above balance must fail: %+v", res)
	}
}

func TestPayoutRounding(t *testing.T) {
	legs := []models.BetLeg{{Amount: 0.1, Target: 1.5}, {Amount: 0.2, Target: 3}}
	if p := Payout(legs, 1.5).InexactFloat64(); p != 0.15 {
		t.Fatalf("unexpected payout %v", p)
	}
	if p := Payout(legs, 1.49); !p.IsZero() {
		t.Fatalf("crash below every target pays nothing, got %v", p)
	}
}

func TestHTTPExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bet":
			var req placeRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Amount1 != 1.5 || req.Target2 != 4 {
				_, _ = w.Write([]byte(`{"success":false,"error":"bad request"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true}`))
		case "/balance":
			_, _ = w.Write([]byte(`{"balance":42.5}`))
		case "/history":
			if r.URL.Query().Get("limit") != "2" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`[{"isWin":true,"cashoutMultiplier":2,"winAmount":3,"betAmount":1.5},{"isWin":false,"betAmount":1}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	e := NewHTTPExecutor(srv.URL, time.Second)
	if res, err := e.PlaceBet(ctx, 1.5, 2, 1, 4); err != nil || !res.Success {
		t.Fatalf("place: %+v %v", res, err)
	}
	if b, err := e.FetchBalance(ctx); err != nil || b != 42.5 {
		t.Fatalf("balance: %v %v", b, err)
	}
	hist, err := e.FetchRecentHistory(ctx, 2)
	if err != nil || len(hist) != 2 || !hist[0].IsWin || hist[0].WinAmount != 3 {
		t.Fatalf("history: %+v %v", hist, err)
	}
	if _, err := e.EnableLiveMode(ctx, true); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}
