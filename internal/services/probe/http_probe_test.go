package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
)

func TestHTTPProbePoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshot" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"multiplier":1.84,"isRunning":true,"isCountdownVisible":false,
			"bettorCount":31,"totalStaked":120.5,"recentHistory":[2.1,1.0,7.35],"capturedAt":"1728555010250"}`))
	}))
	defer srv.Close()

	snap, err := NewHTTPProbe("s1", srv.URL, time.Second).Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !snap.IsRunning || snap.Multiplier != 1.84 || snap.BettorCount != 31 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if head, ok := snap.HistoryHead(); !ok || head != 2.1 {
		t.Fatalf("unexpected history head %v", head)
	}
	if snap.AuthFault {
		t.Fatalf("no auth fault expected")
	}
	if snap.TakenAt.UnixMilli() != 1728555010250 {
		t.Fatalf("expected agent capture time, got %v", snap.TakenAt)
	}
}

func TestHTTPProbeAuthFaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/snapshot":
			if r.Header.Get("X-Case") == "" && r.URL.Query().Get("x") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case "/reload":
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProbe("s1", srv.URL, time.Second)
	if _, err := p.Poll(context.Background()); !errors.Is(err, models.ErrSourceAuth) {
		t.Fatalf("expected ErrSourceAuth, got %v", err)
	}
	if err := p.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLooksLikeAuthPage(t *testing.T) {
	if !looksLikeAuthPage("Your Session Expired, please log in") {
		t.Fatalf("expected auth page")
	}
	if looksLikeAuthPage("Round starts in 5s") {
		t.Fatalf("game page flagged as auth page")
	}
}
