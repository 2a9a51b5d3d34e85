package risk

import (
	"errors"
	"testing"

	"CrashPilot/internal/domain/models"
)

func testLimits() Limits {
	return Limits{
		StopLoss:     models.StopLossConfig{Enabled: true, Percent: 50},
		TakeProfit:   models.TakeProfitConfig{Enabled: true, Percent: 100},
		Pause:        models.PauseConfig{Enabled: true, MaxConsecutiveLosses: 3, Rounds: 2},
		MinBetAmount: 1,
	}
}

func TestResolveRejectsDuplicate(t *testing.T) {
	s := NewSupervisor(testLimits(), 100)
	res := models.Resolution{BetID: "b1", Profit: -5, BalanceAfter: 95}

	first, err := s.Resolve(res)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := s.Resolve(res)
	if !errors.Is(err, models.ErrDuplicateResolution) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if first != second {
		t.Fatalf("duplicate changed state: %+v -> %+v", first, second)
	}
	if second.SessionProfit != -5 || second.ConsecutiveLosses != 1 {
		t.Fatalf("unexpected state %+v", second)
	}
}

func TestStopLossIsSticky(t *testing.T) {
	s := NewSupervisor(testLimits(), 100)
	st, _ := s.Resolve(models.Resolution{BetID: "a", Profit: -50, BalanceAfter: 50})
	if !st.StopLossTriggered {
		t.Fatalf("stop-loss should trigger at -50%%")
	}
	st, _ = s.Resolve(models.Resolution{BetID: "b", Profit: 40, BalanceAfter: 90})
	if !st.StopLossTriggered {
		t.Fatalf("stop-loss must stay set after a win")
	}
	if st.BlockReason() == "" {
		t.Fatalf("expected a block reason")
	}
	st = s.Reset(90)
	if st.StopLossTriggered || st.SessionStartBalance != 90 || st.SessionProfit != 0 {
		t.Fatalf("reset did not reinitialize: %+v", st)
	}
	// ids are forgotten with the session
	if _, err := s.Resolve(models.Resolution{BetID: "a", Profit: 1, BalanceAfter: 91}); err != nil {
		t.Fatalf("resolve after reset: %v", err)
	}
}

func TestTakeProfit(t *testing.T) {
	s := NewSupervisor(testLimits(), 10)
	st, _ := s.Resolve(models.Resolution{BetID: "a", Profit: 10, BalanceAfter: 20})
	if !st.TakeProfitTriggered || st.ConsecutiveWins != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestPauseCountdown(t *testing.T) {
	s := NewSupervisor(testLimits(), 100)
	for i, id := range []string{"a", "b", "c"} {
		st, err := s.Resolve(models.Resolution{BetID: id, Profit: -1, BalanceAfter: float64(99 - i)})
		if err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
		if i < 2 && st.IsPaused {
			t.Fatalf("paused too early at loss %d", i+1)
		}
	}
	st := s.State()
	if !st.IsPaused || st.PauseRoundsRemaining != 2 || st.ConsecutiveLosses != 0 {
		t.Fatalf("expected pause for 2 rounds, got %+v", st)
	}
	if st = s.OnRound(); !st.IsPaused || st.PauseRoundsRemaining != 1 {
		t.Fatalf("after one tick: %+v", st)
	}
	if st = s.OnRound(); st.IsPaused || st.PauseRoundsRemaining != 0 {
		t.Fatalf("pause should end: %+v", st)
	}
}

func TestInsufficientBalance(t *testing.T) {
	s := NewSupervisor(testLimits(), 100)
	if err := s.CheckBalance(2); err != nil {
		t.Fatalf("2 covers two legs of 1: %v", err)
	}
	st, _ := s.Resolve(models.Resolution{BetID: "a", Profit: -98.5, BalanceAfter: 1.5})
	if !st.InsufficientBalanceTriggered {
		t.Fatalf("expected insufficient balance flag")
	}
	if err := s.CheckBalance(50); !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("flag must be sticky, got %v", err)
	}
}

func TestBreakEvenLeavesStreaks(t *testing.T) {
	s := NewSupervisor(testLimits(), 100)
	_, _ = s.Resolve(models.Resolution{BetID: "b1", Profit: -2, BalanceAfter: 98})
	_, _ = s.Resolve(models.Resolution{BetID: "b2", Profit: -2, BalanceAfter: 96})

	// hedged pairs that break even, including cent rounding either way
	for i, p := range []float64{0, 0.01, -0.01} {
		st, err := s.Resolve(models.Resolution{BetID: "even-" + string(rune('a'+i)), Profit: p, BalanceAfter: 96})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if st.ConsecutiveLosses != 2 || st.ConsecutiveWins != 0 || st.IsPaused {
			t.Fatalf("break-even %.2f moved the streaks: %+v", p, st)
		}
	}

	st, _ := s.Resolve(models.Resolution{BetID: "b3", Profit: -2, BalanceAfter: 94})
	if !st.IsPaused {
		t.Fatalf("third real loss should pause: %+v", st)
	}
}
