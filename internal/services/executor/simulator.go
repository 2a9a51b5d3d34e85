package executor

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
)

const historyLimit = 100

// Simulator is an in-memory executor with an exact decimal ledger. Stakes
// are debited at placement and settled against the next crash value.
type Simulator struct {
	mu      sync.Mutex
	balance decimal.Decimal
	open    []models.BetLeg
	results []models.LiveBetResult // newest last
	live    bool
}

var _ drepo.BetExecutor = (*Simulator)(nil)

func NewSimulator(initialBalance float64) *Simulator {
	return &Simulator{balance: decimal.NewFromFloat(initialBalance)}
}

func (s *Simulator) PlaceBet(ctx context.Context, amount1, target1, amount2, target2 float64) (models.PlaceResult, error) {
	legs := []models.BetLeg{{Amount: amount1, Target: target1}}
	if amount2 > 0 {
		legs = append(legs, models.BetLeg{Amount: amount2, Target: target2})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.open) > 0 {
		return models.PlaceResult{Error: "a bet is already open"}, nil
	}
	stake := decimal.Zero
	for _, l := range legs {
		if l.Amount <= 0 || l.Target <= 1 {
			return models.PlaceResult{Error: "invalid leg"}, nil
		}
		stake = stake.Add(decimal.NewFromFloat(l.Amount))
	}
	if stake.GreaterThan(s.balance) {
		return models.PlaceResult{Error: models.ErrInsufficientBalance.Error()}, nil
	}
	s.balance = s.balance.Sub(stake)
	s.open = legs
	return models.PlaceResult{Success: true}, nil
}

// Settle resolves the open legs against crash and credits the payout.
func (s *Simulator) Settle(ctx context.Context, crash float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	payout := decimal.Zero
	for _, l := range s.open {
		p := LegPayout(l, crash)
		payout = payout.Add(p)
		s.results = append(s.results, models.LiveBetResult{
			IsWin:             p.IsPositive(),
			CashoutMultiplier: cashoutOf(l, crash),
			WinAmount:         p.InexactFloat64(),
			BetAmount:         l.Amount,
		})
	}
	if over := len(s.results) - historyLimit; over > 0 {
		s.results = append(s.results[:0], s.results[over:]...)
	}
	s.open = nil
	s.balance = s.balance.Add(payout)
	return payout.InexactFloat64()
}

func (s *Simulator) FetchBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance.InexactFloat64(), nil
}

// FetchRecentHistory returns up to limit results, newest first.
func (s *Simulator) FetchRecentHistory(ctx context.Context, limit int) ([]models.LiveBetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.results)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.LiveBetResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.results[i])
	}
	return out, nil
}

func (s *Simulator) EnableLiveMode(ctx context.Context, enabled bool) (models.PlaceResult, error) {
	s.mu.Lock()
	s.live = enabled
	s.mu.Unlock()
	return models.PlaceResult{Success: true}, nil
}

// LegPayout is amount x target when the round reached target, else zero.
func LegPayout(l models.BetLeg, crash float64) decimal.Decimal {
	if crash < l.Target {
		return decimal.Zero
	}
	return decimal.NewFromFloat(l.Amount).Mul(decimal.NewFromFloat(l.Target)).Round(2)
}

// Payout sums LegPayout over legs.
func Payout(legs []models.BetLeg, crash float64) decimal.Decimal {
	total := decimal.Zero
	for _, l := range legs {
		total = total.Add(LegPayout(l, crash))
	}
	return total
}

func cashoutOf(l models.BetLeg, crash float64) float64 {
	if crash >= l.Target {
		return l.Target
	}
	return 0
}
