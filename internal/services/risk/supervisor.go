package risk

import (
	"fmt"
	"sync"

	"CrashPilot/internal/domain/models"
)

// Limits are the risk thresholds of one bot.
type Limits struct {
	StopLoss     models.StopLossConfig
	TakeProfit   models.TakeProfitConfig
	Pause        models.PauseConfig
	MinBetAmount float64
}

// LimitsFrom extracts the risk thresholds from a bot configuration.
func LimitsFrom(cfg models.BotConfig) Limits {
	return Limits{
		StopLoss:     cfg.StopLoss,
		TakeProfit:   cfg.TakeProfit,
		Pause:        cfg.Pause,
		MinBetAmount: cfg.MinBetAmount,
	}
}

// Supervisor owns the RiskState of one bot. Callers only receive copies.
type Supervisor struct {
	mu       sync.Mutex
	limits   Limits
	state    models.RiskState
	resolved map[string]struct{}
}

// NewSupervisor starts a session at the given balance.
func NewSupervisor(limits Limits, startBalance float64) *Supervisor {
	s := &Supervisor{limits: limits}
	s.reset(startBalance)
	return s
}

// Reset begins a new session from balance and clears every sticky flag.
func (s *Supervisor) Reset(balance float64) models.RiskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(balance)
	return s.state
}

// StartSession is Reset under the name the bot lifecycle uses.
func (s *Supervisor) StartSession(balance float64) models.RiskState {
	return s.Reset(balance)
}

func (s *Supervisor) reset(balance float64) {
	s.state = models.RiskState{SessionStartBalance: balance}
	s.resolved = make(map[string]struct{})
	s.checkBalance(balance)
}

func (s *Supervisor) State() models.RiskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnRound advances the pause countdown by one round.
func (s *Supervisor) OnRound() models.RiskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsPaused {
		if s.state.PauseRoundsRemaining > 0 {
			s.state.PauseRoundsRemaining--
		}
		if s.state.PauseRoundsRemaining == 0 {
			s.state.IsPaused = false
		}
	}
	return s.state
}

// Resolve folds one bet outcome into the state. A bet id seen before in this
// session is rejected with ErrDuplicateResolution and changes nothing.
func (s *Supervisor) Resolve(r models.Resolution) (models.RiskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.BetID != "" {
		if _, dup := s.resolved[r.BetID]; dup {
			return s.state, fmt.Errorf("bet %s: %w", r.BetID, models.ErrDuplicateResolution)
		}
		s.resolved[r.BetID] = struct{}{}
	}

	st := &s.state
	// a break-even result leaves both streaks as they are
	switch {
	case r.IsWin():
		st.ConsecutiveWins++
		st.ConsecutiveLosses = 0
	case r.IsLoss():
		st.ConsecutiveLosses++
		st.ConsecutiveWins = 0
	}
	st.SessionProfit += r.Profit

	if start := st.SessionStartBalance; start > 0 {
		pct := st.SessionProfit / start * 100
		if s.limits.StopLoss.Enabled && -pct >= s.limits.StopLoss.Percent {
			st.StopLossTriggered = true
		}
		if s.limits.TakeProfit.Enabled && pct >= s.limits.TakeProfit.Percent {
			st.TakeProfitTriggered = true
		}
	}

	if s.limits.Pause.Enabled && !st.IsPaused && st.ConsecutiveLosses >= s.limits.Pause.MaxConsecutiveLosses {
		st.IsPaused = true
		st.PauseRoundsRemaining = s.limits.Pause.Rounds
		st.ConsecutiveLosses = 0
	}

	s.checkBalance(r.BalanceAfter)
	return s.state, nil
}

// CheckBalance sets the insufficient-balance flag when balance cannot cover
// two minimum-size legs.
func (s *Supervisor) CheckBalance(balance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkBalance(balance) {
		return fmt.Errorf("balance %.2f below %.2f: %w", balance, 2*s.limits.MinBetAmount, models.ErrInsufficientBalance)
	}
	return nil
}

func (s *Supervisor) checkBalance(balance float64) bool {
	if balance < 2*s.limits.MinBetAmount {
		s.state.InsufficientBalanceTriggered = true
	}
	return s.state.InsufficientBalanceTriggered
}
