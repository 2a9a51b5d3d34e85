package models

import "time"

// BetRecord is the persisted form of a resolved bet (bot_bets).
type BetRecord struct {
	BetID           string       `json:"bet_id"`
	SessionID       string       `json:"session_id"`
	BotID           string       `json:"bot_id"`
	SourceID        string       `json:"source_id"`
	RoundID         int64        `json:"round_id"`
	Mode            StrategyMode `json:"mode"`
	Amount1         float64      `json:"amount_1"`
	Target1         float64      `json:"target_1"`
	Amount2         float64      `json:"amount_2"`
	Target2         float64      `json:"target_2"`
	CrashMultiplier float64      `json:"crash_multiplier"`
	Payout          float64      `json:"payout"`
	Profit          float64      `json:"profit"`
	IsWin           bool         `json:"is_win"`
	BalanceAfter    float64      `json:"balance_after"`
	ResolvedBy      ResolvedBy   `json:"resolved_by"`
	Timestamp       time.Time    `json:"timestamp"`
}

// NewBetRecord flattens a resolved bet.
func NewBetRecord(sessionID string, mode StrategyMode, h HistoryItem) BetRecord {
	r := BetRecord{
		BetID:           h.BetID,
		SessionID:       sessionID,
		BotID:           h.BotID,
		SourceID:        h.SourceID,
		RoundID:         h.RoundID,
		Mode:            mode,
		CrashMultiplier: h.CrashMultiplier,
		Payout:          h.Payout,
		Profit:          h.Profit,
		IsWin:           h.IsWin,
		BalanceAfter:    h.BalanceAfter,
		ResolvedBy:      h.ResolvedBy,
		Timestamp:       h.ResolvedAt,
	}
	if len(h.Legs) > 0 {
		r.Amount1, r.Target1 = h.Legs[0].Amount, h.Legs[0].Target
	}
	if len(h.Legs) > 1 {
		r.Amount2, r.Target2 = h.Legs[1].Amount, h.Legs[1].Target
	}
	return r
}

// SessionInfo opens a bot session (bot_sessions).
type SessionInfo struct {
	ID           string       `json:"id"`
	BotID        string       `json:"bot_id"`
	SourceID     string       `json:"source_id"`
	Mode         StrategyMode `json:"mode"`
	Live         bool         `json:"live"`
	StartBalance float64      `json:"start_balance"`
	StartedAt    time.Time    `json:"started_at"`
}

// SessionStats closes a bot session.
type SessionStats struct {
	EndedAt      time.Time `json:"ended_at"`
	FinalBalance float64   `json:"final_balance"`
	Rounds       int       `json:"rounds"`
	Bets         int       `json:"bets"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	Profit       float64   `json:"profit"`
	PeakBalance  float64   `json:"peak_balance"`
	MaxDrawdown  float64   `json:"max_drawdown"`
}

// Observe folds one resolved bet into the running stats.
func (s *SessionStats) Observe(h HistoryItem) {
	s.Bets++
	switch {
	case h.IsWin:
		s.Wins++
	case h.Profit < -BreakEvenTolerance-1e-9:
		s.Losses++
	}
	s.Profit += h.Profit
	s.FinalBalance = h.BalanceAfter
	if h.BalanceAfter > s.PeakBalance {
		s.PeakBalance = h.BalanceAfter
	}
	if dd := s.PeakBalance - h.BalanceAfter; dd > s.MaxDrawdown {
		s.MaxDrawdown = dd
	}
}
