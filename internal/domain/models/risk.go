package models

// RiskState is owned by a single RiskSupervisor. Other components only ever
// see copies of it.
type RiskState struct {
	SessionStartBalance          float64 `json:"session_start_balance"`
	ConsecutiveWins              int     `json:"consecutive_wins"`
	ConsecutiveLosses            int     `json:"consecutive_losses"`
	SessionProfit                float64 `json:"session_profit"`
	IsPaused                     bool    `json:"is_paused"`
	PauseRoundsRemaining         int     `json:"pause_rounds_remaining"`
	StopLossTriggered            bool    `json:"stop_loss_triggered"`
	TakeProfitTriggered          bool    `json:"take_profit_triggered"`
	InsufficientBalanceTriggered bool    `json:"insufficient_balance_triggered"`
}

// BlockReason reports why no bet may be placed, or "" when betting is allowed.
func (s RiskState) BlockReason() string {
	switch {
	case s.StopLossTriggered:
		return "stop-loss triggered"
	case s.TakeProfitTriggered:
		return "take-profit triggered"
	case s.InsufficientBalanceTriggered:
		return "insufficient balance"
	case s.IsPaused:
		return "paused after loss streak"
	}
	return ""
}

// Resolution is the outcome of one bet as fed to the risk supervisor.
type Resolution struct {
	BetID        string  `json:"bet_id"`
	Profit       float64 `json:"profit"`
	BalanceAfter float64 `json:"balance_after"`
}

// BreakEvenTolerance absorbs cent rounding of hedged pairs: a profit within it
// is neither a win nor a loss.
const BreakEvenTolerance = 0.01

func (r Resolution) IsWin() bool  { return r.Profit > BreakEvenTolerance+1e-9 }
func (r Resolution) IsLoss() bool { return r.Profit < -BreakEvenTolerance-1e-9 }
