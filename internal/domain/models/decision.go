package models

import (
	"fmt"
	"time"
)

// BetLeg is one stake with its auto-cashout target.
type BetLeg struct {
	Amount float64 `json:"amount"`
	Target float64 `json:"target"`
}

// BetDecision is produced fresh for every round and never mutated after it is
// returned by the decision engine.
type BetDecision struct {
	ShouldBet         bool         `json:"should_bet"`
	Reasons           []string     `json:"reasons"`
	BetAmount         float64      `json:"bet_amount"`
	SecondBetAmount   float64      `json:"second_bet_amount,omitempty"`
	CashoutTargets    []float64    `json:"cashout_targets"`
	IsHighOpportunity bool         `json:"is_high_opportunity"`
	Confidence        float64      `json:"confidence"`
	Mode              StrategyMode `json:"mode"`

	// ResetsPattern marks a wait_pattern trigger; the runner commits it to the
	// cycle state once the bet is placed.
	ResetsPattern bool `json:"-"`
}

// NoBet builds a negative decision.
func NoBet(mode StrategyMode, reasons ...string) BetDecision {
	return BetDecision{Mode: mode, Reasons: reasons}
}

// Because appends a formatted reason.
func (d *BetDecision) Because(format string, args ...interface{}) {
	d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
}

// Legs expands the decision into one or two stakes.
func (d BetDecision) Legs() []BetLeg {
	if !d.ShouldBet || len(d.CashoutTargets) == 0 {
		return nil
	}
	legs := []BetLeg{{Amount: d.BetAmount, Target: d.CashoutTargets[0]}}
	if len(d.CashoutTargets) > 1 && d.SecondBetAmount > 0 {
		legs = append(legs, BetLeg{Amount: d.SecondBetAmount, Target: d.CashoutTargets[1]})
	}
	return legs
}

// TotalStake sums all legs.
func (d BetDecision) TotalStake() float64 {
	var total float64
	for _, l := range d.Legs() {
		total += l.Amount
	}
	return total
}

// CycleState is per-bot state that survives between decisions.
type CycleState struct {
	// PatternResetAt is the id of the round that last fired wait_pattern; only
	// later rounds count toward the next trigger.
	PatternResetAt int64 `json:"pattern_reset_at"`
}

// Commit records the effect of a placed decision.
func (c *CycleState) Commit(d BetDecision, lastRoundID int64) {
	if d.ShouldBet && d.ResetsPattern {
		c.PatternResetAt = lastRoundID
	}
}

// ResolvedBy tells whether an outcome came from the platform or from local settlement.
type ResolvedBy string

const (
	ResolvedLive      ResolvedBy = "live"
	ResolvedSimulated ResolvedBy = "simulated"
)

// ActiveBet exists from a successful placement until the next round resolves it.
type ActiveBet struct {
	ID           string    `json:"id"`
	BotID        string    `json:"bot_id"`
	SourceID     string    `json:"source_id"`
	AfterRoundID int64     `json:"after_round_id"`
	Legs         []BetLeg  `json:"legs"`
	PlacedAt     time.Time `json:"placed_at"`
	Live         bool      `json:"live"`
}

func (b ActiveBet) TotalStake() float64 {
	var total float64
	for _, l := range b.Legs {
		total += l.Amount
	}
	return total
}

// HistoryItem is what an ActiveBet becomes once resolved.
type HistoryItem struct {
	BetID           string     `json:"bet_id"`
	BotID           string     `json:"bot_id"`
	SourceID        string     `json:"source_id"`
	RoundID         int64      `json:"round_id"`
	CrashMultiplier float64    `json:"crash_multiplier"`
	Legs            []BetLeg   `json:"legs"`
	TotalStake      float64    `json:"total_stake"`
	Payout          float64    `json:"payout"`
	Profit          float64    `json:"profit"`
	IsWin           bool       `json:"is_win"`
	BalanceAfter    float64    `json:"balance_after"`
	ResolvedBy      ResolvedBy `json:"resolved_by"`
	ResolvedAt      time.Time  `json:"resolved_at"`
}

// LiveBetResult is one entry of the platform's recent bet history.
type LiveBetResult struct {
	IsWin             bool    `json:"isWin"`
	CashoutMultiplier float64 `json:"cashoutMultiplier"`
	WinAmount         float64 `json:"winAmount"`
	BetAmount         float64 `json:"betAmount"`
}

// PlaceResult is the executor's answer to a placement request.
type PlaceResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
