package strategy

import (
	"fmt"
	"math"

	"CrashPilot/internal/domain/models"
)

// Input is everything a strategy sees for one decision.
type Input struct {
	History    []models.RoundEvent // oldest first
	Risk       models.RiskState
	Balance    float64
	Prediction *models.MLPrediction
	Signal     *models.SequenceSignal
	Cycle      models.CycleState
}

// Multipliers returns the history as a plain series.
func (in Input) Multipliers() []float64 { return models.Multipliers(in.History) }

// LastRoundID is the id of the newest round in the history, or 0.
func (in Input) LastRoundID() int64 {
	if len(in.History) == 0 {
		return 0
	}
	return in.History[len(in.History)-1].ID
}

// Strategy is one decision mode.
type Strategy interface {
	Mode() models.StrategyMode
	Decide(in Input) (models.BetDecision, error)
}

// New builds the strategy for cfg.Mode.
func New(cfg models.BotConfig) (Strategy, error) {
	switch cfg.Mode {
	case models.ModeRulesOnly:
		return &Rules{cfg: cfg}, nil
	case models.ModeMLOnly:
		return &ML{cfg: cfg}, nil
	case models.ModeHybrid:
		return &Hybrid{cfg: cfg, ml: &ML{cfg: cfg}, rules: &Rules{cfg: cfg}}, nil
	case models.ModeBreakevenProfit:
		return &Breakeven{cfg: cfg}, nil
	case models.ModeWaitPattern:
		return &WaitPattern{cfg: cfg}, nil
	case models.ModeConservative:
		return &Conservative{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("unknown strategy mode %q", cfg.Mode)
}

// Engine wraps a Strategy with the checks shared by every mode: risk
// pre-checks, the sequence overlay and stake clamps.
type Engine struct {
	cfg      models.BotConfig
	strategy Strategy
}

func NewEngine(cfg models.BotConfig) (*Engine, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, strategy: s}, nil
}

func (e *Engine) Mode() models.StrategyMode { return e.cfg.Mode }

// Decide always returns a usable decision. The error is non-nil only when the
// mode itself failed; it wraps models.ErrDecision and the decision is a no-bet
// carrying the failure reason.
func (e *Engine) Decide(in Input) (models.BetDecision, error) {
	mode := e.cfg.Mode
	if reason := in.Risk.BlockReason(); reason != "" {
		return models.NoBet(mode, reason), nil
	}

	d, err := e.run(in)
	if err != nil {
		err = fmt.Errorf("%s: %v: %w", mode, err, models.ErrDecision)
		return models.NoBet(mode, "decision error: "+err.Error()), err
	}
	d.Mode = mode

	if e.cfg.Sequence.Enabled {
		d = e.overlay(d, in.Signal)
	}
	return e.clamp(d, in.Balance), nil
}

func (e *Engine) run(in Input) (d models.BetDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.strategy.Decide(in)
}

// overlay applies a sequence signal. It never lowers stake or confidence.
func (e *Engine) overlay(d models.BetDecision, sig *models.SequenceSignal) models.BetDecision {
	if sig == nil {
		return d
	}
	if !d.ShouldBet {
		if !sig.IsStrong() {
			return d
		}
		d.ShouldBet = true
		d.BetAmount = e.cfg.BetAmount
		d.SecondBetAmount = 0
		d.CashoutTargets = []float64{sig.RecommendedTarget}
		d.Confidence = math.Max(d.Confidence, sig.Probabilities.Gte2x)
		d.Because("strong sequence signal: %d lows, target %.2fx", sig.ConsecutiveLows, sig.RecommendedTarget)
		return d
	}

	boost := e.cfg.Sequence.ModerateBoost
	if sig.IsStrong() {
		boost = e.cfg.Sequence.StrongBoost
	}
	if boost <= 0 {
		return d
	}
	d.BetAmount *= 1 + boost
	d.SecondBetAmount *= 1 + boost
	d.Confidence = math.Min(1, math.Max(d.Confidence, d.Confidence*(1+boost)))
	d.Because("%s sequence signal: stake +%.0f%%", sig.Strength, boost*100)
	return d
}

// clamp bounds every leg by the bankroll cap and the configured min/max, and
// rejects stakes the balance cannot cover.
func (e *Engine) clamp(d models.BetDecision, balance float64) models.BetDecision {
	legs := d.Legs()
	if len(legs) == 0 {
		d.ShouldBet = false
		return d
	}

	perLegCap := math.Inf(1)
	if e.cfg.Bankroll.Enabled {
		perLegCap = balance * e.cfg.Bankroll.MaxBetPercent / 100 / float64(len(legs))
	}
	if d.Mode == models.ModeBreakevenProfit && len(legs) == 2 {
		return e.clampHedge(d, balance, math.Min(perLegCap, e.cfg.MaxBetAmount))
	}
	bound := func(a float64) float64 {
		a = math.Min(a, perLegCap)
		a = math.Max(a, e.cfg.MinBetAmount)
		a = math.Min(a, e.cfg.MaxBetAmount)
		return roundCents(a)
	}

	d.BetAmount = bound(d.BetAmount)
	if len(legs) > 1 {
		d.SecondBetAmount = bound(d.SecondBetAmount)
	}
	if total := d.TotalStake(); total > balance {
		return models.NoBet(d.Mode, fmt.Sprintf("stake %.2f exceeds balance %.2f", total, balance))
	}
	return d
}

// clampHedge scales both legs by one factor so the hedge leg still returns
// the pair stake. A pair that cannot fit [MinBetAmount, hi] is rejected.
func (e *Engine) clampHedge(d models.BetDecision, balance, hi float64) models.BetDecision {
	a1, a2 := d.BetAmount, d.SecondBetAmount
	if a1 <= 0 || a2 <= 0 {
		return models.NoBet(d.Mode, fmt.Sprintf("invalid hedge pair %.2f/%.2f", a1, a2))
	}
	big, small := math.Max(a1, a2), math.Min(a1, a2)
	scale := 1.0
	if big > hi {
		scale = hi / big
	}
	if small*scale < e.cfg.MinBetAmount {
		scale = e.cfg.MinBetAmount / small
		if big*scale > hi+1e-9 {
			return models.NoBet(d.Mode, fmt.Sprintf("hedge pair %.2f/%.2f does not fit bet limits %.2f-%.2f",
				a1, a2, e.cfg.MinBetAmount, hi))
		}
	}
	if scale != 1 {
		d.BetAmount = roundCents(a1 * scale)
		d.SecondBetAmount = roundCents(a2 * scale)
		d.Because("hedge pair scaled x%.2f to fit bet limits", scale)
	}
	if total := d.TotalStake(); total > balance {
		return models.NoBet(d.Mode, fmt.Sprintf("stake %.2f exceeds balance %.2f", total, balance))
	}
	return d
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
