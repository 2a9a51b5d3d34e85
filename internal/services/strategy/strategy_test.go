package strategy

import (
	"errors"
	"math"
	"testing"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/services/risk"
)

func botConfig(t *testing.T, mode models.StrategyMode, edit func(*models.BotConfig)) models.BotConfig {
	t.Helper()
	cfg := models.BotConfig{ID: "bot-1", SourceID: "s1", Mode: mode}
	if edit != nil {
		edit(&cfg)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return cfg
}

func history(ms ...float64) []models.RoundEvent {
	out := make([]models.RoundEvent, len(ms))
	for i, m := range ms {
		out[i] = models.RoundEvent{ID: int64(i + 1), Multiplier: m, SourceID: "s1"}
	}
	return out
}

// avg completed streak 4 (runs of 3 and 5), current streak 7
func opportunityHistory() []models.RoundEvent {
	return history(
		2.5,
		1.1, 1.2, 1.3, 2.1,
		1.1, 1.2, 1.3, 1.4, 1.5, 3.0,
		1.1, 1.2, 1.3, 1.4, 1.5, 1.6, 1.7,
	)
}

func engine(t *testing.T, cfg models.BotConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func TestStopLossBlocksEveryMode(t *testing.T) {
	modes := []models.StrategyMode{
		models.ModeMLOnly, models.ModeRulesOnly, models.ModeHybrid,
		models.ModeBreakevenProfit, models.ModeWaitPattern, models.ModeConservative,
	}
	in := Input{
		History: opportunityHistory(),
		Risk:    models.RiskState{SessionStartBalance: 100, StopLossTriggered: true},
		Balance: 100,
		Prediction: &models.MLPrediction{
			ProbGt2x: 0.95, ProbGt5x: 0.5, ProbGt10x: 0.3,
		},
		Signal: &models.SequenceSignal{Strength: models.SignalStrong, ConsecutiveLows: 7, RecommendedTarget: 3},
	}
	for _, mode := range modes {
		cfg := botConfig(t, mode, func(c *models.BotConfig) {
			c.Sequence.Enabled = true
			c.Conservative.BetEveryRound = true
			c.WaitPattern.RequiredRounds = 1
		})
		d, err := engine(t, cfg).Decide(in)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", mode, err)
		}
		if d.ShouldBet {
			t.Fatalf("%s: stop-loss must block, got %+v", mode, d)
		}
		if len(d.Reasons) == 0 || d.Reasons[0] != "stop-loss triggered" {
			t.Fatalf("%s: unexpected reasons %v", mode, d.Reasons)
		}
	}
}

func TestConservativeBetsEveryRoundUntilStopLoss(t *testing.T) {
	cfg := botConfig(t, models.ModeConservative, func(c *models.BotConfig) {
		c.BetAmount = 2
		c.Conservative.TargetMultiplier = 1.5
		c.Conservative.BetEveryRound = true
		c.StopLoss = models.StopLossConfig{Enabled: true, Percent: 10}
	})
	e := engine(t, cfg)
	sup := risk.NewSupervisor(risk.LimitsFrom(cfg), 100)

	balance := 100.0
	bets := 0
	for round := 1; round <= 20; round++ {
		d, err := e.Decide(Input{History: history(1.2), Risk: sup.State(), Balance: balance})
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if !d.ShouldBet {
			break
		}
		if d.BetAmount != 2 || len(d.CashoutTargets) != 1 || d.CashoutTargets[0] != 1.5 {
			t.Fatalf("round %d: unexpected decision %+v", round, d)
		}
		bets++
		balance -= 2
		if _, err := sup.Resolve(models.Resolution{BetID: string(rune('a' + round)), Profit: -2, BalanceAfter: balance}); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if bets != 5 {
		t.Fatalf("expected 5 bets before a 10%% stop-loss, got %d", bets)
	}
	if !sup.State().StopLossTriggered {
		t.Fatalf("expected stop-loss")
	}
}

func TestConservativePatternAndProgression(t *testing.T) {
	cfg := botConfig(t, models.ModeConservative, func(c *models.BotConfig) {
		c.Conservative.Progression = models.ProgressionConfig{Enabled: true, Factor: 2, MaxMultiplier: 4}
	})
	e := engine(t, cfg)

	d, _ := e.Decide(Input{History: history(1.1, 3.0, 1.4), Balance: 100})
	if d.ShouldBet {
		t.Fatalf("one low round should not match a pattern of two")
	}
	d, _ = e.Decide(Input{History: history(3.0, 1.4, 1.3), Balance: 100, Risk: models.RiskState{ConsecutiveWins: 3}})
	if !d.ShouldBet || d.BetAmount != 4 {
		t.Fatalf("expected progression capped at 4x, got %+v", d)
	}
}

func TestRulesHighOpportunity(t *testing.T) {
	cfg := botConfig(t, models.ModeRulesOnly, func(c *models.BotConfig) {
		c.Rules.Streak2x.MultiplierThreshold = 1.5
	})
	d, err := engine(t, cfg).Decide(Input{History: opportunityHistory(), Balance: 100})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.IsHighOpportunity || !d.ShouldBet {
		t.Fatalf("expected high opportunity bet, got %+v", d)
	}
	if d.CashoutTargets[0] != 2 || d.BetAmount != 1 {
		t.Fatalf("unexpected legs %+v", d.Legs())
	}

	cfg.Rules.Streak2x.MultiplierThreshold = 2
	d, _ = engine(t, cfg).Decide(Input{History: opportunityHistory(), Balance: 100})
	if d.IsHighOpportunity || d.ShouldBet {
		t.Fatalf("7 is not above 4 x 2, got %+v", d)
	}
}

func TestRulesLossReduction(t *testing.T) {
	cfg := botConfig(t, models.ModeRulesOnly, func(c *models.BotConfig) {
		c.BetAmount = 2
	})
	d, _ := engine(t, cfg).Decide(Input{
		History: opportunityHistory(),
		Balance: 100,
		Risk:    models.RiskState{ConsecutiveLosses: 3},
	})
	if !d.ShouldBet || d.BetAmount != 1 {
		t.Fatalf("expected halved stake, got %+v", d)
	}
}

func TestMLBuckets(t *testing.T) {
	cfg := botConfig(t, models.ModeMLOnly, nil)
	e := engine(t, cfg)

	d, _ := e.Decide(Input{Balance: 100})
	if d.ShouldBet {
		t.Fatalf("no prediction must not bet")
	}

	d, _ = e.Decide(Input{Balance: 100, Prediction: &models.MLPrediction{ProbGt2x: 0.75}})
	if !d.ShouldBet || d.BetAmount != 1.25 || d.CashoutTargets[0] != 1.8 {
		t.Fatalf("expected 0.70 bucket, got %+v", d)
	}

	d, _ = e.Decide(Input{Balance: 100, Prediction: &models.MLPrediction{ProbGt2x: 0.9, ProbEarlyCrash: 0.4}})
	if d.ShouldBet {
		t.Fatalf("early crash must block, got %+v", d)
	}

	d, _ = e.Decide(Input{Balance: 100, Prediction: &models.MLPrediction{ProbGt2x: 0.5}})
	if d.ShouldBet {
		t.Fatalf("low confidence must block, got %+v", d)
	}
}

func TestHybridPolicies(t *testing.T) {
	pred := &models.MLPrediction{ProbGt2x: 0.85} // bucket 0.80: 1.5 x, 2.0 target
	in := Input{History: opportunityHistory(), Balance: 100, Prediction: pred}

	cfg := botConfig(t, models.ModeHybrid, func(c *models.BotConfig) {
		c.Rules.DefaultTarget = 3
	})
	d, _ := engine(t, cfg).Decide(in)
	if !d.ShouldBet || d.BetAmount != 1 || d.CashoutTargets[0] != 2.5 {
		t.Fatalf("require_both: expected min stake and averaged target, got %+v", d)
	}

	noRules := Input{History: history(2.5, 2.5, 2.5), Balance: 100, Prediction: pred}
	d, _ = engine(t, cfg).Decide(noRules)
	if d.ShouldBet {
		t.Fatalf("require_both without rules agreement must not bet")
	}

	cfg = botConfig(t, models.ModeHybrid, func(c *models.BotConfig) {
		c.Hybrid.Policy = models.HybridOverride
		c.Hybrid.AllowMLOverride = true
	})
	d, _ = engine(t, cfg).Decide(noRules)
	if !d.ShouldBet || d.BetAmount != 1.5 || d.CashoutTargets[0] != 2 {
		t.Fatalf("override: expected ml decision, got %+v", d)
	}

	cfg = botConfig(t, models.ModeHybrid, func(c *models.BotConfig) {
		c.Hybrid.Policy = models.HybridWeighted
		c.Hybrid.MLWeight = 0.4
	})
	d, _ = engine(t, cfg).Decide(noRules)
	if d.ShouldBet {
		t.Fatalf("weighted: 0.4 < 0.5 must not bet, got %+v", d)
	}
	d, _ = engine(t, cfg).Decide(Input{History: opportunityHistory(), Balance: 100})
	if !d.ShouldBet || math.Abs(d.Confidence-0.6) > 1e-9 {
		t.Fatalf("weighted: rules vote alone scores 0.6, got %+v", d)
	}
}

func TestBreakevenLegs(t *testing.T) {
	cfg := botConfig(t, models.ModeBreakevenProfit, func(c *models.BotConfig) {
		c.BetAmount = 1
	})
	e := engine(t, cfg)

	d, _ := e.Decide(Input{Balance: 100, Prediction: &models.MLPrediction{ProbGt2x: 0.6, ProbGt5x: 0.3, ProbGt10x: 0.05}})
	legs := d.Legs()
	if len(legs) != 2 {
		t.Fatalf("expected two legs, got %+v", d)
	}
	if legs[0].Target != 2 || legs[0].Amount != 1 {
		t.Fatalf("unexpected hedge leg %+v", legs[0])
	}
	if legs[1].Target != 5 || legs[1].Amount != 1 {
		t.Fatalf("unexpected profit leg %+v", legs[1])
	}
	// a hedge hit returns the whole pair stake
	if legs[0].Amount*legs[0].Target != d.TotalStake() {
		t.Fatalf("hedge does not break even: %+v", legs)
	}

	d, _ = e.Decide(Input{Balance: 100})
	if !d.ShouldBet || d.CashoutTargets[1] != 3 {
		t.Fatalf("expected default profit target, got %+v", d)
	}
}

func TestBreakevenClampKeepsHedgeRatio(t *testing.T) {
	cfg := botConfig(t, models.ModeBreakevenProfit, func(c *models.BotConfig) {
		c.BetAmount = 10
		c.MaxBetAmount = 15
		c.Breakeven.LowTarget = 1.5
	})
	d, _ := engine(t, cfg).Decide(Input{Balance: 1000})
	legs := d.Legs()
	if !d.ShouldBet || len(legs) != 2 {
		t.Fatalf("expected a scaled pair, got %+v", d)
	}
	if legs[0].Amount != 15 || legs[1].Amount != 7.5 {
		t.Fatalf("legs not scaled together: %+v", legs)
	}
	if hedge := legs[0].Amount * legs[0].Target; math.Abs(hedge-d.TotalStake()) > 0.01 {
		t.Fatalf("hedge payout %.2f does not cover stake %.2f", hedge, d.TotalStake())
	}

	// the scaled-down pair would put the profit leg under the minimum
	cfg = botConfig(t, models.ModeBreakevenProfit, func(c *models.BotConfig) {
		c.BetAmount = 1
		c.MinBetAmount = 1
		c.MaxBetAmount = 4
		c.Breakeven.LowTarget = 1.2
	})
	d, _ = engine(t, cfg).Decide(Input{Balance: 1000})
	if d.ShouldBet {
		t.Fatalf("pair outside limits must be rejected, got %+v", d.Legs())
	}
}

func TestWaitPatternResetsAfterTrigger(t *testing.T) {
	cfg := botConfig(t, models.ModeWaitPattern, func(c *models.BotConfig) {
		c.WaitPattern.RequiredRounds = 3
		c.WaitPattern.DoubleOnTrigger = true
	})
	e := engine(t, cfg)
	var cycle models.CycleState

	h := history(3.0, 1.2, 1.3)
	d, _ := e.Decide(Input{History: h, Balance: 100, Cycle: cycle})
	if d.ShouldBet {
		t.Fatalf("two lows must not trigger")
	}

	h = history(3.0, 1.2, 1.3, 1.4)
	d, _ = e.Decide(Input{History: h, Balance: 100, Cycle: cycle})
	if !d.ShouldBet || d.BetAmount != 2 {
		t.Fatalf("expected doubled trigger bet, got %+v", d)
	}
	cycle.Commit(d, h[len(h)-1].ID)

	h = history(3.0, 1.2, 1.3, 1.4, 1.1)
	d, _ = e.Decide(Input{History: h, Balance: 100, Cycle: cycle})
	if d.ShouldBet {
		t.Fatalf("pattern must restart after a trigger, got %+v", d)
	}
}

func TestSequenceOverlay(t *testing.T) {
	cfg := botConfig(t, models.ModeMLOnly, func(c *models.BotConfig) {
		c.Sequence.Enabled = true
	})
	e := engine(t, cfg)
	strong := &models.SequenceSignal{
		Strength:          models.SignalStrong,
		ConsecutiveLows:   4,
		RecommendedTarget: 3,
		Probabilities:     models.Probabilities{Gte2x: 0.85},
	}

	d, _ := e.Decide(Input{Balance: 100, Signal: strong})
	if !d.ShouldBet || d.CashoutTargets[0] != 3 || d.BetAmount != 1 {
		t.Fatalf("strong signal should flip to a bet, got %+v", d)
	}

	moderate := &models.SequenceSignal{Strength: models.SignalModerate, ConsecutiveLows: 3, RecommendedTarget: 3}
	d, _ = e.Decide(Input{Balance: 100, Signal: moderate})
	if d.ShouldBet {
		t.Fatalf("moderate signal must not flip, got %+v", d)
	}

	d, _ = e.Decide(Input{Balance: 100, Signal: moderate, Prediction: &models.MLPrediction{ProbGt2x: 0.65}})
	if !d.ShouldBet || d.BetAmount != 1.1 {
		t.Fatalf("moderate signal should boost the stake by 10%%, got %+v", d)
	}
	if d.Confidence < 0.65 {
		t.Fatalf("overlay lowered confidence: %v", d.Confidence)
	}
}

func TestClamps(t *testing.T) {
	cfg := botConfig(t, models.ModeConservative, func(c *models.BotConfig) {
		c.BetAmount = 10
		c.Conservative.BetEveryRound = true
		c.Bankroll = models.BankrollConfig{Enabled: true, MaxBetPercent: 5}
	})
	d, _ := engine(t, cfg).Decide(Input{Balance: 40})
	if !d.ShouldBet || d.BetAmount != 2 {
		t.Fatalf("expected 5%% bankroll cap, got %+v", d)
	}

	cfg = botConfig(t, models.ModeConservative, func(c *models.BotConfig) {
		c.BetAmount = 0.01
		c.MinBetAmount = 0.5
		c.Conservative.BetEveryRound = true
	})
	d, _ = engine(t, cfg).Decide(Input{Balance: 40})
	if d.BetAmount != 0.5 {
		t.Fatalf("expected min stake, got %+v", d)
	}
	d, _ = engine(t, cfg).Decide(Input{Balance: 0.4})
	if d.ShouldBet {
		t.Fatalf("stake above balance must be rejected, got %+v", d)
	}
}

type panicking struct{}

func (panicking) Mode() models.StrategyMode { return models.ModeRulesOnly }
func (panicking) Decide(Input) (models.BetDecision, error) {
	var ms []float64
	_ = ms[3]
	return models.BetDecision{}, nil
}

func TestDecisionErrorDegradesToNoBet(t *testing.T) {
	cfg := botConfig(t, models.ModeRulesOnly, func(c *models.BotConfig) { c.Sequence.Enabled = true })
	e := &Engine{cfg: cfg, strategy: panicking{}}
	d, err := e.Decide(Input{
		Balance: 100,
		Signal:  &models.SequenceSignal{Strength: models.SignalStrong, RecommendedTarget: 2},
	})
	if !errors.Is(err, models.ErrDecision) {
		t.Fatalf("expected ErrDecision, got %v", err)
	}
	if d.ShouldBet || len(d.Reasons) == 0 {
		t.Fatalf("expected no-bet with reason, got %+v", d)
	}
}
