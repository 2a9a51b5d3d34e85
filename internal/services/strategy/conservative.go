package strategy

import (
	"math"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/services/features"
)

// Conservative bets a fixed low target, every round or after a short pattern.
type Conservative struct {
	cfg models.BotConfig
}

func (c *Conservative) Mode() models.StrategyMode { return models.ModeConservative }

func (c *Conservative) Decide(in Input) (models.BetDecision, error) {
	cc := c.cfg.Conservative
	d := models.BetDecision{Mode: models.ModeConservative}

	if !cc.BetEveryRound {
		lows := features.TrailingBelow(in.Multipliers(), cc.PatternThreshold)
		if lows < cc.PatternLength {
			d.Because("pattern %d/%d rounds below %.2fx", lows, cc.PatternLength, cc.PatternThreshold)
			return d, nil
		}
		d.Because("pattern matched: %d rounds below %.2fx", lows, cc.PatternThreshold)
	}

	amount := c.cfg.BetAmount
	if p := cc.Progression; p.Enabled && in.Risk.ConsecutiveWins > 0 {
		mult := math.Min(math.Pow(p.Factor, float64(in.Risk.ConsecutiveWins)), p.MaxMultiplier)
		amount *= mult
		d.Because("progression after %d wins: x%.2f", in.Risk.ConsecutiveWins, mult)
	}

	d.ShouldBet = true
	d.BetAmount = amount
	d.CashoutTargets = []float64{cc.TargetMultiplier}
	d.Confidence = 1 / cc.TargetMultiplier
	d.Because("fixed target %.2fx", cc.TargetMultiplier)
	return d, nil
}
