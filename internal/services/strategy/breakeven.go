package strategy

import (
	"fmt"

	"CrashPilot/internal/domain/models"
)

// Breakeven places a low-target leg sized to return the whole stake plus a
// high-target profit leg.
type Breakeven struct {
	cfg models.BotConfig
}

func (b *Breakeven) Mode() models.StrategyMode { return models.ModeBreakevenProfit }

func (b *Breakeven) Decide(in Input) (models.BetDecision, error) {
	bc := b.cfg.Breakeven
	t1 := bc.LowTarget
	if t1 <= 1 {
		return models.BetDecision{}, fmt.Errorf("low target %.2f must be above 1", t1)
	}

	d := models.BetDecision{Mode: models.ModeBreakevenProfit}
	p := in.Prediction
	if p != nil && p.ProbEarlyCrash > b.cfg.ML.MaxEarlyCrashProb {
		d.Confidence = p.Confidence()
		d.Because("early crash probability %.2f above %.2f", p.ProbEarlyCrash, b.cfg.ML.MaxEarlyCrashProb)
		return d, nil
	}

	t2 := bc.DefaultProfitTarget
	if p != nil {
		d.Confidence = p.Confidence()
		for _, rung := range bc.Ladder {
			if p.Prob(rung.Key) >= rung.MinProb {
				t2 = rung.Target
				d.IsHighOpportunity = true
				d.Because("%s %.2f >= %.2f: profit target %.0fx", rung.Key, p.Prob(rung.Key), rung.MinProb, rung.Target)
				break
			}
		}
	}
	if !d.IsHighOpportunity {
		d.Because("profit target %.2fx", t2)
	}

	a2 := b.cfg.BetAmount
	a1 := a2 / (t1 - 1)

	d.ShouldBet = true
	d.BetAmount = roundCents(a1)
	d.SecondBetAmount = a2
	d.CashoutTargets = []float64{t1, t2}
	d.Because("hedge %.2f @ %.2fx covers %.2f @ %.2fx", d.BetAmount, t1, a2, t2)
	return d, nil
}
