package strategy

import (
	"CrashPilot/internal/domain/models"
)

// WaitPattern stays inert until enough consecutive low rounds have been seen
// since its last trigger, then bets once.
type WaitPattern struct {
	cfg models.BotConfig
}

func (w *WaitPattern) Mode() models.StrategyMode { return models.ModeWaitPattern }

func (w *WaitPattern) Decide(in Input) (models.BetDecision, error) {
	wc := w.cfg.WaitPattern
	n := 0
	for i := len(in.History) - 1; i >= 0; i-- {
		e := in.History[i]
		if e.ID <= in.Cycle.PatternResetAt || e.Multiplier >= wc.Threshold {
			break
		}
		n++
	}

	d := models.BetDecision{Mode: models.ModeWaitPattern}
	if n < wc.RequiredRounds {
		d.Because("waiting: %d/%d rounds below %.2fx", n, wc.RequiredRounds, wc.Threshold)
		return d, nil
	}

	amount := w.cfg.BetAmount
	if wc.DoubleOnTrigger {
		amount *= 2
	}
	d.ShouldBet = true
	d.BetAmount = amount
	d.CashoutTargets = []float64{wc.Target}
	d.IsHighOpportunity = true
	d.ResetsPattern = true
	d.Because("pattern: %d rounds below %.2fx", n, wc.Threshold)
	return d, nil
}
