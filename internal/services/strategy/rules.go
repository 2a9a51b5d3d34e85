package strategy

import (
	"math"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/services/features"
)

// Rules bets when the current run without a 2x hit is unusually long.
type Rules struct {
	cfg models.BotConfig
}

func (r *Rules) Mode() models.StrategyMode { return models.ModeRulesOnly }

func (r *Rules) Decide(in Input) (models.BetDecision, error) {
	rc := r.cfg.Rules
	ms := in.Multipliers()
	d := models.BetDecision{Mode: models.ModeRulesOnly}

	st := features.Streaks(ms, features.HitLevel, rc.Streak2x.Lookback)
	d.IsHighOpportunity = st.HighOpportunity(rc.Streak2x.MultiplierThreshold, rc.Streak2x.MinCompletedStreaks)
	if !d.IsHighOpportunity {
		d.Because("streak %d not above average %.2f x %.2f", st.Current, st.Average, rc.Streak2x.MultiplierThreshold)
		return d, nil
	}
	d.Because("streak %d above average %.2f x %.2f", st.Current, st.Average, rc.Streak2x.MultiplierThreshold)

	target := rc.DefaultTarget
	amount := r.cfg.BetAmount

	if rc.Momentum.Enabled {
		m := features.Momentum(ms, rc.Momentum.ShortWindow, rc.Momentum.LongWindow)
		switch {
		case m >= rc.Momentum.HotRatio:
			target += rc.Momentum.HotTargetBoost
			d.Because("hot momentum %.2f: target %.2fx", m, target)
		case m <= rc.Momentum.ColdRatio && rc.Momentum.BlockOnCold:
			d.Because("cold momentum %.2f", m)
			return d, nil
		}
	}

	confidence := features.HitRate(lastN(ms, rc.Streak2x.Lookback), target)
	if rc.Favorability.Enabled {
		f := features.Favorability(ms, target, rc.Favorability.Window)
		if f < rc.Favorability.MinScore {
			d.Because("favorability %.2f below %.2f", f, rc.Favorability.MinScore)
			return d, nil
		}
		confidence = f
	}

	if rc.LossReduction.AfterLosses > 0 && in.Risk.ConsecutiveLosses >= rc.LossReduction.AfterLosses {
		amount *= rc.LossReduction.Factor
		d.Because("%d consecutive losses: stake x%.2f", in.Risk.ConsecutiveLosses, rc.LossReduction.Factor)
	}

	d.ShouldBet = true
	d.BetAmount = amount
	d.CashoutTargets = []float64{target}
	d.Confidence = math.Min(1, confidence)
	return d, nil
}

func lastN(ms []float64, n int) []float64 {
	if n > 0 && len(ms) > n {
		return ms[len(ms)-n:]
	}
	return ms
}
