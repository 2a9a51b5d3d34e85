package strategy

import (
	"CrashPilot/internal/domain/models"
)

// ML sizes and targets bets by the confidence of the inference service.
type ML struct {
	cfg models.BotConfig
}

func (m *ML) Mode() models.StrategyMode { return models.ModeMLOnly }

func (m *ML) Decide(in Input) (models.BetDecision, error) {
	mc := m.cfg.ML
	p := in.Prediction
	if p == nil {
		return models.NoBet(models.ModeMLOnly, "no ml prediction"), nil
	}

	conf := p.Confidence()
	d := models.BetDecision{Mode: models.ModeMLOnly, Confidence: conf}
	if conf < mc.MinConfidenceToBet {
		d.Because("confidence %.2f below %.2f", conf, mc.MinConfidenceToBet)
		return d, nil
	}
	if p.ProbEarlyCrash > mc.MaxEarlyCrashProb {
		d.Because("early crash probability %.2f above %.2f", p.ProbEarlyCrash, mc.MaxEarlyCrashProb)
		return d, nil
	}
	if p.ProbHighLossStreak > mc.MaxLossStreakProb {
		d.Because("loss streak probability %.2f above %.2f", p.ProbHighLossStreak, mc.MaxLossStreakProb)
		return d, nil
	}

	for _, b := range mc.Buckets {
		if conf < b.MinConfidence {
			continue
		}
		d.ShouldBet = true
		d.BetAmount = m.cfg.BetAmount * b.BetMultiplier
		d.CashoutTargets = []float64{b.Target}
		d.IsHighOpportunity = b.BetMultiplier > 1
		d.Because("confidence %.2f in bucket >= %.2f: x%.2f @ %.2fx", conf, b.MinConfidence, b.BetMultiplier, b.Target)
		return d, nil
	}
	d.Because("confidence %.2f matches no bucket", conf)
	return d, nil
}
