package strategy

import (
	"fmt"
	"math"

	"CrashPilot/internal/domain/models"
)

// Hybrid combines the ML and rules strategies under one policy.
type Hybrid struct {
	cfg   models.BotConfig
	ml    Strategy
	rules Strategy
}

func (h *Hybrid) Mode() models.StrategyMode { return models.ModeHybrid }

func (h *Hybrid) Decide(in Input) (models.BetDecision, error) {
	mlD := vote(h.ml, in)
	rD := vote(h.rules, in)
	w := h.cfg.Hybrid.MLWeight

	out := models.BetDecision{Mode: models.ModeHybrid}
	for _, r := range mlD.Reasons {
		out.Because("ml: %s", r)
	}
	for _, r := range rD.Reasons {
		out.Because("rules: %s", r)
	}

	switch h.cfg.Hybrid.Policy {
	case models.HybridRequireBoth:
		if mlD.ShouldBet && rD.ShouldBet {
			return merge(out, mlD, rD, w), nil
		}
		out.Because("require_both: ml=%t rules=%t", mlD.ShouldBet, rD.ShouldBet)
		return out, nil

	case models.HybridOverride:
		switch {
		case mlD.ShouldBet && rD.ShouldBet:
			return merge(out, mlD, rD, w), nil
		case mlD.ShouldBet && h.cfg.Hybrid.AllowMLOverride:
			return adopt(out, mlD, "ml override"), nil
		case rD.ShouldBet && h.cfg.Hybrid.AllowRulesOverride:
			return adopt(out, rD, "rules override"), nil
		}
		out.Because("override: no side allowed to force a bet")
		return out, nil

	case models.HybridWeighted:
		score := w*boolVote(mlD.ShouldBet) + (1-w)*boolVote(rD.ShouldBet)
		out.Confidence = score
		if score < 0.5 {
			out.Because("weighted score %.2f below 0.50", score)
			return out, nil
		}
		var d models.BetDecision
		switch {
		case mlD.ShouldBet && rD.ShouldBet:
			d = merge(out, mlD, rD, w)
		case mlD.ShouldBet:
			d = adopt(out, mlD, "weighted")
		default:
			d = adopt(out, rD, "weighted")
		}
		d.Confidence = score
		d.Because("weighted score %.2f", score)
		return d, nil
	}
	return out, fmt.Errorf("unknown hybrid policy %q", h.cfg.Hybrid.Policy)
}

// vote runs a sub-strategy; a failure counts as a no vote.
func vote(s Strategy, in Input) models.BetDecision {
	d, err := s.Decide(in)
	if err != nil {
		return models.NoBet(s.Mode(), err.Error())
	}
	return d
}

func boolVote(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// merge takes the weighted target average and the smaller stake.
func merge(out, ml, rules models.BetDecision, w float64) models.BetDecision {
	target := w*firstTarget(ml) + (1-w)*firstTarget(rules)
	out.ShouldBet = true
	out.BetAmount = math.Min(ml.BetAmount, rules.BetAmount)
	out.CashoutTargets = []float64{roundCents(target)}
	out.Confidence = w*ml.Confidence + (1-w)*rules.Confidence
	out.IsHighOpportunity = ml.IsHighOpportunity || rules.IsHighOpportunity
	out.Because("both agree: %.2f @ %.2fx", out.BetAmount, out.CashoutTargets[0])
	return out
}

func adopt(out, src models.BetDecision, why string) models.BetDecision {
	out.ShouldBet = true
	out.BetAmount = src.BetAmount
	out.SecondBetAmount = src.SecondBetAmount
	out.CashoutTargets = append([]float64(nil), src.CashoutTargets...)
	out.Confidence = src.Confidence
	out.IsHighOpportunity = src.IsHighOpportunity
	out.Because("%s", why)
	return out
}

func firstTarget(d models.BetDecision) float64 {
	if len(d.CashoutTargets) == 0 {
		return 0
	}
	return d.CashoutTargets[0]
}
