package models

import "time"

// MLPrediction is the per-round output of the inference service. Field names
// follow the JSON the service publishes.
type MLPrediction struct {
	RoundID            int64     `json:"round_id"`
	SourceID           string    `json:"source_id,omitempty"`
	GeneratedAt        time.Time `json:"generated_at"`
	ProbGt2x           float64   `json:"prob_gt_2x"`
	ProbGt3x           float64   `json:"prob_gt_3x"`
	ProbGt4x           float64   `json:"prob_gt_4x"`
	ProbGt5x           float64   `json:"prob_gt_5x"`
	ProbGt7x           float64   `json:"prob_gt_7x"`
	ProbGt10x          float64   `json:"prob_gt_10x"`
	ProbEarlyCrash     float64   `json:"prob_early_crash"`
	ProbHighLossStreak float64   `json:"prob_high_loss_streak"`
	ModelVersion       string    `json:"model_version"`
}

// Confidence is the model's probability of the next round reaching 2x.
func (p *MLPrediction) Confidence() float64 {
	if p == nil {
		return 0
	}
	return p.ProbGt2x
}

// Prob looks up a probability by its short key (gt_2x .. gt_10x).
func (p *MLPrediction) Prob(key string) float64 {
	if p == nil {
		return 0
	}
	switch key {
	case "gt_2x":
		return p.ProbGt2x
	case "gt_3x":
		return p.ProbGt3x
	case "gt_4x":
		return p.ProbGt4x
	case "gt_5x":
		return p.ProbGt5x
	case "gt_7x":
		return p.ProbGt7x
	case "gt_10x":
		return p.ProbGt10x
	}
	return 0
}
