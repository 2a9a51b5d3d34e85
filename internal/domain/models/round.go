package models

import (
	"math"
	"time"
)

// DetectionMethod names the heuristic that produced a RoundEvent.
type DetectionMethod string

const (
	DetectionHistory    DetectionMethod = "history"
	DetectionTransition DetectionMethod = "transition"
	DetectionCountdown  DetectionMethod = "countdown"
)

// MinMultiplier is the lowest possible crash value.
const MinMultiplier = 1.0

// RoundEvent is the canonical record of one completed round on one source.
// It is immutable once emitted.
type RoundEvent struct {
	ID              int64           `json:"id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Multiplier      float64         `json:"multiplier"`
	BettorCount     int             `json:"bettor_count"`
	TotalStaked     float64         `json:"total_staked"`
	TotalPaid       float64         `json:"total_paid"`
	SourceID        string          `json:"source_id"`
	DetectionMethod DetectionMethod `json:"detection_method"`
}

// NormalizeMultiplier rounds to two decimals and clamps to MinMultiplier.
// ok is false for NaN or infinite values.
func NormalizeMultiplier(m float64) (float64, bool) {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return 0, false
	}
	if m < MinMultiplier {
		m = MinMultiplier
	}
	return math.Round(m*100) / 100, true
}

// Multipliers extracts the multiplier series in the given order.
func Multipliers(events []RoundEvent) []float64 {
	out := make([]float64, len(events))
	for i, e := range events {
		out[i] = e.Multiplier
	}
	return out
}
