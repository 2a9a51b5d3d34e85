package models

import "time"

// SignalStrength grades a low-multiplier streak.
type SignalStrength string

const (
	SignalModerate SignalStrength = "MODERATE"
	SignalStrong   SignalStrength = "STRONG"
)

// Probabilities holds estimated chances of the next round reaching each level.
type Probabilities struct {
	Gte2x  float64 `json:"gte_2x"`
	Gte3x  float64 `json:"gte_3x"`
	Gte5x  float64 `json:"gte_5x"`
	Gte10x float64 `json:"gte_10x"`
}

// SequenceSignal is derived from the latest RoundEvent window. Each new event
// supersedes the previous signal.
type SequenceSignal struct {
	SourceID          string         `json:"source_id"`
	Strength          SignalStrength `json:"strength"`
	ConsecutiveLows   int            `json:"consecutive_lows"`
	Probabilities     Probabilities  `json:"probabilities"`
	RecommendedTarget float64        `json:"recommended_target"`
	EmittedAt         time.Time      `json:"emitted_at"`
}

func (s *SequenceSignal) IsStrong() bool {
	return s != nil && s.Strength == SignalStrong
}
