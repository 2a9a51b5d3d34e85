package service

import (
	"context"

	"CrashPilot/internal/domain/models"
)

// PredictionProvider returns the ML view of the next round for a source.
// A nil prediction with a nil error means no usable prediction exists.
type PredictionProvider interface {
	Predict(ctx context.Context, sourceID string, history []models.RoundEvent) (*models.MLPrediction, error)
}

// SignalAnalyzer derives a SequenceSignal from the recent round window, or nil
// when no streak is active.
type SignalAnalyzer interface {
	Analyze(sourceID string, window []models.RoundEvent) *models.SequenceSignal
}
