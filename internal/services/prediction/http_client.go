package prediction

import (
	"context"
	"fmt"
	"time"

	"CrashPilot/internal/domain/models"
	dsvc "CrashPilot/internal/domain/service"
	"CrashPilot/internal/services/agent"
)

type predictRequest struct {
	SourceID    string    `json:"source_id"`
	RoundID     int64     `json:"round_id"`
	Multipliers []float64 `json:"multipliers"`
}

// HTTPClient asks the inference service for a prediction on demand.
type HTTPClient struct {
	base     *agent.Base
	maxAge   time.Duration
	attempts int
	now      func() time.Time
}

var _ dsvc.PredictionProvider = (*HTTPClient)(nil)

func NewHTTPClient(serviceURL string, timeout, maxAge time.Duration) *HTTPClient {
	return &HTTPClient{
		base:     agent.NewBase(serviceURL, timeout),
		maxAge:   maxAge,
		attempts: 2,
		now:      time.Now,
	}
}

func (c *HTTPClient) Predict(ctx context.Context, sourceID string, history []models.RoundEvent) (*models.MLPrediction, error) {
	if len(history) == 0 {
		return nil, nil
	}
	req := predictRequest{
		SourceID:    sourceID,
		RoundID:     history[len(history)-1].ID,
		Multipliers: models.Multipliers(history),
	}
	var p models.MLPrediction
	if err := c.base.PostJSONWithRetry(ctx, "/predict", req, &p, c.attempts); err != nil {
		return nil, fmt.Errorf("predict %s: %w", sourceID, err)
	}
	if p.GeneratedAt.IsZero() {
		p.GeneratedAt = c.now()
	}
	if c.maxAge > 0 && c.now().Sub(p.GeneratedAt) > c.maxAge {
		return nil, nil
	}
	if p.SourceID == "" {
		p.SourceID = sourceID
	}
	return &p, nil
}
