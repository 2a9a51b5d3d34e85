package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
	"CrashPilot/internal/services/agent"
)

type placeRequest struct {
	Amount1 float64 `json:"amount1"`
	Target1 float64 `json:"target1"`
	Amount2 float64 `json:"amount2"`
	Target2 float64 `json:"target2"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

// HTTPExecutor drives real stakes through the automation agent.
type HTTPExecutor struct {
	base *agent.Base
}

var _ drepo.BetExecutor = (*HTTPExecutor)(nil)

func NewHTTPExecutor(agentURL string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{base: agent.NewBase(agentURL, timeout)}
}

func (e *HTTPExecutor) PlaceBet(ctx context.Context, amount1, target1, amount2, target2 float64) (models.PlaceResult, error) {
	var res models.PlaceResult
	err := e.base.PostJSON(ctx, "/bet", placeRequest{
		Amount1: amount1, Target1: target1,
		Amount2: amount2, Target2: target2,
	}, &res)
	if err != nil {
		return models.PlaceResult{Error: err.Error()}, fmt.Errorf("place bet: %w", err)
	}
	return res, nil
}

func (e *HTTPExecutor) FetchBalance(ctx context.Context) (float64, error) {
	var res balanceResponse
	if err := e.base.GetJSON(ctx, "/balance", nil, &res); err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	return res.Balance, nil
}

// FetchRecentHistory returns the platform's recent bets, newest first.
func (e *HTTPExecutor) FetchRecentHistory(ctx context.Context, limit int) ([]models.LiveBetResult, error) {
	var res []models.LiveBetResult
	q := map[string][]string{"limit": {strconv.Itoa(limit)}}
	if err := e.base.GetJSON(ctx, "/history", q, &res); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return res, nil
}

func (e *HTTPExecutor) EnableLiveMode(ctx context.Context, enabled bool) (models.PlaceResult, error) {
	var res models.PlaceResult
	if err := e.base.PostJSON(ctx, "/live", map[string]bool{"enabled": enabled}, &res); err != nil {
		return models.PlaceResult{Error: err.Error()}, fmt.Errorf("enable live mode: %w", err)
	}
	return res, nil
}
