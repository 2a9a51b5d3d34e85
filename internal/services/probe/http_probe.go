package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
	"CrashPilot/internal/services/agent"
	"CrashPilot/pkg/util"
)

// snapshotPayload is what the automation agent scrapes from the game page.
type snapshotPayload struct {
	Multiplier         float64   `json:"multiplier"`
	IsRunning          bool      `json:"isRunning"`
	IsCountdownVisible bool      `json:"isCountdownVisible"`
	BettorCount        int       `json:"bettorCount"`
	TotalStaked        float64   `json:"totalStaked"`
	TotalPaid          float64   `json:"totalPaid"`
	RecentHistory      []float64 `json:"recentHistory"`
	PageText           string    `json:"pageText,omitempty"`
	AuthFault          bool      `json:"authFault"`
	CapturedAt         string    `json:"capturedAt,omitempty"`
}

var authMarkers = []string{"session expired", "login", "sign in", "unauthorized"}

// HTTPProbe polls an automation agent that renders one game page.
type HTTPProbe struct {
	sourceID string
	base     *agent.Base
	now      func() time.Time
}

var _ drepo.Probe = (*HTTPProbe)(nil)

func NewHTTPProbe(sourceID, agentURL string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		sourceID: sourceID,
		base:     agent.NewBase(agentURL, timeout),
		now:      time.Now,
	}
}

// Poll fetches one snapshot. Session problems come back as ErrSourceAuth.
func (p *HTTPProbe) Poll(ctx context.Context) (models.Snapshot, error) {
	var out snapshotPayload
	if err := p.base.GetJSON(ctx, "/snapshot", nil, &out); err != nil {
		if agent.IsUnauthorized(err) {
			return models.Snapshot{}, fmt.Errorf("probe %s: %v: %w", p.sourceID, err, models.ErrSourceAuth)
		}
		return models.Snapshot{}, fmt.Errorf("probe %s: %w", p.sourceID, err)
	}
	takenAt, ok := util.ParseTime(out.CapturedAt)
	if !ok {
		takenAt = p.now()
	}
	return models.Snapshot{
		Multiplier:         out.Multiplier,
		IsRunning:          out.IsRunning,
		IsCountdownVisible: out.IsCountdownVisible,
		BettorCount:        out.BettorCount,
		TotalStaked:        out.TotalStaked,
		TotalPaid:          out.TotalPaid,
		RecentHistory:      out.RecentHistory,
		AuthFault:          out.AuthFault || looksLikeAuthPage(out.PageText),
		TakenAt:            takenAt,
	}, nil
}

// Reload asks the agent to reload the page.
func (p *HTTPProbe) Reload(ctx context.Context) error {
	if err := p.base.PostJSON(ctx, "/reload", map[string]string{"source_id": p.sourceID}, nil); err != nil {
		return fmt.Errorf("probe %s reload: %w", p.sourceID, err)
	}
	return nil
}

func looksLikeAuthPage(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range authMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
