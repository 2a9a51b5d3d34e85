package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/services/executor"
)

type memoryPersistence struct {
	mu       sync.Mutex
	bets     []models.BetRecord
	sessions []models.SessionInfo
	ended    map[string]models.SessionStats
}

func newMemoryPersistence() *memoryPersistence {
	return &memoryPersistence{ended: make(map[string]models.SessionStats)}
}

func (p *memoryPersistence) RecordBet(ctx context.Context, r models.BetRecord) {
	p.mu.Lock()
	p.bets = append(p.bets, r)
	p.mu.Unlock()
}

func (p *memoryPersistence) StartSession(ctx context.Context, s models.SessionInfo) (string, error) {
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	return s.ID, nil
}

func (p *memoryPersistence) EndSession(ctx context.Context, id string, st models.SessionStats) error {
	p.mu.Lock()
	p.ended[id] = st
	p.mu.Unlock()
	return nil
}

func (p *memoryPersistence) recorded() []models.BetRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.BetRecord(nil), p.bets...)
}

// liveExecutor plays the platform agent for live bots.
type liveExecutor struct {
	mu         sync.Mutex
	placeErr   error
	history    []models.LiveBetResult
	historyErr error
	balance    float64
	balanceErr error
	placed     int
}

func (e *liveExecutor) PlaceBet(ctx context.Context, a1, t1, a2, t2 float64) (models.PlaceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.placeErr != nil {
		return models.PlaceResult{Error: e.placeErr.Error()}, e.placeErr
	}
	e.placed++
	return models.PlaceResult{Success: true}, nil
}

func (e *liveExecutor) FetchBalance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, e.balanceErr
}

func (e *liveExecutor) FetchRecentHistory(ctx context.Context, limit int) ([]models.LiveBetResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history, e.historyErr
}

func (e *liveExecutor) EnableLiveMode(ctx context.Context, enabled bool) (models.PlaceResult, error) {
	return models.PlaceResult{Success: true}, nil
}

func conservativeBot(t *testing.T) models.BotConfig {
	t.Helper()
	cfg := models.BotConfig{
		ID:             "b1",
		SourceID:       "s1",
		Mode:           models.ModeConservative,
		InitialBalance: 100,
		BetAmount:      2,
		Conservative:   models.ConservativeConfig{TargetMultiplier: 1.5, BetEveryRound: true},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	return cfg
}

func round(id int64, m float64) models.RoundEvent {
	return models.RoundEvent{ID: id, SourceID: "s1", Multiplier: m, OccurredAt: time.Unix(1700000000+id*10, 0)}
}

func TestRunnerSimulatedCycle(t *testing.T) {
	ctx := context.Background()
	persist := newMemoryPersistence()
	pub := &recordingPublisher{}
	r, err := NewBotRunner(conservativeBot(t), nil, pub, WithRunnerPersistence(persist))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	r.processRound(ctx, round(1, 1.2))
	st := r.Status()
	if st.ActiveBet == nil || st.ActiveBet.TotalStake() != 2 || st.Balance != 98 {
		t.Fatalf("expected a 2.00 stake placed, got %+v", st)
	}

	r.processRound(ctx, round(2, 1.8))
	r.processRound(ctx, round(3, 1.1))

	bets := persist.recorded()
	if len(bets) != 2 {
		t.Fatalf("expected 2 resolved bets, got %d", len(bets))
	}
	if !bets[0].IsWin || bets[0].Profit != 1 || bets[0].Payout != 3 || bets[0].RoundID != 2 || bets[0].BalanceAfter != 101 {
		t.Fatalf("unexpected win record %+v", bets[0])
	}
	if bets[1].IsWin || bets[1].Profit != -2 || bets[1].ResolvedBy != models.ResolvedSimulated {
		t.Fatalf("unexpected loss record %+v", bets[1])
	}

	st = r.Status()
	if st.Balance != 97 || st.Stats.Bets != 2 || st.Stats.Wins != 1 || st.Stats.Losses != 1 || st.Stats.Rounds != 3 {
		t.Fatalf("unexpected status %+v", st)
	}

	var betMsgs int
	pub.mu.Lock()
	for _, m := range pub.msgs {
		if m.Type == models.MessageBet {
			betMsgs++
		}
	}
	pub.mu.Unlock()
	if betMsgs != 2 {
		t.Fatalf("expected 2 bet messages, got %d", betMsgs)
	}
}

func TestRunnerStopLossHaltsBetting(t *testing.T) {
	ctx := context.Background()
	cfg := conservativeBot(t)
	cfg.StopLoss = models.StopLossConfig{Enabled: true, Percent: 5}
	persist := newMemoryPersistence()
	r, err := NewBotRunner(cfg, nil, nil, WithRunnerPersistence(persist))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	for i := int64(1); i <= 6; i++ {
		r.processRound(ctx, round(i, 1.1))
	}
	st := r.Status()
	if !st.Risk.StopLossTriggered {
		t.Fatalf("stop-loss should have triggered: %+v", st.Risk)
	}
	if st.ActiveBet != nil || st.LastDecision == nil || st.LastDecision.ShouldBet {
		t.Fatalf("no bet may follow stop-loss: %+v", st)
	}
	if len(persist.recorded()) != 3 || st.Balance != 94 {
		t.Fatalf("expected exactly 3 losing bets, got %d (balance %.2f)", len(persist.recorded()), st.Balance)
	}
}

func TestRunnerPlacementFailureAborts(t *testing.T) {
	ctx := context.Background()
	exec := &liveExecutor{placeErr: errors.New("button not found")}
	r, err := NewBotRunner(conservativeBot(t), exec, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.processRound(ctx, round(1, 1.3))
	st := r.Status()
	if st.ActiveBet != nil || st.Balance != 100 || st.Stats.Bets != 0 {
		t.Fatalf("failed placement must leave no trace: %+v", st)
	}
	if st.LastDecision == nil || !st.LastDecision.ShouldBet {
		t.Fatalf("the decision itself was positive")
	}
}

func TestRunnerIgnoresReplayedRound(t *testing.T) {
	ctx := context.Background()
	r, err := NewBotRunner(conservativeBot(t), nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.processRound(ctx, round(5, 1.3))
	r.processRound(ctx, round(5, 1.3))
	r.processRound(ctx, round(4, 9.0))
	st := r.Status()
	if st.ActiveBet == nil || st.Stats.Bets != 0 || st.Stats.Rounds != 1 {
		t.Fatalf("replayed rounds must be ignored: %+v", st)
	}
}

func TestRunnerFollowsRestartedNumbering(t *testing.T) {
	ctx := context.Background()
	r, err := NewBotRunner(conservativeBot(t), nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.processRound(ctx, round(5, 1.3))

	// the source came back counting from 1, but its rounds are newer
	restarted := round(1, 1.7)
	restarted.OccurredAt = round(6, 0).OccurredAt
	r.processRound(ctx, restarted)
	next := round(2, 1.4)
	next.OccurredAt = round(7, 0).OccurredAt
	r.processRound(ctx, next)

	st := r.Status()
	if st.Stats.Rounds != 3 || st.Stats.Bets != 2 || st.Stats.Wins != 1 {
		t.Fatalf("rounds after a restart must keep the bot going: %+v", st.Stats)
	}
	if st.ActiveBet == nil || st.ActiveBet.AfterRoundID != 2 {
		t.Fatalf("expected a bet placed after round 2, got %+v", st.ActiveBet)
	}
}

func TestRunnerLiveResolution(t *testing.T) {
	ctx := context.Background()
	cfg := conservativeBot(t)
	cfg.Live = true

	exec := &liveExecutor{
		history: []models.LiveBetResult{{IsWin: true, CashoutMultiplier: 1.5, WinAmount: 3, BetAmount: 2}},
		balance: 250,
	}
	persist := newMemoryPersistence()
	r, err := NewBotRunner(cfg, exec, nil, WithRunnerPersistence(persist))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.processRound(ctx, round(1, 1.2))
	r.processRound(ctx, round(2, 1.7))

	bets := persist.recorded()
	if len(bets) != 1 || bets[0].ResolvedBy != models.ResolvedLive || bets[0].Payout != 3 || bets[0].BalanceAfter != 250 {
		t.Fatalf("unexpected live resolution %+v", bets)
	}

	// platform history unreadable: fall back to the known crash value
	exec.mu.Lock()
	exec.historyErr = errors.New("timeout")
	exec.balanceErr = errors.New("timeout")
	exec.mu.Unlock()
	r.processRound(ctx, round(3, 1.2))

	bets = persist.recorded()
	if len(bets) != 2 || bets[1].ResolvedBy != models.ResolvedSimulated || bets[1].Payout != 0 || bets[1].Profit != -2 {
		t.Fatalf("unexpected fallback resolution %+v", bets)
	}
}

func TestRunnerLiveHistoryFromOtherBet(t *testing.T) {
	ctx := context.Background()
	cfg := conservativeBot(t)
	cfg.Live = true

	// newest platform entry is a 5.00 stake placed outside this bot
	exec := &liveExecutor{
		history: []models.LiveBetResult{{IsWin: true, CashoutMultiplier: 2, WinAmount: 10, BetAmount: 5}},
		balance: 250,
	}
	persist := newMemoryPersistence()
	r, err := NewBotRunner(cfg, exec, nil, WithRunnerPersistence(persist))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.processRound(ctx, round(1, 1.2))
	r.processRound(ctx, round(2, 1.7))

	bets := persist.recorded()
	if len(bets) != 1 || bets[0].ResolvedBy != models.ResolvedSimulated || bets[0].Payout != 3 {
		t.Fatalf("unmatched history must fall back to simulation: %+v", bets)
	}
}

func TestMatchLiveHistory(t *testing.T) {
	hedge := []models.BetLeg{{Amount: 10, Target: 1.5}, {Amount: 5, Target: 3}}
	tests := []struct {
		name    string
		legs    []models.BetLeg
		history []models.LiveBetResult
		want    float64
		wantErr bool
	}{
		{
			name:    "single leg win",
			legs:    []models.BetLeg{{Amount: 2, Target: 1.5}},
			history: []models.LiveBetResult{{IsWin: true, WinAmount: 3, BetAmount: 2}, {BetAmount: 7}},
			want:    3,
		},
		{
			name:    "hedge legs in reverse order",
			legs:    hedge,
			history: []models.LiveBetResult{{BetAmount: 5}, {IsWin: true, WinAmount: 15, BetAmount: 10}},
			want:    15,
		},
		{
			name:    "stake mismatch",
			legs:    hedge,
			history: []models.LiveBetResult{{BetAmount: 10}, {BetAmount: 4}},
			wantErr: true,
		},
		{
			name:    "same stake twice",
			legs:    hedge,
			history: []models.LiveBetResult{{BetAmount: 10}, {BetAmount: 10}},
			wantErr: true,
		},
		{
			name:    "history too short",
			legs:    hedge,
			history: []models.LiveBetResult{{BetAmount: 10}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matchLiveHistory(tt.legs, tt.history)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got payout %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if f, _ := got.Float64(); f != tt.want {
				t.Fatalf("payout %v, want %v", f, tt.want)
			}
		})
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunnerStopResolvesActiveBet(t *testing.T) {
	ctx := context.Background()
	persist := newMemoryPersistence()
	r, err := NewBotRunner(conservativeBot(t), executor.NewSimulator(100), nil, WithRunnerPersistence(persist))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); !errors.Is(err, models.ErrBotActive) {
		t.Fatalf("second start: want ErrBotActive, got %v", err)
	}

	r.Enqueue(round(1, 1.4))
	waitFor(t, "bet placement", func() bool { return r.Status().ActiveBet != nil })

	r.Stop()
	if !r.Running() || !r.Status().Stopping {
		t.Fatalf("runner must wait for the active bet")
	}

	r.Enqueue(round(2, 2.5))
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not exit after resolution")
	}

	st := r.Status()
	if st.Running || st.ActiveBet != nil || st.Stats.Bets != 1 || st.Stats.Wins != 1 {
		t.Fatalf("unexpected final status %+v", st)
	}
	persist.mu.Lock()
	ended, ok := persist.ended[st.SessionID]
	persist.mu.Unlock()
	if !ok || ended.Bets != 1 || ended.FinalBalance != 101 {
		t.Fatalf("session not closed with stats: %+v %v", ended, ok)
	}
}
