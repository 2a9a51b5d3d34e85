package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/services/bus"
	"CrashPilot/pkg/logger"
)

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	b := bus.New(logger.Nop(), nil)
	persist := newMemoryPersistence()
	m := NewBotManager(b, b, WithManagerPersistence(persist))

	cfg := models.BotConfig{ID: "b1", SourceID: "s1", BetAmount: 2, InitialBalance: 50,
		Conservative: models.ConservativeConfig{BetEveryRound: true}}
	created, err := m.CreateBot(cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Mode != models.ModeConservative || created.Conservative.TargetMultiplier != 1.5 {
		t.Fatalf("defaults not applied: %+v", created)
	}
	if _, err := m.CreateBot(cfg); !errors.Is(err, models.ErrBotExists) {
		t.Fatalf("duplicate create: want ErrBotExists, got %v", err)
	}
	if _, err := m.StartBot(ctx, "nope"); !errors.Is(err, models.ErrBotNotFound) {
		t.Fatalf("unknown bot: want ErrBotNotFound, got %v", err)
	}

	if _, err := m.StartBot(ctx, "b1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.StartBot(ctx, "b1"); !errors.Is(err, models.ErrBotActive) {
		t.Fatalf("double start: want ErrBotActive, got %v", err)
	}
	if _, err := m.UpdateConfig("b1", cfg); !errors.Is(err, models.ErrBotActive) {
		t.Fatalf("update while running: want ErrBotActive, got %v", err)
	}
	if err := m.DeleteBot("b1"); !errors.Is(err, models.ErrBotActive) {
		t.Fatalf("delete while running: want ErrBotActive, got %v", err)
	}

	// rounds of other sources never reach the bot
	b.Publish(models.NewRoundMessage(models.RoundEvent{ID: 1, SourceID: "s2", Multiplier: 1.3}))
	b.Publish(models.NewRoundMessage(models.RoundEvent{ID: 1, SourceID: "s1", Multiplier: 1.3}))
	waitFor(t, "bet placement", func() bool {
		s, _ := m.Status("b1")
		return s.ActiveBet != nil
	})

	if _, err := m.StopBot("b1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	b.Publish(models.NewRoundMessage(models.RoundEvent{ID: 2, SourceID: "s1", Multiplier: 1.2}))
	waitFor(t, "runner exit", func() bool {
		s, _ := m.Status("b1")
		return !s.Running
	})
	waitFor(t, "unsubscribe", func() bool { return b.Len() == 0 })

	st, _ := m.Status("b1")
	if st.Stats.Bets != 1 || st.Stats.Losses != 1 || st.Balance != 48 {
		t.Fatalf("unexpected final status %+v", st)
	}
	if len(persist.recorded()) != 1 {
		t.Fatalf("bet not persisted")
	}

	cfg.BetAmount = 3
	updated, err := m.UpdateConfig("b1", cfg)
	if err != nil || updated.BetAmount != 3 {
		t.Fatalf("update after stop: %+v %v", updated, err)
	}
	if list := m.List(); len(list) != 1 || list[0].ID != "b1" {
		t.Fatalf("unexpected list %+v", list)
	}
	if err := m.DeleteBot("b1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestManagerResetRiskClearsStop(t *testing.T) {
	ctx := context.Background()
	b := bus.New(logger.Nop(), nil)
	m := NewBotManager(b, b)

	cfg := models.BotConfig{ID: "b2", SourceID: "s1", BetAmount: 5, InitialBalance: 100,
		StopLoss:     models.StopLossConfig{Enabled: true, Percent: 5},
		Conservative: models.ConservativeConfig{BetEveryRound: true}}
	if _, err := m.CreateBot(cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.StartBot(ctx, "b2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		m.StopAll(sctx)
	}()

	b.Publish(models.NewRoundMessage(models.RoundEvent{ID: 1, SourceID: "s1", Multiplier: 1.1}))
	b.Publish(models.NewRoundMessage(models.RoundEvent{ID: 2, SourceID: "s1", Multiplier: 1.1}))
	waitFor(t, "stop-loss", func() bool {
		s, _ := m.Status("b2")
		return s.Risk.StopLossTriggered
	})

	state, err := m.ResetRisk("b2")
	if err != nil || state.StopLossTriggered || state.SessionStartBalance != 95 {
		t.Fatalf("reset: %+v %v", state, err)
	}
}
