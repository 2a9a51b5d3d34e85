package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
	dsvc "CrashPilot/internal/domain/service"
	"CrashPilot/internal/services/bus"
	"CrashPilot/internal/services/executor"
	"CrashPilot/pkg/logger"
)

// MessageSource is where bots subscribe for round messages.
type MessageSource interface {
	Subscribe(name string, fn bus.Handler) (unsubscribe func())
}

// ExecutorFactory builds the executor a bot bets through.
type ExecutorFactory func(cfg models.BotConfig) (drepo.BetExecutor, error)

// SimulatedExecutors gives every bot its own simulator ledger.
func SimulatedExecutors(cfg models.BotConfig) (drepo.BetExecutor, error) {
	return executor.NewSimulator(cfg.InitialBalance), nil
}

type managedBot struct {
	cfg    models.BotConfig
	runner *BotRunner
	unsub  func()
}

type ManagerOption func(*BotManager)

func WithExecutorFactory(f ExecutorFactory) ManagerOption {
	return func(m *BotManager) {
		if f != nil {
			m.execFactory = f
		}
	}
}

func WithManagerPredictor(p dsvc.PredictionProvider) ManagerOption {
	return func(m *BotManager) { m.predictor = p }
}

func WithManagerAnalyzer(a dsvc.SignalAnalyzer) ManagerOption {
	return func(m *BotManager) { m.analyzer = a }
}

func WithManagerHistory(h RoundHistory) ManagerOption {
	return func(m *BotManager) { m.history = h }
}

func WithManagerPersistence(p drepo.Persistence) ManagerOption {
	return func(m *BotManager) { m.persist = p }
}

func WithManagerBetStore(s drepo.BetStore) ManagerOption {
	return func(m *BotManager) { m.bets = s }
}

func WithManagerMetrics(mt drepo.Metrics) ManagerOption {
	return func(m *BotManager) { m.metrics = mt }
}

func WithManagerLogger(l *logger.Logger) ManagerOption {
	return func(m *BotManager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithManagerExecutorTimeout(d time.Duration) ManagerOption {
	return func(m *BotManager) { m.execTimeout = d }
}

// BotManager owns the configured bots and their runners.
type BotManager struct {
	mu   sync.Mutex
	bots map[string]*managedBot

	source      MessageSource
	pub         EventPublisher
	execFactory ExecutorFactory
	predictor   dsvc.PredictionProvider
	analyzer    dsvc.SignalAnalyzer
	history     RoundHistory
	persist     drepo.Persistence
	bets        drepo.BetStore
	metrics     drepo.Metrics
	log         *logger.Logger
	execTimeout time.Duration
}

func NewBotManager(source MessageSource, pub EventPublisher, opts ...ManagerOption) *BotManager {
	m := &BotManager{
		bots:        make(map[string]*managedBot),
		source:      source,
		pub:         pub,
		execFactory: SimulatedExecutors,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateBot registers a new bot. The configuration is defaulted and validated.
func (m *BotManager) CreateBot(cfg models.BotConfig) (models.BotConfig, error) {
	if err := prepareConfig(&cfg); err != nil {
		return cfg, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bots[cfg.ID]; ok {
		return cfg, fmt.Errorf("bot %s: %w", cfg.ID, models.ErrBotExists)
	}
	m.bots[cfg.ID] = &managedBot{cfg: cfg}
	m.log.Info("bot created", logger.Bot(cfg.ID), logger.String("mode", string(cfg.Mode)))
	return cfg, nil
}

func prepareConfig(cfg *models.BotConfig) error {
	if err := cfg.ApplyDefaults(); err != nil {
		return err
	}
	return cfg.Validate()
}

// UpdateConfig replaces a bot's configuration. Running bots are immutable.
func (m *BotManager) UpdateConfig(id string, cfg models.BotConfig) (models.BotConfig, error) {
	cfg.ID = id
	if err := prepareConfig(&cfg); err != nil {
		return cfg, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return cfg, fmt.Errorf("bot %s: %w", id, models.ErrBotNotFound)
	}
	if b.runner != nil && b.runner.Running() {
		return b.cfg, fmt.Errorf("bot %s: %w", id, models.ErrBotActive)
	}
	b.cfg = cfg
	return cfg, nil
}

// DeleteBot removes an inactive bot.
func (m *BotManager) DeleteBot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return fmt.Errorf("bot %s: %w", id, models.ErrBotNotFound)
	}
	if b.runner != nil && b.runner.Running() {
		return fmt.Errorf("bot %s: %w", id, models.ErrBotActive)
	}
	delete(m.bots, id)
	return nil
}

func (m *BotManager) Config(id string) (models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return models.BotConfig{}, fmt.Errorf("bot %s: %w", id, models.ErrBotNotFound)
	}
	return b.cfg, nil
}

// StartBot launches a fresh runner and subscribes it to the bus.
func (m *BotManager) StartBot(ctx context.Context, id string) (BotStatus, error) {
	m.mu.Lock()
	b, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return BotStatus{}, fmt.Errorf("bot %s: %w", id, models.ErrBotNotFound)
	}
	if b.runner != nil && b.runner.Running() {
		m.mu.Unlock()
		return b.runner.Status(), fmt.Errorf("bot %s: %w", id, models.ErrBotActive)
	}
	cfg := b.cfg
	m.mu.Unlock()

	exec, err := m.execFactory(cfg)
	if err != nil {
		return BotStatus{}, fmt.Errorf("bot %s executor: %w", id, err)
	}
	runner, err := NewBotRunner(cfg, exec, m.pub,
		WithRunnerPredictor(m.predictor),
		WithRunnerAnalyzer(m.analyzer),
		WithRunnerHistory(m.history),
		WithRunnerPersistence(m.persist),
		WithRunnerMetrics(m.metrics),
		WithRunnerLogger(m.log),
		WithExecutorTimeout(m.execTimeout),
	)
	if err != nil {
		return BotStatus{}, err
	}

	m.mu.Lock()
	if b.runner != nil && b.runner.Running() {
		m.mu.Unlock()
		return b.runner.Status(), fmt.Errorf("bot %s: %w", id, models.ErrBotActive)
	}
	if err := runner.Start(ctx); err != nil {
		m.mu.Unlock()
		return BotStatus{}, err
	}
	b.runner = runner
	if m.source != nil {
		b.unsub = m.source.Subscribe("bot:"+id, runner.HandleMessage)
	}
	m.mu.Unlock()

	go m.detachOnExit(id, runner)
	return runner.Status(), nil
}

// detachOnExit drops the bus subscription once the runner has finished.
func (m *BotManager) detachOnExit(id string, runner *BotRunner) {
	<-runner.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok || b.runner != runner {
		return
	}
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
}

// StopBot stops new decisions. The runner exits after its active bet resolves.
func (m *BotManager) StopBot(id string) (BotStatus, error) {
	m.mu.Lock()
	b, ok := m.bots[id]
	m.mu.Unlock()
	if !ok {
		return BotStatus{}, fmt.Errorf("bot %s: %w", id, models.ErrBotNotFound)
	}
	if b.runner == nil {
		return m.idleStatus(b.cfg), nil
	}
	b.runner.Stop()
	return b.runner.Status(), nil
}

// ResetRisk clears the risk session of a bot, including sticky stops.
func (m *BotManager) ResetRisk(id string) (models.RiskState, error) {
	m.mu.Lock()
	b, ok := m.bots[id]
	m.mu.Unlock()
	if !ok {
		return models.RiskState{}, fmt.Errorf("bot %s: %w", id, models.ErrBotNotFound)
	}
	if b.runner == nil {
		return models.RiskState{SessionStartBalance: b.cfg.InitialBalance}, nil
	}
	return b.runner.ResetRisk(), nil
}

func (m *BotManager) Status(id string) (BotStatus, error) {
	m.mu.Lock()
	b, ok := m.bots[id]
	m.mu.Unlock()
	if !ok {
		return BotStatus{}, fmt.Errorf("bot %s: %w", id, models.ErrBotNotFound)
	}
	if b.runner == nil {
		return m.idleStatus(b.cfg), nil
	}
	return b.runner.Status(), nil
}

// List returns every bot's status ordered by id.
func (m *BotManager) List() []BotStatus {
	m.mu.Lock()
	ids := make([]string, 0, len(m.bots))
	for id := range m.bots {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	out := make([]BotStatus, 0, len(ids))
	for _, id := range ids {
		if s, err := m.Status(id); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Bets returns persisted bets of a bot, newest first.
func (m *BotManager) Bets(ctx context.Context, id string, limit int) ([]models.BetRecord, error) {
	if _, err := m.Config(id); err != nil {
		return nil, err
	}
	if m.bets == nil {
		return nil, nil
	}
	return m.bets.RecentBets(ctx, id, limit)
}

// StopAll stops every bot and waits for them until ctx expires, after which
// the remaining runners are killed.
func (m *BotManager) StopAll(ctx context.Context) {
	m.mu.Lock()
	runners := make([]*BotRunner, 0, len(m.bots))
	for _, b := range m.bots {
		if b.runner != nil {
			runners = append(runners, b.runner)
		}
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.Stop()
	}
	for _, r := range runners {
		select {
		case <-r.Done():
		case <-ctx.Done():
			r.Kill()
			<-r.Done()
		}
	}
}

func (m *BotManager) idleStatus(cfg models.BotConfig) BotStatus {
	return BotStatus{
		ID:       cfg.ID,
		SourceID: cfg.SourceID,
		Mode:     cfg.Mode,
		Live:     cfg.Live,
		Balance:  cfg.InitialBalance,
		Risk:     models.RiskState{SessionStartBalance: cfg.InitialBalance},
	}
}
