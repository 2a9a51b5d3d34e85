package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
	dsvc "CrashPilot/internal/domain/service"
	"CrashPilot/internal/services/executor"
	"CrashPilot/internal/services/risk"
	"CrashPilot/internal/services/strategy"
	"CrashPilot/pkg/logger"
)

const (
	defaultQueueSize     = 256
	defaultWindowSize    = 200
	defaultExecTimeout   = 5 * time.Second
	recentHistoryLimit   = 50
	predictionTimeout    = 500 * time.Millisecond
	historyWarmStartSize = 200
)

// RoundHistory supplies the recent rounds of a source, oldest first.
type RoundHistory interface {
	History(sourceID string, limit int) ([]models.RoundEvent, error)
}

// settler is implemented by executors that keep their own ledger.
type settler interface {
	Settle(ctx context.Context, crash float64) float64
}

type noopPersistence struct{}

func (noopPersistence) RecordBet(context.Context, models.BetRecord) {}
func (noopPersistence) StartSession(context.Context, models.SessionInfo) (string, error) {
	return uuid.NewString(), nil
}
func (noopPersistence) EndSession(context.Context, string, models.SessionStats) error { return nil }

// BotStatus is the externally visible state of one bot.
type BotStatus struct {
	ID           string               `json:"id"`
	SourceID     string               `json:"source_id"`
	Mode         models.StrategyMode  `json:"mode"`
	Live         bool                 `json:"live"`
	Running      bool                 `json:"running"`
	Stopping     bool                 `json:"stopping"`
	SessionID    string               `json:"session_id,omitempty"`
	Balance      float64              `json:"balance"`
	Risk         models.RiskState     `json:"risk"`
	ActiveBet    *models.ActiveBet    `json:"active_bet,omitempty"`
	LastDecision *models.BetDecision  `json:"last_decision,omitempty"`
	Stats        models.SessionStats  `json:"stats"`
	Recent       []models.HistoryItem `json:"recent,omitempty"`
}

type RunnerOption func(*BotRunner)

func WithRunnerPredictor(p dsvc.PredictionProvider) RunnerOption {
	return func(r *BotRunner) { r.predictor = p }
}

func WithRunnerAnalyzer(a dsvc.SignalAnalyzer) RunnerOption {
	return func(r *BotRunner) { r.analyzer = a }
}

func WithRunnerHistory(h RoundHistory) RunnerOption {
	return func(r *BotRunner) { r.history = h }
}

func WithRunnerPersistence(p drepo.Persistence) RunnerOption {
	return func(r *BotRunner) {
		if p != nil {
			r.persist = p
		}
	}
}

func WithRunnerMetrics(m drepo.Metrics) RunnerOption {
	return func(r *BotRunner) { r.metrics = m }
}

func WithRunnerLogger(l *logger.Logger) RunnerOption {
	return func(r *BotRunner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithExecutorTimeout bounds every executor and prediction call.
func WithExecutorTimeout(d time.Duration) RunnerOption {
	return func(r *BotRunner) {
		if d > 0 {
			r.execTimeout = d
		}
	}
}

func WithQueueSize(n int) RunnerOption {
	return func(r *BotRunner) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *BotRunner) { r.now = now }
}

// BotRunner drives one bot instance. Rounds are consumed by a single
// goroutine so decisions for the bot are serialized.
type BotRunner struct {
	cfg         models.BotConfig
	engine      *strategy.Engine
	risk        *risk.Supervisor
	exec        drepo.BetExecutor
	pub         EventPublisher
	predictor   dsvc.PredictionProvider
	analyzer    dsvc.SignalAnalyzer
	history     RoundHistory
	persist     drepo.Persistence
	metrics     drepo.Metrics
	log         *logger.Logger
	now         func() time.Time
	execTimeout time.Duration
	queueSize   int

	// owned by the run loop, published under mu for Status
	mu           sync.Mutex
	window       []models.RoundEvent
	balance      decimal.Decimal
	active       *models.ActiveBet
	cycle        models.CycleState
	sessionID    string
	stats        models.SessionStats
	lastDecision *models.BetDecision
	recent       []models.HistoryItem

	in       chan models.RoundEvent
	stopCh   chan struct{}
	killCh   chan struct{}
	done     chan struct{}
	started  atomic.Bool
	running  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	killOnce sync.Once
}

func NewBotRunner(cfg models.BotConfig, exec drepo.BetExecutor, pub EventPublisher, opts ...RunnerOption) (*BotRunner, error) {
	engine, err := strategy.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", cfg.ID, err)
	}
	if exec == nil {
		exec = executor.NewSimulator(cfg.InitialBalance)
	}
	r := &BotRunner{
		cfg:         cfg,
		engine:      engine,
		risk:        risk.NewSupervisor(risk.LimitsFrom(cfg), cfg.InitialBalance),
		exec:        exec,
		pub:         pub,
		persist:     noopPersistence{},
		log:         logger.Nop(),
		now:         time.Now,
		execTimeout: defaultExecTimeout,
		queueSize:   defaultQueueSize,
		balance:     decimal.NewFromFloat(cfg.InitialBalance),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Bot(cfg.ID), logger.Source(cfg.SourceID))
	return r, nil
}

func (r *BotRunner) ID() string                { return r.cfg.ID }
func (r *BotRunner) Config() models.BotConfig { return r.cfg }
func (r *BotRunner) Running() bool             { return r.running.Load() }

// Done is closed once the run loop has exited.
func (r *BotRunner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

// Start opens a session and begins consuming rounds. A runner starts once.
func (r *BotRunner) Start(ctx context.Context) error {
	if r.running.Load() {
		return fmt.Errorf("bot %s: %w", r.cfg.ID, models.ErrBotActive)
	}
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bot %s: runner already used", r.cfg.ID)
	}
	r.running.Store(true)

	if r.cfg.Live {
		if res, err := r.callEnableLive(ctx); err != nil || !res.Success {
			r.log.Warn("enable live mode failed", logger.Error(err), logger.String("reason", res.Error))
		}
		if b, err := r.fetchBalance(ctx); err == nil {
			r.setBalance(decimal.NewFromFloat(b))
		}
	}
	balance := r.currentBalance()

	if err := r.risk.CheckBalance(balance); err != nil {
		r.log.Warn("starting with insufficient balance", logger.Error(err))
	}
	state := r.risk.StartSession(balance)

	sessionID, err := r.persist.StartSession(ctx, models.SessionInfo{
		ID:           uuid.NewString(),
		BotID:        r.cfg.ID,
		SourceID:     r.cfg.SourceID,
		Mode:         r.cfg.Mode,
		Live:         r.cfg.Live,
		StartBalance: balance,
		StartedAt:    r.now(),
	})
	if err != nil {
		r.log.Warn("session start not persisted", logger.Error(err))
		sessionID = uuid.NewString()
	}

	var window []models.RoundEvent
	if r.history != nil {
		if h, err := r.history.History(r.cfg.SourceID, historyWarmStartSize); err == nil {
			window = h
		}
	}

	r.mu.Lock()
	r.sessionID = sessionID
	r.stats = models.SessionStats{FinalBalance: balance, PeakBalance: balance}
	r.window = window
	r.in = make(chan models.RoundEvent, r.queueSize)
	r.stopCh = make(chan struct{})
	r.killCh = make(chan struct{})
	r.done = make(chan struct{})
	in, stopCh, killCh, done := r.in, r.stopCh, r.killCh, r.done
	r.mu.Unlock()

	r.publish(models.NewRiskMessage(r.cfg.SourceID, r.cfg.ID, state))
	r.log.Info("bot started",
		logger.String("mode", string(r.cfg.Mode)),
		logger.Bool("live", r.cfg.Live),
		logger.Float64("balance", balance),
		logger.String("session", sessionID))

	go r.loop(in, stopCh, killCh, done)
	return nil
}

// Stop halts further decisions. An active bet still resolves on the next
// round before the loop exits.
func (r *BotRunner) Stop() {
	if !r.running.Load() {
		return
	}
	r.stopping.Store(true)
	r.stopOnce.Do(func() {
		r.mu.Lock()
		ch := r.stopCh
		r.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	})
}

// Kill exits the loop without waiting for the active bet.
func (r *BotRunner) Kill() {
	r.Stop()
	r.killOnce.Do(func() {
		r.mu.Lock()
		ch := r.killCh
		r.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	})
}

// Enqueue hands a round to the loop without blocking. Rounds are dropped when
// the bot is not running or its queue is full.
func (r *BotRunner) Enqueue(e models.RoundEvent) bool {
	if !r.running.Load() || e.SourceID != r.cfg.SourceID {
		return false
	}
	r.mu.Lock()
	in := r.in
	r.mu.Unlock()
	select {
	case in <- e:
		return true
	default:
		r.log.Warn("round dropped, queue full", logger.Int64("round_id", e.ID))
		r.recordError("bot_queue_full")
		return false
	}
}

// HandleMessage is the bus subscription of the runner.
func (r *BotRunner) HandleMessage(msg models.BusMessage) {
	if msg.SourceID != r.cfg.SourceID {
		return
	}
	if e, ok := msg.Round(); ok {
		r.Enqueue(e)
	}
}

func (r *BotRunner) loop(in <-chan models.RoundEvent, stopCh, killCh <-chan struct{}, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	if r.stopping.Load() {
		r.finish(ctx)
		return
	}
	for {
		select {
		case <-killCh:
			r.finish(ctx)
			return
		case <-stopCh:
			stopCh = nil
			if !r.hasActive() {
				r.finish(ctx)
				return
			}
			r.log.Info("stopping after active bet resolves")
		case e := <-in:
			r.processRound(ctx, e)
			if r.stopping.Load() && !r.hasActive() {
				r.finish(ctx)
				return
			}
		}
	}
}

// processRound runs one pipeline step: pause tick, resolution, decision and
// placement.
func (r *BotRunner) processRound(ctx context.Context, e models.RoundEvent) {
	if !r.appendRound(e) {
		return
	}
	state := r.risk.OnRound()

	if r.hasActive() {
		state = r.resolve(ctx, e)
	}
	if r.stopping.Load() {
		return
	}

	d := r.decide(ctx, state)
	if d.ShouldBet {
		if err := r.place(ctx, d); err != nil {
			r.log.Warn("bet aborted", logger.Error(err))
			r.recordError("bet_placement")
		}
	}
}

func (r *BotRunner) appendRound(e models.RoundEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.window); n > 0 && e.ID <= r.window[n-1].ID {
		last := r.window[n-1]
		if !e.OccurredAt.After(last.OccurredAt) {
			return false
		}
		// a newer round with a lower id: the source restarted its numbering
		r.log.Warn("round ids went backwards, resetting window",
			logger.Int64("last_id", last.ID),
			logger.Int64("round_id", e.ID))
		r.window = r.window[:0]
		r.cycle = models.CycleState{}
	}
	r.window = append(r.window, e)
	if over := len(r.window) - defaultWindowSize; over > 0 {
		r.window = append(r.window[:0], r.window[over:]...)
	}
	r.stats.Rounds++
	return true
}

func (r *BotRunner) decide(ctx context.Context, state models.RiskState) models.BetDecision {
	balance := r.currentBalance()
	if err := r.risk.CheckBalance(balance); err != nil {
		state = r.risk.State()
	}

	r.mu.Lock()
	history := append([]models.RoundEvent(nil), r.window...)
	cycle := r.cycle
	r.mu.Unlock()

	in := strategy.Input{
		History: history,
		Risk:    state,
		Balance: balance,
		Cycle:   cycle,
	}
	if state.BlockReason() == "" {
		in.Prediction = r.predict(ctx, history)
		if r.analyzer != nil {
			in.Signal = r.analyzer.Analyze(r.cfg.SourceID, history)
		}
	}

	d, err := r.engine.Decide(in)
	if err != nil {
		r.log.Error("decision failed", logger.Error(err))
		r.recordError("decision")
	}
	if r.metrics != nil {
		r.metrics.RecordDecision(r.cfg.ID, r.cfg.Mode, d.ShouldBet)
	}
	r.log.Debug("decision",
		logger.Bool("should_bet", d.ShouldBet),
		logger.Float64("amount", d.BetAmount),
		logger.Strings("reasons", d.Reasons))

	r.mu.Lock()
	r.lastDecision = &d
	r.mu.Unlock()
	return d
}

func (r *BotRunner) predict(ctx context.Context, history []models.RoundEvent) *models.MLPrediction {
	if r.predictor == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, predictionTimeout)
	defer cancel()
	p, err := r.predictor.Predict(pctx, r.cfg.SourceID, history)
	if err != nil {
		r.log.Warn("prediction unavailable", logger.Error(err))
		r.recordError("prediction")
		return nil
	}
	return p
}

// place submits d. Any failure aborts the bet without touching the balance.
func (r *BotRunner) place(ctx context.Context, d models.BetDecision) error {
	legs := d.Legs()
	if len(legs) == 0 {
		return nil
	}
	var a1, t1, a2, t2 float64
	a1, t1 = legs[0].Amount, legs[0].Target
	if len(legs) > 1 {
		a2, t2 = legs[1].Amount, legs[1].Target
	}

	pctx, cancel := context.WithTimeout(ctx, r.execTimeout)
	res, err := r.exec.PlaceBet(pctx, a1, t1, a2, t2)
	cancel()
	if err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrBetPlacement)
	}
	if !res.Success {
		return fmt.Errorf("%s: %w", res.Error, models.ErrBetPlacement)
	}

	r.mu.Lock()
	lastID := int64(0)
	if n := len(r.window); n > 0 {
		lastID = r.window[n-1].ID
	}
	bet := &models.ActiveBet{
		ID:           uuid.NewString(),
		BotID:        r.cfg.ID,
		SourceID:     r.cfg.SourceID,
		AfterRoundID: lastID,
		Legs:         legs,
		PlacedAt:     r.now(),
		Live:         r.cfg.Live,
	}
	r.active = bet
	r.balance = r.balance.Sub(stakeOf(legs))
	r.cycle.Commit(d, lastID)
	r.mu.Unlock()

	r.log.Info("bet placed",
		logger.String("bet_id", bet.ID),
		logger.Float64("stake", bet.TotalStake()),
		logger.Any("targets", d.CashoutTargets))
	return nil
}

// resolve settles the active bet against the round that followed it.
func (r *BotRunner) resolve(ctx context.Context, e models.RoundEvent) models.RiskState {
	r.mu.Lock()
	bet := *r.active
	r.mu.Unlock()

	stake := stakeOf(bet.Legs)
	payout, by := r.payout(ctx, bet, e.Multiplier)

	r.mu.Lock()
	r.balance = r.balance.Add(payout)
	balance := r.balance
	r.mu.Unlock()

	if bet.Live {
		if b, err := r.fetchBalance(ctx); err == nil {
			balance = decimal.NewFromFloat(b)
			r.setBalance(balance)
		} else {
			r.log.Warn("balance refresh failed, keeping ledger", logger.Error(err))
		}
	}

	h := models.HistoryItem{
		BetID:           bet.ID,
		BotID:           bet.BotID,
		SourceID:        bet.SourceID,
		RoundID:         e.ID,
		CrashMultiplier: e.Multiplier,
		Legs:            bet.Legs,
		TotalStake:      stake.InexactFloat64(),
		Payout:          payout.InexactFloat64(),
		Profit:          payout.Sub(stake).InexactFloat64(),
		BalanceAfter:    balance.InexactFloat64(),
		ResolvedBy:      by,
		ResolvedAt:      r.now(),
	}
	res := models.Resolution{BetID: h.BetID, Profit: h.Profit, BalanceAfter: h.BalanceAfter}
	h.IsWin = res.IsWin()

	state, err := r.risk.Resolve(res)
	if err != nil {
		r.log.Error("resolution rejected", logger.Error(err))
		r.recordError("duplicate_resolution")
	}

	r.mu.Lock()
	r.active = nil
	r.stats.Observe(h)
	r.recent = append(r.recent, h)
	if over := len(r.recent) - recentHistoryLimit; over > 0 {
		r.recent = append(r.recent[:0], r.recent[over:]...)
	}
	sessionID := r.sessionID
	r.mu.Unlock()

	if err == nil {
		r.persist.RecordBet(ctx, models.NewBetRecord(sessionID, r.cfg.Mode, h))
		r.publish(models.NewBetMessage(h))
		r.publish(models.NewRiskMessage(r.cfg.SourceID, r.cfg.ID, state))
	}
	if r.metrics != nil {
		r.metrics.RecordBetResolved(r.cfg.ID, h.IsWin, by)
		r.metrics.RecordBalance(r.cfg.ID, h.BalanceAfter)
	}
	r.log.Info("bet resolved",
		logger.String("bet_id", h.BetID),
		logger.Int64("round_id", h.RoundID),
		logger.Float64("crash", h.CrashMultiplier),
		logger.Float64("profit", h.Profit),
		logger.Float64("balance", h.BalanceAfter),
		logger.String("resolved_by", string(by)))
	return state
}

// payout reads the platform's own record of a live bet and falls back to
// computing it from the known crash value.
func (r *BotRunner) payout(ctx context.Context, bet models.ActiveBet, crash float64) (decimal.Decimal, models.ResolvedBy) {
	if bet.Live {
		pctx, cancel := context.WithTimeout(ctx, r.execTimeout)
		results, err := r.exec.FetchRecentHistory(pctx, len(bet.Legs))
		cancel()
		if err == nil {
			var total decimal.Decimal
			total, err = matchLiveHistory(bet.Legs, results)
			if err == nil {
				return total, models.ResolvedLive
			}
		}
		r.log.Warn("live resolution unavailable, simulating", logger.Error(err))
		r.recordError("live_resolution")
	}
	if s, ok := r.exec.(settler); ok {
		return decimal.NewFromFloat(s.Settle(ctx, crash)), models.ResolvedSimulated
	}
	return executor.Payout(bet.Legs, crash), models.ResolvedSimulated
}

// matchLiveHistory pays out the newest platform entries only when their stakes
// are exactly the legs of bet, in any order.
func matchLiveHistory(legs []models.BetLeg, results []models.LiveBetResult) (decimal.Decimal, error) {
	if len(results) < len(legs) {
		return decimal.Zero, errors.New("platform history shorter than the bet")
	}
	used := make([]bool, len(legs))
	total := decimal.Zero
	for _, res := range results[:len(legs)] {
		matched := false
		for i, leg := range legs {
			if used[i] || math.Abs(leg.Amount-res.BetAmount) > 0.005 {
				continue
			}
			used[i], matched = true, true
			break
		}
		if !matched {
			return decimal.Zero, fmt.Errorf("platform history does not match the bet: stake %.2f", res.BetAmount)
		}
		if res.IsWin {
			total = total.Add(decimal.NewFromFloat(res.WinAmount))
		}
	}
	return total, nil
}

func (r *BotRunner) finish(ctx context.Context) {
	r.mu.Lock()
	stats := r.stats
	sessionID := r.sessionID
	r.mu.Unlock()
	stats.EndedAt = r.now()
	stats.FinalBalance = r.currentBalance()

	if err := r.persist.EndSession(ctx, sessionID, stats); err != nil {
		r.log.Warn("session end not persisted", logger.Error(err))
	}
	r.running.Store(false)
	r.log.Info("bot stopped",
		logger.Int("bets", stats.Bets),
		logger.Float64("profit", stats.Profit),
		logger.Float64("balance", stats.FinalBalance))
}

// ResetRisk starts a fresh risk session at the current balance.
func (r *BotRunner) ResetRisk() models.RiskState {
	state := r.risk.Reset(r.currentBalance())
	r.publish(models.NewRiskMessage(r.cfg.SourceID, r.cfg.ID, state))
	return state
}

func (r *BotRunner) Status() BotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := BotStatus{
		ID:        r.cfg.ID,
		SourceID:  r.cfg.SourceID,
		Mode:      r.cfg.Mode,
		Live:      r.cfg.Live,
		Running:   r.running.Load(),
		Stopping:  r.running.Load() && r.stopping.Load(),
		SessionID: r.sessionID,
		Balance:   r.balance.InexactFloat64(),
		Risk:      r.risk.State(),
		Stats:     r.stats,
		Recent:    append([]models.HistoryItem(nil), r.recent...),
	}
	if r.active != nil {
		b := *r.active
		s.ActiveBet = &b
	}
	if r.lastDecision != nil {
		d := *r.lastDecision
		s.LastDecision = &d
	}
	return s
}

func (r *BotRunner) hasActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *BotRunner) currentBalance() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance.InexactFloat64()
}

func (r *BotRunner) setBalance(b decimal.Decimal) {
	r.mu.Lock()
	r.balance = b
	r.mu.Unlock()
}

func (r *BotRunner) fetchBalance(ctx context.Context) (float64, error) {
	pctx, cancel := context.WithTimeout(ctx, r.execTimeout)
	defer cancel()
	return r.exec.FetchBalance(pctx)
}

func (r *BotRunner) callEnableLive(ctx context.Context) (models.PlaceResult, error) {
	pctx, cancel := context.WithTimeout(ctx, r.execTimeout)
	defer cancel()
	return r.exec.EnableLiveMode(pctx, true)
}

func (r *BotRunner) publish(msg models.BusMessage) {
	if r.pub != nil {
		r.pub.Publish(msg)
	}
}

func (r *BotRunner) recordError(kind string) {
	if r.metrics != nil {
		r.metrics.RecordError(kind)
	}
}

func stakeOf(legs []models.BetLeg) decimal.Decimal {
	total := decimal.Zero
	for _, l := range legs {
		total = total.Add(decimal.NewFromFloat(l.Amount))
	}
	return total
}
