package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"CrashPilot/internal/domain/models"
	drepo "CrashPilot/internal/domain/repository"
	dsvc "CrashPilot/internal/domain/service"
	"CrashPilot/pkg/logger"
)

// EventPublisher is where detected rounds and signals go.
type EventPublisher interface {
	Publish(msg models.BusMessage)
}

// DetectorConfig tunes polling and the detection heuristics.
type DetectorConfig struct {
	PollInterval    time.Duration
	PollTimeout     time.Duration
	DedupCooldown   time.Duration
	TransitionGrace time.Duration
	// Countdown reappearance only infers a 1.00x crash when the countdown was
	// hidden for a duration inside [MinHiddenInterval, MaxHiddenInterval].
	MinHiddenInterval time.Duration
	MaxHiddenInterval time.Duration
	ReloadBackoff     time.Duration
	HistorySize       int
	AnalyzeWindow     int
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PollInterval:      50 * time.Millisecond,
		PollTimeout:       2 * time.Second,
		DedupCooldown:     3 * time.Second,
		TransitionGrace:   1500 * time.Millisecond,
		MinHiddenInterval: 300 * time.Millisecond,
		MaxHiddenInterval: 8 * time.Second,
		ReloadBackoff:     10 * time.Second,
		HistorySize:       200,
		AnalyzeWindow:     50,
	}
}

type DetectorOption func(*RoundDetector)

// WithDetectorConfig overrides the non-zero fields of cfg.
func WithDetectorConfig(cfg DetectorConfig) DetectorOption {
	return func(d *RoundDetector) {
		if cfg.PollInterval > 0 {
			d.cfg.PollInterval = cfg.PollInterval
		}
		if cfg.PollTimeout > 0 {
			d.cfg.PollTimeout = cfg.PollTimeout
		}
		if cfg.DedupCooldown > 0 {
			d.cfg.DedupCooldown = cfg.DedupCooldown
		}
		if cfg.TransitionGrace > 0 {
			d.cfg.TransitionGrace = cfg.TransitionGrace
		}
		if cfg.MinHiddenInterval > 0 {
			d.cfg.MinHiddenInterval = cfg.MinHiddenInterval
		}
		if cfg.MaxHiddenInterval > 0 {
			d.cfg.MaxHiddenInterval = cfg.MaxHiddenInterval
		}
		if cfg.ReloadBackoff > 0 {
			d.cfg.ReloadBackoff = cfg.ReloadBackoff
		}
		if cfg.HistorySize > 0 {
			d.cfg.HistorySize = cfg.HistorySize
		}
		if cfg.AnalyzeWindow > 0 {
			d.cfg.AnalyzeWindow = cfg.AnalyzeWindow
		}
	}
}

func WithAnalyzer(a dsvc.SignalAnalyzer) DetectorOption {
	return func(d *RoundDetector) { d.analyzer = a }
}

func WithDetectorMetrics(m drepo.Metrics) DetectorOption {
	return func(d *RoundDetector) { d.metrics = m }
}

func WithDetectorLogger(l *logger.Logger) DetectorOption {
	return func(d *RoundDetector) {
		if l != nil {
			d.log = l
		}
	}
}

// WithRoundStore enables warm start of the ring buffer from storage.
func WithRoundStore(s drepo.RoundStore) DetectorOption {
	return func(d *RoundDetector) { d.store = s }
}

// WithStartID continues numbering after id, so a re-created detector keeps
// ids increasing for its source.
func WithStartID(id int64) DetectorOption {
	return func(d *RoundDetector) {
		if id > d.nextID {
			d.nextID = id
		}
	}
}

func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *RoundDetector) {
		if now != nil {
			d.now = now
		}
	}
}

type roundStats struct {
	bettors int
	staked  float64
	paid    float64
}

type pendingRound struct {
	multiplier float64
	stats      roundStats
	deadline   time.Time
}

// detectorState is owned by the polling goroutine and guarded by mu.
type detectorState struct {
	initialized bool

	wasRunning          bool
	wasCountdownVisible bool

	runningMultiplier    float64
	maxRunningMultiplier float64
	stats                roundStats
	lastHistory          []float64

	countdownHiddenAt        time.Time
	sawMultiplierWhileHidden bool

	roundOpen   bool
	roundClosed bool
	pending     *pendingRound
}

// RoundDetector turns Probe snapshots of one source into RoundEvents.
type RoundDetector struct {
	sourceID string
	probe    drepo.Probe
	pub      EventPublisher
	analyzer dsvc.SignalAnalyzer
	store    drepo.RoundStore
	metrics  drepo.Metrics
	log      *logger.Logger
	cfg      DetectorConfig
	now      func() time.Time

	mu           sync.Mutex
	st           detectorState
	recovering   bool
	lastReload   time.Time
	lastSaved    float64
	lastSaveTime time.Time
	nextID       int64
	history      []models.RoundEvent
	signal       *models.SequenceSignal
	eventCount   int64
	outbox       []models.BusMessage

	inFlight atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRoundDetector(sourceID string, probe drepo.Probe, pub EventPublisher, opts ...DetectorOption) *RoundDetector {
	d := &RoundDetector{
		sourceID: sourceID,
		probe:    probe,
		pub:      pub,
		cfg:      DefaultDetectorConfig(),
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.Source(sourceID))
	return d
}

func (d *RoundDetector) SourceID() string { return d.sourceID }

// Start warms the ring buffer and begins polling. Calling Start on a running
// detector is a no-op.
func (d *RoundDetector) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return nil
	}
	d.warmStart(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(runCtx, d.done)
	d.log.Info("round detector started", logger.Duration("interval_ms", d.cfg.PollInterval))
	return nil
}

// Stop halts polling. At most the in-flight tick completes before it returns.
func (d *RoundDetector) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.log.Info("round detector stopped")
}

func (d *RoundDetector) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.cancel != nil
}

func (d *RoundDetector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

func (d *RoundDetector) warmStart(ctx context.Context) {
	if d.store == nil {
		return
	}
	events, err := d.store.RecentRounds(ctx, d.sourceID, d.cfg.HistorySize)
	if err != nil {
		d.log.Warn("warm start failed", logger.Error(err))
		d.recordError("warm_start")
		return
	}
	if len(events) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history[:0], events...)
	last := events[len(events)-1]
	if last.ID > d.nextID {
		d.nextID = last.ID
	}
	d.lastSaved = last.Multiplier
	d.lastSaveTime = last.OccurredAt
	d.log.Info("warm start", logger.Int("rounds", len(events)), logger.Int64("last_id", last.ID))
}

// Tick runs one poll and detection pass. It returns false when skipped
// because a previous tick is still in flight.
func (d *RoundDetector) Tick(ctx context.Context) bool {
	if !d.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer d.inFlight.Store(false)

	start := d.now()
	pctx, cancel := context.WithTimeout(ctx, d.cfg.PollTimeout)
	snap, err := d.probe.Poll(pctx)
	cancel()
	if err != nil && ctx.Err() != nil {
		return true
	}
	now := d.now()

	d.mu.Lock()
	reload := d.observe(snap, err, now)
	out := d.outbox
	d.outbox = nil
	d.mu.Unlock()

	if reload {
		if rerr := d.probe.Reload(ctx); rerr != nil {
			d.log.Warn("probe reload failed", logger.Error(rerr))
			d.recordError("probe_reload")
		}
	}
	if d.pub != nil {
		for _, msg := range out {
			d.pub.Publish(msg)
		}
	}
	if d.metrics != nil {
		d.metrics.RecordLatency("detector_tick", d.now().Sub(start).Seconds())
	}
	return true
}

// observe advances the state machine. Caller holds mu.
func (d *RoundDetector) observe(snap models.Snapshot, err error, now time.Time) (reload bool) {
	d.flushExpired(now)

	if err != nil && !errors.Is(err, models.ErrSourceAuth) {
		d.log.Debug("probe poll failed", logger.Error(err))
		d.recordError("probe_poll")
		return false
	}
	if err != nil || snap.AuthFault {
		return d.enterRecovery(now)
	}
	if d.recovering {
		d.recovering = false
		d.st = detectorState{}
		d.log.Info("source recovered, resuming detection")
	}

	if !d.st.initialized {
		d.baseline(snap)
		return false
	}

	d.detectHistory(snap, now)
	d.detectTransition(snap, now)
	d.detectCountdown(snap, now)
	d.detectRoundStart(snap, now)
	d.trackRunning(snap)

	d.st.wasRunning = snap.IsRunning
	d.st.wasCountdownVisible = snap.IsCountdownVisible
	return false
}

func (d *RoundDetector) baseline(snap models.Snapshot) {
	d.st.initialized = true
	d.st.wasRunning = snap.IsRunning
	d.st.wasCountdownVisible = snap.IsCountdownVisible
	if len(snap.RecentHistory) > 0 {
		d.st.lastHistory = append([]float64(nil), snap.RecentHistory...)
	}
	d.trackRunning(snap)
}

func (d *RoundDetector) enterRecovery(now time.Time) bool {
	if !d.recovering {
		d.recovering = true
		d.log.Warn("source auth fault, suspending detection")
		d.recordError("source_auth")
	}
	d.st.pending = nil
	if d.lastReload.IsZero() || now.Sub(d.lastReload) >= d.cfg.ReloadBackoff {
		d.lastReload = now
		return true
	}
	return false
}

// detectHistory fires when the head of the recent-results list changes.
func (d *RoundDetector) detectHistory(snap models.Snapshot, now time.Time) {
	cur := snap.RecentHistory
	if len(cur) == 0 {
		return
	}
	prev := d.st.lastHistory
	d.st.lastHistory = append(d.st.lastHistory[:0:0], cur...)
	if prev == nil || !historyChanged(prev, cur) {
		return
	}
	// a list refresh while a round is running belongs to an earlier round
	if snap.IsRunning {
		return
	}

	stats := d.st.stats
	if p := d.st.pending; p != nil {
		stats = p.stats
		d.st.pending = nil
	} else if d.st.roundClosed {
		return
	}
	d.emit(cur[0], stats, models.DetectionHistory, now)
}

func historyChanged(prev, cur []float64) bool {
	n := len(prev)
	if len(cur) < n {
		n = len(cur)
	}
	if n > 3 {
		n = 3
	}
	for i := 0; i < n; i++ {
		if math.Abs(prev[i]-cur[i]) > 1e-9 {
			return true
		}
	}
	return false
}

// detectTransition proposes a round end when the game stops running. The
// proposal waits TransitionGrace for a history update to confirm the value.
func (d *RoundDetector) detectTransition(snap models.Snapshot, now time.Time) {
	if !d.st.wasRunning || snap.IsRunning {
		return
	}
	if d.st.roundClosed || d.st.pending != nil {
		return
	}
	m := d.st.runningMultiplier
	if m < models.MinMultiplier {
		m = d.st.maxRunningMultiplier
	}
	if m < models.MinMultiplier {
		m = models.MinMultiplier
	}
	d.st.pending = &pendingRound{multiplier: m, stats: d.st.stats, deadline: now.Add(d.cfg.TransitionGrace)}
	d.st.roundOpen = false
}

// detectCountdown infers a 1.00x crash when the countdown comes back without
// any multiplier having been shown.
func (d *RoundDetector) detectCountdown(snap models.Snapshot, now time.Time) {
	if d.st.wasCountdownVisible || !snap.IsCountdownVisible {
		return
	}
	hiddenAt := d.st.countdownHiddenAt
	d.st.countdownHiddenAt = time.Time{}
	if hiddenAt.IsZero() || d.st.roundClosed || d.st.pending != nil || d.st.sawMultiplierWhileHidden {
		return
	}
	hidden := now.Sub(hiddenAt)
	if hidden < d.cfg.MinHiddenInterval || hidden > d.cfg.MaxHiddenInterval {
		d.log.Debug("countdown reappeared outside plausible window", logger.Duration("hidden_ms", hidden))
		return
	}
	d.emit(models.MinMultiplier, d.st.stats, models.DetectionCountdown, now)
}

// detectRoundStart resets the per-round latch when a new round begins.
func (d *RoundDetector) detectRoundStart(snap models.Snapshot, now time.Time) {
	hid := d.st.wasCountdownVisible && !snap.IsCountdownVisible
	began := !d.st.wasRunning && snap.IsRunning && !d.st.roundOpen
	if !hid && !began {
		return
	}
	if d.st.pending != nil {
		d.flushPending(now)
	}
	d.st.roundOpen = true
	d.st.roundClosed = false
	d.st.runningMultiplier = 0
	d.st.maxRunningMultiplier = 0
	d.st.stats = roundStats{}
	d.st.sawMultiplierWhileHidden = false
	if hid {
		d.st.countdownHiddenAt = now
	}
}

func (d *RoundDetector) trackRunning(snap models.Snapshot) {
	if !snap.IsRunning {
		return
	}
	if snap.Multiplier >= models.MinMultiplier {
		d.st.runningMultiplier = snap.Multiplier
		if snap.Multiplier > d.st.maxRunningMultiplier {
			d.st.maxRunningMultiplier = snap.Multiplier
		}
		d.st.sawMultiplierWhileHidden = true
	}
	if snap.BettorCount > 0 || snap.TotalStaked > 0 {
		d.st.stats = roundStats{bettors: snap.BettorCount, staked: snap.TotalStaked, paid: snap.TotalPaid}
	}
}

func (d *RoundDetector) flushExpired(now time.Time) {
	if p := d.st.pending; p != nil && !now.Before(p.deadline) {
		d.flushPending(now)
	}
}

func (d *RoundDetector) flushPending(now time.Time) {
	p := d.st.pending
	d.st.pending = nil
	d.emit(p.multiplier, p.stats, models.DetectionTransition, now)
}

// emit is the single gate every heuristic writes through.
func (d *RoundDetector) emit(m float64, stats roundStats, method models.DetectionMethod, now time.Time) {
	v, ok := models.NormalizeMultiplier(m)
	if !ok {
		d.recordError("invalid_multiplier")
		return
	}
	d.st.roundClosed = true
	d.st.roundOpen = false

	if !d.lastSaveTime.IsZero() && math.Abs(v-d.lastSaved) < 0.01 && now.Sub(d.lastSaveTime) < d.cfg.DedupCooldown {
		d.log.Debug("duplicate round rejected", logger.Float64("multiplier", v), logger.String("method", string(method)))
		if d.metrics != nil {
			d.metrics.RecordDuplicate(d.sourceID)
		}
		return
	}

	d.nextID++
	e := models.RoundEvent{
		ID:              d.nextID,
		OccurredAt:      now,
		Multiplier:      v,
		BettorCount:     stats.bettors,
		TotalStaked:     stats.staked,
		TotalPaid:       stats.paid,
		SourceID:        d.sourceID,
		DetectionMethod: method,
	}
	d.lastSaved = v
	d.lastSaveTime = now
	d.eventCount++

	d.history = append(d.history, e)
	if over := len(d.history) - d.cfg.HistorySize; over > 0 {
		d.history = append(d.history[:0], d.history[over:]...)
	}

	d.log.Info("round detected",
		logger.Int64("round_id", e.ID),
		logger.Float64("multiplier", v),
		logger.String("method", string(method)))
	if d.metrics != nil {
		d.metrics.RecordRound(d.sourceID, method)
	}
	d.outbox = append(d.outbox, models.NewRoundMessage(e))

	if d.analyzer == nil {
		return
	}
	sig := d.analyzer.Analyze(d.sourceID, d.window())
	switch {
	case sig != nil:
		d.signal = sig
		d.outbox = append(d.outbox, models.NewSignalMessage(*sig))
		if d.metrics != nil {
			d.metrics.RecordSignal(d.sourceID, sig.Strength)
		}
	case d.signal != nil:
		d.signal = nil
		d.outbox = append(d.outbox, models.NewSignalClearedMessage(d.sourceID, e.ID))
	}
}

func (d *RoundDetector) window() []models.RoundEvent {
	h := d.history
	if n := d.cfg.AnalyzeWindow; n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return h
}

func (d *RoundDetector) recordError(kind string) {
	if d.metrics != nil {
		d.metrics.RecordError(kind)
	}
}

// History returns up to limit of the newest events, oldest first. limit <= 0
// returns the whole ring buffer.
func (d *RoundDetector) History(limit int) []models.RoundEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]models.RoundEvent(nil), h...)
}

// Signal returns the active sequence signal, or nil.
func (d *RoundDetector) Signal() *models.SequenceSignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.signal == nil {
		return nil
	}
	s := *d.signal
	return &s
}

// DetectorStatus is the externally visible state of one detector.
type DetectorStatus struct {
	SourceID       string    `json:"source_id"`
	IsRunning      bool      `json:"is_running"`
	LastMultiplier float64   `json:"last_multiplier"`
	LastEventTime  time.Time `json:"last_event_time"`
	EventCount     int64     `json:"event_count"`
	Recovering     bool      `json:"recovering"`
	Signal         string    `json:"signal,omitempty"`
}

// LastID is the id of the newest emitted or warm-started round, or 0.
func (d *RoundDetector) LastID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextID
}

func (d *RoundDetector) Status() DetectorStatus {
	running := d.Running()
	d.mu.Lock()
	defer d.mu.Unlock()
	s := DetectorStatus{
		SourceID:   d.sourceID,
		IsRunning:  running,
		EventCount: d.eventCount,
		Recovering: d.recovering,
	}
	if n := len(d.history); n > 0 {
		s.LastMultiplier = d.history[n-1].Multiplier
		s.LastEventTime = d.history[n-1].OccurredAt
	}
	if d.signal != nil {
		s.Signal = string(d.signal.Strength)
	}
	return s
}
