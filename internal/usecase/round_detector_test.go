package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/services/sequence"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type step struct {
	snap models.Snapshot
	err  error
}

// scriptedProbe replays snapshots, repeating the last one once exhausted.
type scriptedProbe struct {
	mu      sync.Mutex
	steps   []step
	i       int
	reloads int
}

func (p *scriptedProbe) Poll(ctx context.Context) (models.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.steps) == 0 {
		return models.Snapshot{}, errors.New("no script")
	}
	if p.i >= len(p.steps) {
		return p.steps[len(p.steps)-1].snap, nil
	}
	s := p.steps[p.i]
	p.i++
	return s.snap, s.err
}

func (p *scriptedProbe) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []models.BusMessage
}

func (r *recordingPublisher) Publish(msg models.BusMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recordingPublisher) rounds() []models.RoundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RoundEvent
	for _, m := range r.msgs {
		if e, ok := m.Round(); ok {
			out = append(out, e)
		}
	}
	return out
}

// game builds a snapshot script the way a crash game page renders.
type game struct {
	hist  []float64
	steps []step
}

func (g *game) add(n int, s models.Snapshot) {
	for i := 0; i < n; i++ {
		s.RecentHistory = append([]float64(nil), g.hist...)
		g.steps = append(g.steps, step{snap: s})
	}
}

func (g *game) countdown(n int) {
	g.add(n, models.Snapshot{IsCountdownVisible: true})
}

func (g *game) fail(err error) {
	g.steps = append(g.steps, step{err: err})
}

// round plays one round crashing at m. historyDelay is the number of ticks
// after the crash before the results list shows m; negative means never.
func (g *game) round(m float64, historyDelay int) {
	if m > 1 {
		const n = 10
		for i := 0; i < n; i++ {
			v := math.Round((1+(m-1)*float64(i)/(n-1))*100) / 100
			g.add(1, models.Snapshot{IsRunning: true, Multiplier: v, BettorCount: 12, TotalStaked: 40})
		}
	}
	for i := 0; i < 20; i++ {
		if i == historyDelay {
			g.hist = append([]float64{m}, g.hist...)
		}
		s := models.Snapshot{BettorCount: 12, TotalStaked: 40}
		if m > 1 {
			s.Multiplier = m
		}
		g.add(1, s)
	}
}

const tick = 100 * time.Millisecond

func runScript(t *testing.T, g *game, opts ...DetectorOption) (*RoundDetector, *recordingPublisher, *scriptedProbe) {
	t.Helper()
	clock := newFakeClock()
	probe := &scriptedProbe{steps: g.steps}
	pub := &recordingPublisher{}
	opts = append([]DetectorOption{WithDetectorClock(clock.Now)}, opts...)
	d := NewRoundDetector("s1", probe, pub, opts...)
	ctx := context.Background()
	for range g.steps {
		clock.Advance(tick)
		if !d.Tick(ctx) {
			t.Fatalf("tick unexpectedly skipped")
		}
	}
	return d, pub, probe
}

func TestDetectorEmitsExactlyOneEventPerRound(t *testing.T) {
	rounds := []struct {
		m      float64
		delay  int
		method models.DetectionMethod
	}{
		{2.35, 3, models.DetectionHistory},
		{1.00, 5, models.DetectionHistory},
		{1.00, -1, models.DetectionCountdown},
		{5.10, -1, models.DetectionTransition},
		{1.37, 17, models.DetectionTransition},
		{1.00, 0, models.DetectionCountdown},
		{12.5, 0, models.DetectionHistory},
		{1.37, 8, models.DetectionHistory},
	}

	g := &game{hist: []float64{3.0, 1.5, 2.2}}
	g.countdown(40)
	for i, r := range rounds {
		g.round(r.m, r.delay)
		g.countdown(20)
		if i == 3 {
			g.fail(errors.New("poll timeout"))
			g.add(1, models.Snapshot{IsCountdownVisible: true}) // list not rendered yet
			g.steps[len(g.steps)-1].snap.RecentHistory = nil
		}
		g.countdown(20)
	}

	d, pub, _ := runScript(t, g)

	got := pub.rounds()
	if len(got) != len(rounds) {
		for _, e := range got {
			t.Logf("event %d %.2f %s", e.ID, e.Multiplier, e.DetectionMethod)
		}
		t.Fatalf("expected %d events, got %d", len(rounds), len(got))
	}
	for i, e := range got {
		if math.Abs(e.Multiplier-rounds[i].m) > 1e-9 {
			t.Fatalf("event %d: multiplier %.2f, want %.2f", i, e.Multiplier, rounds[i].m)
		}
		if e.DetectionMethod != rounds[i].method {
			t.Fatalf("event %d: method %s, want %s", i, e.DetectionMethod, rounds[i].method)
		}
		if e.SourceID != "s1" {
			t.Fatalf("event %d: source %q", i, e.SourceID)
		}
		if i > 0 && e.ID <= got[i-1].ID {
			t.Fatalf("ids not strictly increasing: %d after %d", e.ID, got[i-1].ID)
		}
	}
	if got[0].BettorCount != 12 || got[0].TotalStaked != 40 {
		t.Fatalf("round stats not carried: %+v", got[0])
	}
	if h := d.History(0); len(h) != len(rounds) {
		t.Fatalf("ring buffer holds %d events", len(h))
	}
	if st := d.Status(); st.EventCount != int64(len(rounds)) || st.LastMultiplier != 1.37 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestDetectorDedupGate(t *testing.T) {
	clock := newFakeClock()
	d := NewRoundDetector("s1", &scriptedProbe{}, nil, WithDetectorClock(clock.Now))

	d.mu.Lock()
	d.emit(2.0, roundStats{}, models.DetectionHistory, clock.Now())
	d.emit(2.004, roundStats{}, models.DetectionTransition, clock.Now().Add(time.Second))
	d.emit(2.0, roundStats{}, models.DetectionHistory, clock.Now().Add(4*time.Second))
	d.emit(2.5, roundStats{}, models.DetectionHistory, clock.Now().Add(4500*time.Millisecond))
	d.mu.Unlock()

	h := d.History(0)
	if len(h) != 3 {
		t.Fatalf("expected 3 events after dedup, got %d", len(h))
	}
	if h[1].ID != 2 || h[2].ID != 3 {
		t.Fatalf("ids must be contiguous after a rejection: %+v", h)
	}
}

func TestDetectorCountdownHiddenWindow(t *testing.T) {
	tests := []struct {
		name   string
		hidden int // ticks with the countdown hidden and no multiplier shown
		want   int
	}{
		{"flicker", 2, 0},
		{"shortest crash", 3, 1},
		{"instant crash", 30, 1},
		{"longest crash", 80, 1},
		{"just too long", 81, 0},
		{"stalled page", 120, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &game{hist: []float64{3.0, 1.5}}
			g.countdown(10)
			g.add(tt.hidden, models.Snapshot{})
			g.countdown(10)

			_, pub, _ := runScript(t, g)
			events := pub.rounds()
			if len(events) != tt.want {
				t.Fatalf("hidden for %v: expected %d rounds, got %d", time.Duration(tt.hidden)*tick, tt.want, len(events))
			}
			for _, e := range events {
				if e.DetectionMethod != models.DetectionCountdown || e.Multiplier != models.MinMultiplier {
					t.Fatalf("unexpected event %+v", e)
				}
			}
		})
	}
}

func TestDetectorSignalLifecycle(t *testing.T) {
	g := &game{hist: []float64{2.5}}
	g.countdown(40)
	for _, m := range []float64{1.2, 1.5, 1.8, 1.1, 3.5} {
		g.round(m, 2)
		g.countdown(40)
	}
	d, pub, _ := runScript(t, g, WithAnalyzer(sequence.New()))

	var kinds []string
	for _, m := range pub.msgs {
		switch m.Type {
		case models.MessageSignal:
			s := m.Data.(models.SequenceSignal)
			kinds = append(kinds, fmt.Sprintf("signal:%s:%d", s.Strength, s.ConsecutiveLows))
		default:
			kinds = append(kinds, string(m.Type))
		}
	}
	want := []string{
		"round", "round", "round", "signal:MODERATE:3",
		"round", "signal:STRONG:4", "round", "signal_cleared",
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("unexpected messages\n got %v\nwant %v", kinds, want)
	}
	if d.Signal() != nil {
		t.Fatalf("signal should be cleared")
	}
}

func TestDetectorAuthRecovery(t *testing.T) {
	g := &game{hist: []float64{2.0}}
	g.countdown(5)
	g.add(3, models.Snapshot{AuthFault: true})
	g.steps = append(g.steps, step{err: fmt.Errorf("login page: %w", models.ErrSourceAuth)})
	// a round completed while the page was broken
	g.hist = []float64{3.0, 2.0}
	g.countdown(10)
	if got := len(g.steps); got != 19 {
		t.Fatalf("script length %d", got)
	}
	g.round(1.5, 2)
	g.countdown(40)

	d, pub, probe := runScript(t, g)
	got := pub.rounds()
	if len(got) != 1 || got[0].Multiplier != 1.5 {
		t.Fatalf("expected only the round after recovery, got %+v", got)
	}
	if probe.reloads != 1 {
		t.Fatalf("reload should be throttled to one call, got %d", probe.reloads)
	}
	if d.Status().Recovering {
		t.Fatalf("detector should have recovered")
	}
}

func TestDetectorWarmStart(t *testing.T) {
	store := &memoryRoundStore{events: []models.RoundEvent{
		{ID: 41, SourceID: "s1", Multiplier: 1.5},
		{ID: 42, SourceID: "s1", Multiplier: 2.5},
	}}
	g := &game{hist: []float64{2.5}}
	g.countdown(40)
	g.round(3.3, 2)
	g.countdown(5)

	clock := newFakeClock()
	pub := &recordingPublisher{}
	d := NewRoundDetector("s1", &scriptedProbe{steps: g.steps}, pub,
		WithDetectorClock(clock.Now), WithRoundStore(store))
	d.warmStart(context.Background())
	for range g.steps {
		clock.Advance(tick)
		d.Tick(context.Background())
	}
	h := d.History(0)
	if len(h) != 3 || h[2].ID != 43 {
		t.Fatalf("expected warm history continued with id 43, got %+v", h)
	}
}

type blockingProbe struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProbe) Poll(ctx context.Context) (models.Snapshot, error) {
	p.entered <- struct{}{}
	<-p.release
	return models.Snapshot{IsCountdownVisible: true}, nil
}

func (p *blockingProbe) Reload(context.Context) error { return nil }

func TestDetectorSkipsOverlappingTick(t *testing.T) {
	p := &blockingProbe{entered: make(chan struct{}), release: make(chan struct{})}
	d := NewRoundDetector("s1", p, nil)

	done := make(chan bool)
	go func() { done <- d.Tick(context.Background()) }()
	<-p.entered
	if d.Tick(context.Background()) {
		t.Fatalf("overlapping tick must be skipped")
	}
	close(p.release)
	if !<-done {
		t.Fatalf("first tick should have run")
	}
}

func TestDetectorStartStop(t *testing.T) {
	g := &game{}
	g.countdown(1)
	d := NewRoundDetector("s1", &scriptedProbe{steps: g.steps}, nil,
		WithDetectorConfig(DetectorConfig{PollInterval: time.Millisecond}))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !d.Running() {
		t.Fatalf("expected running")
	}
	d.Stop()
	d.Stop()
	if d.Running() {
		t.Fatalf("expected stopped")
	}
}

type memoryRoundStore struct {
	mu     sync.Mutex
	events []models.RoundEvent
}

func (s *memoryRoundStore) SaveRound(ctx context.Context, e models.RoundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memoryRoundStore) SaveRounds(ctx context.Context, events []models.RoundEvent) error {
	for _, e := range events {
		_ = s.SaveRound(ctx, e)
	}
	return nil
}

func (s *memoryRoundStore) RecentRounds(ctx context.Context, sourceID string, limit int) ([]models.RoundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RoundEvent
	for _, e := range s.events {
		if e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
