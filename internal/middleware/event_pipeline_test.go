package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CrashPilot/internal/domain/models"
	"CrashPilot/pkg/cache"
)

type recordingSink struct {
	name   string
	only   models.MessageType
	failN  int
	mu     sync.Mutex
	got    []models.BusMessage
	calls  int
	panics bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Accept(msg models.BusMessage) bool {
	return s.only == "" || msg.Type == s.only
}

func (s *recordingSink) Handle(_ context.Context, msg models.BusMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panics {
		panic("boom")
	}
	if s.calls <= s.failN {
		return errors.New("unavailable")
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *recordingSink) received() []models.BusMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BusMessage(nil), s.got...)
}

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *countingMetrics) RecordRound(string, models.DetectionMethod) {}
func (m *countingMetrics) RecordDuplicate(string) {}
func (m *countingMetrics) RecordSignal(string, models.SignalStrength) {}
func (m *countingMetrics) RecordDecision(string, models.StrategyMode, bool) {}
func (m *countingMetrics) RecordBetResolved(string, bool, models.ResolvedBy) {}
func (m *countingMetrics) RecordBalance(string, float64) {}
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[kind]++
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func roundMsg(source string, id int64) models.BusMessage {
	return models.NewRoundMessage(models.RoundEvent{ID: id, SourceID: source, Multiplier: 1.5})
}

func stop(t *testing.T, p *EventPipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPipelineFansOutPerSinkFilter(t *testing.T) {
	all := &recordingSink{name: "all"}
	rounds := &recordingSink{name: "rounds", only: models.MessageRound}
	p := NewEventPipeline(nil)
	p.AddSink(all)
	p.AddSink(rounds)
	p.Start()

	p.Handle(roundMsg("s1", 1))
	p.Handle(models.NewSignalClearedMessage("s1", 1))
	p.Handle(roundMsg("s1", 2))
	stop(t, p)

	if got := all.received(); len(got) != 3 {
		t.Fatalf("all sink got %d messages", len(got))
	}
	got := rounds.received()
	if len(got) != 2 {
		t.Fatalf("round sink got %d messages", len(got))
	}
	if e, _ := got[1].Round(); e.ID != 2 {
		t.Fatalf("order not kept: %+v", got)
	}
}

func TestPipelineRetriesThenDrops(t *testing.T) {
	m := &countingMetrics{}
	flaky := &recordingSink{name: "flaky", failN: 1}
	dead := &recordingSink{name: "dead", failN: 100}
	p := NewEventPipeline(m, WithMaxRetries(1))
	p.AddSink(flaky)
	p.AddSink(dead)
	p.Start()

	p.Handle(roundMsg("s1", 1))
	stop(t, p)

	if len(flaky.received()) != 1 {
		t.Fatalf("flaky sink should succeed on retry")
	}
	if len(dead.received()) != 0 {
		t.Fatalf("dead sink should receive nothing")
	}
	if m.count("pipeline_sink_dead") != 1 {
		t.Fatalf("expected drop metric, got %v", m.errors)
	}
}

func TestPipelineRecoversSinkPanic(t *testing.T) {
	m := &countingMetrics{}
	bad := &recordingSink{name: "bad", panics: true}
	good := &recordingSink{name: "good"}
	p := NewEventPipeline(m, WithMaxRetries(0))
	p.AddSink(bad)
	p.AddSink(good)
	p.Start()

	p.Handle(roundMsg("s1", 1))
	p.Handle(roundMsg("s1", 2))
	stop(t, p)

	if len(good.received()) != 2 {
		t.Fatalf("good sink affected by panicking sink")
	}
	if m.count("pipeline_sink_bad") != 2 {
		t.Fatalf("expected two recorded failures, got %v", m.errors)
	}
}

func TestPipelineIgnoresMessagesAfterStop(t *testing.T) {
	s := &recordingSink{name: "s"}
	p := NewEventPipeline(nil)
	p.AddSink(s)
	p.Start()
	stop(t, p)

	p.Handle(roundMsg("s1", 1))
	if len(s.received()) != 0 {
		t.Fatalf("message delivered after stop")
	}
}

type memoryRoundStore struct {
	mu     sync.Mutex
	saved  []models.RoundEvent
	fail   bool
	writes int
}

func (m *memoryRoundStore) SaveRound(ctx context.Context, e models.RoundEvent) error {
	return m.SaveRounds(ctx, []models.RoundEvent{e})
}

func (m *memoryRoundStore) SaveRounds(_ context.Context, events []models.RoundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("down")
	}
	m.writes++
	m.saved = append(m.saved, events...)
	return nil
}

func (m *memoryRoundStore) RecentRounds(context.Context, string, int) ([]models.RoundEvent, error) {
	return nil, nil
}

func TestRoundStoreSinkBatchesAndDedupes(t *testing.T) {
	store := &memoryRoundStore{}
	sink := NewRoundStoreSink(store, 3, nil)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 2} {
		if err := sink.Handle(ctx, roundMsg("s1", id)); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if store.writes != 0 || sink.Buffered() != 2 {
		t.Fatalf("replayed round buffered twice or flushed early: writes=%d buffered=%d", store.writes, sink.Buffered())
	}
	if err := sink.Handle(ctx, roundMsg("s2", 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if store.writes != 1 || len(store.saved) != 3 {
		t.Fatalf("expected one batch of 3, got writes=%d saved=%d", store.writes, len(store.saved))
	}
}

func TestRoundStoreSinkKeepsBatchOnFailure(t *testing.T) {
	store := &memoryRoundStore{fail: true}
	sink := NewRoundStoreSink(store, 10, nil)
	ctx := context.Background()

	_ = sink.Handle(ctx, roundMsg("s1", 1))
	if err := sink.Flush(ctx); err == nil {
		t.Fatalf("expected flush error")
	}
	if sink.Buffered() != 1 {
		t.Fatalf("batch lost on failure")
	}

	store.fail = false
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if sink.Buffered() != 0 || len(store.saved) != 1 {
		t.Fatalf("batch not written after recovery")
	}
}

func TestCacheInvalidationSinkDropsSourceEntries(t *testing.T) {
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()
	_ = mc.Set(ctx, "rounds:s1:50", 1, time.Minute)
	_ = mc.Set(ctx, "rounds:s2:50", 1, time.Minute)

	sink := NewCacheInvalidationSink(mc, func(id string) string { return "rounds:" + id + ":" })
	if sink.Accept(models.NewSignalClearedMessage("s1", 1)) {
		t.Fatalf("only rounds invalidate")
	}
	if err := sink.Handle(ctx, roundMsg("s1", 3)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if mc.Len() != 1 {
		t.Fatalf("expected only s2 entry left, have %d", mc.Len())
	}
}
