package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CrashPilot/internal/domain/models"
	domrepo "CrashPilot/internal/domain/repository"
	"CrashPilot/pkg/logger"
)

// Sink is a slow consumer of bus messages (Kafka, storage, websocket).
type Sink interface {
	Name() string
	Accept(msg models.BusMessage) bool
	Handle(ctx context.Context, msg models.BusMessage) error
}

// Flusher is implemented by sinks that batch. Flush runs on every flush tick
// and once more on Stop.
type Flusher interface {
	Flush(ctx context.Context) error
}

// EventPipeline sits between the synchronous EventBus and the slow sinks.
// Each sink gets its own buffer and goroutine, so one stalled sink never
// delays the bus or the other sinks. A full buffer drops the message.
type EventPipeline struct {
	log        *logger.Logger
	metrics    domrepo.Metrics
	bufSize    int
	maxRetries int
	timeout    time.Duration
	flushEvery time.Duration

	mu      sync.RWMutex
	workers []*sinkWorker
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type sinkWorker struct {
	sink Sink
	ch   chan models.BusMessage
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets the per-sink buffer.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxRetries sets how many times a failing message is retried before it
// is dropped.
func WithMaxRetries(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithSinkTimeout bounds a single Handle or Flush call.
func WithSinkTimeout(d time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithFlushInterval(d time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if d > 0 {
			p.flushEvery = d
		}
	}
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *EventPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewEventPipeline(metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		log:        logger.Nop(),
		metrics:    metrics,
		bufSize:    1024,
		maxRetries: 3,
		timeout:    5 * time.Second,
		flushEvery: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.String("component", "event_pipeline"))
	return p
}

// AddSink registers s. Sinks added after Start are ignored.
func (p *EventPipeline) AddSink(s Sink) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.log.Warn("sink added after start ignored", logger.String("sink", s.Name()))
		return
	}
	p.workers = append(p.workers, &sinkWorker{sink: s, ch: make(chan models.BusMessage, p.bufSize)})
}

// Start launches one goroutine per sink.
func (p *EventPipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		p.wg.Add(1)
		go p.run(w)
	}
	p.log.Info("event pipeline started", logger.Int("sinks", len(p.workers)))
}

// Handle is the EventBus subscriber. It never blocks.
func (p *EventPipeline) Handle(msg models.BusMessage) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.stopped {
		return
	}
	for _, w := range p.workers {
		if !w.sink.Accept(msg) {
			continue
		}
		select {
		case w.ch <- msg:
		default:
			p.recordError("pipeline_buffer_full")
			p.log.Warn("sink buffer full, message dropped",
				logger.String("sink", w.sink.Name()),
				logger.String("type", string(msg.Type)),
				logger.Source(msg.SourceID))
		}
	}
}

// Stop closes the buffers and waits for the sinks to drain and flush.
func (p *EventPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	for _, w := range p.workers {
		close(w.ch)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("event pipeline stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event pipeline drain: %w", ctx.Err())
	}
}

// Pending reports buffered messages per sink.
func (p *EventPipeline) Pending() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.workers))
	for _, w := range p.workers {
		out[w.sink.Name()] = len(w.ch)
	}
	return out
}

func (p *EventPipeline) run(w *sinkWorker) {
	defer p.wg.Done()

	flusher, _ := w.sink.(Flusher)
	var tick <-chan time.Time
	if flusher != nil {
		t := time.NewTicker(p.flushEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case msg, ok := <-w.ch:
			if !ok {
				if flusher != nil {
					p.flush(w.sink.Name(), flusher)
				}
				return
			}
			p.deliver(w.sink, msg)
		case <-tick:
			p.flush(w.sink.Name(), flusher)
		}
	}
}

func (p *EventPipeline) deliver(s Sink, msg models.BusMessage) {
	start := time.Now()
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			if backoff < 2*time.Second {
				backoff *= 2
			}
		}
		if err = p.call(s, msg); err == nil {
			if p.metrics != nil {
				p.metrics.RecordLatency("sink_"+s.Name(), time.Since(start).Seconds())
			}
			return
		}
	}
	p.recordError("pipeline_sink_" + s.Name())
	p.log.Error("sink failed, message dropped",
		logger.String("sink", s.Name()),
		logger.String("type", string(msg.Type)),
		logger.Source(msg.SourceID),
		logger.Error(err))
}

func (p *EventPipeline) call(s Sink, msg models.BusMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panic: %v", s.Name(), r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return s.Handle(ctx, msg)
}

func (p *EventPipeline) flush(name string, f Flusher) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		p.recordError("pipeline_flush")
		p.log.Warn("sink flush failed", logger.String("sink", name), logger.Error(err))
	}
}

func (p *EventPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
