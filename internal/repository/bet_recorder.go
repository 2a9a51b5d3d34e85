package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/domain/repository"
	"CrashPilot/pkg/logger"
	"CrashPilot/pkg/queue"
)

// BetJobType is the queue message type carrying one models.BetRecord.
const BetJobType = "bot_bet"

// BetRecorder implements Persistence for bots. Sessions are written
// synchronously; bets go through a local buffer and are either inserted by a
// background writer or handed to the Redis job queue.
type BetRecorder struct {
	store   repository.BetStore
	queue   queue.QueueService
	log     *logger.Logger
	metrics repository.Metrics
	timeout time.Duration

	pending chan models.BetRecord
	once    sync.Once
	done    chan struct{}
}

var _ repository.Persistence = (*BetRecorder)(nil)

type RecorderOption func(*BetRecorder)

// WithBetQueue routes bets through q instead of writing them directly.
func WithBetQueue(q queue.QueueService) RecorderOption {
	return func(r *BetRecorder) { r.queue = q }
}

func WithRecorderLogger(l *logger.Logger) RecorderOption {
	return func(r *BetRecorder) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRecorderMetrics(m repository.Metrics) RecorderOption {
	return func(r *BetRecorder) { r.metrics = m }
}

func WithRecorderBuffer(n int) RecorderOption {
	return func(r *BetRecorder) {
		if n > 0 {
			r.pending = make(chan models.BetRecord, n)
		}
	}
}

func WithRecorderTimeout(d time.Duration) RecorderOption {
	return func(r *BetRecorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewBetRecorder starts the background writer. Close drains it.
func NewBetRecorder(store repository.BetStore, opts ...RecorderOption) *BetRecorder {
	r := &BetRecorder{
		store:   store,
		log:     logger.Nop(),
		timeout: 5 * time.Second,
		pending: make(chan models.BetRecord, 1024),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.String("component", "bet_recorder"))
	go r.run()
	return r
}

// RecordBet buffers r and returns at once. A full buffer drops the record.
func (r *BetRecorder) RecordBet(_ context.Context, rec models.BetRecord) {
	select {
	case r.pending <- rec:
	default:
		r.log.Warn("bet buffer full, record dropped",
			logger.Bot(rec.BotID),
			logger.String("bet_id", rec.BetID))
		r.recordError("bet_record_dropped")
	}
}

func (r *BetRecorder) StartSession(ctx context.Context, s models.SessionInfo) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := r.store.InsertSession(ctx, s); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return s.ID, nil
}

func (r *BetRecorder) EndSession(ctx context.Context, sessionID string, stats models.SessionStats) error {
	if sessionID == "" {
		return nil
	}
	if err := r.store.CloseSession(ctx, sessionID, stats); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Close stops accepting writes after the buffered records are flushed or ctx
// expires.
func (r *BetRecorder) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.pending) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bet recorder drain: %w", ctx.Err())
	}
}

func (r *BetRecorder) run() {
	defer close(r.done)
	for rec := range r.pending {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.write(ctx, rec)
		cancel()
		if err != nil {
			r.log.Error("persist bet failed",
				logger.Bot(rec.BotID),
				logger.String("bet_id", rec.BetID),
				logger.Error(err))
			r.recordError("bet_persist")
		}
	}
}

func (r *BetRecorder) write(ctx context.Context, rec models.BetRecord) error {
	if r.queue != nil {
		return r.queue.PublishMessage(ctx, BetJobType, rec)
	}
	return r.store.InsertBet(ctx, rec)
}

func (r *BetRecorder) recordError(kind string) {
	if r.metrics != nil {
		r.metrics.RecordError(kind)
	}
}

// BetJob is the queue consumer side of BetRecorder.
type BetJob struct {
	store repository.BetStore
}

var _ queue.Job = (*BetJob)(nil)

func NewBetJob(store repository.BetStore) *BetJob {
	return &BetJob{store: store}
}

func (j *BetJob) Name() string { return "insert_bot_bet" }

func (j *BetJob) Type() string { return BetJobType }

func (j *BetJob) Handle(ctx context.Context, payload interface{}) error {
	rec, err := queue.ParsePayload[models.BetRecord](payload)
	if err != nil {
		return err
	}
	return j.store.InsertBet(ctx, *rec)
}
