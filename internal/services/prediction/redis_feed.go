package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"CrashPilot/internal/domain/models"
	dsvc "CrashPilot/internal/domain/service"
	"CrashPilot/pkg/logger"
)

// DefaultChannel is where the inference service publishes predictions.
const DefaultChannel = "ml_predictions"

// anySource keys predictions published without a source id.
const anySource = ""

// RedisFeed keeps the latest prediction per source from a Redis pub/sub
// channel.
type RedisFeed struct {
	client  *redis.Client
	channel string
	maxAge  time.Duration
	log     *logger.Logger
	now     func() time.Time

	mu     sync.RWMutex
	latest map[string]models.MLPrediction

	cancel context.CancelFunc
	done   chan struct{}
}

var _ dsvc.PredictionProvider = (*RedisFeed)(nil)

type FeedOption func(*RedisFeed)

func WithChannel(ch string) FeedOption {
	return func(f *RedisFeed) {
		if ch != "" {
			f.channel = ch
		}
	}
}

// WithMaxAge drops predictions older than d. Zero keeps them forever.
func WithMaxAge(d time.Duration) FeedOption {
	return func(f *RedisFeed) { f.maxAge = d }
}

func WithFeedLogger(l *logger.Logger) FeedOption {
	return func(f *RedisFeed) {
		if l != nil {
			f.log = l
		}
	}
}

func WithFeedClock(now func() time.Time) FeedOption {
	return func(f *RedisFeed) { f.now = now }
}

func NewRedisFeed(client *redis.Client, opts ...FeedOption) *RedisFeed {
	f := &RedisFeed{
		client:  client,
		channel: DefaultChannel,
		maxAge:  30 * time.Second,
		log:     logger.Nop(),
		now:     time.Now,
		latest:  make(map[string]models.MLPrediction),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start subscribes to the channel in the background.
func (f *RedisFeed) Start(ctx context.Context) error {
	if f.client == nil {
		return fmt.Errorf("prediction feed: redis client is nil")
	}
	sub := f.client.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	ch := sub.Channel()
	go func() {
		defer close(f.done)
		defer sub.Close()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := f.Ingest([]byte(msg.Payload)); err != nil {
					f.log.Warn("prediction payload rejected", logger.Error(err))
				}
			}
		}
	}()
	f.log.Info("prediction feed subscribed", logger.String("channel", f.channel))
	return nil
}

func (f *RedisFeed) Close() error {
	if f.cancel != nil {
		f.cancel()
		<-f.done
		f.cancel = nil
	}
	return nil
}

// Ingest stores one published prediction.
func (f *RedisFeed) Ingest(payload []byte) error {
	var p models.MLPrediction
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode prediction: %w", err)
	}
	if p.GeneratedAt.IsZero() {
		p.GeneratedAt = f.now()
	}
	f.mu.Lock()
	if cur, ok := f.latest[p.SourceID]; !ok || !p.GeneratedAt.Before(cur.GeneratedAt) {
		f.latest[p.SourceID] = p
	}
	f.mu.Unlock()
	return nil
}

// Predict returns the freshest prediction for sourceID, falling back to one
// published without a source. Stale predictions yield nil.
func (f *RedisFeed) Predict(ctx context.Context, sourceID string, history []models.RoundEvent) (*models.MLPrediction, error) {
	f.mu.RLock()
	p, ok := f.latest[sourceID]
	if !ok {
		p, ok = f.latest[anySource]
	}
	f.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if f.maxAge > 0 && f.now().Sub(p.GeneratedAt) > f.maxAge {
		return nil, nil
	}
	return &p, nil
}
