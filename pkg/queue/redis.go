package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"CrashPilot/pkg/logger"
)

const defaultPrefix = "crashpilot:queue"

type keys struct {
	pending string
	retry   string
	dead    string
}

func newKeys(prefix string) keys {
	return keys{
		pending: prefix + ":messages",
		retry:   prefix + ":retry",
		dead:    prefix + ":dlq",
	}
}

// RedisQueue is a list-backed work queue. Failed messages wait in a sorted
// set scored by their retry time and land in a dead-letter list once the
// retry limit is spent.
type RedisQueue struct {
	log       *logger.Logger
	cfg       QueueConfig
	client    *redis.Client
	consumer  bool
	prefix    string
	keys      keys
	retryPoll time.Duration
	onDead    func(Message, error)
	now       func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets the Redis key namespace.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRetryPoll sets how often due retries are moved back to the queue.
func WithRetryPoll(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.retryPoll = d
		}
	}
}

// WithDeadLetterHook is called after a message is moved to the dead-letter list.
func WithDeadLetterHook(fn func(Message, error)) RedisQueueOption {
	return func(r *RedisQueue) { r.onDead = fn }
}

func newRedisQueue(l *logger.Logger, cfg *QueueConfig, client *redis.Client, consumer bool, opts ...RedisQueueOption) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	c := QueueConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	r := &RedisQueue{
		log:       l,
		cfg:       c,
		client:    client,
		consumer:  consumer,
		prefix:    defaultPrefix,
		retryPoll: time.Second,
		now:       time.Now,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.keys = newKeys(r.prefix)
	r.log = r.log.With(logger.String("queue", r.prefix))
	return r
}

// NewRedisPublisher returns a started publish-only queue.
func NewRedisPublisher(l *logger.Logger, client *redis.Client, opts ...RedisQueueOption) (*RedisQueue, error) {
	q := newRedisQueue(l, nil, client, false, opts...)
	if err := q.Start(); err != nil {
		return nil, err
	}
	return q, nil
}

// NewRedisConsumer returns a consumer for jobs. Call Start to run workers.
func NewRedisConsumer(l *logger.Logger, cfg *QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := newRedisQueue(l, cfg, client, true, opts...)
	for _, job := range jobs {
		q.RegisterJob(job)
	}
	return q
}

// RegisterJob binds job to its message type. Publishers ignore jobs.
func (r *RedisQueue) RegisterJob(job Job) {
	if !r.consumer {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	if !r.consumer {
		r.log.Info("redis publisher started", logger.String("addr", r.client.Options().Addr))
		return nil
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryLoop()
	r.log.Info("redis queue consumer started",
		logger.Int("workers", r.cfg.Workers),
		logger.Int("retry_limit", r.cfg.RetryLimit))
	return nil
}

// Stop cancels workers and waits for the in-flight message of each.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// PublishMessage enqueues payload under msgType.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return fmt.Errorf("queue not running")
	}
	if r.consumer && !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	b, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    body,
		EnqueuedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.keys.pending, b).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		res, err := r.client.BRPop(r.ctx, time.Second, r.keys.pending).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled):
			continue
		default:
			r.log.Error("brpop failed", logger.Int("worker", id), logger.Error(err))
			select {
			case <-r.ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("drop undecodable message", logger.Error(err))
			continue
		}
		r.process(msg)
	}
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.deadLetter(msg, fmt.Errorf("no job for type %q", msg.Type))
		return
	}

	err := job.Handle(r.ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// put it back for the next consumer run
		r.schedule(msg, r.now())
		return
	}
	msg.LastError = err.Error()
	if msg.Attempts >= r.cfg.RetryLimit {
		r.deadLetter(msg, err)
		return
	}
	msg.Attempts++
	at := r.cfg.retryAt(r.now(), msg.Attempts)
	r.log.Warn("job failed, retry scheduled",
		logger.String("job", job.Name()),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err))
	r.schedule(msg, at)
}

func (r *RedisQueue) schedule(msg Message, at time.Time) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal retry", logger.Error(err))
		return
	}
	// the consumer ctx may already be cancelled
	if err := r.client.ZAdd(context.Background(), r.keys.retry, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: b,
	}).Err(); err != nil {
		r.log.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message, cause error) {
	b, err := json.Marshal(msg)
	if err == nil {
		err = r.client.LPush(context.Background(), r.keys.dead, b).Err()
	}
	if err != nil {
		r.log.Error("dead-letter write failed", logger.String("id", msg.ID), logger.Error(err))
	}
	r.log.Error("message dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts),
		logger.Error(cause))
	if r.onDead != nil {
		r.onDead(msg, cause)
	}
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	t := time.NewTicker(r.retryPoll)
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			r.requeueDue()
		}
	}
}

// requeueDue moves due retries back to the pending list atomically per message.
func (r *RedisQueue) requeueDue() {
	due, err := r.client.ZRangeByScore(r.ctx, r.keys.retry, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Error("fetch due retries", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.keys.retry, member)
		pipe.LPush(r.ctx, r.keys.pending, member)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Error("requeue retry", logger.Error(err))
			}
			return
		}
	}
}
