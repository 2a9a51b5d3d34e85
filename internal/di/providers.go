package di

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"CrashPilot/internal/domain/models"
	"CrashPilot/internal/domain/repository"
	dsvc "CrashPilot/internal/domain/service"
	"CrashPilot/internal/handler/api"
	"CrashPilot/internal/handler/ws"
	mid "CrashPilot/internal/middleware"
	internalrepo "CrashPilot/internal/repository"
	"CrashPilot/internal/service/ratelimit"
	"CrashPilot/internal/services/bus"
	"CrashPilot/internal/services/executor"
	"CrashPilot/internal/services/prediction"
	"CrashPilot/internal/services/probe"
	"CrashPilot/internal/services/sequence"
	"CrashPilot/internal/usecase"
	"CrashPilot/pkg/cache"
	pkgch "CrashPilot/pkg/clickhouse"
	"CrashPilot/pkg/config"
	xhttp "CrashPilot/pkg/http"
	pkgkafka "CrashPilot/pkg/kafka"
	"CrashPilot/pkg/logger"
	"CrashPilot/pkg/metrics"
	"CrashPilot/pkg/postgres"
	"CrashPilot/pkg/queue"
	"CrashPilot/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideEventBus creates the in-process bus every component publishes to.
func ProvideEventBus(l *logger.Logger, m repository.Metrics) *bus.EventBus {
	return bus.New(l, m)
}

// ProvideStorage opens the configured backend and initializes its schema.
// Backend none yields a nil Storage.
func ProvideStorage(cfg *config.Config, l *logger.Logger) (repository.Storage, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Persistence.Backend {
	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		if err := client.InitSchema(ctx, pkgch.Schema(client.Database())); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		l.Info("clickhouse storage ready", logger.String("database", client.Database()))
		cleanup := func() {
			if err := client.Close(); err != nil {
				l.Warn("clickhouse close error", logger.Error(err))
			}
		}
		return internalrepo.NewClickHouseStorage(client.DB(), client.Database()), cleanup, nil

	case "postgres":
		db, err := postgres.Connect(postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.InitSchema(ctx, db, postgres.Schema); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		l.Info("postgres storage ready")
		store := internalrepo.NewPostgresStorage(db)
		cleanup := func() {
			if err := store.Close(); err != nil {
				l.Warn("postgres close error", logger.Error(err))
			}
		}
		return store, cleanup, nil
	}
	return nil, func() {}, nil
}

// ProvideRedisClient connects to Redis when enabled.
func ProvideRedisClient(cfg *config.Config, l *logger.Logger) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	l.Info("redis connected", logger.String("addr", cfg.Redis.Addr))
	return client, func() { _ = client.Close() }, nil
}

// ProvideKafkaProducer creates the event stream producer when Kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideKafkaConsumer builds the crash.events consumer that persists rounds
// when persistence.rounds_via is kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger, store repository.Storage, m repository.Metrics) (*pkgkafka.Consumer, error) {
	if cfg.Persistence.RoundsVia != "kafka" || store == nil {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaRoundsHandler(cfg.Kafka.Topic, store, m))
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook{},
		pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, _ error) {
				m.RecordError("kafka_consume_" + topic)
			},
		},
	))
	return consumer, nil
}

// ProvideBetRecorder routes bet records to storage, through the Redis queue
// when persistence.bet_queue is enabled. Without storage it returns nil.
func ProvideBetRecorder(cfg *config.Config, l *logger.Logger, m repository.Metrics, store repository.Storage, rc *redis.Client) (*internalrepo.BetRecorder, func(), error) {
	if store == nil {
		return nil, func() {}, nil
	}
	opts := []internalrepo.RecorderOption{
		internalrepo.WithRecorderLogger(l),
		internalrepo.WithRecorderMetrics(m),
	}
	var pub *queue.RedisQueue
	if cfg.Persistence.BetQueue.Enabled && rc != nil {
		var err error
		pub, err = queue.NewRedisPublisher(l, rc, queue.WithKeyPrefix(betQueuePrefix(cfg)))
		if err != nil {
			return nil, nil, fmt.Errorf("bet queue publisher: %w", err)
		}
		opts = append(opts, internalrepo.WithBetQueue(pub))
	}
	rec := internalrepo.NewBetRecorder(store, opts...)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Close(ctx); err != nil {
			l.Warn("bet recorder drain", logger.Error(err))
		}
		if pub != nil {
			_ = pub.Stop(ctx)
		}
	}
	return rec, cleanup, nil
}

// ProvideBetQueueConsumer drains the bet queue into storage.
func ProvideBetQueueConsumer(cfg *config.Config, l *logger.Logger, m repository.Metrics, store repository.Storage, rc *redis.Client) *queue.RedisQueue {
	if !cfg.Persistence.BetQueue.Enabled || rc == nil || store == nil {
		return nil
	}
	return queue.NewRedisConsumer(l, &queue.QueueConfig{
		Workers:    cfg.Persistence.BetQueue.Workers,
		RetryLimit: cfg.Persistence.BetQueue.MaxRetries,
		RetryDelay: cfg.Persistence.BetQueue.RetryDelay,
	}, rc, []queue.Job{internalrepo.NewBetJob(store)},
		queue.WithKeyPrefix(betQueuePrefix(cfg)),
		queue.WithDeadLetterHook(func(queue.Message, error) {
			m.RecordError("bet_queue_dead_letter")
		}))
}

func betQueuePrefix(cfg *config.Config) string {
	return "crashpilot:queue:" + cfg.Persistence.BetQueue.Name
}

// ProvideCache builds the response cache: memory only, or memory in front of
// Redis when Redis is enabled.
func ProvideCache(cfg *config.Config, rc *redis.Client) cache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxItems))
	}
	return cache.NewLayeredCache(cache.NewRedisCache(rc, ""),
		cache.WithLayeredMemorySize(cfg.Cache.MaxItems),
		cache.WithLayeredMemoryTTL(cfg.Cache.TTL),
	)
}

// ProvideRedisFeed subscribes to the ML prediction channel when
// prediction.mode is redis.
func ProvideRedisFeed(cfg *config.Config, l *logger.Logger, rc *redis.Client) *prediction.RedisFeed {
	if cfg.Prediction.Mode != "redis" || rc == nil {
		return nil
	}
	return prediction.NewRedisFeed(rc,
		prediction.WithChannel(cfg.Prediction.Channel),
		prediction.WithMaxAge(cfg.Prediction.MaxAge),
		prediction.WithFeedLogger(l),
	)
}

// ProvidePredictor selects the prediction source for ML modes.
func ProvidePredictor(cfg *config.Config, feed *prediction.RedisFeed) dsvc.PredictionProvider {
	switch cfg.Prediction.Mode {
	case "redis":
		if feed != nil {
			return feed
		}
	case "http":
		return prediction.NewHTTPClient(cfg.Prediction.ServiceURL, cfg.Prediction.Timeout, cfg.Prediction.MaxAge)
	}
	return nil
}

// ProvideAnalyzer creates the streak analyzer shared by detectors and bots.
func ProvideAnalyzer(cfg *config.Config) *sequence.Analyzer {
	var opts []sequence.Option
	if cfg.Analyzer.LowThreshold > 0 {
		opts = append(opts, sequence.WithLowThreshold(cfg.Analyzer.LowThreshold))
	}
	if cfg.Analyzer.ModerateAt > 0 && cfg.Analyzer.StrongAt > 0 {
		opts = append(opts, sequence.WithRunLengths(cfg.Analyzer.ModerateAt, cfg.Analyzer.StrongAt))
	}
	if cfg.Analyzer.Window > 0 {
		opts = append(opts, sequence.WithWindow(cfg.Analyzer.Window))
	}
	return sequence.New(opts...)
}

// ProvideHub creates the dashboard websocket hub.
func ProvideHub(l *logger.Logger) *ws.Hub {
	return ws.NewHub(ws.WithLogger(l))
}

// ProvideEventPipeline attaches the slow sinks: websocket, Kafka stream,
// round storage and cache invalidation.
func ProvideEventPipeline(
	cfg *config.Config,
	l *logger.Logger,
	m repository.Metrics,
	hub *ws.Hub,
	producer *pkgkafka.Producer,
	store repository.Storage,
	c cache.Service,
) *mid.EventPipeline {
	p := mid.NewEventPipeline(m,
		mid.WithPipelineLogger(l),
		mid.WithFlushInterval(cfg.Persistence.BatchTimeout),
	)
	p.AddSink(hub)
	if producer != nil {
		p.AddSink(mid.NewPublisherSink("kafka", internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)))
	}
	if store != nil && cfg.Persistence.RoundsVia == "direct" {
		p.AddSink(mid.NewRoundStoreSink(store, cfg.Persistence.BatchSize, m))
	}
	if c != nil {
		p.AddSink(mid.NewCacheInvalidationSink(c, api.RoundsKeyPrefix))
	}
	return p
}

// ProvideSourceCoordinator creates the coordinator; detectors probe their
// agents over HTTP.
func ProvideSourceCoordinator(
	cfg *config.Config,
	l *logger.Logger,
	b *bus.EventBus,
	analyzer *sequence.Analyzer,
	store repository.Storage,
	m repository.Metrics,
) *usecase.SourceCoordinator {
	timeout := cfg.Detector.PollTimeout
	if timeout <= 0 {
		timeout = usecase.DefaultDetectorConfig().PollTimeout
	}
	opts := []usecase.CoordinatorOption{
		usecase.WithProbeFactory(func(sourceID, probeURL string) (repository.Probe, error) {
			return probe.NewHTTPProbe(sourceID, probeURL, timeout), nil
		}),
		usecase.WithCoordinatorAnalyzer(analyzer),
		usecase.WithCoordinatorMetrics(m),
		usecase.WithCoordinatorLogger(l),
		usecase.WithCoordinatorDetectorConfig(usecase.DetectorConfig{
			PollInterval:      cfg.Detector.PollInterval,
			PollTimeout:       cfg.Detector.PollTimeout,
			DedupCooldown:     cfg.Detector.DedupCooldown,
			TransitionGrace:   cfg.Detector.TransitionGrace,
			MinHiddenInterval: cfg.Detector.MinHiddenInterval,
			MaxHiddenInterval: cfg.Detector.MaxHiddenInterval,
			ReloadBackoff:     cfg.Detector.ReloadBackoff,
			HistorySize:       cfg.Detector.HistorySize,
			AnalyzeWindow:     cfg.Analyzer.Window,
		}),
	}
	if store != nil {
		opts = append(opts, usecase.WithCoordinatorStore(store))
	}
	return usecase.NewSourceCoordinator(b, opts...)
}

// ProvideBotManager creates the bot manager. Live bots bet through the
// executor agent; the rest use their own simulator ledger.
func ProvideBotManager(
	cfg *config.Config,
	l *logger.Logger,
	b *bus.EventBus,
	sources *usecase.SourceCoordinator,
	analyzer *sequence.Analyzer,
	predictor dsvc.PredictionProvider,
	rec *internalrepo.BetRecorder,
	store repository.Storage,
	m repository.Metrics,
) *usecase.BotManager {
	agentURL, agentTimeout := cfg.Executor.AgentURL, cfg.Executor.Timeout
	opts := []usecase.ManagerOption{
		usecase.WithExecutorFactory(func(bc models.BotConfig) (repository.BetExecutor, error) {
			if !bc.Live {
				return executor.NewSimulator(bc.InitialBalance), nil
			}
			if agentURL == "" {
				return nil, fmt.Errorf("bot %s is live but executor.agent_url is empty", bc.ID)
			}
			return executor.NewHTTPExecutor(agentURL, agentTimeout), nil
		}),
		usecase.WithManagerPredictor(predictor),
		usecase.WithManagerAnalyzer(analyzer),
		usecase.WithManagerHistory(sources),
		usecase.WithManagerMetrics(m),
		usecase.WithManagerLogger(l),
		usecase.WithManagerExecutorTimeout(agentTimeout),
	}
	if rec != nil {
		opts = append(opts, usecase.WithManagerPersistence(rec))
	}
	if store != nil {
		opts = append(opts, usecase.WithManagerBetStore(store))
	}
	return usecase.NewBotManager(b, b, opts...)
}

// ProvideRateLimiter limits mutating API calls when enabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(float64(cfg.RateLimit.Burst), cfg.RateLimit.Rate)
}

// ProvideHTTPServer registers the API and websocket routes.
func ProvideHTTPServer(
	cfg *config.Config,
	l *logger.Logger,
	sources *usecase.SourceCoordinator,
	bots *usecase.BotManager,
	store repository.Storage,
	c cache.Service,
	limiter *ratelimit.Limiter,
	hub *ws.Hub,
	pipeline *mid.EventPipeline,
) *xhttp.Server {
	var limit echo.MiddlewareFunc
	if limiter != nil {
		limit = limiter.Middleware()
	}
	srcOpts := []api.SourcesOption{
		api.WithRoundsCache(c, cfg.Cache.TTL),
		api.WithSourcesRateLimit(limit),
		api.WithSourcesLogger(l),
	}
	if store != nil {
		srcOpts = append(srcOpts, api.WithRoundStore(store))
	}
	handlers := []xhttp.Handler{
		api.NewSourcesHandler(sources, srcOpts...),
		api.NewBotsHandler(bots, l, limit),
		api.NewStatusHandler(sources, bots, pipeline.Pending),
		hub,
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	b *bus.EventBus,
	pipeline *mid.EventPipeline,
	hub *ws.Hub,
	sources *usecase.SourceCoordinator,
	bots *usecase.BotManager,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	betConsumer *queue.RedisQueue,
	feed *prediction.RedisFeed,
	limiter *ratelimit.Limiter,
) *server.App {
	return server.New(cfg, l, server.Components{
		Bus:         b,
		Pipeline:    pipeline,
		Hub:         hub,
		Sources:     sources,
		Bots:        bots,
		HTTP:        httpServer,
		Consumer:    consumer,
		BetConsumer: betConsumer,
		Feed:        feed,
		Limiter:     limiter,
	})
}
