package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CrashPilot/internal/handler/ws"
	mid "CrashPilot/internal/middleware"
	"CrashPilot/internal/service/ratelimit"
	"CrashPilot/internal/services/bus"
	"CrashPilot/internal/services/prediction"
	"CrashPilot/internal/usecase"
	"CrashPilot/pkg/config"
	xhttp "CrashPilot/pkg/http"
	pkgkafka "CrashPilot/pkg/kafka"
	"CrashPilot/pkg/logger"
	"CrashPilot/pkg/queue"
)

// Components are the long-running parts the App starts and stops. Optional
// parts are nil when their feature is disabled.
type Components struct {
	Bus         *bus.EventBus
	Pipeline    *mid.EventPipeline
	Hub         *ws.Hub
	Sources     *usecase.SourceCoordinator
	Bots        *usecase.BotManager
	HTTP        *xhttp.Server
	Consumer    *pkgkafka.Consumer
	BetConsumer *queue.RedisQueue
	Feed        *prediction.RedisFeed
	Limiter     *ratelimit.Limiter
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *logger.Logger
	c   Components

	cancel context.CancelFunc
	unsub  func()
}

func New(cfg *config.Config, l *logger.Logger, c Components) *App {
	if l == nil {
		l = logger.Nop()
	}
	return &App{cfg: cfg, log: l, c: c}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	a.log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Start launches sinks, feeds and consumers first, then detectors and bots,
// then the HTTP server.
func (a *App) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel

	a.c.Pipeline.Start()
	a.unsub = a.c.Bus.Subscribe("event_pipeline", a.c.Pipeline.Handle)

	if a.c.Feed != nil {
		if err := a.c.Feed.Start(ctx); err != nil {
			return err
		}
		a.log.Info("ml prediction feed started", logger.String("channel", a.cfg.Prediction.Channel))
	}
	if a.c.BetConsumer != nil {
		if err := a.c.BetConsumer.Start(); err != nil {
			return err
		}
	}
	if a.c.Consumer != nil {
		go func() {
			if err := a.c.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", logger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", logger.String("topic", a.cfg.Kafka.Topic))
	}
	if a.c.Limiter != nil {
		go a.pruneLimiter(ctx)
	}

	for _, s := range a.cfg.Sources {
		if _, err := a.c.Sources.AddSource(ctx, s.ID, s.ProbeURL); err != nil {
			a.log.Error("source start failed", logger.Source(s.ID), logger.Error(err))
		}
	}
	for _, bc := range a.cfg.Bots {
		if _, err := a.c.Bots.CreateBot(bc); err != nil {
			a.log.Error("bot config rejected", logger.Bot(bc.ID), logger.Error(err))
			continue
		}
		if !a.cfg.BotsAutostart {
			continue
		}
		if _, err := a.c.Bots.StartBot(ctx, bc.ID); err != nil {
			a.log.Error("bot start failed", logger.Bot(bc.ID), logger.Error(err))
		}
	}
	a.log.Info("pipeline running",
		logger.Int("sources", len(a.c.Sources.Sources())),
		logger.Int("bots", len(a.cfg.Bots)))

	return a.c.HTTP.Start()
}

func (a *App) pruneLimiter(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.c.Limiter.Prune(10 * time.Minute)
		}
	}
}

// Shutdown stops the API, then bots, then sources, and drains the pipeline
// before the consumers stop.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")
	var errs []error

	if a.c.HTTP != nil {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", logger.Error(err))
			errs = append(errs, err)
		}
	}
	// bots resolve their active bet on the next round, so sources stop after them
	if a.c.Bots != nil {
		a.c.Bots.StopAll(ctx)
	}
	if a.c.Sources != nil {
		a.c.Sources.StopAll()
	}
	if a.unsub != nil {
		a.unsub()
	}
	if a.c.Pipeline != nil {
		if err := a.c.Pipeline.Stop(ctx); err != nil {
			a.log.Warn("event pipeline drain", logger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.Hub != nil {
		a.c.Hub.Close()
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	if a.c.BetConsumer != nil {
		if err := a.c.BetConsumer.Stop(ctx); err != nil {
			a.log.Warn("bet queue stop error", logger.Error(err))
		}
	}
	if a.c.Feed != nil {
		_ = a.c.Feed.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
