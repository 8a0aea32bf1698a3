package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jashmhtaaa/theatre-scheduler/internal/application"
	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/config"
	"github.com/jashmhtaaa/theatre-scheduler/internal/events"
	httptransport "github.com/jashmhtaaa/theatre-scheduler/internal/http"
	"github.com/jashmhtaaa/theatre-scheduler/internal/metrics"
	"github.com/jashmhtaaa/theatre-scheduler/internal/recurrence"
	"github.com/jashmhtaaa/theatre-scheduler/internal/redislock"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// app holds the wired service graph and what must be released on exit.
type app struct {
	handler    http.Handler
	scheduler  *scheduler.Scheduler
	dispatcher *events.Dispatcher
	metrics    *metrics.Collector
	closers    []func() error
	logger     *slog.Logger
}

// buildApp wires locks, events, the scheduler core, services and the router
// over st, then restores the interval index from the active bookings.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, st store, now func() time.Time) (*app, error) {
	a := &app{logger: logger, metrics: metrics.New("scheduler")}

	locks, err := a.lockManager(ctx, cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	sinks := []events.Sink{events.NewLogSink(logger)}
	if cfg.AMQPURL != "" {
		amqpSink, err := events.NewAMQPSink(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("connect event broker: %w", err)
		}
		a.closers = append(a.closers, amqpSink.Close)
		sinks = append(sinks, amqpSink)
	}
	a.dispatcher = events.NewDispatcher(cfg.EventBuffer, cfg.EventWorkers, logger, sinks, events.WithRecorder(a.metrics))
	a.dispatcher.Start(context.WithoutCancel(ctx))

	tracker := checklist.NewTracker(st, now)
	a.scheduler = scheduler.New(scheduler.Deps{
		Resources:        st,
		ResourceCacheTTL: cfg.ResourceCacheTTL,
		Bookings:         st,
		Locks:            locks,
		Publisher:        a.dispatcher,
		Guard:            tracker,
		Engine:           recurrence.NewEngine(cfg.Timezone),
		IDGenerator:      uuid.NewString,
		Now:              now,
		Logger:           logger,
	}, cfg.Policy())

	restored, err := a.scheduler.Restore(ctx)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("restore bookings: %w", err)
	}
	logger.Info("interval index restored", "bookings", restored)

	bookingService := application.NewBookingService(application.BookingServiceDeps{
		Scheduler: a.scheduler,
		Checklist: tracker,
		Metrics:   a.metrics,
		Policy:    a.scheduler.Policy(),
		Now:       now,
		Logger:    logger,
	})
	resourceService := application.NewResourceService(st, a.scheduler.Directory(), uuid.NewString, now, logger)

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Bookings:  httptransport.NewBookingHandler(bookingService, logger),
		Resources: httptransport.NewResourceHandler(resourceService, logger),
		Metrics:   a.metrics,
		Health:    st.Ping,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.IdentifyPrincipal,
			httptransport.RateLimit(httptransport.NewClientRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), logger),
		},
	})
	return a, nil
}

// lockManager returns the Redis-backed manager when REDIS_ADDR is set and the
// in-process one otherwise.
func (a *app) lockManager(ctx context.Context, cfg config.Config) (scheduler.LockManager, error) {
	if cfg.RedisAddr == "" {
		return scheduler.NewLocalLocks(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("using redis resource locks", "addr", cfg.RedisAddr)
	return redislock.New(client, redislock.Options{TTL: cfg.LockTTL, Logger: a.logger}), nil
}

// close drains the event queue, then releases connections in reverse order.
func (a *app) close(ctx context.Context) {
	if a.dispatcher != nil {
		if err := a.dispatcher.Shutdown(ctx); err != nil {
			a.logger.Warn("event dispatcher did not drain", "error", err, "dropped", a.dispatcher.Dropped())
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release dependency", "error", err)
		}
	}
	a.closers = nil
}
