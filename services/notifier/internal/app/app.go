package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chattersync/internal/ratelimit"
	"chattersync/internal/util"
	"chattersync/pkg/docstore"
	"chattersync/pkg/queue"
	"chattersync/services/notifier/internal/push"
)

// Config holds runtime configuration.
type Config struct {
	// Store overrides StoreOptions when set.
	Store        docstore.Store
	StoreOptions docstore.Options

	RedisAddr        string
	RedisPassword    string
	QueueName        string
	QueueGroup       string
	QueueConcurrency int
	QueueMaxRetries  int
	QueueRetryDelay  time.Duration

	Pusher         push.Pusher
	PushRateLimit  int
	PushRateWindow time.Duration

	Logger *slog.Logger
}

// App consumes new-message events and dispatches notifications.
type App struct {
	dispatcher  *Dispatcher
	queue       *queue.RedisMessageQueue
	backend     docstore.Backend
	concurrency int
}

// New wires the store, event queue, limiter and dispatcher.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pusher == nil {
		return nil, errors.New("pusher required")
	}
	store := cfg.Store
	var backend docstore.Backend
	if store == nil {
		var err error
		backend, err = docstore.Open(ctx, cfg.StoreOptions)
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		store = backend
	}

	var limiter Limiter
	if cfg.PushRateLimit > 0 {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.PushRateLimit, cfg.PushRateWindow)
		if err != nil {
			closeBackend(backend)
			return nil, fmt.Errorf("init push rate limiter: %w", err)
		}
		limiter = l
	}

	dispatcher, err := NewDispatcher(store, cfg.Pusher, limiter, logger)
	if err != nil {
		closeBackend(backend)
		return nil, err
	}

	q, err := queue.NewRedisMessageQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		Consumer:   util.NewID(),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: cfg.QueueRetryDelay,
		Logger:     logger,
	})
	if err != nil {
		closeBackend(backend)
		return nil, err
	}
	return &App{
		dispatcher:  dispatcher,
		queue:       q,
		backend:     backend,
		concurrency: cfg.QueueConcurrency,
	}, nil
}

// Start launches the queue consumers. They stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	a.queue.Start(ctx, a.concurrency, a.dispatcher.Handle)
}

// Event returns the processing status of an event.
func (a *App) Event(ctx context.Context, id string) (queue.EventStatus, bool, error) {
	return a.queue.Get(ctx, id)
}

// Ping checks the queue connection.
func (a *App) Ping(ctx context.Context) error {
	return a.queue.Ping(ctx)
}

func (a *App) Close() error {
	err := a.queue.Close()
	if a.backend != nil {
		err = errors.Join(err, a.backend.Close())
	}
	return err
}

func closeBackend(b docstore.Backend) {
	if b != nil {
		_ = b.Close()
	}
}
