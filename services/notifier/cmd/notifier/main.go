package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chattersync/internal/util"
	"chattersync/pkg/docstore"
	"chattersync/services/notifier/internal/app"
	"chattersync/services/notifier/internal/config"
	"chattersync/services/notifier/internal/push"
	"chattersync/services/notifier/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("NOTIFIER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel, "notifier")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pusher push.Pusher
	switch cfg.PushProvider {
	case "fcm":
		fcm, err := push.NewFCMPusher(ctx, cfg.FirebaseProject, cfg.FirebaseCredentialsFile)
		if err != nil {
			util.Fatal("failed to init fcm", "err", err)
		}
		pusher = fcm
	default:
		pusher = push.NewLogPusher(logger)
	}

	appCore, err := app.New(ctx, app.Config{
		StoreOptions: docstore.Options{
			Driver:                   cfg.StoreDriver,
			RedisAddr:                cfg.RedisAddr,
			RedisPassword:            cfg.RedisPassword,
			RedisPrefix:              cfg.StoreRedisPrefix,
			FirestoreProject:         cfg.FirestoreProject,
			FirestoreCredentialsFile: cfg.FirestoreCredentialsFile,
			DatabaseURL:              cfg.DatabaseURL,
		},
		RedisAddr:        cfg.RedisAddr,
		RedisPassword:    cfg.RedisPassword,
		QueueName:        cfg.QueueName,
		QueueGroup:       cfg.QueueGroup,
		QueueConcurrency: cfg.QueueConcurrency,
		QueueMaxRetries:  cfg.QueueMaxRetries,
		QueueRetryDelay:  time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		Pusher:           pusher,
		PushRateLimit:    cfg.PushRateLimit,
		PushRateWindow:   time.Duration(cfg.PushRateWindowSeconds) * time.Second,
		Logger:           logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	defer appCore.Close()
	appCore.Start(ctx)

	httpServer := server.New(server.Config{
		App:           appCore,
		InternalToken: cfg.InternalToken,
		Logger:        logger,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("notifier server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
