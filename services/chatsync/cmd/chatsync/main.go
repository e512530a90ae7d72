package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chattersync/internal/util"
	"chattersync/pkg/directory"
	"chattersync/pkg/docstore"
	"chattersync/pkg/identity"
	"chattersync/pkg/messaging"
	"chattersync/pkg/queue"
	"chattersync/pkg/search"
	"chattersync/pkg/storage"
	"chattersync/pkg/viewstate"
	"chattersync/services/chatsync/internal/config"
	"chattersync/services/chatsync/internal/console"
)

func main() {
	cfg, err := config.Load(os.Getenv("CHATSYNC_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLoggerTo(os.Stderr, cfg.LogLevel, "chatsync")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, docstore.Options{
		Driver:                   cfg.StoreDriver,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		RedisPrefix:              cfg.StoreRedisPrefix,
		FirestoreProject:         cfg.FirestoreProject,
		FirestoreCredentialsFile: cfg.FirestoreCredentialsFile,
		DatabaseURL:              cfg.DatabaseURL,
	})
	if err != nil {
		util.Fatal("failed to open document store", "driver", cfg.StoreDriver, "err", err)
	}
	defer store.Close()

	auth, err := identity.NewLocalProvider(identity.LocalOptions{
		Secret:          cfg.IdentitySecret,
		Issuer:          cfg.IdentityIssuer,
		Audience:        cfg.IdentityAudience,
		TTL:             time.Duration(cfg.IdentityTTLSeconds) * time.Second,
		CredentialsPath: cfg.CredentialsPath,
		Logger:          logger,
	})
	if err != nil {
		util.Fatal("failed to init identity provider", "err", err)
	}

	dirCfg := directory.Config{Store: store, Identity: auth, Logger: logger}
	if cfg.PushToken != "" {
		dirCfg.Tokens = identity.StaticTokenSource(cfg.PushToken)
	}
	if cfg.MinioEndpoint != "" {
		photos, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		dirCfg.Photos = photos
	}
	dir, err := directory.New(dirCfg)
	if err != nil {
		util.Fatal("failed to init directory", "err", err)
	}

	chanCfg := messaging.Config{Store: store, Identity: auth, Logger: logger}
	if cfg.EventsEnabled {
		events, err := queue.NewRedisMessageQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventsQueueName,
			Logger:   logger,
		})
		if err != nil {
			util.Fatal("failed to init event queue", "err", err)
		}
		defer events.Close()
		chanCfg.Events = events
	}
	channel, err := messaging.NewChannel(chanCfg)
	if err != nil {
		util.Fatal("failed to init message channel", "err", err)
	}

	searcher, err := search.New(search.Config{
		Directory: dir,
		Debounce:  time.Duration(cfg.SearchDebounceMillis) * time.Millisecond,
		MinLength: cfg.SearchMinLength,
	})
	if err != nil {
		util.Fatal("failed to init search", "err", err)
	}

	view, err := viewstate.New(viewstate.Config{
		Directory: dir,
		Messenger: channel,
		Searcher:  searcher,
		Logger:    logger,
	})
	if err != nil {
		util.Fatal("failed to init view state", "err", err)
	}
	defer view.Close()
	if err := view.Start(ctx); err != nil {
		logger.Warn("sign-in failed; commands that write will fail until it succeeds", "err", err)
	}

	c, err := console.New(console.Config{
		View:     view,
		Profiles: dir,
		In:       os.Stdin,
		Out:      os.Stdout,
		Logger:   logger,
	})
	if err != nil {
		util.Fatal("failed to init console", "err", err)
	}
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("console stopped", "err", err)
	}
}
