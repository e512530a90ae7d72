package docstore

import (
	"context"
	"fmt"
	"strings"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

const (
	DriverMemory    = "memory"
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver string

	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	FirestoreProject         string
	FirestoreCredentialsFile string

	DatabaseURL string
}

// Backend is a Store that owns resources.
type Backend interface {
	Store
	Close() error
}

// Open constructs the backend named by opts.Driver. An empty driver selects
// the in-memory store.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis:
		store, err := NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverFirestore:
		if strings.TrimSpace(opts.FirestoreProject) == "" {
			return nil, fmt.Errorf("firestore project required")
		}
		var clientOpts []option.ClientOption
		if path := strings.TrimSpace(opts.FirestoreCredentialsFile); path != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(path))
		}
		client, err := gfs.NewClient(ctx, opts.FirestoreProject, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		return NewFirestoreStore(client), nil
	case DriverPostgres:
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, fmt.Errorf("database url required")
		}
		store, err := NewGormStore(opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown docstore driver %q", opts.Driver)
	}
}
