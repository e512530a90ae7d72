package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	InternalToken string `yaml:"internalToken"`

	StoreDriver              string `yaml:"storeDriver"`
	StoreRedisPrefix         string `yaml:"storeRedisPrefix"`
	FirestoreProject         string `yaml:"firestoreProject"`
	FirestoreCredentialsFile string `yaml:"firestoreCredentialsFile"`
	DatabaseURL              string `yaml:"databaseURL"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	PushProvider            string `yaml:"pushProvider"`
	FirebaseProject         string `yaml:"firebaseProject"`
	FirebaseCredentialsFile string `yaml:"firebaseCredentialsFile"`
	PushRateLimit           int    `yaml:"pushRateLimit"`
	PushRateWindowSeconds   int    `yaml:"pushRateWindowSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("CHATSYNC_INTERNAL_TOKEN"); v != "" {
		cfg.InternalToken = v
	}
	if v := os.Getenv("CHATSYNC_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("FIRESTORE_PROJECT"); v != "" {
		cfg.FirestoreProject = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		if cfg.FirestoreCredentialsFile == "" {
			cfg.FirestoreCredentialsFile = v
		}
		if cfg.FirebaseCredentialsFile == "" {
			cfg.FirebaseCredentialsFile = v
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("NOTIFIER_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("NOTIFIER_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("NOTIFIER_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("NOTIFIER_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("NOTIFIER_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("NOTIFIER_PUSH_PROVIDER"); v != "" {
		cfg.PushProvider = v
	}
	if v := os.Getenv("FIREBASE_PROJECT"); v != "" {
		cfg.FirebaseProject = v
	}
	if v := os.Getenv("NOTIFIER_PUSH_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PushRateLimit = n
		}
	}
	if v := os.Getenv("NOTIFIER_PUSH_RATE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PushRateWindowSeconds = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "redis"
	}
	cfg.PushProvider = strings.ToLower(strings.TrimSpace(cfg.PushProvider))
	if cfg.PushProvider == "" {
		cfg.PushProvider = "log"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.PushRateWindowSeconds <= 0 {
		cfg.PushRateWindowSeconds = 60
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.InternalToken) == "" {
		return errors.New("config: internalToken is required (set in config.yaml or CHATSYNC_INTERNAL_TOKEN)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.StoreDriver {
	case "memory":
		return errors.New("config: storeDriver memory cannot be shared with clients; use redis, firestore or postgres")
	case "redis":
	case "firestore":
		if cfg.FirestoreProject == "" {
			return errors.New("config: firestoreProject is required for storeDriver firestore")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for storeDriver postgres (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	switch cfg.PushProvider {
	case "log":
	case "fcm":
		if cfg.FirebaseProject == "" {
			return errors.New("config: firebaseProject is required for pushProvider fcm (set in config.yaml or FIREBASE_PROJECT)")
		}
	default:
		return fmt.Errorf("config: unknown pushProvider %q", cfg.PushProvider)
	}
	if cfg.PushRateLimit < 0 {
		return errors.New("config: pushRateLimit must be >= 0")
	}
	if cfg.QueueMaxRetries < 0 || cfg.QueueRetryDelaySeconds < 0 {
		return errors.New("config: queue retry settings must be >= 0")
	}
	return nil
}
