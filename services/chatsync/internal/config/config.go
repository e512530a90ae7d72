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
const ConfigPath = "chatsync.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel string `yaml:"logLevel"`

	StoreDriver              string `yaml:"storeDriver"`
	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	StoreRedisPrefix         string `yaml:"storeRedisPrefix"`
	FirestoreProject         string `yaml:"firestoreProject"`
	FirestoreCredentialsFile string `yaml:"firestoreCredentialsFile"`
	DatabaseURL              string `yaml:"databaseURL"`

	IdentitySecret     string `yaml:"identitySecret"`
	IdentityIssuer     string `yaml:"identityIssuer"`
	IdentityAudience   string `yaml:"identityAudience"`
	IdentityTTLSeconds int    `yaml:"identityTTLSeconds"`
	CredentialsPath    string `yaml:"credentialsPath"`
	PushToken          string `yaml:"pushToken"`

	SearchDebounceMillis int `yaml:"searchDebounceMillis"`
	SearchMinLength      int `yaml:"searchMinLength"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`

	// EventsEnabled publishes new-message events for the notifier.
	EventsEnabled   bool   `yaml:"eventsEnabled"`
	EventsQueueName string `yaml:"eventsQueueName"`
}

// Load reads config from path. A missing file at the default path is not an
// error: the client then runs on defaults and environment variables.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("CHATSYNC_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("FIRESTORE_PROJECT"); v != "" {
		cfg.FirestoreProject = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && cfg.FirestoreCredentialsFile == "" {
		cfg.FirestoreCredentialsFile = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CHATSYNC_IDENTITY_SECRET"); v != "" {
		cfg.IdentitySecret = v
	}
	if v := os.Getenv("CHATSYNC_CREDENTIALS_PATH"); v != "" {
		cfg.CredentialsPath = v
	}
	if v := os.Getenv("CHATSYNC_PUSH_TOKEN"); v != "" {
		cfg.PushToken = v
	}
	if v := os.Getenv("CHATSYNC_SEARCH_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchDebounceMillis = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("CHATSYNC_EVENTS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.EventsEnabled = enabled
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
		cfg.LogLevel = "warn"
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "memory"
	}
	if cfg.SearchDebounceMillis == 0 {
		cfg.SearchDebounceMillis = 250
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.IdentitySecret) == "" {
		return errors.New("config: identitySecret is required (set in chatsync.yaml or CHATSYNC_IDENTITY_SECRET)")
	}
	if cfg.IdentityTTLSeconds < 0 {
		return errors.New("config: identityTTLSeconds must be >= 0")
	}
	switch cfg.StoreDriver {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for storeDriver redis (set in chatsync.yaml or REDIS_ADDR)")
		}
	case "firestore":
		if cfg.FirestoreProject == "" {
			return errors.New("config: firestoreProject is required for storeDriver firestore")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for storeDriver postgres (set in chatsync.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	if cfg.SearchDebounceMillis < 0 {
		return errors.New("config: searchDebounceMillis must be >= 0")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioBucket, minioAccessKey and minioSecretKey are required with minioEndpoint")
		}
	}
	if cfg.EventsEnabled && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when eventsEnabled=true")
	}
	return nil
}
