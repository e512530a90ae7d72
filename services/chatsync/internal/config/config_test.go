package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExplicitPathMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	t.Setenv("CHATSYNC_IDENTITY_SECRET", "s3cret")
	t.Setenv("CHATSYNC_SEARCH_DEBOUNCE_MS", "100")
	t.Setenv("CHATSYNC_STORE_DRIVER", "")

	cfgPath := filepath.Join(t.TempDir(), "chatsync.yaml")
	content := `
storeDriver: "Redis"
redisAddr: "localhost:6379"
eventsEnabled: true
searchMinLength: 3
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StoreDriver != "redis" {
		t.Fatalf("storeDriver = %q, want redis", cfg.StoreDriver)
	}
	if cfg.IdentitySecret != "s3cret" || cfg.SearchDebounceMillis != 100 || cfg.SearchMinLength != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.EventsEnabled || cfg.LogLevel != "warn" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestValidateConfigRejectsInvalidSettings(t *testing.T) {
	base := FileConfig{IdentitySecret: "s", StoreDriver: "memory", SearchDebounceMillis: 250}
	if err := validateConfig(base); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*FileConfig)
	}{
		{"missing secret", func(c *FileConfig) { c.IdentitySecret = "" }},
		{"negative ttl", func(c *FileConfig) { c.IdentityTTLSeconds = -1 }},
		{"unknown driver", func(c *FileConfig) { c.StoreDriver = "sqlite" }},
		{"redis without addr", func(c *FileConfig) { c.StoreDriver = "redis" }},
		{"firestore without project", func(c *FileConfig) { c.StoreDriver = "firestore" }},
		{"postgres without url", func(c *FileConfig) { c.StoreDriver = "postgres" }},
		{"negative debounce", func(c *FileConfig) { c.SearchDebounceMillis = -1 }},
		{"minio without bucket", func(c *FileConfig) { c.MinioEndpoint = "localhost:9000" }},
		{"events without redis", func(c *FileConfig) { c.EventsEnabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatalf("validateConfig() expected error")
			}
		})
	}
}
