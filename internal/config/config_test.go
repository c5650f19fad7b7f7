package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsToStandalone(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "boardsync" || cfg.HTTPListenAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.UsesPostgres() || cfg.UsesRedis() || cfg.UsesObjectStorage() {
		t.Fatalf("backends enabled without configuration: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("shutdown timeout = %v", cfg.ShutdownTimeout)
	}
}

func TestLoadEnablesConfiguredBackends(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost:5432/boardsync")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("OBJECT_ENDPOINT", "localhost:9000")
	t.Setenv("OBJECT_ACCESS_KEY", "minio")
	t.Setenv("OBJECT_SECRET_KEY", "miniostorage")
	t.Setenv("ARCHIVE_INTERVAL", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.UsesPostgres() || !cfg.UsesRedis() || !cfg.UsesObjectStorage() {
		t.Fatalf("backends not enabled: %+v", cfg)
	}
	if cfg.ArchiveInterval != time.Minute {
		t.Fatalf("archive interval = %v", cfg.ArchiveInterval)
	}
}

func TestLoadRejectsObjectStorageWithoutCredentials(t *testing.T) {
	t.Setenv("OBJECT_ENDPOINT", "localhost:9000")
	t.Setenv("OBJECT_ACCESS_KEY", "")
	t.Setenv("OBJECT_SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected credential error")
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")
	t.Setenv("OBJECT_USE_SSL", "perhaps")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisDB != 0 || cfg.ShutdownTimeout != 10*time.Second || cfg.ObjectUseSSL {
		t.Fatalf("fallbacks not applied: %+v", cfg)
	}
}
