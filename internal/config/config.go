package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the relay configuration sourced from the environment.
// Postgres, Redis, and object storage are optional: a relay with none of
// them configured still serves rooms from memory.
type Config struct {
	AppName          string
	HTTPListenAddr   string
	MetricsAddr      string
	ShutdownTimeout  time.Duration
	OTLPEndpoint     string
	PostgresURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ObjectEndpoint   string
	ObjectRegion     string
	ObjectBucket     string
	ObjectAccessKey  string
	ObjectSecretKey  string
	ObjectUseSSL     bool
	ArchiveInterval  time.Duration
	ArchiveMinBytes  int
	HealthcheckProbe time.Duration
}

// Load reads configuration from the environment while applying sensible
// defaults for local development.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", "boardsync"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsAddr:      getEnv("METRICS_LISTEN_ADDR", ":9090"),
		ShutdownTimeout:  getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getInt("REDIS_DB", 0),
		ObjectEndpoint:   os.Getenv("OBJECT_ENDPOINT"),
		ObjectRegion:     getEnv("OBJECT_REGION", "us-east-1"),
		ObjectBucket:     getEnv("OBJECT_BUCKET", "boardsync"),
		ObjectAccessKey:  os.Getenv("OBJECT_ACCESS_KEY"),
		ObjectSecretKey:  os.Getenv("OBJECT_SECRET_KEY"),
		ObjectUseSSL:     getBool("OBJECT_USE_SSL", false),
		ArchiveInterval:  getDuration("ARCHIVE_INTERVAL", 15*time.Second),
		ArchiveMinBytes:  getInt("ARCHIVE_MIN_BYTES", 64),
		HealthcheckProbe: getDuration("HEALTHCHECK_INTERVAL", 30*time.Second),
	}

	if cfg.ObjectEndpoint != "" && (cfg.ObjectAccessKey == "" || cfg.ObjectSecretKey == "") {
		return Config{}, fmt.Errorf("object storage credentials must be provided when OBJECT_ENDPOINT is set")
	}

	return cfg, nil
}

// UsesPostgres reports whether snapshot persistence is configured.
func (c Config) UsesPostgres() bool { return c.PostgresURL != "" }

// UsesRedis reports whether the cross-instance bridge is configured.
func (c Config) UsesRedis() bool { return c.RedisAddr != "" }

// UsesObjectStorage reports whether the archive worker is configured.
func (c Config) UsesObjectStorage() bool { return c.ObjectEndpoint != "" }

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
