package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the storage emulator.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Uploads  UploadsConfig
	Project  ProjectConfig
	Rules    RulesConfig
	Auth     AuthConfig
	Events   EventsConfig
	Postgres PostgresConfig
	MinIO    MinIOConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig points at the on-disk persistence root.
type StorageConfig struct {
	Root     string
	Compress bool
}

// UploadsConfig bounds how long upload sessions stay in memory.
type UploadsConfig struct {
	IdleTTL   time.Duration
	ClosedTTL time.Duration
}

// ProjectConfig identifies the emulated project.
type ProjectConfig struct {
	ID string
}

// RulesConfig selects the authorization capability.
type RulesConfig struct {
	// Mode is one of allow, deny, authenticated or remote.
	Mode      string
	RemoteURL string
}

// AuthConfig controls how bearer tokens are read.
type AuthConfig struct {
	// JWTSecret enables HS256 signature checks when set.
	JWTSecret  string
	OwnerToken string
}

// EventsConfig selects where change notifications go.
type EventsConfig struct {
	FunctionsURL string
	Outbox       bool
	Log          bool
}

// PostgresConfig contains PostgreSQL connection details for the event outbox.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// MaxConns caps the outbox pool.
	MaxConns int
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// MinIOConfig carries MinIO connection and bucket information for archiving
// noncurrent generations.
type MinIOConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("STORAGE_EMULATOR_HOST", "0.0.0.0"),
			Port:         getInt("STORAGE_EMULATOR_PORT", 9199),
			ReadTimeout:  getDuration("STORAGE_EMULATOR_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getDuration("STORAGE_EMULATOR_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDuration("STORAGE_EMULATOR_IDLE_TIMEOUT", 120*time.Second),
			MaxBodyBytes: int64(getInt("STORAGE_EMULATOR_MAX_BODY_BYTES", 256<<20)),
		},
		Storage: StorageConfig{
			Root:     getString("STORAGE_EMULATOR_ROOT", ""),
			Compress: getBool("STORAGE_EMULATOR_COMPRESS", false),
		},
		Uploads: UploadsConfig{
			IdleTTL:   getDuration("STORAGE_UPLOAD_IDLE_TTL", 24*time.Hour),
			ClosedTTL: getDuration("STORAGE_UPLOAD_CLOSED_TTL", 10*time.Minute),
		},
		Project: ProjectConfig{
			ID: getString("STORAGE_EMULATOR_PROJECT", "demo-project"),
		},
		Rules: RulesConfig{
			Mode:      strings.ToLower(getString("STORAGE_RULES_MODE", "allow")),
			RemoteURL: getString("STORAGE_RULES_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:  getString("STORAGE_AUTH_JWT_SECRET", ""),
			OwnerToken: getString("STORAGE_AUTH_OWNER_TOKEN", "owner"),
		},
		Events: EventsConfig{
			FunctionsURL: getString("FUNCTIONS_EMULATOR_URL", ""),
			Outbox:       getBool("STORAGE_EVENTS_OUTBOX", false),
			Log:          getBool("STORAGE_EVENTS_LOG", true),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "storage_emulator"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "storage_emulator"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns: getInt("POSTGRES_MAX_CONNS", 4),
		},
		MinIO: MinIOConfig{
			Enabled:         getBool("MINIO_ARCHIVE_ENABLED", false),
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "storage-emulator"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "noncurrent-generations"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("STORAGE_EMULATOR_METRICS_PATH", "/metrics"),
		},
	}

	if cfg.Storage.Root == "" {
		return Config{}, fmt.Errorf("STORAGE_EMULATOR_ROOT must be set")
	}
	switch cfg.Rules.Mode {
	case "allow", "deny", "authenticated":
	case "remote":
		if cfg.Rules.RemoteURL == "" {
			return Config{}, fmt.Errorf("STORAGE_RULES_URL must be set when STORAGE_RULES_MODE=remote")
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_RULES_MODE %q", cfg.Rules.Mode)
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
