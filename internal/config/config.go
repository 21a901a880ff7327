package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Auth            AuthConfig            `yaml:"auth"`
	Worker          WorkerConfig          `yaml:"worker"`
	Log             LogConfig             `yaml:"log"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Client          ClientConfig          `yaml:"client"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains server database settings.
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains server background worker settings.
type WorkerConfig struct {
	SnapshotInterval           Duration `yaml:"snapshot_interval"`
	CompactionInterval         Duration `yaml:"compaction_interval"`
	CompactionRetention        Duration `yaml:"compaction_retention"`
	IdempotencyCleanupInterval Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyTTL             Duration `yaml:"idempotency_ttl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SnapshotStorageConfig configures S3-compatible snapshot upload. An empty
// bucket disables upload.
type SnapshotStorageConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Prefix    string   `yaml:"prefix"`
	UseSSL    *bool    `yaml:"use_ssl"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
	URLExpiry Duration `yaml:"url_expiry"`
}

// ClientConfig contains device-side sync settings.
type ClientConfig struct {
	DataPath           string   `yaml:"data_path"`
	ServerURL          string   `yaml:"server_url"`
	APIKey             string   `yaml:"-"` // env-only
	SyncInterval       Duration `yaml:"sync_interval"`
	PingTimeout        Duration `yaml:"ping_timeout"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	PushBatchSize      int      `yaml:"push_batch_size"`
	PullLimit          int      `yaml:"pull_limit"`
	TransparentOffline bool     `yaml:"transparent_offline"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("HABITSYNC_CONFIG_PATH", "config/habitsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/habitsync-server.db",
		},
		Worker: WorkerConfig{
			SnapshotInterval:           Duration(1 * time.Hour),
			CompactionInterval:         Duration(24 * time.Hour),
			CompactionRetention:        Duration(30 * 24 * time.Hour),
			IdempotencyCleanupInterval: Duration(1 * time.Hour),
			IdempotencyTTL:             Duration(24 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		SnapshotStorage: SnapshotStorageConfig{
			Region:    "us-east-1",
			Prefix:    "habitsync",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
		Client: ClientConfig{
			DataPath:       "data/habitsync.db",
			SyncInterval:   Duration(5 * time.Minute),
			PingTimeout:    Duration(3 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
			PushBatchSize:  200,
			PullLimit:      500,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("HABITSYNC_PORT", &cfg.Server.Port)
	envDuration("HABITSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("HABITSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("HABITSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	envString("HABITSYNC_DB_PATH", &cfg.Database.Path)
	envString("HABITSYNC_SNAPSHOT_PATH", &cfg.Database.SnapshotPath)

	// Auth
	envString("HABITSYNC_API_KEY", &cfg.Auth.APIKey)

	// Worker
	envDuration("HABITSYNC_SNAPSHOT_INTERVAL", &cfg.Worker.SnapshotInterval)
	envDuration("HABITSYNC_COMPACTION_INTERVAL", &cfg.Worker.CompactionInterval)
	envDuration("HABITSYNC_COMPACTION_RETENTION", &cfg.Worker.CompactionRetention)
	envDuration("HABITSYNC_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.Worker.IdempotencyCleanupInterval)
	envDuration("HABITSYNC_IDEMPOTENCY_TTL", &cfg.Worker.IdempotencyTTL)

	// Log
	envString("HABITSYNC_LOG_LEVEL", &cfg.Log.Level)
	envString("HABITSYNC_LOG_FORMAT", &cfg.Log.Format)

	// Snapshot storage
	envString("HABITSYNC_SNAPSHOT_BUCKET", &cfg.SnapshotStorage.Bucket)
	envString("HABITSYNC_S3_ENDPOINT", &cfg.SnapshotStorage.Endpoint)
	envString("HABITSYNC_S3_REGION", &cfg.SnapshotStorage.Region)
	envString("HABITSYNC_S3_PREFIX", &cfg.SnapshotStorage.Prefix)
	envString("HABITSYNC_S3_ACCESS_KEY", &cfg.SnapshotStorage.AccessKey)
	envString("HABITSYNC_S3_SECRET_KEY", &cfg.SnapshotStorage.SecretKey)
	if v := os.Getenv("HABITSYNC_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &useSSL
	}
	envDuration("HABITSYNC_S3_URL_EXPIRY", &cfg.SnapshotStorage.URLExpiry)

	// Client
	envString("HABITSYNC_DATA_PATH", &cfg.Client.DataPath)
	envString("HABITSYNC_SERVER_URL", &cfg.Client.ServerURL)
	envString("HABITSYNC_CLIENT_API_KEY", &cfg.Client.APIKey)
	envDuration("HABITSYNC_SYNC_INTERVAL", &cfg.Client.SyncInterval)
	envDuration("HABITSYNC_PING_TIMEOUT", &cfg.Client.PingTimeout)
	envDuration("HABITSYNC_REQUEST_TIMEOUT", &cfg.Client.RequestTimeout)
	envInt("HABITSYNC_PUSH_BATCH_SIZE", &cfg.Client.PushBatchSize)
	envInt("HABITSYNC_PULL_LIMIT", &cfg.Client.PullLimit)
	if v := os.Getenv("HABITSYNC_TRANSPARENT_OFFLINE"); v != "" {
		cfg.Client.TransparentOffline = v == "true" || v == "1"
	}
}

// validate checks structural constraints shared by every command.
func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	intervals := map[string]Duration{
		"worker.snapshot_interval":            c.Worker.SnapshotInterval,
		"worker.compaction_interval":          c.Worker.CompactionInterval,
		"worker.idempotency_cleanup_interval": c.Worker.IdempotencyCleanupInterval,
		"client.sync_interval":                c.Client.SyncInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Client.PushBatchSize < 0 || c.Client.PullLimit < 0 {
		return errors.New("client.push_batch_size and client.pull_limit must not be negative")
	}
	return nil
}

// ValidateServer checks settings the sync server requires. In dev mode
// (HABITSYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) ValidateServer() error {
	if os.Getenv("HABITSYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("HABITSYNC_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
