package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Upload   UploadConfig   `yaml:"upload"`
	Worker   WorkerConfig   `yaml:"worker"`
	SSE      SSEConfig      `yaml:"sse"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig holds SQS work queue settings. EndpointOverride points the
// client at a local emulator (LocalStack / ElasticMQ) instead of AWS.
type QueueConfig struct {
	URL               string `yaml:"url"`
	Region            string `yaml:"region"`
	EndpointOverride  string `yaml:"endpoint_override"`
	LongPollSeconds   int    `yaml:"long_poll_seconds"`
	VisibilitySeconds int    `yaml:"visibility_seconds"`
}

// LongPoll returns the receive wait time as a duration.
func (c QueueConfig) LongPoll() time.Duration {
	return time.Duration(c.LongPollSeconds) * time.Second
}

// UploadConfig holds staged-file intake settings
type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// WorkerConfig holds row processing settings
type WorkerConfig struct {
	BatchSize          int `yaml:"batch_size"`
	ProgressThrottleMS int `yaml:"progress_throttle_ms"`
}

// ProgressThrottle returns the minimum interval between progress events.
func (c WorkerConfig) ProgressThrottle() time.Duration {
	return time.Duration(c.ProgressThrottleMS) * time.Millisecond
}

// SSEConfig holds server-sent-events stream settings
type SSEConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

// Heartbeat returns the idle interval before a keepalive comment is sent.
func (c SSEConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// RedisConfig holds the optional progress mirror settings. An empty Addr
// disables the mirror; the importer is fully functional without it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file. An empty path yields a
// config of pure defaults, for env-only deployments.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Queue.Region == "" {
		cfg.Queue.Region = "us-east-1"
	}
	if cfg.Queue.LongPollSeconds == 0 {
		cfg.Queue.LongPollSeconds = 20
	}
	if cfg.Queue.VisibilitySeconds == 0 {
		cfg.Queue.VisibilitySeconds = 300
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = "./uploads"
	}
	if cfg.Upload.MaxBytes == 0 {
		cfg.Upload.MaxBytes = 20 << 20
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 1000
	}
	if cfg.Worker.ProgressThrottleMS == 0 {
		cfg.Worker.ProgressThrottleMS = 1000
	}
	if cfg.SSE.HeartbeatSeconds == 0 {
		cfg.SSE.HeartbeatSeconds = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("QUEUE_URL"); v != "" {
		cfg.Queue.URL = v
	}
	if v := os.Getenv("QUEUE_ENDPOINT_OVERRIDE"); v != "" {
		cfg.Queue.EndpointOverride = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Queue.Region = v
	}
	if v := envInt("QUEUE_LONG_POLL_SEC"); v > 0 {
		cfg.Queue.LongPollSeconds = v
	}
	if v := envInt("QUEUE_VISIBILITY_SEC"); v > 0 {
		cfg.Queue.VisibilitySeconds = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Upload.Dir = v
	}
	if v := envInt("MAX_UPLOAD_BYTES"); v > 0 {
		cfg.Upload.MaxBytes = int64(v)
	}
	if v := envInt("BATCH_SIZE"); v > 0 {
		cfg.Worker.BatchSize = v
	}
	if v := envInt("PROGRESS_THROTTLE_MS"); v > 0 {
		cfg.Worker.ProgressThrottleMS = v
	}
	if v := envInt("SSE_HEARTBEAT_SEC"); v > 0 {
		cfg.SSE.HeartbeatSeconds = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := envInt("REDIS_DB"); v > 0 {
		cfg.Redis.DB = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
