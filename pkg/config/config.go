// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Storage, OCR, Ingestion, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	OCR       OCRConfig       `yaml:"ocr"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Internal  InternalConfig  `yaml:"internal"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// StoreConfig selects the entity store backend ("postgres" or "memory").
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	OCRDispatch    string `yaml:"ocrDispatch"`
	PipelineEvents string `yaml:"pipelineEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentialsFile"`
	SignedURLTTL    time.Duration `yaml:"signedUrlTTL"`
}

// OCRConfig selects the OCR engine and its connection parameters.
type OCRConfig struct {
	Engine            string        `yaml:"engine"`
	BaseURL           string        `yaml:"baseUrl"`
	APIKey            string        `yaml:"apiKey"`
	SyncTimeout       time.Duration `yaml:"syncTimeout"`
	NotificationTopic string        `yaml:"notificationTopic"`
	Languages         []string      `yaml:"languages"`
	VertexProject     string        `yaml:"vertexProject"`
	VertexRegion      string        `yaml:"vertexRegion"`
	VertexModel       string        `yaml:"vertexModel"`
}

// IngestionConfig controls upload validation and how the processing trigger
// is delivered ("kafka" or "http").
type IngestionConfig struct {
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
	AllowedTypes   []string      `yaml:"allowedTypes"`
	TriggerMode    string        `yaml:"triggerMode"`
	TriggerTimeout time.Duration `yaml:"triggerTimeout"`
}

// InternalConfig holds settings for internal-to-internal calls.
type InternalConfig struct {
	Secret         string `yaml:"secret"`
	ProcessBaseURL string `yaml:"processBaseUrl"`
}

// WebhookConfig controls the OCR notification receiver.
type WebhookConfig struct {
	AutoConfirm      bool          `yaml:"autoConfirm"`
	RequireConfirmed bool          `yaml:"requireConfirmed"`
	DedupTTL         time.Duration `yaml:"dedupTTL"`
}

// MatcherConfig controls variable matching defaults.
type MatcherConfig struct {
	DefaultCategory string `yaml:"defaultCategory"`
}

// RateLimitConfig controls per-owner request limits.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Limit  int           `yaml:"limit"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the services cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Storage.Driver {
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.OCR.Engine {
	case "http", "tesseract", "vertex":
	default:
		return fmt.Errorf("unknown ocr engine %q", c.OCR.Engine)
	}
	switch c.Ingestion.TriggerMode {
	case "kafka", "http":
	default:
		return fmt.Errorf("unknown trigger mode %q", c.Ingestion.TriggerMode)
	}
	if c.Ingestion.MaxUploadBytes <= 0 {
		return fmt.Errorf("ingestion.maxUploadBytes must be positive")
	}
	// The http trigger waits for the synchronous OCR call it starts.
	if c.Ingestion.TriggerMode == "http" && c.Ingestion.TriggerTimeout > 0 && c.Ingestion.TriggerTimeout < c.OCR.SyncTimeout {
		return fmt.Errorf("ingestion.triggerTimeout (%v) must not be shorter than ocr.syncTimeout (%v)", c.Ingestion.TriggerTimeout, c.OCR.SyncTimeout)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  75 * time.Second,
		},
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "formpipeline",
			User:            "formpipeline",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "formpipeline-dispatcher",
			Topics: KafkaTopics{
				OCRDispatch:    "ocr-dispatch",
				PipelineEvents: "pipeline-events",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Storage: StorageConfig{
			Driver:       "memory",
			SignedURLTTL: time.Hour,
		},
		OCR: OCRConfig{
			Engine:       "http",
			BaseURL:      "http://localhost:8090",
			SyncTimeout:  60 * time.Second,
			Languages:    []string{"eng"},
			VertexRegion: "us-central1",
			VertexModel:  "gemini-1.5-pro",
		},
		Ingestion: IngestionConfig{
			MaxUploadBytes: 10 << 20,
			AllowedTypes:   []string{"application/pdf", "image/png", "image/jpeg"},
			TriggerMode:    "kafka",
			TriggerTimeout: 90 * time.Second,
		},
		Internal: InternalConfig{
			ProcessBaseURL: "http://localhost:8080",
		},
		Webhook: WebhookConfig{
			AutoConfirm: true,
			DedupTTL:    24 * time.Hour,
		},
		Matcher: MatcherConfig{
			DefaultCategory: "uncategorized",
		},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
			Limit:  120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FP_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FP_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("FP_STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("FP_STORAGE_CREDENTIALS_FILE"); v != "" {
		cfg.Storage.CredentialsFile = v
	}
	if v := os.Getenv("FP_OCR_ENGINE"); v != "" {
		cfg.OCR.Engine = v
	}
	if v := os.Getenv("FP_OCR_BASE_URL"); v != "" {
		cfg.OCR.BaseURL = v
	}
	if v := os.Getenv("FP_OCR_API_KEY"); v != "" {
		cfg.OCR.APIKey = v
	}
	if v := os.Getenv("FP_OCR_SYNC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OCR.SyncTimeout = d
		}
	}
	if v := os.Getenv("FP_OCR_VERTEX_PROJECT"); v != "" {
		cfg.OCR.VertexProject = v
	}
	if v := os.Getenv("FP_INGESTION_TRIGGER_MODE"); v != "" {
		cfg.Ingestion.TriggerMode = v
	}
	if v := os.Getenv("FP_INTERNAL_SECRET"); v != "" {
		cfg.Internal.Secret = v
	}
	if v := os.Getenv("FP_INTERNAL_PROCESS_BASE_URL"); v != "" {
		cfg.Internal.ProcessBaseURL = v
	}
	if v := os.Getenv("FP_WEBHOOK_AUTO_CONFIRM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Webhook.AutoConfirm = b
		}
	}
	if v := os.Getenv("FP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
