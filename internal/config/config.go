package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Media    MediaConfig    `yaml:"media"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// QueueConfig selects and configures the durable queue backing the worker
type QueueConfig struct {
	// Driver is "pgmq" (Postgres pgmq extension) or "sqs"
	Driver string    `yaml:"driver"`
	Name   string    `yaml:"name"`
	SQS    SQSConfig `yaml:"sqs"`
}

// SQSConfig holds AWS SQS queue configuration for the sqs queue driver
type SQSConfig struct {
	Region          string        `yaml:"region"`
	QueueURL        string        `yaml:"queue_url"`
	DeadLetterURL   string        `yaml:"dead_letter_url"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	SessionToken    string        `yaml:"session_token"`
	WaitTime        time.Duration `yaml:"wait_time"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration for
// job lifecycle events
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration.
//
// VisibilitySeconds must exceed the worst-case pipeline duration, and
// StalenessThresholdSeconds should exceed VisibilitySeconds by a margin so
// two workers never race on a still-healthy claim.
type WorkerConfig struct {
	Concurrency               int           `yaml:"concurrency"`
	BatchSize                 int           `yaml:"batch_size"`
	VisibilitySeconds         int           `yaml:"visibility_seconds"`
	MaxRetries                int           `yaml:"max_retries"`
	IdleSleepSeconds          int           `yaml:"idle_sleep_seconds"`
	StalenessThresholdSeconds int           `yaml:"staleness_threshold_seconds"`
	PollInterval              time.Duration `yaml:"poll_interval"`
	StartupDelay              time.Duration `yaml:"startup_delay"`
	ReclaimInterval           time.Duration `yaml:"reclaim_interval"`
	ReclaimBatchSize          int           `yaml:"reclaim_batch_size"`
	JobTimeout                time.Duration `yaml:"job_timeout"`
	ShutdownTimeout           time.Duration `yaml:"shutdown_timeout"`
}

// Visibility returns the queue visibility timeout as a duration
func (w WorkerConfig) Visibility() time.Duration {
	return time.Duration(w.VisibilitySeconds) * time.Second
}

// StalenessThreshold returns the claim staleness threshold as a duration
func (w WorkerConfig) StalenessThreshold() time.Duration {
	return time.Duration(w.StalenessThresholdSeconds) * time.Second
}

// IdleSleep returns the base idle sleep as a duration
func (w WorkerConfig) IdleSleep() time.Duration {
	return time.Duration(w.IdleSleepSeconds) * time.Second
}

// MediaConfig holds media tooling and collaborator configuration for the
// processing pipelines
type MediaConfig struct {
	CacheDir           string        `yaml:"cache_dir"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	WorkDir            string        `yaml:"work_dir"`
	YtdlpBinary        string        `yaml:"ytdlp_binary"`
	FFmpegBinary       string        `yaml:"ffmpeg_binary"`
	DownloadTimeout    time.Duration `yaml:"download_timeout"`
	TranscriberURL     string        `yaml:"transcriber_url"`
	TranscriberTimeout time.Duration `yaml:"transcriber_timeout"`
	DocumentsURL       string        `yaml:"documents_url"`
	ObjectStoreDir     string        `yaml:"object_store_dir"`
	PublicBaseURL      string        `yaml:"public_base_url"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the fields the api-service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	return nil
}

// ValidateWorkerConfig checks the fields the worker-service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch_size must be greater than 0")
	}

	if c.Worker.VisibilitySeconds <= 0 {
		return fmt.Errorf("worker visibility_seconds must be greater than 0")
	}

	if c.Worker.MaxRetries <= 0 {
		return fmt.Errorf("worker max_retries must be greater than 0")
	}

	if c.Worker.IdleSleepSeconds <= 0 {
		return fmt.Errorf("worker idle_sleep_seconds must be greater than 0")
	}

	if c.Worker.StalenessThresholdSeconds <= c.Worker.VisibilitySeconds {
		return fmt.Errorf("worker staleness_threshold_seconds (%d) must exceed visibility_seconds (%d)",
			c.Worker.StalenessThresholdSeconds, c.Worker.VisibilitySeconds)
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Media.CacheDir == "" {
		return fmt.Errorf("media cache_dir is required")
	}

	if c.Media.TranscriberURL == "" {
		return fmt.Errorf("media transcriber_url is required")
	}

	if c.Media.DocumentsURL == "" {
		return fmt.Errorf("media documents_url is required")
	}

	if c.Media.ObjectStoreDir == "" {
		return fmt.Errorf("media object_store_dir is required")
	}

	return nil
}

// validateShared covers fields both services require
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	switch c.Queue.Driver {
	case "pgmq":
		if c.Queue.Name == "" {
			return fmt.Errorf("queue name is required for the pgmq driver")
		}
	case "sqs":
		if c.Queue.SQS.Region == "" {
			return fmt.Errorf("queue sqs region is required")
		}
		if c.Queue.SQS.QueueURL == "" {
			return fmt.Errorf("queue sqs queue_url is required")
		}
		if c.Queue.SQS.DeadLetterURL == "" {
			return fmt.Errorf("queue sqs dead_letter_url is required")
		}
	default:
		return fmt.Errorf("unknown queue driver: %q (expected pgmq or sqs)", c.Queue.Driver)
	}

	if c.RabbitMQ.Host != "" {
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}
