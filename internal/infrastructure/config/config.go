package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Exchange  ExchangeConfig
	Worker    WorkerConfig
	Reaper    ReaperConfig
	Lock      LockConfig
	Storage   StorageConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Path            string // sqlite file path or :memory:
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int    // in minutes
	ConnMaxIdleTime int    // in minutes
}

// RedisConfig holds Redis connection settings. An empty host disables Redis
// and the in-memory lock and session store are used instead.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	MaxHeaderBytes     int
	MaxBodySize        int64
	AuthRateLimit      float64       // checkauth requests per second per client IP
	AuthRateLimitBurst int
	APIRateLimit       float64       // operator API requests per second per client IP, 0 disables
	APIRateLimitBurst  int
	TrustedProxies     []string
}

// ExchangeConfig holds 1C exchange protocol settings
type ExchangeConfig struct {
	Root           string        // root of the staging/import/logs tree
	FileLimit      int64         // file_limit announced in mode=init, bytes
	ZipEnabled     bool          // announced as zip=yes|no
	CookieName     string        // name of the exchange session cookie
	SessionTTL     time.Duration // lifetime of an exchange server session
	ChunkSize      int           // records per database transaction
	MaxXMLFileSize int64         // parser ceiling per XML file, bytes
	EmailSalt      string        // salt for counterparty ids derived from email
	ExportPageSize int           // orders per page in mode=query
}

// WorkerConfig holds the async import worker pool settings
type WorkerConfig struct {
	Concurrency    int
	QueueSize      int
	JobTimeout     time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// ReaperConfig holds stale session reaper settings
type ReaperConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
}

// LockConfig holds import lock settings
type LockConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

// StorageConfig holds image object storage settings
type StorageConfig struct {
	Driver          string // local or s3
	LocalPath       string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicURL       string
}

// KafkaConfig holds notification publisher settings. No brokers means log-only.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ClientID      string
	RetryMax      int
	FlushInterval time.Duration
}

// Enabled reports whether Kafka is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool          // Whether to enable OpenTelemetry
	CollectorEndpoint string        // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64       // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	DBTraceEnabled    bool
}

// Load loads configuration from .env, TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with EXCHANGE_ prefix (e.g., EXCHANGE_DATABASE_PASSWORD)
// 2. .env in the working directory (never overrides variables already set)
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:        v.GetDuration("http.read_timeout"),
			WriteTimeout:       v.GetDuration("http.write_timeout"),
			IdleTimeout:        v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:     v.GetInt("http.max_header_bytes"),
			MaxBodySize:        v.GetInt64("http.max_body_size"),
			AuthRateLimit:      v.GetFloat64("http.auth_rate_limit"),
			AuthRateLimitBurst: v.GetInt("http.auth_rate_limit_burst"),
			APIRateLimit:       v.GetFloat64("http.api_rate_limit"),
			APIRateLimitBurst:  v.GetInt("http.api_rate_limit_burst"),
			TrustedProxies:     v.GetStringSlice("http.trusted_proxies"),
		},
		Exchange: ExchangeConfig{
			Root:           v.GetString("exchange.root"),
			FileLimit:      v.GetInt64("exchange.file_limit"),
			ZipEnabled:     v.GetBool("exchange.zip_enabled"),
			CookieName:     v.GetString("exchange.cookie_name"),
			SessionTTL:     v.GetDuration("exchange.session_ttl"),
			ChunkSize:      v.GetInt("exchange.chunk_size"),
			MaxXMLFileSize: v.GetInt64("exchange.max_xml_file_size"),
			EmailSalt:      v.GetString("exchange.email_salt"),
			ExportPageSize: v.GetInt("exchange.export_page_size"),
		},
		Worker: WorkerConfig{
			Concurrency:    v.GetInt("worker.concurrency"),
			QueueSize:      v.GetInt("worker.queue_size"),
			JobTimeout:     v.GetDuration("worker.job_timeout"),
			RetryAttempts:  v.GetInt("worker.retry_attempts"),
			RetryBaseDelay: v.GetDuration("worker.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("worker.retry_max_delay"),
		},
		Reaper: ReaperConfig{
			Enabled:    !v.IsSet("reaper.enabled") || v.GetBool("reaper.enabled"),
			Interval:   v.GetDuration("reaper.interval"),
			StaleAfter: v.GetDuration("reaper.stale_after"),
		},
		Lock: LockConfig{
			TTL:       v.GetDuration("lock.ttl"),
			KeyPrefix: v.GetString("lock.key_prefix"),
		},
		Storage: StorageConfig{
			Driver:          v.GetString("storage.driver"),
			LocalPath:       v.GetString("storage.local_path"),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			PublicURL:       v.GetString("storage.public_url"),
		},
		Kafka: KafkaConfig{
			Brokers:       v.GetStringSlice("kafka.brokers"),
			Topic:         v.GetString("kafka.topic"),
			ClientID:      v.GetString("kafka.client_id"),
			RetryMax:      v.GetInt("kafka.retry_max"),
			FlushInterval: v.GetDuration("kafka.flush_interval"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "exchange-1c"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "exchange.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "shop"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 5 * time.Minute // 1C uploads large files
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 5 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB, non-exchange endpoints
	}
	if cfg.HTTP.AuthRateLimit == 0 {
		cfg.HTTP.AuthRateLimit = 1
	}
	if cfg.HTTP.AuthRateLimitBurst == 0 {
		cfg.HTTP.AuthRateLimitBurst = 5
	}
	if cfg.HTTP.APIRateLimitBurst == 0 {
		cfg.HTTP.APIRateLimitBurst = 20
	}
	if cfg.Exchange.Root == "" {
		cfg.Exchange.Root = "./var/1c_exchange"
	}
	if cfg.Exchange.FileLimit == 0 {
		cfg.Exchange.FileLimit = 100 << 20 // 100MB
	}
	if cfg.Exchange.CookieName == "" {
		cfg.Exchange.CookieName = "exchange_sessid"
	}
	if cfg.Exchange.SessionTTL == 0 {
		cfg.Exchange.SessionTTL = 24 * time.Hour
	}
	if cfg.Exchange.ChunkSize == 0 {
		cfg.Exchange.ChunkSize = 500
	}
	if cfg.Exchange.MaxXMLFileSize == 0 {
		cfg.Exchange.MaxXMLFileSize = 512 << 20 // 512MB
	}
	if cfg.Exchange.ExportPageSize == 0 {
		cfg.Exchange.ExportPageSize = 200
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 2
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 100
	}
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = 90 * time.Minute
	}
	if cfg.Worker.RetryAttempts == 0 {
		cfg.Worker.RetryAttempts = 3
	}
	if cfg.Worker.RetryBaseDelay == 0 {
		cfg.Worker.RetryBaseDelay = 30 * time.Second
	}
	if cfg.Worker.RetryMaxDelay == 0 {
		cfg.Worker.RetryMaxDelay = 30 * time.Minute
	}
	if cfg.Reaper.Interval == 0 {
		cfg.Reaper.Interval = 10 * time.Minute
	}
	if cfg.Reaper.StaleAfter == 0 {
		cfg.Reaper.StaleAfter = 2 * time.Hour
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 2 * time.Hour
	}
	if cfg.Lock.KeyPrefix == "" {
		cfg.Lock.KeyPrefix = "exchange:import_lock:"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./var/media"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "exchange.events"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "exchange-1c"
	}
	if cfg.Kafka.RetryMax == 0 {
		cfg.Kafka.RetryMax = 5
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "exchange-1c"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Exchange.ChunkSize <= 0 {
		return fmt.Errorf("exchange.chunk_size must be positive")
	}
	if c.Exchange.FileLimit <= 0 {
		return fmt.Errorf("exchange.file_limit must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.RetryAttempts < 1 {
		return fmt.Errorf("worker.retry_attempts must be at least 1")
	}
	// The lock must outlive a job, otherwise a second worker could start the same import type
	if c.Lock.TTL < c.Worker.JobTimeout {
		return fmt.Errorf("lock.ttl (%s) must not be shorter than worker.job_timeout (%s)", c.Lock.TTL, c.Worker.JobTimeout)
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver must be local or s3, got %q", c.Storage.Driver)
	}

	if c.App.Env == "production" {
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver must be postgres in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Exchange.EmailSalt == "" {
			return fmt.Errorf("exchange.email_salt is required in production")
		}
		if !c.Redis.Enabled() {
			return fmt.Errorf("redis.host is required in production (import locks must be shared between processes)")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
