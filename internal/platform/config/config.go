package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Database   DatabaseConfig            `mapstructure:"database"`
	JWT        JWTConfig                 `mapstructure:"jwt"`
	RateLimit  RateLimitConfig           `mapstructure:"rate_limit"`
	Logging    LoggingConfig             `mapstructure:"logging"`
	Publishing PublishingConfig          `mapstructure:"publishing"`
	Webhooks   WebhooksConfig            `mapstructure:"webhooks"`
	Platforms  map[string]PlatformConfig `mapstructure:"platforms"`
	Assets     AssetsConfig              `mapstructure:"assets"`
	Alerts     AlertsConfig              `mapstructure:"alerts"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Global GlobalDBConfig `mapstructure:"global"`
	Tenant TenantDBConfig `mapstructure:"tenant"`
}

type GlobalDBConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type TenantDBConfig struct {
	BasePath             string `mapstructure:"base_path"`
	MaxConnectionsPerOrg int    `mapstructure:"max_connections_per_org"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	APIReadPerMinute  int `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int `mapstructure:"api_write_per_minute"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// PublishingConfig drives the publish job queue.
type PublishingConfig struct {
	WorkerCount     int           `mapstructure:"worker_count"`
	BatchSize       int           `mapstructure:"batch_size"`
	PollSchedule    string        `mapstructure:"poll_schedule"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	AdapterTimeout  time.Duration `mapstructure:"adapter_timeout"`
	LeaseTimeout    time.Duration `mapstructure:"lease_timeout"`
	ReapSchedule    string        `mapstructure:"reap_schedule"`
	MetricsSchedule string        `mapstructure:"metrics_schedule"`
}

type WebhooksConfig struct {
	WorkerCount      int           `mapstructure:"worker_count"`
	BatchSize        int           `mapstructure:"batch_size"`
	DispatchSchedule string        `mapstructure:"dispatch_schedule"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	LeaseTimeout     time.Duration `mapstructure:"lease_timeout"`
	Cache            CacheConfig   `mapstructure:"cache"`
}

type CacheConfig struct {
	Backend  string        `mapstructure:"backend"` // memory, redis
	TTL      time.Duration `mapstructure:"ttl"`
	RedisURL string        `mapstructure:"redis_url"`
}

// PlatformConfig selects the adapter implementation for one platform id.
type PlatformConfig struct {
	Adapter       string `mapstructure:"adapter"` // http, discord, manual
	Endpoint      string `mapstructure:"endpoint"`
	Token         string `mapstructure:"token"`
	ChannelID     string `mapstructure:"channel_id"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

type AssetsConfig struct {
	Backend      string        `mapstructure:"backend"` // static, s3
	BaseURL      string        `mapstructure:"base_url"`
	Bucket       string        `mapstructure:"bucket"`
	Prefix       string        `mapstructure:"prefix"`
	Region       string        `mapstructure:"region"`
	Endpoint     string        `mapstructure:"endpoint"`
	UsePathStyle bool          `mapstructure:"use_path_style"`
	PresignTTL   time.Duration `mapstructure:"presign_ttl"`
}

type AlertsConfig struct {
	Provider   string     `mapstructure:"provider"` // log, smtp
	Recipients []string   `mapstructure:"recipients"`
	SMTP       SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.global.max_connections", 10)
	v.SetDefault("database.tenant.base_path", "data/tenants")
	v.SetDefault("database.tenant.max_connections_per_org", 4)

	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)

	v.SetDefault("rate_limit.api_read_per_minute", 1000)
	v.SetDefault("rate_limit.api_write_per_minute", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("publishing.worker_count", 4)
	v.SetDefault("publishing.batch_size", 20)
	v.SetDefault("publishing.poll_schedule", "@every 5s")
	v.SetDefault("publishing.max_attempts", 5)
	v.SetDefault("publishing.backoff_base", 30*time.Second)
	v.SetDefault("publishing.backoff_max", 30*time.Minute)
	v.SetDefault("publishing.adapter_timeout", 30*time.Second)
	v.SetDefault("publishing.lease_timeout", 10*time.Minute)
	v.SetDefault("publishing.reap_schedule", "@every 1m")
	v.SetDefault("publishing.metrics_schedule", "@hourly")

	v.SetDefault("webhooks.worker_count", 4)
	v.SetDefault("webhooks.batch_size", 50)
	v.SetDefault("webhooks.dispatch_schedule", "@every 5s")
	v.SetDefault("webhooks.max_attempts", 8)
	v.SetDefault("webhooks.backoff_base", 15*time.Second)
	v.SetDefault("webhooks.backoff_max", time.Hour)
	v.SetDefault("webhooks.request_timeout", 10*time.Second)
	v.SetDefault("webhooks.lease_timeout", 5*time.Minute)
	v.SetDefault("webhooks.cache.backend", "memory")
	v.SetDefault("webhooks.cache.ttl", 30*time.Second)

	v.SetDefault("assets.backend", "static")
	v.SetDefault("assets.presign_ttl", time.Hour)

	v.SetDefault("alerts.provider", "log")
}

// Load reads the YAML file at path, letting environment variables override any key
// (webhooks.max_attempts -> WEBHOOKS_MAX_ATTEMPTS). A .env file is loaded first when present.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.JWT.Secret == "" {
		return nil, errors.New("jwt.secret is required")
	}
	if config.Publishing.MaxAttempts < 1 {
		return nil, errors.New("publishing.max_attempts must be at least 1")
	}
	if config.Webhooks.MaxAttempts < 1 {
		return nil, errors.New("webhooks.max_attempts must be at least 1")
	}

	return &config, nil
}
