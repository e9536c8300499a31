// Package config loads and validates the server configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	platformstrings "emailissuer/pkg/platform/strings"
)

// Storage backends for codes and limiter buckets.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Audit sinks.
const (
	AuditLog      = "log"
	AuditMemory   = "memory"
	AuditPostgres = "postgres"
	AuditKafka    = "kafka"
)

// Config holds the server configuration.
type Config struct {
	Addr      string `mapstructure:"ADDR"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	TimeZone  string `mapstructure:"TIME_ZONE"`

	// BaseURL is the public origin of the enrollment pages used in mailed links.
	BaseURL string `mapstructure:"BASE_URL"`
	// SessionURL is the wallet server clients start issuance sessions on.
	SessionURL string `mapstructure:"SESSION_URL"`

	CodeLength  int           `mapstructure:"CODE_LENGTH"`
	CodeTTL     time.Duration `mapstructure:"CODE_TTL"`
	VerifiedTTL time.Duration `mapstructure:"VERIFIED_TTL"`
	// AllowedTLDs is a comma-separated allow list; empty accepts every domain.
	AllowedTLDs string `mapstructure:"ALLOWED_TLDS"`

	StorageType string `mapstructure:"STORAGE_TYPE"`

	RedisURL          string        `mapstructure:"REDIS_URL"`
	RedisPoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	RedisMinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	RedisDialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	RedisReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	RedisWriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
	RedisNamespace    string        `mapstructure:"REDIS_NAMESPACE"`

	AuditSink   string `mapstructure:"AUDIT_SINK"`
	AuditBuffer int    `mapstructure:"AUDIT_BUFFER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// KafkaBrokers is a comma-separated list of broker addresses.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic string `mapstructure:"KAFKA_AUDIT_TOPIC"`

	EmailLimit  int           `mapstructure:"RATELIMIT_EMAIL"`
	IPLimit     int           `mapstructure:"RATELIMIT_IP"`
	VerifyLimit int           `mapstructure:"RATELIMIT_VERIFY"`
	LimitWindow time.Duration `mapstructure:"RATELIMIT_WINDOW"`

	ThrottleRPS      float64 `mapstructure:"THROTTLE_RPS"`
	ThrottleBurst    int     `mapstructure:"THROTTLE_BURST"`
	DisableThrottle  bool    `mapstructure:"DISABLE_THROTTLE"`
	BreakerFailures  int     `mapstructure:"BREAKER_FAILURES"`
	BreakerSuccesses int     `mapstructure:"BREAKER_SUCCESSES"`

	// SMTPHost empty selects the log mailer.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// JWTPrivateKey is the PEM-encoded RSA key or a path to it.
	JWTPrivateKey  string `mapstructure:"JWT_PRIVATE_KEY"`
	IssuerID       string `mapstructure:"ISSUER_ID"`
	CredentialType string `mapstructure:"CREDENTIAL_TYPE"`
	EmailAttribute string `mapstructure:"EMAIL_ATTRIBUTE"`
	DomainAttr     string `mapstructure:"DOMAIN_ATTRIBUTE"`
}

// RedisConfig is the connection part of Config handed to the Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	return FromViper(v)
}

// FromViper applies defaults to v, decodes and validates the result.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("TIME_ZONE", "Europe/Amsterdam")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("SESSION_URL", "http://localhost:8088")
	v.SetDefault("CODE_LENGTH", 6)
	v.SetDefault("CODE_TTL", "15m")
	v.SetDefault("VERIFIED_TTL", "1h")
	v.SetDefault("ALLOWED_TLDS", "")
	v.SetDefault("STORAGE_TYPE", StorageMemory)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")
	v.SetDefault("REDIS_NAMESPACE", "emailissuer:")
	v.SetDefault("AUDIT_SINK", AuditLog)
	v.SetDefault("AUDIT_BUFFER", 1024)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "emailissuer-audit")
	v.SetDefault("RATELIMIT_EMAIL", 3)
	v.SetDefault("RATELIMIT_IP", 10)
	v.SetDefault("RATELIMIT_VERIFY", 10)
	v.SetDefault("RATELIMIT_WINDOW", "30m")
	v.SetDefault("THROTTLE_RPS", 50.0)
	v.SetDefault("THROTTLE_BURST", 100)
	v.SetDefault("DISABLE_THROTTLE", false)
	v.SetDefault("BREAKER_FAILURES", 5)
	v.SetDefault("BREAKER_SUCCESSES", 3)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "noreply@localhost")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("ISSUER_ID", "")
	v.SetDefault("CREDENTIAL_TYPE", "")
	v.SetDefault("EMAIL_ATTRIBUTE", "email")
	v.SetDefault("DOMAIN_ATTRIBUTE", "domain")
}

// Validate checks the cross-field rules Load enforces.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: ADDR must be set")
	}
	if c.CodeLength < 4 || c.CodeLength > 16 {
		return errors.New("config: CODE_LENGTH must be between 4 and 16")
	}
	if c.CodeTTL <= 0 || c.LimitWindow <= 0 {
		return errors.New("config: CODE_TTL and RATELIMIT_WINDOW must be positive")
	}
	if c.EmailLimit <= 0 || c.IPLimit <= 0 || c.VerifyLimit <= 0 {
		return errors.New("config: rate limits must be positive")
	}
	switch c.StorageType {
	case StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when STORAGE_TYPE=redis")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_TYPE %q", c.StorageType)
	}
	switch c.AuditSink {
	case AuditLog, AuditMemory:
	case AuditPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when AUDIT_SINK=postgres")
		}
	case AuditKafka:
		if len(c.KafkaBrokerList()) == 0 {
			return errors.New("config: KAFKA_BROKERS must be set when AUDIT_SINK=kafka")
		}
	default:
		return fmt.Errorf("config: unknown AUDIT_SINK %q", c.AuditSink)
	}
	if c.JWTPrivateKey == "" || c.IssuerID == "" || c.CredentialType == "" {
		return errors.New("config: JWT_PRIVATE_KEY, ISSUER_ID and CREDENTIAL_TYPE must be set")
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("config: TIME_ZONE: %w", err)
	}
	return nil
}

// Redis returns the connection settings for the Redis client.
func (c *Config) Redis() RedisConfig {
	return RedisConfig{
		URL:          c.RedisURL,
		PoolSize:     c.RedisPoolSize,
		MinIdleConns: c.RedisMinIdleConns,
		DialTimeout:  c.RedisDialTimeout,
		ReadTimeout:  c.RedisReadTimeout,
		WriteTimeout: c.RedisWriteTimeout,
	}
}

// Location returns the zone mails render expiry times in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// KafkaBrokerList splits KafkaBrokers.
func (c *Config) KafkaBrokerList() []string {
	return platformstrings.SplitList(c.KafkaBrokers)
}

// TLDList splits AllowedTLDs, lower-cased and without leading dots.
func (c *Config) TLDList() []string {
	return platformstrings.SplitListFold(c.AllowedTLDs)
}
