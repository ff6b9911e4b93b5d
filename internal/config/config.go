// Package config loads KEMBridge configuration from environment variables
// prefixed with KEMBRIDGE_, using viper for layered defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	Signer             SignerConfig
	DB                 DBConfig
	Redis              RedisConfig
	Risk               RiskConfig
	Envelope           EnvelopeConfig
	Auth               AuthConfig
	Timeout            TimeoutConfig
	EventBus           EventBusConfig
	RateLimit          RateLimitConfig
}

// SignerConfig holds the admin rollback-signer settings.
type SignerConfig struct {
	SessionTTLSec int    `mapstructure:"session_ttl_sec"`
	KMSKeyID      string `mapstructure:"kms_key_id"`
	AWSRegion     string `mapstructure:"aws_region"`
	MaxValueLimit string `mapstructure:"max_value_limit"` // decimal string, atomic units
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RiskConfig holds scoring-engine client settings.
type RiskConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	BaseDelayMs         int           `mapstructure:"base_delay_ms"`
	LowThreshold        float64       `mapstructure:"low_threshold"`
	ManualReviewThresh  float64       `mapstructure:"manual_review_threshold"`
	AutoBlockThreshold  float64       `mapstructure:"auto_block_threshold"`
	AdminBypassAllowed  bool          `mapstructure:"admin_bypass_allowed"`
	FailClosed          bool          `mapstructure:"fail_closed"`
}

// EnvelopeConfig holds the hybrid envelope scheme parameters.
type EnvelopeConfig struct {
	SchemeVersion uint8 `mapstructure:"scheme_version"`
}

// AuthConfig holds nonce/session settings.
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	NonceTTL     time.Duration `mapstructure:"nonce_ttl"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

// TimeoutConfig holds swap-expiry and rollback-supervisor settings.
type TimeoutConfig struct {
	SwapExpiry      time.Duration `mapstructure:"swap_expiry"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxFireSkew     time.Duration `mapstructure:"max_fire_skew"`
}

// EventBusConfig holds the session-channel settings.
type EventBusConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	OutboundQueue   int           `mapstructure:"outbound_queue"`
}

// RateLimitConfig holds per-endpoint token-bucket defaults.
type RateLimitConfig struct {
	RiskRPS   float64 `mapstructure:"risk_rps"`
	RiskBurst int     `mapstructure:"risk_burst"`
	ChainRPS  float64 `mapstructure:"chain_rps"`
	ChainBurst int    `mapstructure:"chain_burst"`
}

// Load reads configuration from environment variables prefixed with
// KEMBRIDGE_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEMBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")

	v.SetDefault("signer.session_ttl_sec", 3600)
	v.SetDefault("signer.aws_region", "us-east-1")
	v.SetDefault("signer.max_value_limit", "1000000000000000000000")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "kembridge")
	v.SetDefault("db.password", "kembridge")
	v.SetDefault("db.dbname", "kembridge")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("risk.base_url", "http://localhost:4005")
	v.SetDefault("risk.timeout", 5*time.Second)
	v.SetDefault("risk.max_retries", 3)
	v.SetDefault("risk.base_delay_ms", 200)
	v.SetDefault("risk.low_threshold", 0.3)
	v.SetDefault("risk.manual_review_threshold", 0.75)
	v.SetDefault("risk.auto_block_threshold", 0.9)
	v.SetDefault("risk.admin_bypass_allowed", true)
	v.SetDefault("risk.fail_closed", true) // default to blocking swaps when risk scoring is unreachable

	v.SetDefault("envelope.scheme_version", 1)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.nonce_ttl", 5*time.Minute)
	v.SetDefault("auth.session_ttl", 24*time.Hour)

	v.SetDefault("timeout.swap_expiry", 30*time.Minute)
	v.SetDefault("timeout.poll_interval", 1*time.Second)
	v.SetDefault("timeout.max_fire_skew", 2*time.Second)

	v.SetDefault("eventbus.idle_timeout", 10*time.Minute)
	v.SetDefault("eventbus.outbound_queue", 256)

	v.SetDefault("ratelimit.risk_rps", 10.0)
	v.SetDefault("ratelimit.risk_burst", 20)
	v.SetDefault("ratelimit.chain_rps", 5.0)
	v.SetDefault("ratelimit.chain_burst", 10)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")

	cfg.Signer = SignerConfig{
		SessionTTLSec: v.GetInt("signer.session_ttl_sec"),
		KMSKeyID:      v.GetString("signer.kms_key_id"),
		AWSRegion:     v.GetString("signer.aws_region"),
		MaxValueLimit: v.GetString("signer.max_value_limit"),
	}

	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		DBName:   v.GetString("db.dbname"),
		SSLMode:  v.GetString("db.sslmode"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Risk = RiskConfig{
		BaseURL:            v.GetString("risk.base_url"),
		APIKey:             v.GetString("risk.api_key"),
		Timeout:            v.GetDuration("risk.timeout"),
		MaxRetries:         v.GetInt("risk.max_retries"),
		BaseDelayMs:        v.GetInt("risk.base_delay_ms"),
		LowThreshold:       v.GetFloat64("risk.low_threshold"),
		ManualReviewThresh: v.GetFloat64("risk.manual_review_threshold"),
		AutoBlockThreshold: v.GetFloat64("risk.auto_block_threshold"),
		AdminBypassAllowed: v.GetBool("risk.admin_bypass_allowed"),
		FailClosed:         v.GetBool("risk.fail_closed"),
	}

	cfg.Envelope = EnvelopeConfig{
		SchemeVersion: uint8(v.GetUint32("envelope.scheme_version")),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:  v.GetString("auth.jwt_secret"),
		NonceTTL:   v.GetDuration("auth.nonce_ttl"),
		SessionTTL: v.GetDuration("auth.session_ttl"),
	}

	cfg.Timeout = TimeoutConfig{
		SwapExpiry:   v.GetDuration("timeout.swap_expiry"),
		PollInterval: v.GetDuration("timeout.poll_interval"),
		MaxFireSkew:  v.GetDuration("timeout.max_fire_skew"),
	}

	cfg.EventBus = EventBusConfig{
		IdleTimeout:   v.GetDuration("eventbus.idle_timeout"),
		OutboundQueue: v.GetInt("eventbus.outbound_queue"),
	}

	cfg.RateLimit = RateLimitConfig{
		RiskRPS:    v.GetFloat64("ratelimit.risk_rps"),
		RiskBurst:  v.GetInt("ratelimit.risk_burst"),
		ChainRPS:   v.GetFloat64("ratelimit.chain_rps"),
		ChainBurst: v.GetInt("ratelimit.chain_burst"),
	}

	return cfg, nil
}
