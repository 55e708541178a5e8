package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port           int           `yaml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"SERVER_REQUEST_TIMEOUT"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" envconfig:"SERVER_MAX_HEADER_BYTES"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     int    `yaml:"port" envconfig:"DB_PORT"`
	User     string `yaml:"user" envconfig:"DB_USER"`
	Password string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name     string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
}

type RedisConfig struct {
	URL string `yaml:"url" envconfig:"REDIS_URL"`
}

type JWTConfig struct {
	Secret     string        `yaml:"secret" envconfig:"JWT_SECRET"`
	RegularTTL time.Duration `yaml:"regular_ttl" envconfig:"JWT_REGULAR_TTL"`
}

type OTPConfig struct {
	CodeLength  int           `yaml:"code_length" envconfig:"OTP_CODE_LENGTH"`
	CodeTTL     time.Duration `yaml:"code_ttl" envconfig:"OTP_CODE_TTL"`
	MaxAttempts int           `yaml:"max_attempts" envconfig:"OTP_MAX_ATTEMPTS"`
	RateLimit   int64         `yaml:"rate_limit" envconfig:"OTP_RATE_LIMIT"`
	RateWindow  time.Duration `yaml:"rate_window" envconfig:"OTP_RATE_WINDOW"`
	BcryptCost  int           `yaml:"bcrypt_cost" envconfig:"OTP_BCRYPT_COST"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl" envconfig:"SESSION_TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SESSION_SWEEP_INTERVAL"`
}

type AuditConfig struct {
	Retention     time.Duration `yaml:"retention" envconfig:"AUDIT_RETENTION"`
	PurgeInterval time.Duration `yaml:"purge_interval" envconfig:"AUDIT_PURGE_INTERVAL"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

type EmailConfig struct {
	Host     string `yaml:"host" envconfig:"SMTP_HOST"`
	Port     int    `yaml:"port" envconfig:"SMTP_PORT"`
	Username string `yaml:"username" envconfig:"SMTP_USERNAME"`
	Password string `yaml:"password" envconfig:"SMTP_PASSWORD"`
	From     string `yaml:"from" envconfig:"SMTP_FROM"`
}

type EncryptionConfig struct {
	Key string `yaml:"key" envconfig:"ENCRYPTION_KEY"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	OTP        OTPConfig        `yaml:"otp"`
	Session    SessionConfig    `yaml:"session"`
	Audit      AuditConfig      `yaml:"audit"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Email      EmailConfig      `yaml:"email"`
	Encryption EncryptionConfig `yaml:"encryption"`
	LogLevel   string           `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// LoadConfig reads config.yml through viper, then overlays environment
// variables. Environment always wins so container deployments never need a
// file edit.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus environment cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if config.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.request_timeout", "30s")
	viper.SetDefault("server.max_header_bytes", 1<<20)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	viper.SetDefault("jwt.regular_ttl", "24h")

	viper.SetDefault("otp.code_length", 6)
	viper.SetDefault("otp.code_ttl", "5m")
	viper.SetDefault("otp.max_attempts", 3)
	viper.SetDefault("otp.rate_limit", 5)
	viper.SetDefault("otp.rate_window", "15m")
	viper.SetDefault("otp.bcrypt_cost", 10)

	viper.SetDefault("session.ttl", "15m")
	viper.SetDefault("session.sweep_interval", "1m")

	viper.SetDefault("audit.retention", "2160h") // 90 days
	viper.SetDefault("audit.purge_interval", "1h")

	viper.SetDefault("rate_limit.requests_per_second", 50)
	viper.SetDefault("rate_limit.burst", 100)

	viper.SetDefault("log_level", "info")
}

// DSN builds the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}
