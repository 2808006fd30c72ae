package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// ProcessorConfig points at the external payment processor API.
type ProcessorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MonitorConfig drives the payment monitoring state machine.
type MonitorConfig struct {
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MaxRetries           int           `mapstructure:"max_retries"`
	SessionTimeout       time.Duration `mapstructure:"session_timeout"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	RateLimitBackoffBase time.Duration `mapstructure:"ratelimit_backoff_base"`
	BackoffCap           time.Duration `mapstructure:"backoff_cap"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
}

// RatesConfig drives fiat-to-crypto conversion.
type RatesConfig struct {
	TTL           time.Duration      `mapstructure:"ttl"`
	Currency      string             `mapstructure:"currency"` // fiat source currency
	MinAmount     float64            `mapstructure:"min_amount"`
	MaxAmount     float64            `mapstructure:"max_amount"`
	FallbackRates map[string]float64 `mapstructure:"fallback_rates"` // asset -> fiat per unit
	DustAmounts   map[string]float64 `mapstructure:"dust_amounts"`   // asset -> min native amount
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: LPOS_ (Lightning POS).
// Nested keys use underscore: LPOS_PROCESSOR_BASE_URL, LPOS_MONITOR_MAX_RETRIES, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("processor.base_url", "http://localhost:9735")
	v.SetDefault("processor.api_key", "")
	v.SetDefault("processor.request_timeout", "10s")
	v.SetDefault("monitor.heartbeat_interval", "4s")
	v.SetDefault("monitor.max_retries", 3)
	v.SetDefault("monitor.session_timeout", "15m")
	v.SetDefault("monitor.backoff_base", "4s")
	v.SetDefault("monitor.ratelimit_backoff_base", "15s")
	v.SetDefault("monitor.backoff_cap", "60s")
	v.SetDefault("monitor.request_timeout", "10s")
	v.SetDefault("rates.ttl", "5m")
	v.SetDefault("rates.currency", "USD")
	v.SetDefault("rates.min_amount", 0.01)
	v.SetDefault("rates.max_amount", 10000)
	v.SetDefault("rates.fallback_rates", map[string]float64{
		"bitcoin":  45000,
		"litecoin": 65,
	})
	v.SetDefault("rates.dust_amounts", map[string]float64{
		"bitcoin":  0.00000033,
		"litecoin": 0.00001,
	})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "lightning_pos")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: LPOS_MONITOR_MAX_RETRIES -> monitor.max_retries
	v.SetEnvPrefix("LPOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
