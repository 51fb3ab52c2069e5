package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config describes runtime settings loaded from environment variables.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	DataFile string `env:"DATA_FILE" envDefault:"cyclecount.json"`

	DatabaseURL    string        `env:"DATABASE_URL"`
	GatewayURL     string        `env:"GATEWAY_URL"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"5s"`
	GatewayRetries int           `env:"GATEWAY_RETRIES" envDefault:"3"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	PermittedRoles      string `env:"PERMITTED_ROLES" envDefault:"admin,manager"`
	CompletionReadiness string `env:"COMPLETION_READINESS" envDefault:"all"`
	DefaultPageSize     int    `env:"DEFAULT_PAGE_SIZE" envDefault:"20"`
	MaxPageSize         int    `env:"MAX_PAGE_SIZE" envDefault:"100"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"text"`
	FluentEnabled bool   `env:"FLUENT_ENABLED" envDefault:"false"`
	FluentHost    string `env:"FLUENT_HOST"`
	FluentPort    int    `env:"FLUENT_PORT" envDefault:"24224"`

	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"cycle_count_events"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
}

// Load reads an optional .env file (ENV_FILE overrides the name) and then
// configuration from environment variables, applying defaults when necessary.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Port:                "8080",
		DataFile:            "cyclecount.json",
		GatewayTimeout:      5 * time.Second,
		GatewayRetries:      3,
		RateLimitRPS:        10,
		RateLimitBurst:      20,
		PermittedRoles:      "admin,manager",
		CompletionReadiness: "all",
		DefaultPageSize:     20,
		MaxPageSize:         100,
		LogLevel:            "info",
		LogFormat:           "text",
		FluentPort:          24224,
		RabbitMQExchange:    "cycle_count_events",
		CORSAllowedOrigins:  []string{"*"},
	}

	setString(&cfg.Port, "PORT")
	setString(&cfg.DataFile, "DATA_FILE")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.GatewayURL, "GATEWAY_URL")
	setString(&cfg.PermittedRoles, "PERMITTED_ROLES")
	setString(&cfg.CompletionReadiness, "COMPLETION_READINESS")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.FluentHost, "FLUENT_HOST")
	setString(&cfg.RabbitMQURL, "RABBITMQ_URL")
	setString(&cfg.RabbitMQExchange, "RABBITMQ_EXCHANGE")

	if timeout := os.Getenv("GATEWAY_TIMEOUT"); timeout != "" {
		dur, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("parse GATEWAY_TIMEOUT: %w", err)
		}
		cfg.GatewayTimeout = dur
	}

	for _, v := range []struct {
		key string
		dst *int
	}{
		{"GATEWAY_RETRIES", &cfg.GatewayRetries},
		{"RATE_LIMIT_BURST", &cfg.RateLimitBurst},
		{"DEFAULT_PAGE_SIZE", &cfg.DefaultPageSize},
		{"MAX_PAGE_SIZE", &cfg.MaxPageSize},
		{"FLUENT_PORT", &cfg.FluentPort},
	} {
		if raw := os.Getenv(v.key); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", v.key, err)
			}
			*v.dst = value
		}
	}

	if rps := os.Getenv("RATE_LIMIT_RPS"); rps != "" {
		value, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return nil, fmt.Errorf("parse RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = value
	}

	if enabled := os.Getenv("FLUENT_ENABLED"); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("parse FLUENT_ENABLED: %w", err)
		}
		cfg.FluentEnabled = value
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORSAllowedOrigins = splitList(origins)
	}

	if cfg.DefaultPageSize < 1 || cfg.MaxPageSize < cfg.DefaultPageSize {
		return nil, fmt.Errorf("invalid page sizes: default %d, max %d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}

	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
