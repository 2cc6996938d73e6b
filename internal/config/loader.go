package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "terminalcore.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TERMINAL_PORT")
	setString(&cfg.Server.CORSOrigin, "TERMINAL_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TERMINAL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TERMINAL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TERMINAL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TERMINAL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TERMINAL_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.LeaseBucket, "TERMINAL_LEASE_BUCKET")
	setString(&cfg.Model.URL, "LITELLM_URL")
	setString(&cfg.Model.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Model.Name, "TERMINAL_MODEL")
	setDuration(&cfg.Model.Timeout, "TERMINAL_MODEL_TIMEOUT")
	setInt(&cfg.Generator.MaxSteps, "TERMINAL_MAX_STEPS")
	setDuration(&cfg.Generator.SessionBudget, "TERMINAL_SESSION_BUDGET")
	setInt64(&cfg.Generator.MaxConcurrent, "TERMINAL_MAX_CONCURRENT")
	setDuration(&cfg.Generator.Retention, "TERMINAL_RETENTION")
	setString(&cfg.Generator.EventBackend, "TERMINAL_EVENT_BACKEND")
	setDuration(&cfg.Tools.Timeout, "TERMINAL_TOOL_TIMEOUT")
	setString(&cfg.Tools.StakingAPI, "TERMINAL_STAKING_API")
	setString(&cfg.Logging.Level, "TERMINAL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TERMINAL_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TERMINAL_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TERMINAL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TERMINAL_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "TERMINAL_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TERMINAL_RATE_BURST")
	setInt64(&cfg.Cache.MaxSizeMB, "TERMINAL_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.HistoryTTL, "TERMINAL_CACHE_HISTORY_TTL")
	setBool(&cfg.Telemetry.Enabled, "TERMINAL_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Generator.MaxSteps < 1 {
		return errors.New("generator.max_steps must be >= 1")
	}
	if cfg.Generator.MaxConcurrent < 1 {
		return errors.New("generator.max_concurrent must be >= 1")
	}
	if cfg.Generator.SessionBudget <= 0 {
		return errors.New("generator.session_budget must be positive")
	}
	switch cfg.Generator.EventBackend {
	case "memory", "nats":
	default:
		return fmt.Errorf("generator.event_backend must be memory or nats, got %q", cfg.Generator.EventBackend)
	}
	if cfg.Generator.EventBackend == "nats" && cfg.NATS.URL == "" {
		return errors.New("nats.url is required for the nats event backend")
	}
	if cfg.Tools.Timeout <= 0 {
		return errors.New("tools.timeout must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
