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
const DefaultConfigFile = "taskloom.yaml"

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
	setString(&cfg.Server.Port, "TASKLOOM_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKLOOM_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TASKLOOM_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TASKLOOM_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TASKLOOM_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TASKLOOM_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TASKLOOM_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "TASKLOOM_LLM_MODEL")
	setString(&cfg.Logging.Level, "TASKLOOM_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKLOOM_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "TASKLOOM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKLOOM_BREAKER_TIMEOUT")
	setInt(&cfg.Runtime.MaxIterations, "TASKLOOM_MAX_ITERATIONS")
	setInt(&cfg.Runtime.MaxTokens, "TASKLOOM_MAX_TOKENS")
	setString(&cfg.Runtime.TokenEncoding, "TASKLOOM_TOKEN_ENCODING")
	setDuration(&cfg.Runtime.ResponsePoll, "TASKLOOM_RESPONSE_POLL")
	setDuration(&cfg.Runtime.ResponseTimeout, "TASKLOOM_RESPONSE_TIMEOUT")
	setString(&cfg.Runtime.DefaultProfile, "TASKLOOM_PROFILE")
	setBool(&cfg.Runtime.WorkspaceConsent, "TASKLOOM_WORKSPACE_CONSENT")
	setString(&cfg.Workspace.Root, "TASKLOOM_WORKSPACE")
	setDuration(&cfg.Workspace.WatchDebounce, "TASKLOOM_WATCH_DEBOUNCE")
	setString(&cfg.Workspace.LockFile, "TASKLOOM_LOCK_FILE")
	setInt64(&cfg.Cache.MaxCostBytes, "TASKLOOM_CACHE_BYTES")
	setBool(&cfg.Telemetry.Enabled, "TASKLOOM_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "TASKLOOM_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Runtime.MaxIterations < 1 {
		return errors.New("runtime.max_iterations must be >= 1")
	}
	if cfg.Runtime.ResponsePoll <= 0 {
		return errors.New("runtime.response_poll must be positive")
	}
	if cfg.Workspace.Root == "" {
		return errors.New("workspace.root is required")
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
