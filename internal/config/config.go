// Package config loads C13's bootstrap configuration: a JSON file plus
// environment variable overrides, generalizing the env-wins pattern from
// services/jax-api/internal/config/jax_core_config.go (DATABASE_URL /
// JAX_KNOWLEDGE_DSN) to every setting SPEC_FULL.md §6.5 names.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ConfigError is fatal: the process should exit with code 2 (§6.5).
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Config is the single struct every bootstrap component is built from.
type Config struct {
	HTTPPort int `json:"httpPort"`

	DBHost     string `json:"dbHost"`
	DBPort     int    `json:"dbPort"`
	DBName     string `json:"dbName"`
	DBUser     string `json:"dbUser"`
	DBPassword string `json:"dbPassword"`
	DBSSLMode  string `json:"dbSslMode"`
	DatabaseURL string `json:"databaseUrl"`

	LLMAPIKey      string  `json:"llmApiKey"`
	LLMModel       string  `json:"llmModel"`
	LLMTemperature float64 `json:"llmTemperature"`

	BrokerAPIKey    string `json:"brokerApiKey"`
	BrokerSecret    string `json:"brokerSecret"`
	BrokerPaper     bool   `json:"brokerPaper"`
	PolygonAPIKey   string `json:"polygonApiKey"`

	// RedisURL backs both C6's quote cache and C1's cross-instance policy
	// snapshot cache (§11).
	RedisURL string `json:"redisUrl"`

	PolicyPath             string `json:"policyPath"`
	PolicyWatchIntervalSec int    `json:"policyWatchIntervalSec"`
	MaxPositionSize        float64 `json:"maxPositionSize"`

	PoolSize    int           `json:"poolSize"`
	MaxOverflow int           `json:"maxOverflow"`
	PoolTimeout time.Duration `json:"poolTimeout"`
	PoolRecycle time.Duration `json:"poolRecycle"`

	JWTSecret          string `json:"jwtSecret"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
}

// DefaultConfig fills in the settings this core has always shipped with
// when a file or env var leaves them unset.
func DefaultConfig() Config {
	return Config{
		HTTPPort:               8080,
		DBSSLMode:              "require",
		LLMModel:               "gpt-4o",
		LLMTemperature:         0.3,
		BrokerPaper:            true,
		RedisURL:               "localhost:6379",
		PolicyPath:             "config/policy.json",
		PolicyWatchIntervalSec: 300,
		MaxPositionSize:        0.5,
		PoolSize:               5,
		MaxOverflow:            10,
		PoolTimeout:            30 * time.Second,
		PoolRecycle:            5 * time.Minute,
		RateLimitPerMinute:     60,
	}
}

// Load reads path (if non-empty and present) as a JSON document, applies
// environment variable overrides (env always wins — §6.5), and validates
// the result. A missing file is not an error: Load falls through to
// DefaultConfig plus env/flags, since every production deployment is
// expected to configure itself through the environment in a container.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			decoder := json.NewDecoder(bytes.NewReader(raw))
			if err := decoder.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	strVar(&cfg.DatabaseURL, "DATABASE_URL")
	strVar(&cfg.DBHost, "DB_HOST")
	intVar(&cfg.DBPort, "DB_PORT")
	strVar(&cfg.DBName, "DB_NAME")
	strVar(&cfg.DBUser, "DB_USER")
	strVar(&cfg.DBPassword, "DB_PASSWORD")
	strVar(&cfg.DBSSLMode, "DB_SSLMODE")

	strVar(&cfg.LLMAPIKey, "LLM_API_KEY")
	strVar(&cfg.LLMModel, "LLM_MODEL")
	floatVar(&cfg.LLMTemperature, "LLM_TEMPERATURE")

	strVar(&cfg.BrokerAPIKey, "BROKER_API_KEY")
	strVar(&cfg.BrokerSecret, "BROKER_SECRET")
	boolVar(&cfg.BrokerPaper, "BROKER_PAPER")
	strVar(&cfg.PolygonAPIKey, "POLYGON_API_KEY")
	strVar(&cfg.RedisURL, "REDIS_URL")

	strVar(&cfg.PolicyPath, "POLICY_PATH")
	intVar(&cfg.PolicyWatchIntervalSec, "POLICY_WATCH_INTERVAL_SEC")
	floatVar(&cfg.MaxPositionSize, "MAX_POSITION_SIZE")

	intVar(&cfg.PoolSize, "POOL_SIZE")
	intVar(&cfg.MaxOverflow, "MAX_OVERFLOW")
	durationVar(&cfg.PoolTimeout, "POOL_TIMEOUT")
	durationVar(&cfg.PoolRecycle, "POOL_RECYCLE")

	strVar(&cfg.JWTSecret, "JWT_SECRET")
	intVar(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")
}

func strVar(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intVar(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVar(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolVar(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func durationVar(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// validate enforces §4.13/§6.5: a missing LLM key is a fatal ConfigError.
// Missing broker keys are deliberately NOT validated here — MockMode()
// handles that as an explicit, logged fallback rather than a startup
// failure.
func validate(cfg *Config) error {
	if cfg.LLMAPIKey == "" {
		return &ConfigError{Field: "llm_api_key", Msg: "required, set llmApiKey or LLM_API_KEY"}
	}
	if cfg.JWTSecret == "" {
		return &ConfigError{Field: "jwt_secret", Msg: "required, set jwtSecret or JWT_SECRET"}
	}
	return nil
}

// MockMode reports whether broker credentials are absent, matching
// broker.Config.MockMode's own check.
func (c Config) MockMode() bool {
	return c.BrokerAPIKey == "" || c.BrokerSecret == ""
}
