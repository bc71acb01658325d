// Package config provides centralized configuration for the
// reconciliation engine.
//
// Configuration is resolved in three layers:
//  1. Documented defaults
//  2. YAML file (CONFIG_FILE env var, falling back to ./config.yaml)
//  3. Environment variable overrides
//
// Every recognized option has a documented default; nothing falls back
// silently to an undocumented value.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"ledger-reconciliation-backend/internal/models"
)

// Config represents the entire application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Matching MatchingConfig `yaml:"matching"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MatchingConfig holds the tunables of the scorer and matcher.
type MatchingConfig struct {
	// ConfidenceThreshold separates matched from review pairings, 0-100.
	ConfidenceThreshold int `yaml:"confidence_threshold"`
	// AmountTolerancePercent is the relative amount difference beyond
	// which a pair is gated to zero, as a percentage (1.0 = 1%).
	AmountTolerancePercent float64 `yaml:"amount_tolerance_percent"`
	// DateWindowDays is the day difference beyond which the date signal
	// is zero.
	DateWindowDays int `yaml:"date_window_days"`
	Weights        Weights `yaml:"weights"`
}

// Weights are the relative importance of the scoring signals. They must
// sum to 1.
type Weights struct {
	Amount      float64 `yaml:"amount"`
	Date        float64 `yaml:"date"`
	Description float64 `yaml:"description"`
}

// Default returns the documented baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			AllowOrigins: []string{"http://localhost:3000"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Matching: DefaultMatching(),
	}
}

// DefaultMatching returns the baseline matching tunables: threshold 70,
// 1% amount tolerance, 5 day date window, weights 0.60/0.30/0.10.
func DefaultMatching() MatchingConfig {
	return MatchingConfig{
		ConfidenceThreshold:    70,
		AmountTolerancePercent: 1.0,
		DateWindowDays:         5,
		Weights: Weights{
			Amount:      0.60,
			Date:        0.30,
			Description: 0.10,
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and
// environment overrides, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.Getenv("CONFIG_FILE") != "" {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.ConfidenceThreshold = n
		}
	}
	if v := os.Getenv("AMOUNT_TOLERANCE_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.AmountTolerancePercent = f
		}
	}
	if v := os.Getenv("DATE_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.DateWindowDays = n
		}
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	return c.Matching.Validate()
}

// Validate checks the matching tunables against their documented ranges.
func (mc *MatchingConfig) Validate() error {
	if mc.ConfidenceThreshold < 0 || mc.ConfidenceThreshold > 100 {
		return &models.ConfigurationError{
			Field:  "confidence_threshold",
			Reason: fmt.Sprintf("must be between 0 and 100, got %d", mc.ConfidenceThreshold),
		}
	}
	if mc.AmountTolerancePercent < 0 || mc.AmountTolerancePercent > 100 {
		return &models.ConfigurationError{
			Field:  "amount_tolerance_percent",
			Reason: fmt.Sprintf("must be between 0 and 100, got %g", mc.AmountTolerancePercent),
		}
	}
	if mc.DateWindowDays < 0 {
		return &models.ConfigurationError{
			Field:  "date_window_days",
			Reason: fmt.Sprintf("cannot be negative, got %d", mc.DateWindowDays),
		}
	}
	w := mc.Weights
	for name, v := range map[string]float64{
		"weights.amount":      w.Amount,
		"weights.date":        w.Date,
		"weights.description": w.Description,
	} {
		if v < 0 || v > 1 {
			return &models.ConfigurationError{
				Field:  name,
				Reason: fmt.Sprintf("must be between 0 and 1, got %g", v),
			}
		}
	}
	if sum := w.Amount + w.Date + w.Description; math.Abs(sum-1.0) > 1e-9 {
		return &models.ConfigurationError{
			Field:  "weights",
			Reason: fmt.Sprintf("must sum to 1, got %g", sum),
		}
	}
	return nil
}

// Clone returns a copy so a run can own its tunables independently of
// later configuration changes.
func (mc *MatchingConfig) Clone() MatchingConfig {
	return *mc
}
