// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration. Analysis parameters are carried
// explicitly from here into the pipeline; no package-level defaults exist.
type Config struct {
	DataDir       string  // Base directory for the history database (always absolute)
	LogLevel      string  // debug, info, warn, error
	RiskFreeRate  float64 // Annual risk-free rate, e.g. 0.02 for 2%
	ReturnMethod  string  // "simple" or "log"
	LookbackDays  int     // Price history window supplied to the pipeline
	VaRConfidence float64 // Confidence level for historical VaR, e.g. 0.95
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ANALYZER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RiskFreeRate:  getEnvAsFloat("RISK_FREE_RATE", 0.0),
		ReturnMethod:  getEnv("RETURN_METHOD", "simple"),
		LookbackDays:  getEnvAsInt("LOOKBACK_DAYS", 252),
		VaRConfidence: getEnvAsFloat("VAR_CONFIDENCE", 0.95),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants before the pipeline runs.
func (c *Config) Validate() error {
	if c.ReturnMethod != "simple" && c.ReturnMethod != "log" {
		return fmt.Errorf("invalid RETURN_METHOD %q: must be 'simple' or 'log'", c.ReturnMethod)
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("invalid LOOKBACK_DAYS %d: must be positive", c.LookbackDays)
	}
	if c.VaRConfidence <= 0 || c.VaRConfidence >= 1 {
		return fmt.Errorf("invalid VAR_CONFIDENCE %v: must be in (0, 1)", c.VaRConfidence)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
