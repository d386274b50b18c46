// Package config provides centralized configuration management for the EFT pipeline.
// Configuration is layered: built-in defaults, then an optional JSON file, then
// environment variables, followed by a validation pass over the merged result.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" env:"APP_NAME"`
	Version    string `json:"version" env:"VERSION"`
	ConfigPath string `json:"-" env:"CONFIG_PATH"`

	Pipeline      ProcessingConfig    `json:"pipeline"`
	Storage       StorageConfig       `json:"storage"`
	Server        ServerConfig        `json:"server"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling"`
}

// StorageConfig configures where run results are persisted
type StorageConfig struct {
	Type         string `json:"type" env:"STORAGE_TYPE"`                   // "duckdb", "sqlite", "memory", "file"
	DatabaseURL  string `json:"database_url" env:"DATABASE_URL"`           // Database path or DSN
	OutputDir    string `json:"output_dir" env:"STORAGE_OUTPUT_DIR"`       // Directory for the file sink
	QueryTimeout string `json:"query_timeout" env:"STORAGE_QUERY_TIMEOUT"` // Per-write timeout
}

// ServerConfig configures the HTTP submission API
type ServerConfig struct {
	Port              int     `json:"port" env:"SERVER_PORT"`
	ReadTimeout       string  `json:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout      string  `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	RequestsPerSecond float64 `json:"requests_per_second" env:"SERVER_REQUESTS_PER_SECOND"`
	Burst             int     `json:"burst" env:"SERVER_BURST"`
	MaxBodyBytes      int64   `json:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format        string            `json:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output        string            `json:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path
	MaxSize       int               `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge        int               `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum log file age in days
	Compress      bool              `json:"compress" env:"LOG_COMPRESS"`       // Compress old log files
	ContextFields map[string]string `json:"context_fields"`                    // Additional context fields
}

// MetricsConfig configures the in-process metrics collector
type MetricsConfig struct {
	Enabled     bool `json:"enabled" env:"METRICS_ENABLED"`
	HistorySize int  `json:"history_size" env:"METRICS_HISTORY_SIZE"` // Samples kept per metric
}

// ErrorHandlingConfig configures retry behavior for storage writes
type ErrorHandlingConfig struct {
	GlobalRetryPolicy RetryPolicyConfig            `json:"global_retry_policy"`
	ComponentPolicies map[string]RetryPolicyConfig `json:"component_policies"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int    `json:"max_attempts"`     // Maximum retry attempts
	InitialDelay    string `json:"initial_delay"`    // Initial delay between retries
	MaxDelay        string `json:"max_delay"`        // Maximum delay between retries
	BackoffStrategy string `json:"backoff_strategy"` // Backoff strategy: fixed, exponential, linear
	Jitter          bool   `json:"jitter"`           // Add randomness to delays
}

// PolicyFor returns the retry policy for a component, falling back to the global one.
func (c ErrorHandlingConfig) PolicyFor(component string) RetryPolicyConfig {
	if p, ok := c.ComponentPolicies[component]; ok {
		return p
	}
	return c.GlobalRetryPolicy
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	config.ConfigPath = cm.configPath
	cm.config = config
	cm.logger.InfoContext(ctx, "configuration loaded successfully",
		"config_path", cm.configPath,
		"storage_type", config.Storage.Type,
		"anomaly_threshold_std", config.Pipeline.AnomalyThresholdStd,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv overlays environment variables. Unparseable numeric values are
// ignored and the previous value is kept.
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("VERSION"); val != "" {
		config.Version = val
	}

	// Pipeline thresholds
	p := &config.Pipeline
	envFloat("PIPELINE_MAX_TRANSACTION_AMOUNT", &p.MaxTransactionAmount)
	envFloat("PIPELINE_MIN_TRANSACTION_AMOUNT", &p.MinTransactionAmount)
	envFloat("PIPELINE_ANOMALY_THRESHOLD_STD", &p.AnomalyThresholdStd)
	if val := os.Getenv("PIPELINE_CURRENCY_PRECISION"); val != "" {
		if precision, err := strconv.ParseInt(val, 10, 32); err == nil {
			p.CurrencyPrecision = int32(precision)
		}
	}
	envBool("PIPELINE_REMOVE_DUPLICATES", &p.RemoveDuplicates)
	envBool("PIPELINE_HANDLE_OUTLIERS", &p.HandleOutliers)
	envList("PIPELINE_REQUIRED_COLUMNS", &p.RequiredColumns)
	envList("PIPELINE_DUPLICATE_KEY_COLUMNS", &p.DuplicateKeyColumns)
	envList("PIPELINE_DATE_FORMATS", &p.DateFormats)
	envInt("PIPELINE_AGGREGATION_WORKERS", &p.AggregationWorkers)

	// Storage
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		config.Storage.Type = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Storage.DatabaseURL = val
	}
	if val := os.Getenv("STORAGE_OUTPUT_DIR"); val != "" {
		config.Storage.OutputDir = val
	}
	if val := os.Getenv("STORAGE_QUERY_TIMEOUT"); val != "" {
		config.Storage.QueryTimeout = val
	}

	// Server
	envInt("SERVER_PORT", &config.Server.Port)
	envFloat("SERVER_REQUESTS_PER_SECOND", &config.Server.RequestsPerSecond)
	envInt("SERVER_BURST", &config.Server.Burst)
	if val := os.Getenv("SERVER_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Server.MaxBodyBytes = n
		}
	}

	// Logging
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	// Metrics
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envInt("METRICS_HISTORY_SIZE", &config.Metrics.HistorySize)

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	if err := config.Pipeline.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	validStorage := map[string]bool{"duckdb": true, "sqlite": true, "memory": true, "file": true}
	if !validStorage[config.Storage.Type] {
		errors = append(errors, "storage.type must be one of: duckdb, sqlite, memory, file")
	}
	if (config.Storage.Type == "duckdb" || config.Storage.Type == "sqlite") && config.Storage.DatabaseURL == "" {
		errors = append(errors, "storage.database_url is required for database storage")
	}
	if config.Storage.Type == "file" && config.Storage.OutputDir == "" {
		errors = append(errors, "storage.output_dir is required for file storage")
	}
	if config.Storage.QueryTimeout != "" {
		if _, err := time.ParseDuration(config.Storage.QueryTimeout); err != nil {
			errors = append(errors, fmt.Sprintf("storage.query_timeout is not a valid duration: %v", err))
		}
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if config.Server.RequestsPerSecond <= 0 {
		errors = append(errors, "server.requests_per_second must be greater than 0")
	}
	if config.Server.Burst <= 0 {
		errors = append(errors, "server.burst must be greater than 0")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if config.ErrorHandling.GlobalRetryPolicy.MaxAttempts < 0 {
		errors = append(errors, "error_handling.global_retry_policy.max_attempts must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig saves the current configuration to the config file
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.InfoContext(ctx, "configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName:  "eft-pipeline",
		Version:  "1.0.0",
		Pipeline: DefaultProcessingConfig(),
		Storage: StorageConfig{
			Type:         "duckdb",
			DatabaseURL:  "./data/eft.duckdb",
			OutputDir:    "./output",
			QueryTimeout: "30s",
		},
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       "30s",
			WriteTimeout:      "60s",
			RequestsPerSecond: 5,
			Burst:             10,
			MaxBodyBytes:      64 << 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "eft-pipeline",
				"version": "1.0.0",
			},
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			HistorySize: 100,
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "200ms",
				MaxDelay:        "5s",
				BackoffStrategy: "exponential",
				Jitter:          true,
			},
			ComponentPolicies: make(map[string]RetryPolicyConfig),
		},
	}
}

// String returns an indented JSON rendering of the configuration with the DSN redacted
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Storage.DatabaseURL != "" && strings.Contains(sanitized.Storage.DatabaseURL, "@") {
		sanitized.Storage.DatabaseURL = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
