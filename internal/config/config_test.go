package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "eft-pipeline", config.AppName)
	assert.Equal(t, "1.0.0", config.Version)
	assert.Equal(t, "duckdb", config.Storage.Type)
	assert.Equal(t, "./data/eft.duckdb", config.Storage.DatabaseURL)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "info", config.Logging.Level)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, 3, config.ErrorHandling.GlobalRetryPolicy.MaxAttempts)

	p := config.Pipeline
	assert.Equal(t, 1_000_000.0, p.MaxTransactionAmount)
	assert.Equal(t, 0.01, p.MinTransactionAmount)
	assert.Equal(t, 3.0, p.AnomalyThresholdStd)
	assert.Equal(t, int32(2), p.CurrencyPrecision)
	assert.True(t, p.RemoveDuplicates)
	assert.True(t, p.HandleOutliers)
	assert.Equal(t, []string{"transaction_id", "bank_id", "customer_id", "amount", "transaction_date"}, p.RequiredColumns)
	assert.Equal(t, []string{"bank_id", "customer_id", "amount", "transaction_date"}, p.DuplicateKeyColumns)
}

func TestProcessingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProcessingConfig)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*ProcessingConfig) {}},
		{
			name:    "empty required columns",
			mutate:  func(c *ProcessingConfig) { c.RequiredColumns = nil },
			wantErr: "required_columns must not be empty",
		},
		{
			name:    "non-positive min",
			mutate:  func(c *ProcessingConfig) { c.MinTransactionAmount = 0 },
			wantErr: "min_transaction_amount must be greater than 0",
		},
		{
			name:    "max below min",
			mutate:  func(c *ProcessingConfig) { c.MaxTransactionAmount = 0.001 },
			wantErr: "max_transaction_amount must be >= min_transaction_amount",
		},
		{
			name:    "zero threshold",
			mutate:  func(c *ProcessingConfig) { c.AnomalyThresholdStd = 0 },
			wantErr: "anomaly_threshold_std must be greater than 0",
		},
		{
			name:    "precision out of range",
			mutate:  func(c *ProcessingConfig) { c.CurrencyPrecision = 12 },
			wantErr: "currency_precision must be between 0 and 8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProcessingConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProcessingConfigClone(t *testing.T) {
	original := DefaultProcessingConfig()
	clone := original.Clone()

	clone.RequiredColumns[0] = "mutated"
	clone.DuplicateKeyColumns = append(clone.DuplicateKeyColumns, "transaction_id")

	assert.Equal(t, "transaction_id", original.RequiredColumns[0])
	assert.Len(t, original.DuplicateKeyColumns, 4)
}

func TestConfigValidation(t *testing.T) {
	cm := NewConfigManager("", slog.Default())

	t.Run("valid config passes validation", func(t *testing.T) {
		assert.NoError(t, cm.validateConfig(DefaultConfig()))
	})

	t.Run("unknown storage type fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Storage.Type = "postgresql"
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "storage.type must be one of")
	})

	t.Run("database storage requires url", func(t *testing.T) {
		config := DefaultConfig()
		config.Storage.Type = "sqlite"
		config.Storage.DatabaseURL = ""
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "storage.database_url is required")
	})

	t.Run("file storage requires output dir", func(t *testing.T) {
		config := DefaultConfig()
		config.Storage.Type = "file"
		config.Storage.OutputDir = ""
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "storage.output_dir is required")
	})

	t.Run("invalid query timeout fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Storage.QueryTimeout = "soon"
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "storage.query_timeout is not a valid duration")
	})

	t.Run("invalid server port fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Server.Port = 70000
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
	})

	t.Run("invalid log level fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Logging.Level = "invalid"
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level must be one of")
	})

	t.Run("pipeline errors are included", func(t *testing.T) {
		config := DefaultConfig()
		config.Pipeline.AnomalyThresholdStd = -1
		config.Logging.Format = "xml"
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anomaly_threshold_std")
		assert.Contains(t, err.Error(), "logging.format must be one of")
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "pipeline.json")

	raw := `{
		"app_name": "test-app",
		"pipeline": {"anomaly_threshold_std": 2.5, "max_transaction_amount": 50000},
		"storage": {"type": "memory"},
		"logging": {"level": "debug", "format": "text"}
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(raw), 0644))

	cm := NewConfigManager(configPath, slog.Default())

	t.Run("loads config from file over defaults", func(t *testing.T) {
		loaded, err := cm.LoadConfig(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "test-app", loaded.AppName)
		assert.Equal(t, 2.5, loaded.Pipeline.AnomalyThresholdStd)
		assert.Equal(t, 50000.0, loaded.Pipeline.MaxTransactionAmount)
		assert.Equal(t, 0.01, loaded.Pipeline.MinTransactionAmount)
		assert.Equal(t, "memory", loaded.Storage.Type)
		assert.Equal(t, "debug", loaded.Logging.Level)
		assert.Equal(t, configPath, loaded.ConfigPath)
		assert.Same(t, loaded, cm.GetConfig())
	})

	t.Run("handles invalid json file", func(t *testing.T) {
		invalidPath := filepath.Join(tempDir, "invalid.json")
		require.NoError(t, os.WriteFile(invalidPath, []byte("invalid json"), 0644))

		_, err := NewConfigManager(invalidPath, slog.Default()).LoadConfig(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("handles non-existent file gracefully", func(t *testing.T) {
		missing := filepath.Join(tempDir, "does_not_exist.json")
		config, err := NewConfigManager(missing, slog.Default()).LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "eft-pipeline", config.AppName)
	})
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	cm := NewConfigManager("", slog.Default())

	envVars := map[string]string{
		"APP_NAME":                        "env-app",
		"PIPELINE_MAX_TRANSACTION_AMOUNT": "250000",
		"PIPELINE_ANOMALY_THRESHOLD_STD":  "2",
		"PIPELINE_CURRENCY_PRECISION":     "3",
		"PIPELINE_REMOVE_DUPLICATES":      "false",
		"PIPELINE_DUPLICATE_KEY_COLUMNS":  "transaction_id, bank_id",
		"PIPELINE_AGGREGATION_WORKERS":    "8",
		"STORAGE_TYPE":                    "sqlite",
		"DATABASE_URL":                    "/tmp/eft.sqlite",
		"SERVER_PORT":                     "9000",
		"SERVER_REQUESTS_PER_SECOND":      "12.5",
		"LOG_LEVEL":                       "error",
		"METRICS_ENABLED":                 "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	t.Run("loads config from environment", func(t *testing.T) {
		config := DefaultConfig()
		require.NoError(t, cm.loadFromEnv(config))

		assert.Equal(t, "env-app", config.AppName)
		assert.Equal(t, 250000.0, config.Pipeline.MaxTransactionAmount)
		assert.Equal(t, 2.0, config.Pipeline.AnomalyThresholdStd)
		assert.Equal(t, int32(3), config.Pipeline.CurrencyPrecision)
		assert.False(t, config.Pipeline.RemoveDuplicates)
		assert.Equal(t, []string{"transaction_id", "bank_id"}, config.Pipeline.DuplicateKeyColumns)
		assert.Equal(t, 8, config.Pipeline.AggregationWorkers)
		assert.Equal(t, "sqlite", config.Storage.Type)
		assert.Equal(t, "/tmp/eft.sqlite", config.Storage.DatabaseURL)
		assert.Equal(t, 9000, config.Server.Port)
		assert.Equal(t, 12.5, config.Server.RequestsPerSecond)
		assert.Equal(t, "error", config.Logging.Level)
		assert.False(t, config.Metrics.Enabled)
	})

	t.Run("handles invalid numeric values", func(t *testing.T) {
		t.Setenv("SERVER_PORT", "not-a-number")

		config := DefaultConfig()
		require.NoError(t, cm.loadFromEnv(config))
		assert.Equal(t, 8080, config.Server.Port)
	})
}

func TestSaveConfig(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("saves config to nested path", func(t *testing.T) {
		path := filepath.Join(tempDir, "nested", "config.json")
		cm := NewConfigManager(path, slog.Default())
		cm.config = DefaultConfig()
		cm.config.AppName = "saved"

		require.NoError(t, cm.SaveConfig(context.Background()))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var saved AppConfig
		require.NoError(t, json.Unmarshal(data, &saved))
		assert.Equal(t, "saved", saved.AppName)
		assert.Equal(t, 3.0, saved.Pipeline.AnomalyThresholdStd)
	})

	t.Run("fails when no config path specified", func(t *testing.T) {
		cm := NewConfigManager("", slog.Default())
		cm.config = DefaultConfig()

		err := cm.SaveConfig(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no config path specified")
	})
}

func TestPolicyFor(t *testing.T) {
	cfg := DefaultConfig().ErrorHandling
	cfg.ComponentPolicies["sqlite"] = RetryPolicyConfig{MaxAttempts: 7}

	assert.Equal(t, 7, cfg.PolicyFor("sqlite").MaxAttempts)
	assert.Equal(t, 3, cfg.PolicyFor("duckdb").MaxAttempts)
}

func TestConfigString(t *testing.T) {
	config := DefaultConfig()
	config.Storage.DatabaseURL = "user:secret@tcp(localhost)/eft"

	out := config.String()
	assert.Contains(t, out, "eft-pipeline")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "secret@")
}
