// File: internal/config/config_test.go
package config

import (
	"bytes"
	"math"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "scalpel-audit", cfg.Logger().ServiceName)
	assert.Equal(t, 4, cfg.Engine().WorkerConcurrency)

	corr := cfg.Correlation()
	assert.Equal(t, 0.75, corr.Clustering.SimilarityThreshold)
	assert.Equal(t, 3, corr.Clustering.LineWindow)
	assert.Equal(t, 0.5, corr.Clustering.TypeWeight)
	assert.Equal(t, 0.3, corr.Clustering.LocationWeight)
	assert.Equal(t, 0.2, corr.Clustering.TextWeight)
	assert.Equal(t, 2, corr.Fusion.MinToolsForValidation)
	assert.Equal(t, 0.15, corr.Fusion.CrossValidationBonus)
	assert.Equal(t, 0.6, corr.Estimator.DiscountCap)
	assert.Equal(t, 0.02, corr.Estimator.MinProbability)
	assert.Equal(t, 0.95, corr.Estimator.MaxProbability)
	assert.Equal(t, 0.5, corr.Partition.ConfidenceThreshold)
	assert.Equal(t, 0.6, corr.Partition.FPThreshold)

	assert.True(t, cfg.Features().Enabled)
	assert.Equal(t, int64(2<<20), cfg.Features().MaxFileBytes)
	assert.Equal(t, "json", cfg.Report().Format)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetPartitionThresholds(0.7, 0.3)
	cfg.SetMinToolsForValidation(1)
	cfg.SetFeaturesSourceRoot("/src")
	cfg.SetEngineWorkerConcurrency(9)

	assert.Equal(t, 0.7, cfg.Correlation().Partition.ConfidenceThreshold)
	assert.Equal(t, 0.3, cfg.Correlation().Partition.FPThreshold)
	assert.Equal(t, 1, cfg.Correlation().Fusion.MinToolsForValidation)
	assert.Equal(t, "/src", cfg.Features().SourceRoot)
	assert.Equal(t, 9, cfg.Engine().WorkerConcurrency)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		cfgInvalidEngine := *cfg
		cfgInvalidEngine.EngineCfg.WorkerConcurrency = 0
		err := cfgInvalidEngine.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")
	})

	t.Run("Correlation Validation", func(t *testing.T) {
		tests := []struct {
			name    string
			mutate  func(c *CorrelationConfig)
			wantErr string
		}{
			{"threshold above one", func(c *CorrelationConfig) { c.Clustering.SimilarityThreshold = 1.2 }, "clustering.similarity_threshold must be between 0.0 and 1.0"},
			{"negative bonus", func(c *CorrelationConfig) { c.Fusion.CrossValidationBonus = -0.1 }, "fusion.cross_validation_bonus must be between 0.0 and 1.0"},
			{"NaN fp threshold", func(c *CorrelationConfig) { c.Partition.FPThreshold = math.NaN() }, "partition.fp_threshold must be between 0.0 and 1.0"},
			{"weights do not sum", func(c *CorrelationConfig) { c.Clustering.TextWeight = 0.3 }, "clustering weights must sum to 1.0"},
			{"zero line window", func(c *CorrelationConfig) { c.Clustering.LineWindow = 0 }, "clustering.line_window must be a positive integer"},
			{"zero min tools", func(c *CorrelationConfig) { c.Fusion.MinToolsForValidation = 0 }, "fusion.min_tools_for_validation must be at least 1"},
			{"inverted clamp", func(c *CorrelationConfig) { c.Estimator.MinProbability = 0.9; c.Estimator.MaxProbability = 0.5 }, "must not exceed"},
			{"test path floor too low", func(c *CorrelationConfig) { c.Estimator.TestPathFloor = 0.3 }, "estimator.test_path_floor must be at least 0.6"},
			{"max below test path floor", func(c *CorrelationConfig) { c.Estimator.MaxProbability = 0.62 }, "must not be below estimator.test_path_floor"},
		}

		for _, tt := range tests {
			tc := tt
			t.Run(tc.name, func(t *testing.T) {
				corr := NewDefaultConfig().Correlation()
				tc.mutate(&corr)
				err := corr.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			})
		}
	})

	t.Run("Features Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Features()
		assert.NoError(t, valid.Validate())

		disabled := valid
		disabled.Enabled = false
		disabled.MaxFileBytes = 0
		assert.NoError(t, disabled.Validate(), "disabled extractor config should always be valid")

		badSize := valid
		badSize.MaxFileBytes = 0
		err := badSize.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_file_bytes must be a positive integer")

		badWeight := valid
		badWeight.Weights.SafeMath = 1.5
		err = badWeight.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "weights.safe_math must be between 0.0 and 1.0")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
engine:
  worker_concurrency: 8
correlation:
  clustering:
    similarity_threshold: 0.8
    line_window: 5
  fusion:
    min_tools_for_validation: 1
  partition:
    confidence_threshold: 0.65
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Engine().WorkerConcurrency)
		assert.Equal(t, 0.8, cfg.Correlation().Clustering.SimilarityThreshold)
		assert.Equal(t, 5, cfg.Correlation().Clustering.LineWindow)
		assert.Equal(t, 1, cfg.Correlation().Fusion.MinToolsForValidation)
		assert.Equal(t, 0.65, cfg.Correlation().Partition.ConfidenceThreshold)
		// Untouched values keep their defaults.
		assert.Equal(t, 0.6, cfg.Correlation().Partition.FPThreshold)
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("correlation.partition.fp_threshold", 1.5)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "partition.fp_threshold must be between 0.0 and 1.0")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
database:
  url: "postgres://configfile/db"
`)))

		testDBURL := "postgres://envvar/db"
		t.Setenv("SCALPEL_AUDIT_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database().URL)
	})
}
