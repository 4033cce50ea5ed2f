// File: internal/config/config.go
package config

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Correlation() CorrelationConfig
	Features() FeaturesConfig
	Report() ReportConfig

	// Operating point setters used by CLI flags.
	SetPartitionThresholds(confidence, falsePositive float64)
	SetMinToolsForValidation(n int)
	SetFeaturesSourceRoot(root string)
	SetEngineWorkerConcurrency(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	EngineCfg      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	CorrelationCfg CorrelationConfig `mapstructure:"correlation" yaml:"correlation"`
	FeaturesCfg    FeaturesConfig    `mapstructure:"features" yaml:"features"`
	ReportCfg      ReportConfig      `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig           { return c.EngineCfg }
func (c *Config) Correlation() CorrelationConfig { return c.CorrelationCfg }
func (c *Config) Features() FeaturesConfig       { return c.FeaturesCfg }
func (c *Config) Report() ReportConfig           { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetPartitionThresholds(confidence, falsePositive float64) {
	c.CorrelationCfg.Partition.ConfidenceThreshold = confidence
	c.CorrelationCfg.Partition.FPThreshold = falsePositive
}
func (c *Config) SetMinToolsForValidation(n int)    { c.CorrelationCfg.Fusion.MinToolsForValidation = n }
func (c *Config) SetFeaturesSourceRoot(root string) { c.FeaturesCfg.SourceRoot = root }
func (c *Config) SetEngineWorkerConcurrency(w int)  { c.EngineCfg.WorkerConcurrency = w }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the outer audit runner. Each audit unit gets its own
// correlation engine; WorkerConcurrency bounds how many run at once.
type EngineConfig struct {
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
}

// CorrelationConfig groups every tunable of the correlation engine. The
// numeric defaults were calibrated against one benchmark corpus and are
// expected to be recalibrated for others.
type CorrelationConfig struct {
	Clustering ClusteringConfig `mapstructure:"clustering" yaml:"clustering"`
	Fusion     FusionConfig     `mapstructure:"fusion" yaml:"fusion"`
	Estimator  EstimatorConfig  `mapstructure:"estimator" yaml:"estimator"`
	Partition  PartitionConfig  `mapstructure:"partition" yaml:"partition"`
}

// ClusteringConfig configures the similarity score and merge threshold.
type ClusteringConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	LineWindow          int     `mapstructure:"line_window" yaml:"line_window"`
	TypeWeight          float64 `mapstructure:"type_weight" yaml:"type_weight"`
	LocationWeight      float64 `mapstructure:"location_weight" yaml:"location_weight"`
	TextWeight          float64 `mapstructure:"text_weight" yaml:"text_weight"`
}

// FusionConfig configures confidence fusion and cross validation.
type FusionConfig struct {
	MinToolsForValidation int     `mapstructure:"min_tools_for_validation" yaml:"min_tools_for_validation"`
	CrossValidationBonus  float64 `mapstructure:"cross_validation_bonus" yaml:"cross_validation_bonus"`
}

// EstimatorConfig configures the false positive estimator.
type EstimatorConfig struct {
	DiscountCap    float64 `mapstructure:"discount_cap" yaml:"discount_cap"`
	MinProbability float64 `mapstructure:"min_probability" yaml:"min_probability"`
	MaxProbability float64 `mapstructure:"max_probability" yaml:"max_probability"`
	TestPathFloor  float64 `mapstructure:"test_path_floor" yaml:"test_path_floor"`
}

// PartitionConfig is the default operating point.
type PartitionConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	FPThreshold         float64 `mapstructure:"fp_threshold" yaml:"fp_threshold"`
}

// FeaturesConfig configures the code-context feature extractor.
type FeaturesConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	SourceRoot   string        `mapstructure:"source_root" yaml:"source_root"`
	MaxFileBytes int64         `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
	ContextLines int           `mapstructure:"context_lines" yaml:"context_lines"`
	Weights      SignalWeights `mapstructure:"weights" yaml:"weights"`
}

// SignalWeights are the discounts each protective signal adds to the false
// positive probability when present.
type SignalWeights struct {
	ReentrancyGuard   float64 `mapstructure:"reentrancy_guard" yaml:"reentrancy_guard"`
	ChecksEffects     float64 `mapstructure:"checks_effects" yaml:"checks_effects"`
	AccessControl     float64 `mapstructure:"access_control" yaml:"access_control"`
	CheckedArithmetic float64 `mapstructure:"checked_arithmetic" yaml:"checked_arithmetic"`
	SafeMath          float64 `mapstructure:"safe_math" yaml:"safe_math"`
	CheckedCall       float64 `mapstructure:"checked_call" yaml:"checked_call"`
	TestPath          float64 `mapstructure:"test_path" yaml:"test_path"`
}

// ReportConfig holds the default export settings.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-audit")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)

	// -- Correlation --
	v.SetDefault("correlation.clustering.similarity_threshold", 0.75)
	v.SetDefault("correlation.clustering.line_window", 3)
	v.SetDefault("correlation.clustering.type_weight", 0.5)
	v.SetDefault("correlation.clustering.location_weight", 0.3)
	v.SetDefault("correlation.clustering.text_weight", 0.2)
	v.SetDefault("correlation.fusion.min_tools_for_validation", 2)
	v.SetDefault("correlation.fusion.cross_validation_bonus", 0.15)
	v.SetDefault("correlation.estimator.discount_cap", 0.6)
	v.SetDefault("correlation.estimator.min_probability", 0.02)
	v.SetDefault("correlation.estimator.max_probability", 0.95)
	v.SetDefault("correlation.estimator.test_path_floor", 0.65)
	v.SetDefault("correlation.partition.confidence_threshold", 0.5)
	v.SetDefault("correlation.partition.fp_threshold", 0.6)

	// -- Features --
	v.SetDefault("features.enabled", true)
	v.SetDefault("features.source_root", "")
	v.SetDefault("features.max_file_bytes", 2<<20)
	v.SetDefault("features.context_lines", 15)
	v.SetDefault("features.weights.reentrancy_guard", 0.35)
	v.SetDefault("features.weights.checks_effects", 0.15)
	v.SetDefault("features.weights.access_control", 0.3)
	v.SetDefault("features.weights.checked_arithmetic", 0.4)
	v.SetDefault("features.weights.safe_math", 0.3)
	v.SetDefault("features.weights.checked_call", 0.25)
	v.SetDefault("features.weights.test_path", 0.2)

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "SCALPEL_AUDIT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the URL if Unmarshal didn't pick it up
	if cfg.DatabaseCfg.URL == "" {
		cfg.DatabaseCfg.URL = os.Getenv("SCALPEL_AUDIT_DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.CorrelationCfg.Validate(); err != nil {
		return fmt.Errorf("correlation configuration invalid: %w", err)
	}
	if err := c.FeaturesCfg.Validate(); err != nil {
		return fmt.Errorf("features configuration invalid: %w", err)
	}
	return nil
}

// MinTestPathFloor is the lowest false positive probability a finding under a
// test or mock path may end with.
const MinTestPathFloor = 0.6

// unitInterval rejects values outside [0,1]. NaN is rejected as well.
func unitInterval(name string, v float64) error {
	if math.IsNaN(v) || v < 0.0 || v > 1.0 {
		return fmt.Errorf("%s must be between 0.0 and 1.0, got %v", name, v)
	}
	return nil
}

// Validate checks every correlation tunable. Out of range values are
// rejected, never clamped.
func (c *CorrelationConfig) Validate() error {
	cl := c.Clustering
	checks := []struct {
		name string
		v    float64
	}{
		{"clustering.similarity_threshold", cl.SimilarityThreshold},
		{"clustering.type_weight", cl.TypeWeight},
		{"clustering.location_weight", cl.LocationWeight},
		{"clustering.text_weight", cl.TextWeight},
		{"fusion.cross_validation_bonus", c.Fusion.CrossValidationBonus},
		{"estimator.discount_cap", c.Estimator.DiscountCap},
		{"estimator.min_probability", c.Estimator.MinProbability},
		{"estimator.max_probability", c.Estimator.MaxProbability},
		{"estimator.test_path_floor", c.Estimator.TestPathFloor},
		{"partition.confidence_threshold", c.Partition.ConfidenceThreshold},
		{"partition.fp_threshold", c.Partition.FPThreshold},
	}
	for _, chk := range checks {
		if err := unitInterval(chk.name, chk.v); err != nil {
			return err
		}
	}

	if sum := cl.TypeWeight + cl.LocationWeight + cl.TextWeight; math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("clustering weights must sum to 1.0, got %v", sum)
	}
	if cl.LineWindow <= 0 {
		return fmt.Errorf("clustering.line_window must be a positive integer")
	}
	if c.Fusion.MinToolsForValidation < 1 {
		return fmt.Errorf("fusion.min_tools_for_validation must be at least 1, got %d", c.Fusion.MinToolsForValidation)
	}
	if c.Estimator.MinProbability > c.Estimator.MaxProbability {
		return fmt.Errorf("estimator.min_probability (%v) must not exceed estimator.max_probability (%v)",
			c.Estimator.MinProbability, c.Estimator.MaxProbability)
	}
	if c.Estimator.TestPathFloor < MinTestPathFloor {
		return fmt.Errorf("estimator.test_path_floor must be at least %v, got %v", MinTestPathFloor, c.Estimator.TestPathFloor)
	}
	if c.Estimator.MaxProbability < c.Estimator.TestPathFloor {
		return fmt.Errorf("estimator.max_probability (%v) must not be below estimator.test_path_floor (%v)",
			c.Estimator.MaxProbability, c.Estimator.TestPathFloor)
	}
	return nil
}

// Validate checks the feature extractor settings.
func (f *FeaturesConfig) Validate() error {
	if !f.Enabled {
		return nil
	}
	if f.MaxFileBytes <= 0 {
		return fmt.Errorf("max_file_bytes must be a positive integer")
	}
	if f.ContextLines < 0 {
		return fmt.Errorf("context_lines must not be negative")
	}
	w := f.Weights
	weights := []struct {
		name string
		v    float64
	}{
		{"weights.reentrancy_guard", w.ReentrancyGuard},
		{"weights.checks_effects", w.ChecksEffects},
		{"weights.access_control", w.AccessControl},
		{"weights.checked_arithmetic", w.CheckedArithmetic},
		{"weights.safe_math", w.SafeMath},
		{"weights.checked_call", w.CheckedCall},
		{"weights.test_path", w.TestPath},
	}
	for _, wt := range weights {
		if err := unitInterval(wt.name, wt.v); err != nil {
			return err
		}
	}
	return nil
}
