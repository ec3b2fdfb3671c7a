// Package config holds the settings of a training run and loads them with
// viper from flags, WINEQ_* environment variables and an optional YAML file.
package config

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/YuminosukeSato/winequality/dataset"
	"github.com/YuminosukeSato/winequality/linear"
	"github.com/YuminosukeSato/winequality/pkg/errors"
	"github.com/YuminosukeSato/winequality/tracking"
)

// EnvPrefix is prepended to environment variable names, e.g. WINEQ_TRACKING_URI.
const EnvPrefix = "WINEQ"

// Viper keys.
const (
	KeyAlpha        = "alpha"
	KeyL1Ratio      = "l1_ratio"
	KeyDataURL      = "data.url"
	KeyCachePath    = "data.cache_path"
	KeyTimeout      = "data.timeout"
	KeyTarget       = "data.target"
	KeyTestSize     = "data.test_size"
	KeySplitSeed    = "data.split_seed"
	KeyRandomState  = "model.random_state"
	KeyMaxIter      = "model.max_iter"
	KeyTol          = "model.tol"
	KeySelection    = "model.selection"
	KeyTrackingURI  = "tracking.uri"
	KeyArtifactRoot = "tracking.artifact_root"
	KeyExperiment   = "tracking.experiment"
	KeyModelName    = "tracking.model_name"
	KeyRunName      = "tracking.run_name"
	KeyLegacyMAE    = "metrics.legacy_mae"
	KeyPlot         = "plot"
	KeyLogLevel     = "log_level"
)

// Config is the full configuration of one training run.
type Config struct {
	Alpha    float64        `mapstructure:"alpha"`
	L1Ratio  float64        `mapstructure:"l1_ratio"`
	Data     DataConfig     `mapstructure:"data"`
	Model    ModelConfig    `mapstructure:"model"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Plot     bool           `mapstructure:"plot"`
	LogLevel string         `mapstructure:"log_level"`
}

// DataConfig controls loading and splitting.
type DataConfig struct {
	URL       string        `mapstructure:"url"`
	CachePath string        `mapstructure:"cache_path"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Target    string        `mapstructure:"target"`
	TestSize  float64       `mapstructure:"test_size"`
	SplitSeed uint64        `mapstructure:"split_seed"`
}

// ModelConfig holds the solver settings besides alpha and l1_ratio.
type ModelConfig struct {
	RandomState uint64  `mapstructure:"random_state"`
	MaxIter     int     `mapstructure:"max_iter"`
	Tol         float64 `mapstructure:"tol"`
	Selection   string  `mapstructure:"selection"`
}

// TrackingConfig locates the tracking store.
type TrackingConfig struct {
	URI          string `mapstructure:"uri"`
	ArtifactRoot string `mapstructure:"artifact_root"`
	Experiment   string `mapstructure:"experiment"`
	ModelName    string `mapstructure:"model_name"`
	RunName      string `mapstructure:"run_name"`
}

// MetricsConfig selects how metrics are computed.
type MetricsConfig struct {
	// LegacyMAE reports the mean squared error under the name "mae", so the
	// metric lines up with older runs.
	LegacyMAE bool `mapstructure:"legacy_mae"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Alpha:   0.5,
		L1Ratio: 0.5,
		Data: DataConfig{
			URL:       dataset.DefaultURL,
			Timeout:   dataset.DefaultTimeout,
			Target:    dataset.DefaultTarget,
			TestSize:  dataset.DefaultTestSize,
			SplitSeed: 40,
		},
		Model: ModelConfig{
			RandomState: 42,
			MaxIter:     1000,
			Tol:         1e-4,
			Selection:   linear.SelectionCyclic,
		},
		Tracking: TrackingConfig{
			URI:        tracking.DefaultTrackingURI,
			Experiment: tracking.DefaultExperimentName,
			ModelName:  "ElasticnetWineModel",
		},
		LogLevel: "warn",
	}
}

// SetDefaults registers Default() in v and enables WINEQ_* environment
// variables.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyAlpha, d.Alpha)
	v.SetDefault(KeyL1Ratio, d.L1Ratio)
	v.SetDefault(KeyDataURL, d.Data.URL)
	v.SetDefault(KeyCachePath, d.Data.CachePath)
	v.SetDefault(KeyTimeout, d.Data.Timeout)
	v.SetDefault(KeyTarget, d.Data.Target)
	v.SetDefault(KeyTestSize, d.Data.TestSize)
	v.SetDefault(KeySplitSeed, d.Data.SplitSeed)
	v.SetDefault(KeyRandomState, d.Model.RandomState)
	v.SetDefault(KeyMaxIter, d.Model.MaxIter)
	v.SetDefault(KeyTol, d.Model.Tol)
	v.SetDefault(KeySelection, d.Model.Selection)
	v.SetDefault(KeyTrackingURI, d.Tracking.URI)
	v.SetDefault(KeyArtifactRoot, d.Tracking.ArtifactRoot)
	v.SetDefault(KeyExperiment, d.Tracking.Experiment)
	v.SetDefault(KeyModelName, d.Tracking.ModelName)
	v.SetDefault(KeyRunName, d.Tracking.RunName)
	v.SetDefault(KeyLegacyMAE, d.Metrics.LegacyMAE)
	v.SetDefault(KeyPlot, d.Plot)
	v.SetDefault(KeyLogLevel, d.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file and decodes v into a validated Config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that the pipeline cannot check later.
// alpha and l1_ratio are deliberately left to the trainer, which rejects
// out-of-range values with a FitError.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.Data.TestSize) || c.Data.TestSize <= 0 || c.Data.TestSize >= 1:
		return errors.NewValidationError(KeyTestSize, "must be in (0, 1)", c.Data.TestSize)
	case c.Data.Target == "":
		return errors.NewValidationError(KeyTarget, "must not be empty", c.Data.Target)
	case c.Data.Timeout <= 0:
		return errors.NewValidationError(KeyTimeout, "must be positive", c.Data.Timeout)
	case c.Tracking.URI == "":
		return errors.NewValidationError(KeyTrackingURI, "must not be empty", c.Tracking.URI)
	case c.Model.Selection != linear.SelectionCyclic && c.Model.Selection != linear.SelectionRandom:
		return errors.NewValidationError(KeySelection, "must be cyclic or random", c.Model.Selection)
	}
	return nil
}
