// Package config loads fetchq command configuration from defaults, an
// optional YAML file and FETCHQ_* environment variables, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/adamwoolhether/fetchq"
	"github.com/adamwoolhether/fetchq/classifier"
	"github.com/adamwoolhether/fetchq/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. FETCHQ_LOGGING_LEVEL.
const EnvPrefix = "FETCHQ"

type Config struct {
	Workers    int              `mapstructure:"workers" validate:"gt=0"`
	UserAgent  string           `mapstructure:"user_agent"`
	Timeout    time.Duration    `mapstructure:"timeout" validate:"gte=0"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Assets     AssetConfig      `mapstructure:"assets"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ThrottleConfig limits outgoing requests. A zero RPS disables throttling.
type ThrottleConfig struct {
	RPS   int `mapstructure:"rps" validate:"gte=0"`
	Burst int `mapstructure:"burst" validate:"required_unless=RPS 0,gte=0"`
}

type AssetConfig struct {
	BatchDelay time.Duration `mapstructure:"batch_delay" validate:"gte=0"`
	// CacheBudget is in bytes. Zero uses 1/8 of the process memory limit.
	CacheBudget int64 `mapstructure:"cache_budget" validate:"gte=0"`
}

// ClassifierConfig tunes bandwidth classification. Thresholds are bits per
// second.
type ClassifierConfig struct {
	Smoothing     float64       `mapstructure:"smoothing" validate:"gt=0,lte=1"`
	MinBytes      int64         `mapstructure:"min_bytes" validate:"gte=0"`
	MinElapsed    time.Duration `mapstructure:"min_elapsed" validate:"gte=0"`
	PoorBelow     float64       `mapstructure:"poor_below" validate:"gt=0"`
	ModerateBelow float64       `mapstructure:"moderate_below" validate:"gtfield=PoorBelow"`
	GoodBelow     float64       `mapstructure:"good_below" validate:"gtfield=ModerateBelow"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	cc := classifier.DefaultConfig()

	return Config{
		Workers: scheduler.DefaultWorkers,
		Timeout: 30 * time.Second,
		Assets: AssetConfig{
			BatchDelay: 100 * time.Millisecond,
		},
		Classifier: ClassifierConfig{
			Smoothing:     cc.Alpha,
			MinBytes:      cc.MinBytes,
			MinElapsed:    cc.MinElapsed,
			PoorBelow:     cc.PoorBelow,
			ModerateBelow: cc.ModerateBelow,
			GoodBelow:     cc.GoodBelow,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, which may be empty, and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("configuration file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// no file sets them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("workers", d.Workers)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("throttle.rps", d.Throttle.RPS)
	v.SetDefault("throttle.burst", d.Throttle.Burst)
	v.SetDefault("assets.batch_delay", d.Assets.BatchDelay)
	v.SetDefault("assets.cache_budget", d.Assets.CacheBudget)
	v.SetDefault("classifier.smoothing", d.Classifier.Smoothing)
	v.SetDefault("classifier.min_bytes", d.Classifier.MinBytes)
	v.SetDefault("classifier.min_elapsed", d.Classifier.MinElapsed)
	v.SetDefault("classifier.poor_below", d.Classifier.PoorBelow)
	v.SetDefault("classifier.moderate_below", d.Classifier.ModerateBelow)
	v.SetDefault("classifier.good_below", d.Classifier.GoodBelow)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks cfg against its declared constraints.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q constraint", fe.Namespace(), fe.Tag()))
	}
	return errors.Join(errs...)
}

// EngineOptions converts cfg into options for fetchq.New.
func (cfg *Config) EngineOptions(logger *slog.Logger) []fetchq.Option {
	opts := []fetchq.Option{
		fetchq.WithWorkers(cfg.Workers),
		fetchq.WithTimeout(cfg.Timeout),
		fetchq.WithBatchDelay(cfg.Assets.BatchDelay),
		fetchq.WithClassifier(
			classifier.WithSmoothing(cfg.Classifier.Smoothing),
			classifier.WithMinimumSample(cfg.Classifier.MinBytes, cfg.Classifier.MinElapsed),
			classifier.WithThresholds(cfg.Classifier.PoorBelow, cfg.Classifier.ModerateBelow, cfg.Classifier.GoodBelow),
		),
	}

	if logger != nil {
		opts = append(opts, fetchq.WithLogger(logger))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, fetchq.WithUserAgent(cfg.UserAgent))
	}
	if cfg.Throttle.RPS > 0 {
		opts = append(opts, fetchq.WithThrottle(cfg.Throttle.RPS, cfg.Throttle.Burst))
	}
	if cfg.Assets.CacheBudget > 0 {
		opts = append(opts, fetchq.WithCacheBudget(cfg.Assets.CacheBudget))
	}

	return opts
}
