/*
Package config loads the key-worker service configuration.

SOURCES (later wins):
  1. Defaults (SetDefaults)
  2. Optional YAML file (--config)
  3. Environment, prefix KEYWORKER_, dots become underscores:
       KEYWORKER_DEALLOCATE_LOOK_BACK_DAYS=5
  4. Command-line flags bound onto the same viper instance

Load always validates; every problem is reported at once.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/warp/keyworker-engine/keyworker"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "KEYWORKER"

// thresholdLayout is the accepted shape of deallocate.initial_threshold.
const thresholdLayout = "2006-01-02T15:04:05"

// Config is the whole service configuration.
type Config struct {
	Deallocate DeallocateConfig `mapstructure:"deallocate"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	PrisonAPI  PrisonAPIConfig  `mapstructure:"prison_api"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type DeallocateConfig struct {
	LookBackDays     int           `mapstructure:"look_back_days"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Backoff          time.Duration `mapstructure:"backoff"`
	InitialThreshold string        `mapstructure:"initial_threshold"`
}

type ScheduleConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Deallocate   string `mapstructure:"deallocate" yaml:"deallocate"`
	UpdateStatus string `mapstructure:"update_status" yaml:"update_status"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type PrisonAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StatsConfig tunes the read side.
type StatsConfig struct {
	Parallelism     int           `mapstructure:"parallelism"`
	PrisonCacheSize int           `mapstructure:"prison_cache_size"`
	PrisonCacheTTL  time.Duration `mapstructure:"prison_cache_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// =============================================================================
// LOADING
// =============================================================================

// NewViper returns a viper instance with defaults and environment overrides
// set up. Callers may bind flags onto it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every recognized key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("deallocate.look_back_days", 3)
	v.SetDefault("deallocate.max_attempts", 2)
	v.SetDefault("deallocate.backoff", "5s")
	v.SetDefault("deallocate.initial_threshold", "2018-04-01T00:00:00")

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.deallocate", "0 2 * * *")
	v.SetDefault("schedule.update_status", "0 1 * * *")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:8080"})
	v.SetDefault("db.path", "keyworker.db")

	v.SetDefault("prison_api.base_url", "http://localhost:8082")
	v.SetDefault("prison_api.timeout", "30s")

	v.SetDefault("stats.parallelism", 4)
	v.SetDefault("stats.prison_cache_size", 128)
	v.SetDefault("stats.prison_cache_ttl", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.namespace", "keyworker")
}

// Load reads file (when non-empty) into v, decodes and validates.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration with no file, environment or flags.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, "")
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks every field and returns all problems combined.
func (c *Config) Validate() error {
	var errs error
	if c.Deallocate.LookBackDays < 0 {
		errs = multierr.Append(errs, fmt.Errorf("deallocate.look_back_days must be >= 0, got %d", c.Deallocate.LookBackDays))
	}
	if c.Deallocate.MaxAttempts < 1 {
		errs = multierr.Append(errs, fmt.Errorf("deallocate.max_attempts must be >= 1, got %d", c.Deallocate.MaxAttempts))
	}
	if c.Deallocate.Backoff < 0 {
		errs = multierr.Append(errs, fmt.Errorf("deallocate.backoff must not be negative, got %s", c.Deallocate.Backoff))
	}
	if _, err := c.initialThreshold(); err != nil {
		errs = multierr.Append(errs, err)
	}

	for key, spec := range map[string]string{
		"schedule.deallocate":    c.Schedule.Deallocate,
		"schedule.update_status": c.Schedule.UpdateStatus,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %q: %w", key, spec, err))
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Path == "" {
		errs = multierr.Append(errs, fmt.Errorf("db.path is required"))
	}
	if c.PrisonAPI.BaseURL == "" {
		errs = multierr.Append(errs, fmt.Errorf("prison_api.base_url is required"))
	}
	if c.PrisonAPI.Timeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("prison_api.timeout must be positive, got %s", c.PrisonAPI.Timeout))
	}
	if c.Stats.Parallelism < 1 {
		errs = multierr.Append(errs, fmt.Errorf("stats.parallelism must be >= 1, got %d", c.Stats.Parallelism))
	}
	if c.Stats.PrisonCacheSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("stats.prison_cache_size must be >= 0, got %d", c.Stats.PrisonCacheSize))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errs
}

func (c *Config) initialThreshold() (time.Time, error) {
	t, err := time.Parse(thresholdLayout, c.Deallocate.InitialThreshold)
	if err != nil {
		return time.Time{}, fmt.Errorf("deallocate.initial_threshold %q: want %s", c.Deallocate.InitialThreshold, thresholdLayout)
	}
	return t, nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// DeallocationConfig is the engine configuration. Call on a validated Config.
func (c *Config) DeallocationConfig() keyworker.DeallocationConfig {
	threshold, _ := c.initialThreshold()
	return keyworker.DeallocationConfig{
		LookBackDays:     c.Deallocate.LookBackDays,
		MaxAttempts:      c.Deallocate.MaxAttempts,
		Backoff:          c.Deallocate.Backoff,
		InitialThreshold: threshold,
	}
}

// YAML renders the effective configuration, durations as Go duration strings.
func (c *Config) YAML() ([]byte, error) {
	out := yamlView{
		Schedule: c.Schedule,
		Server:   c.Server,
		DB:       c.DB,
		Log:      c.Log,
		Metrics:  c.Metrics,
	}
	out.Deallocate.LookBackDays = c.Deallocate.LookBackDays
	out.Deallocate.MaxAttempts = c.Deallocate.MaxAttempts
	out.Deallocate.Backoff = c.Deallocate.Backoff.String()
	out.Deallocate.InitialThreshold = c.Deallocate.InitialThreshold
	out.PrisonAPI.BaseURL = c.PrisonAPI.BaseURL
	out.PrisonAPI.Timeout = c.PrisonAPI.Timeout.String()
	out.Stats.Parallelism = c.Stats.Parallelism
	out.Stats.PrisonCacheSize = c.Stats.PrisonCacheSize
	out.Stats.PrisonCacheTTL = c.Stats.PrisonCacheTTL.String()
	return yaml.Marshal(out)
}

// yamlView mirrors Config with durations as strings, since yaml.v3 would
// print time.Duration as nanoseconds.
type yamlView struct {
	Deallocate struct {
		LookBackDays     int    `yaml:"look_back_days"`
		MaxAttempts      int    `yaml:"max_attempts"`
		Backoff          string `yaml:"backoff"`
		InitialThreshold string `yaml:"initial_threshold"`
	} `yaml:"deallocate"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	PrisonAPI struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"prison_api"`
	Stats struct {
		Parallelism     int    `yaml:"parallelism"`
		PrisonCacheSize int    `yaml:"prison_cache_size"`
		PrisonCacheTTL  string `yaml:"prison_cache_ttl"`
	} `yaml:"stats"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}
