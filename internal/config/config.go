package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/legionctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultConfigName = "legionctl"
	defaultConfigType = "toml"
	configPathEnv     = "LEGIONCTL_CONFIG"
)

// Config carries the host-shell settings plus every calibration constant
// the control loop consumes. Calibration values are defaults tuned per
// device generation and may be overridden from the config file.
type Config struct {
	Interval    int      `mapstructure:"interval"` // cycle period in milliseconds
	Monitor     bool     `mapstructure:"monitor"`
	Debug       bool     `mapstructure:"debug"`
	Verbose     bool     `mapstructure:"verbose"`
	LogLevel    string   `mapstructure:"log_level"`
	Agents      []string `mapstructure:"agents"`
	Telemetry   bool     `mapstructure:"telemetry"`
	TelemetryDB string   `mapstructure:"telemetry_db"`
	Learning    bool     `mapstructure:"learning"`
	LearningDB  string   `mapstructure:"learning_db"`

	Gather   GatherConfig   `mapstructure:"gather"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Thermal  ThermalConfig  `mapstructure:"thermal"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// GatherConfig tunes the context store.
type GatherConfig struct {
	DebounceMs     int     `mapstructure:"debounce_ms"`
	HistorySize    int     `mapstructure:"history_size"`
	TrendWindow    int     `mapstructure:"trend_window"`
	RisingSlope    float64 `mapstructure:"rising_slope"`     // °C/s
	CoolingSlope   float64 `mapstructure:"cooling_slope"`    // °C/s, negative
	StableVariance float64 `mapstructure:"stable_variance"`  // °C²
	SampleHz       float64 `mapstructure:"sample_hz"`        // nominal sample rate
}

// ForecastConfig tunes the thermal forecast engine.
type ForecastConfig struct {
	EWMAAlpha      float64 `mapstructure:"ewma_alpha"`
	CPUTauSec      float64 `mapstructure:"cpu_tau_sec"`
	GPUTauSec      float64 `mapstructure:"gpu_tau_sec"`
	VRMTauSec      float64 `mapstructure:"vrm_tau_sec"`
	HeatingCeiling float64 `mapstructure:"heating_ceiling"`
	CoolingFloor   float64 `mapstructure:"cooling_floor"`
	LongDamping    float64 `mapstructure:"long_damping"`
}

// ThermalConfig tunes the thermal agent.
type ThermalConfig struct {
	EmergencyMarginC float64 `mapstructure:"emergency_margin_c"`
	ProactiveMarginC float64 `mapstructure:"proactive_margin_c"`
	CooldownSec      int     `mapstructure:"cooldown_sec"`
	VRMProactiveC    float64 `mapstructure:"vrm_proactive_c"`
	VRMEmergencyC    float64 `mapstructure:"vrm_emergency_c"`
	CPUThrottleC     float64 `mapstructure:"cpu_throttle_c"`
	GPUThrottleC     float64 `mapstructure:"gpu_throttle_c"`
}

// LimitsConfig carries the absolute hardware bounds the safety validator
// enforces. These mirror the platform power envelope and must never be
// widened past what the embedded controller accepts.
type LimitsConfig struct {
	PL1MinW           int     `mapstructure:"pl1_min_w"`
	PL1MaxW           int     `mapstructure:"pl1_max_w"`
	PL2MinW           int     `mapstructure:"pl2_min_w"`
	PL2MaxW           int     `mapstructure:"pl2_max_w"`
	GPUTGPMinW        int     `mapstructure:"gpu_tgp_min_w"`
	GPUTGPMaxW        int     `mapstructure:"gpu_tgp_max_w"`
	BrightnessMin     int     `mapstructure:"brightness_min"`
	BrightnessMax     int     `mapstructure:"brightness_max"`
	HotZoneMarginC    float64 `mapstructure:"hot_zone_margin_c"`
	GPUBoostTempGateC float64 `mapstructure:"gpu_boost_temp_gate_c"`
	BatteryCriticalPc int     `mapstructure:"battery_critical_pct"`
	PlatformEnvelopeW int     `mapstructure:"platform_envelope_w"`
}

// Load reads configuration from flags, environment and the config file.
func Load() (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	setDefaults(v)

	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.Int("interval", v.GetInt("interval"), "Control cycle interval in milliseconds")
	flags.Bool("monitor", false, "Only gather, forecast and trace; execute no actions")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.StringSlice("agents", v.GetStringSlice("agents"), "Active agent set")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := v.BindPFlags(flags); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlag("log_level", flags.Lookup("log-level")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)
	v.AddConfigPath("/etc")

	if path := os.Getenv(configPathEnv); path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file: "+err.Error())
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", 500)
	v.SetDefault("monitor", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("agents", []string{"thermal", "gpumode"})
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db", "/var/lib/legionctl/telemetry.db")
	v.SetDefault("learning", false)
	v.SetDefault("learning_db", "/var/lib/legionctl/learning.db")

	v.SetDefault("gather.debounce_ms", 800)
	v.SetDefault("gather.history_size", 300)
	v.SetDefault("gather.trend_window", 30)
	v.SetDefault("gather.rising_slope", 0.5)
	v.SetDefault("gather.cooling_slope", -0.3)
	v.SetDefault("gather.stable_variance", 0.25)
	v.SetDefault("gather.sample_hz", 1.0)

	v.SetDefault("forecast.ewma_alpha", 0.2)
	v.SetDefault("forecast.cpu_tau_sec", 60.0)
	v.SetDefault("forecast.gpu_tau_sec", 45.0)
	v.SetDefault("forecast.vrm_tau_sec", 90.0)
	v.SetDefault("forecast.heating_ceiling", 95.0)
	v.SetDefault("forecast.cooling_floor", 35.0)
	v.SetDefault("forecast.long_damping", 0.7)

	v.SetDefault("thermal.emergency_margin_c", 3.0)
	v.SetDefault("thermal.proactive_margin_c", 10.0)
	v.SetDefault("thermal.cooldown_sec", 30)
	v.SetDefault("thermal.vrm_proactive_c", 85.0)
	v.SetDefault("thermal.vrm_emergency_c", 90.0)
	v.SetDefault("thermal.cpu_throttle_c", 100.0)
	v.SetDefault("thermal.gpu_throttle_c", 87.0)

	v.SetDefault("limits.pl1_min_w", 15)
	v.SetDefault("limits.pl1_max_w", 65)
	v.SetDefault("limits.pl2_min_w", 55)
	v.SetDefault("limits.pl2_max_w", 140)
	v.SetDefault("limits.gpu_tgp_min_w", 60)
	v.SetDefault("limits.gpu_tgp_max_w", 140)
	v.SetDefault("limits.brightness_min", 10)
	v.SetDefault("limits.brightness_max", 100)
	v.SetDefault("limits.hot_zone_margin_c", 5.0)
	v.SetDefault("limits.gpu_boost_temp_gate_c", 75.0)
	v.SetDefault("limits.battery_critical_pct", 15)
	v.SetDefault("limits.platform_envelope_w", 250)
}

// Validate checks cross-field consistency of the loaded configuration.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Gather.HistorySize <= 0 || c.Gather.TrendWindow <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "gather window sizes must be positive")
	}
	if c.Gather.TrendWindow > c.Gather.HistorySize {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "trend window exceeds history size")
	}

	if c.Forecast.EWMAAlpha <= 0 || c.Forecast.EWMAAlpha >= 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "ewma_alpha must be in (0, 1)")
	}

	if c.Limits.PL1MinW >= c.Limits.PL1MaxW ||
		c.Limits.PL2MinW >= c.Limits.PL2MaxW ||
		c.Limits.GPUTGPMinW >= c.Limits.GPUTGPMaxW {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "power limit bounds are inverted")
	}

	return nil
}
