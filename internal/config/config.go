// Package config loads bridge's runtime configuration from a YAML
// configuration file, filled in with compiled-in defaults (spec.md §6).
// Environment variables (BRIDGE_<SECTION>_<KEY>) override only keys that the
// loaded file sets, and are ignored when no file is found. No CLI flag sets
// an individual value; --config only selects the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// LoggingConfig controls the internal/logger sink.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// TelemetryConfig controls the OpenTelemetry tracer provider (internal/telemetry).
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// DatabaseConfig points at the control-plane catalogue (internal/store).
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" validate:"required"`
}

// MetricsConfig controls the Prometheus exposition endpoint (internal/metrics).
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
}

// MQTTConfig sets the defaults a meter's publisher inherits unless it
// overrides them (internal/mqttpub).
type MQTTConfig struct {
	Host           string        `mapstructure:"host" yaml:"host" validate:"required"`
	Port           int           `mapstructure:"port" yaml:"port" validate:"required,gt=0,lte=65535"`
	Keepalive      time.Duration `mapstructure:"keepalive" yaml:"keepalive"`
	QoS            byte          `mapstructure:"qos" yaml:"qos" validate:"lte=2"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	BufferCapacity int           `mapstructure:"buffer_capacity" yaml:"buffer_capacity"`
}

// DLMSConfig sets the defaults a meter's session client inherits unless the
// meter record overrides them (internal/dlms, internal/robust).
type DLMSConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	MaxInfoLength  int           `mapstructure:"max_info_length" yaml:"max_info_length"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
}

// WatchdogConfig mirrors internal/worker.WatchdogConfig for config-file
// exposure (spec.md §4.5 thresholds).
type WatchdogConfig struct {
	MaxConsecutiveHDLCErrors   int           `mapstructure:"max_consecutive_hdlc_errors" yaml:"max_consecutive_hdlc_errors"`
	MaxConsecutiveReadFailures int           `mapstructure:"max_consecutive_read_failures" yaml:"max_consecutive_read_failures"`
	MaxSilence                 time.Duration `mapstructure:"max_silence" yaml:"max_silence"`
	ConnectionMaxAge           time.Duration `mapstructure:"connection_max_age" yaml:"connection_max_age"`
}

// OrchestratorConfig mirrors internal/orchestrator.Config for config-file
// exposure.
type OrchestratorConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	MaxRestartAttempts  int           `mapstructure:"max_restart_attempts" yaml:"max_restart_attempts"`
	RestartGracePeriod  time.Duration `mapstructure:"restart_grace_period" yaml:"restart_grace_period"`
	AlarmWindow         time.Duration `mapstructure:"alarm_window" yaml:"alarm_window"`
	StopGrace           time.Duration `mapstructure:"stop_grace" yaml:"stop_grace"`
}

// Config is bridge's complete runtime configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (BRIDGE_*), for keys the configuration file sets
//  2. Configuration file (YAML)
//  3. Default values
//
// Without a configuration file only the default values apply.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	MQTT         MQTTConfig         `mapstructure:"mqtt" yaml:"mqtt"`
	DLMS         DLMSConfig         `mapstructure:"dlms" yaml:"dlms"`
	Watchdog     WatchdogConfig     `mapstructure:"watchdog" yaml:"watchdog"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
}

var validate = validator.New()

// Load reads configPath (or the default search path if empty), applies
// environment overrides, fills in defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read config file: %w", err)
	}
	return true, nil
}

func defaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "bridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "bridge")
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required for the sqlite driver")
	}
	return nil
}
