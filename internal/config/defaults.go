package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills zero-valued fields across every section. Explicit
// values (from file or environment) are always preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyDatabaseDefaults(&cfg.Database)
	applyMetricsDefaults(&cfg.Metrics)
	applyMQTTDefaults(&cfg.MQTT)
	applyDLMSDefaults(&cfg.DLMS)
	applyWatchdogDefaults(&cfg.Watchdog)
	applyOrchestratorDefaults(&cfg.Orchestrator)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dlms-bridge"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.DSN == "" && cfg.Driver == "sqlite" {
		cfg.DSN = "bridge.db"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = ":9090"
	}
}

func applyMQTTDefaults(cfg *MQTTConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = 1000
	}
	// QoS is left as loaded: internal/mqttpub treats 0 as unset and
	// publishes at QoS 1, so QoS 0 cannot be selected.
}

func applyDLMSDefaults(cfg *DLMSConfig) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 6 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.MaxInfoLength <= 0 {
		cfg.MaxInfoLength = 128
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
}

func applyWatchdogDefaults(cfg *WatchdogConfig) {
	if cfg.MaxConsecutiveHDLCErrors <= 0 {
		cfg.MaxConsecutiveHDLCErrors = 15
	}
	if cfg.MaxConsecutiveReadFailures <= 0 {
		cfg.MaxConsecutiveReadFailures = 10
	}
	if cfg.MaxSilence <= 0 {
		cfg.MaxSilence = 10 * time.Minute
	}
	if cfg.ConnectionMaxAge <= 0 {
		cfg.ConnectionMaxAge = 30 * time.Minute
	}
}

func applyOrchestratorDefaults(cfg *OrchestratorConfig) {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 10 * time.Second
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = 3
	}
	if cfg.RestartGracePeriod <= 0 {
		cfg.RestartGracePeriod = 10 * time.Minute
	}
	if cfg.AlarmWindow <= 0 {
		cfg.AlarmWindow = 300 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
}
