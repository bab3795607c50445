package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dlmsbridge/bridge/internal/config"
	"github.com/dlmsbridge/bridge/internal/dlms"
	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/metrics"
	"github.com/dlmsbridge/bridge/internal/mqttpub"
	"github.com/dlmsbridge/bridge/internal/orchestrator"
	"github.com/dlmsbridge/bridge/internal/robust"
	"github.com/dlmsbridge/bridge/internal/store"
	"github.com/dlmsbridge/bridge/internal/telemetry"
	"github.com/dlmsbridge/bridge/internal/worker"

	// Registers the Prometheus implementation behind internal/metrics.
	_ "github.com/dlmsbridge/bridge/internal/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the acquisition service",
	Long: `Start bridge's acquisition service: one worker per active meter,
supervised for restart, publishing telemetry to MQTT.

By default the service runs in the background (daemon mode). Use
--foreground to run in the foreground for debugging or when managed by a
process supervisor.

Examples:
  # Start in background (default)
  bridge start

  # Start in foreground
  bridge start --foreground

  # Start with custom config file
  bridge start --config /etc/bridge/config.yaml

  # Override a key that the loaded config file sets
  BRIDGE_LOGGING_LEVEL=DEBUG bridge start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/bridge/bridge.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/bridge/bridge.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}

	// Metrics must be initialized before the worker factory and orchestrator,
	// since both take a metrics.WorkerMetrics handle at construction time.
	var workerMetrics metrics.WorkerMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		workerMetrics = metrics.NewWorkerMetrics()
	}

	cpStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open configuration store: %w", err)
	}
	defer func() { _ = cpStore.Close() }()

	factory := newWorkerFactory(cfg, cpStore, workerMetrics)
	orch := orchestrator.New(cpStore, factory, orchestrator.Config{
		HealthCheckInterval: cfg.Orchestrator.HealthCheckInterval,
		MaxRestartAttempts:  cfg.Orchestrator.MaxRestartAttempts,
		RestartGracePeriod:  cfg.Orchestrator.RestartGracePeriod,
		AlarmWindow:         cfg.Orchestrator.AlarmWindow,
		StopGrace:           cfg.Orchestrator.StopGrace,
	}, workerMetrics)

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.BindAddress)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics enabled", "address", cfg.Metrics.BindAddress)
	} else {
		logger.Info("metrics disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("bridge is running, press Ctrl+C to stop")
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received, stopping workers")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		logger.Error("error stopping orchestrator", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(stopCtx)
	}
	logger.Info("bridge stopped")
	return nil
}

// newWorkerFactory closes over the loaded config and store to build a
// fully wired worker (DLMS robust client + MQTT publisher) per meter.
func newWorkerFactory(cfg *config.Config, st *store.GORMStore, m metrics.WorkerMetrics) orchestrator.WorkerFactory {
	return func(meter worker.Meter) *worker.Worker {
		session := dlms.New(dlms.Config{
			Host:           meter.Host,
			Port:           meter.Port,
			ClientSAP:      meter.ClientSAP,
			ServerLogical:  meter.ServerLogical,
			ServerPhysical: meter.ServerPhysical,
			Password:       meter.Password,
			ConnectTimeout: cfg.DLMS.ConnectTimeout,
			ReadTimeout:    cfg.DLMS.ReadTimeout,
			MaxInfoLength:  cfg.DLMS.MaxInfoLength,
		})

		robustClient := robust.New(session, robust.Config{
			MaxAttempts: cfg.DLMS.MaxRetries,
			BaseDelay:   cfg.DLMS.BaseBackoff,
		})

		publisher := mqttpub.New(mqttpub.Config{
			Host:           cfg.MQTT.Host,
			Port:           cfg.MQTT.Port,
			DeviceToken:    meter.DeviceToken,
			ClientID:       fmt.Sprintf("bridge-meter-%d", meter.ID),
			Keepalive:      cfg.MQTT.Keepalive,
			QoS:            cfg.MQTT.QoS,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			BufferCapacity: cfg.MQTT.BufferCapacity,
		})

		heartbeat := func(ctx context.Context, meterID int64, at time.Time) error {
			return st.Heartbeat(ctx, meterID, at)
		}
		metricsink := func(ctx context.Context, meterID int64, metric worker.Metric) error {
			return st.RecordMetric(ctx, meterID, metric)
		}

		return worker.NewWithMetricsSink(meter, robustClient, publisher, worker.Config{
			Watchdog: worker.WatchdogConfig{
				MaxConsecutiveHDLCErrors:   cfg.Watchdog.MaxConsecutiveHDLCErrors,
				MaxConsecutiveReadFailures: cfg.Watchdog.MaxConsecutiveReadFailures,
				MaxSilence:                 cfg.Watchdog.MaxSilence,
				ConnectionMaxAge:           cfg.Watchdog.ConnectionMaxAge,
			},
			ReadRetries: cfg.DLMS.MaxRetries,
		}, heartbeat, metricsink, m)
	}
}

// startDaemon re-execs the current binary in the foreground, detached, with
// stdout/stderr redirected to a log file.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "bridge.pid")
	}

	if data, err := os.ReadFile(pidPath); err == nil {
		var pid int
		if _, err := fmt.Sscanf(string(data), "%d", &pid); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("bridge is already running (PID %d)\nUse 'bridge stop' to stop it", pid)
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "bridge.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("bridge started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'bridge stop' to stop the service")
	fmt.Println("Use 'bridge status' to check service status")
	return nil
}
