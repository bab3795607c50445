package commands

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dlmsbridge/bridge/internal/cliutil"
	"github.com/dlmsbridge/bridge/internal/config"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service and meter status",
	Long: `Display whether the bridge process is running, and the catalogue's
view of every configured meter (its persisted status and last heartbeat).

Live per-worker counters (poll cycles, restarts) are only visible to the
running process itself; query them through the metrics endpoint
(config.yaml's metrics.bind_address) when the service is running.

Examples:
  # Check status (table output)
  bridge status

  # Output as JSON
  bridge status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := cliutil.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	running, pid := processStatus()
	if format == cliutil.FormatTable {
		if running {
			fmt.Printf("bridge: running (PID %d)\n", pid)
		} else {
			fmt.Println("bridge: not running")
		}
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open configuration store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	meters, err := st.ListMeters(ctx)
	if err != nil {
		return fmt.Errorf("failed to list meters: %w", err)
	}

	table := cliutil.NewTableData("ID", "Name", "Host", "Status", "Last Heartbeat")
	for _, m := range meters {
		heartbeat := "-"
		if m.LastHeartbeat != nil {
			heartbeat = cliutil.FormatTime(*m.LastHeartbeat)
		}
		table.AddRow(
			fmt.Sprintf("%d", m.ID),
			m.Name,
			fmt.Sprintf("%s:%d", m.Host, m.Port),
			m.Status,
			heartbeat,
		)
	}

	return cliutil.Print(os.Stdout, format, table)
}

// processStatus reports whether the PID in the default PID file is alive.
func processStatus() (running bool, pid int) {
	data, err := os.ReadFile(GetDefaultPidFile())
	if err != nil {
		return false, 0
	}
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false, 0
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}
	return true, pid
}
