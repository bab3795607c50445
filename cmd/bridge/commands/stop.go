package commands

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopPidFile string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running acquisition service",
	Long: `Send a graceful shutdown signal to a bridge instance started in
background (daemon) mode and wait for it to exit.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/bridge/bridge.pid)")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("bridge does not appear to be running (no PID file at %s)", pidPath)
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return fmt.Errorf("malformed PID file %s: %w", pidPath, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	fmt.Printf("Sent shutdown signal to bridge (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Println("bridge stopped")
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("bridge did not stop within the timeout; it may still be shutting down")
	return nil
}
