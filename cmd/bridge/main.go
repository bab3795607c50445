// Command bridge runs the DLMS/COSEM-to-MQTT acquisition service and its
// operator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/dlmsbridge/bridge/cmd/bridge/commands"
)

// version, commit, and date are injected at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
