// Laurel - Bluetooth mesh lighting bridge
//
// This is the main entry point for the laurel binary. It loads the mesh
// directory, opens sessions to each mesh through the radio gateway, and
// exposes the lights over MQTT, a REST/WebSocket API, and an interactive
// console.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "laurel",
		Short:         "Bluetooth mesh lighting bridge",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $LAUREL_CONFIG or "+defaultConfigHint+")")

	cmd.AddCommand(
		serveCmd(&configPath),
		devicesCmd(&configPath),
		consoleCmd(&configPath),
		tokenCmd(&configPath),
	)
	return cmd
}
