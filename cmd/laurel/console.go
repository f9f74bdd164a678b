package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/laurel-core/internal/bridge"
	"github.com/nerrad567/laurel-core/internal/console"
	"github.com/nerrad567/laurel-core/internal/infrastructure/config"
	"github.com/nerrad567/laurel-core/internal/infrastructure/logging"
	"github.com/nerrad567/laurel-core/internal/transport/gateway"
)

func consoleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Control lights from an interactive prompt",
		Long: "Opens the mesh directory and drops into a prompt. MQTT and the API are not started;\n" +
			"state changes reported by the lights are printed as they arrive.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			// Startup logs go to stderr until the prompt owns the terminal.
			bootCfg := cfg.Logging
			bootCfg.Output = "stderr"
			log := logging.New(bootCfg, version)

			network, transport, err := buildNetwork(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer network.Close() //nolint:errcheck // best-effort on exit

			daemon, err := startGatewayDaemon(ctx, cfg, transport, log)
			if err != nil {
				return err
			}
			if daemon != nil {
				defer daemon.Stop() //nolint:errcheck // best-effort on exit
			}

			con, err := console.New(network)
			if err != nil {
				return fmt.Errorf("opening console: %w", err)
			}

			log = logging.NewWithWriter(cfg.Logging, version, con.Stdout())
			for _, m := range network.Meshes() {
				m.SetLogger(log.Component("mesh"))
			}
			if gw, ok := transport.(*gateway.Transport); ok {
				gw.SetLogger(log.Component("gateway"))
			}

			b, err := bridge.New(bridge.Options{
				Network:           network,
				Version:           version,
				ReconnectInterval: config.Seconds(cfg.Mesh.ReconnectInterval),
				PollInterval:      config.Seconds(cfg.Mesh.PollInterval),
				Sink:              con,
				Logger:            log.Component("bridge"),
			})
			if err != nil {
				return fmt.Errorf("creating bridge: %w", err)
			}
			if err := b.Start(ctx); err != nil {
				return fmt.Errorf("starting bridge: %w", err)
			}
			defer b.Stop()

			return con.Run(ctx)
		},
	}
}
