package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/laurel-core/internal/directory"
	"github.com/nerrad567/laurel-core/internal/infrastructure/config"
	"github.com/nerrad567/laurel-core/internal/infrastructure/logging"
	"github.com/nerrad567/laurel-core/internal/mesh"
	"github.com/nerrad567/laurel-core/internal/process"
	"github.com/nerrad567/laurel-core/internal/transport/gateway"
	"github.com/nerrad567/laurel-core/internal/transport/simulator"
)

const defaultConfigHint = config.DefaultPath

// loadConfig resolves the config path from the flag and loads it.
func loadConfig(flagValue string) (*config.Config, string, error) {
	path := config.ResolvePath(flagValue)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// newSource returns the directory source selected by the config.
func newSource(cfg *config.Config, log *logging.Logger) directory.Source {
	if cfg.Directory.Source == "file" {
		return directory.FileSource{Path: cfg.Directory.File}
	}

	client := directory.NewCloudClient(directory.CloudConfig{
		BaseURL:  cfg.Directory.Cloud.BaseURL,
		Email:    cfg.Directory.Cloud.Email,
		Password: cfg.Directory.Cloud.Password,
		Timeout:  config.Seconds(cfg.Directory.Cloud.Timeout),
	})
	client.SetLogger(log.Component("directory"))
	return client
}

// loadRecords reads the mesh directory once.
func loadRecords(ctx context.Context, cfg *config.Config, log *logging.Logger) ([]directory.Record, error) {
	records, err := newSource(cfg, log).Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading directory: %w", err)
	}
	return records, nil
}

// newTransport builds the radio transport. The simulator is seeded with one
// light per directory device so every record answers status requests.
func newTransport(cfg *config.Config, records []directory.Record, log *logging.Logger) (mesh.Transport, error) {
	switch cfg.Transport.Type {
	case "simulator":
		log.Warn("using simulated radio transport")
		return simulator.New(simulator.Config{Lights: simulatorLights(records)}), nil

	default:
		gw := cfg.Transport.Gateway
		t, err := gateway.New(gateway.Config{
			Connection:     gw.Connection,
			ConnectTimeout: config.Seconds(gw.ConnectTimeout),
			ReadTimeout:    config.Seconds(gw.ReadTimeout),
			QueueSize:      gw.QueueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gateway transport: %w", err)
		}
		t.SetLogger(log.Component("gateway"))
		return t, nil
	}
}

func simulatorLights(records []directory.Record) []simulator.Light {
	seen := make(map[uint8]bool)
	var lights []simulator.Light
	for _, r := range records {
		for _, d := range r.Devices {
			if d.DeviceID < 1 || d.DeviceID > 0xff || seen[uint8(d.DeviceID)] {
				continue
			}
			seen[uint8(d.DeviceID)] = true
			lights = append(lights, simulator.Light{
				ID:          uint8(d.DeviceID),
				Brightness:  100,
				Mode:        mesh.ModeTemperature,
				Temperature: 50,
			})
		}
	}
	return lights
}

// buildNetwork loads the directory and builds the mesh graph over the
// configured transport.
func buildNetwork(ctx context.Context, cfg *config.Config, log *logging.Logger) (*mesh.Network, mesh.Transport, error) {
	records, err := loadRecords(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	specs, err := directory.MeshSpecs(records)
	if err != nil {
		return nil, nil, fmt.Errorf("reading directory records: %w", err)
	}

	transport, err := newTransport(cfg, records, log)
	if err != nil {
		return nil, nil, err
	}

	network, err := mesh.NewNetwork(specs, transport, mesh.NetworkOptions{
		MeshMode: cfg.Mesh.MeshMode,
		Vendor:   uint16(cfg.Mesh.Vendor), //nolint:gosec // range checked by config.Validate
		Logger:   log.Component("mesh"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building mesh network: %w", err)
	}

	log.Info("mesh network loaded",
		"meshes", len(network.Meshes()),
		"devices", len(network.Devices()),
		"transport", cfg.Transport.Type,
	)
	return network, transport, nil
}

// startGatewayDaemon launches the gateway daemon when the config asks for a
// managed one. It returns a nil manager when the daemon runs externally.
func startGatewayDaemon(ctx context.Context, cfg *config.Config, transport mesh.Transport, log *logging.Logger) (*process.Manager, error) {
	managed := cfg.Transport.Gateway.Managed
	gw, ok := transport.(*gateway.Transport)
	if !ok || !managed.Enabled {
		return nil, nil
	}

	mgr := process.NewManager(process.Config{
		Name:               "gateway-daemon",
		Binary:             managed.Binary,
		Args:               managed.Args,
		RestartDelay:       config.Seconds(managed.RestartDelay),
		MaxRestartAttempts: managed.MaxRestarts,
		Probe:              gw.Probe,
	})
	mgr.SetLogger(log.Component("process"))

	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting gateway daemon: %w", err)
	}
	return mgr, nil
}
