package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/laurel-core/internal/auth"
	"github.com/nerrad567/laurel-core/internal/directory"
	"github.com/nerrad567/laurel-core/internal/infrastructure/config"
	"github.com/nerrad567/laurel-core/internal/infrastructure/logging"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const testDirectory = `
meshes:
  - mesh_id: home
    mesh_address: telink_mesh1
    access_key: "secret-key-123"
    devices:
      - {device_id: 1, mac: "A4:C1:38:00:00:01", type: 6, name: Kitchen}
      - {device_id: 2, mac: "A4:C1:38:00:00:02", type: 80, name: Hall}
`

// writeTestConfig writes a simulator-backed config and its directory file
// and returns the config path.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	dirPath := filepath.Join(dir, "directory.yaml")
	if err := os.WriteFile(dirPath, []byte(testDirectory), 0o600); err != nil {
		t.Fatalf("writing directory: %v", err)
	}

	content := `
directory:
  source: file
  file: ` + dirPath + `
transport:
  type: simulator
mesh:
  reconnect_interval: 1
logging:
  level: error
  output: stderr
` + extra

	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// TestRootCmd_Subcommands verifies every subcommand is registered.
func TestRootCmd_Subcommands(t *testing.T) {
	cmd := rootCmd()
	for _, name := range []string{"serve", "devices", "console", "token"} {
		found, _, err := cmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

// TestServe_InvalidConfig verifies serve fails with an invalid config path.
func TestServe_InvalidConfig(t *testing.T) {
	_, err := execute(t, "serve", "--config", "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("serve should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

// TestRun_Simulator verifies run starts against the simulator and shuts
// down cleanly on cancellation.
func TestRun_Simulator(t *testing.T) {
	cfg, err := config.Load(writeTestConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx, cfg, logging.NewWithWriter(cfg.Logging, "test", &bytes.Buffer{})); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestRun_BadDirectory verifies run fails when the directory file is missing.
func TestRun_BadDirectory(t *testing.T) {
	cfg, err := config.Load(writeTestConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Directory.File = filepath.Join(t.TempDir(), "missing.yaml")

	err = run(context.Background(), cfg, logging.NewWithWriter(cfg.Logging, "test", &bytes.Buffer{}))
	if err == nil || !strings.Contains(err.Error(), "loading directory") {
		t.Fatalf("run() error = %v, want directory failure", err)
	}
}

// TestBuildNetwork verifies the graph is built from the directory.
func TestBuildNetwork(t *testing.T) {
	cfg, err := config.Load(writeTestConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	network, _, err := buildNetwork(context.Background(), cfg, logging.NewWithWriter(cfg.Logging, "test", &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("buildNetwork() error = %v", err)
	}
	defer network.Close()

	if got := len(network.Meshes()); got != 1 {
		t.Errorf("meshes = %d, want 1", got)
	}
	d, err := network.Device("kitchen")
	if err != nil {
		t.Fatalf("Device(kitchen) error = %v", err)
	}
	if !d.SupportsRGB() {
		t.Error("Kitchen should support RGB")
	}
}

// TestSimulatorLights verifies one light per valid, unique device ID.
func TestSimulatorLights(t *testing.T) {
	records := []directory.Record{
		{MeshAddress: "a", Devices: []directory.DeviceRecord{{DeviceID: 1}, {DeviceID: 300}, {DeviceID: 0}}},
		{MeshAddress: "b", Devices: []directory.DeviceRecord{{DeviceID: 1}, {DeviceID: 7}}},
	}

	lights := simulatorLights(records)
	if len(lights) != 2 {
		t.Fatalf("lights = %d, want 2", len(lights))
	}
	if lights[0].ID != 1 || lights[1].ID != 7 {
		t.Errorf("light IDs = %d, %d, want 1, 7", lights[0].ID, lights[1].ID)
	}
}

// TestDevicesCmd verifies the listing formats and that access keys are
// never printed.
func TestDevicesCmd(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	tests := []struct {
		format string
		want   []string
	}{
		{"table", []string{"MESH", "telink_mesh1", "Kitchen", "on_off,dim,color_temperature,rgb", "Hall"}},
		{"json", []string{`"mesh_address": "telink_mesh1"`, `"name": "Hall"`}},
		{"yaml", []string{"meshes:", "name: Kitchen"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := execute(t, "devices", "--config", cfgPath, "-o", tt.format)
			if err != nil {
				t.Fatalf("devices error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			if strings.Contains(out, "secret-key-123") {
				t.Errorf("output leaks access key:\n%s", out)
			}
		})
	}
}

// TestDevicesCmd_UnknownFormat verifies an unsupported format is rejected.
func TestDevicesCmd_UnknownFormat(t *testing.T) {
	_, err := execute(t, "devices", "--config", writeTestConfig(t, ""), "-o", "xml")
	if err == nil {
		t.Fatal("devices should reject unknown format")
	}
}

// TestTokenCmd verifies issued tokens parse with the configured secret.
func TestTokenCmd(t *testing.T) {
	cfgPath := writeTestConfig(t, "security:\n  jwt:\n    secret: "+testSecret+"\n")

	out, err := execute(t, "token", "--config", cfgPath, "--subject", "dashboard", "--role", "viewer", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "dashboard" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %s/%s, want dashboard/viewer", claims.Subject, claims.Role)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 5*time.Minute || ttl < 4*time.Minute {
		t.Errorf("token ttl = %v, want ~5m", ttl)
	}
}

// TestTokenCmd_Rejects verifies the command refuses without a secret, a
// subject, or a valid role.
func TestTokenCmd_Rejects(t *testing.T) {
	withSecret := writeTestConfig(t, "security:\n  jwt:\n    secret: "+testSecret+"\n")
	noSecret := writeTestConfig(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{"no secret", []string{"token", "--config", noSecret, "--subject", "x"}},
		{"no subject", []string{"token", "--config", withSecret}},
		{"bad role", []string{"token", "--config", withSecret, "--subject", "x", "--role", "root"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err == nil {
				t.Fatalf("token should fail, got output %q", out)
			}
		})
	}
}

// TestPrintRecords_JSONOmitsKey checks the JSON shape directly.
func TestPrintRecords_JSONOmitsKey(t *testing.T) {
	var buf bytes.Buffer
	records := []directory.Record{{MeshID: "home", MeshAddress: "m", AccessKey: "k"}}
	if err := printRecords(&buf, records, "json"); err != nil {
		t.Fatalf("printRecords() error = %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := decoded[0]["access_key"]; ok {
		t.Error("JSON output contains access_key")
	}
}
