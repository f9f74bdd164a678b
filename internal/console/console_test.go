package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/laurel-core/internal/bridge"
	"github.com/nerrad567/laurel-core/internal/mesh"
	"github.com/nerrad567/laurel-core/internal/transport/simulator"
)

func newTestConsole(t *testing.T) (*Console, *bytes.Buffer, *simulator.Simulator) {
	t.Helper()

	sim := simulator.New(simulator.Config{
		Lights: []simulator.Light{
			{ID: 1, On: true, Brightness: 50},
			{ID: 2, On: true, Brightness: 100, Mode: mesh.ModeTemperature, Temperature: 60},
		},
	})
	network, err := mesh.NewNetwork([]mesh.MeshSpec{{
		Address:  "4a2c1f",
		Password: "secret",
		Devices: []mesh.DeviceSpec{
			{ID: 1, MAC: "A4:C1:38:00:00:01", TypeCode: 6, Name: "Kitchen"},
			{ID: 2, MAC: "A4:C1:38:00:00:02", TypeCode: 80, Name: "Hall"},
		},
	}}, sim, mesh.NetworkOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { network.Close() })

	var buf bytes.Buffer
	return newConsole(network, &buf), &buf, sim
}

// run executes one line and returns what it printed.
func run(t *testing.T, c *Console, buf *bytes.Buffer, line string) string {
	t.Helper()
	buf.Reset()
	assert.False(t, c.Execute(context.Background(), line), line)
	return buf.String()
}

func TestExecute_General(t *testing.T) {
	c, buf, _ := newTestConsole(t)

	assert.Contains(t, run(t, c, buf, "help"), "Laurel Console Commands")
	assert.Contains(t, run(t, c, buf, "frobnicate"), "Unknown command: frobnicate")
	assert.Empty(t, run(t, c, buf, "   "))

	assert.True(t, c.Execute(context.Background(), "exit"))
	assert.True(t, c.Execute(context.Background(), "QUIT"))
}

func TestExecute_NotConnected(t *testing.T) {
	c, buf, _ := newTestConsole(t)

	out := run(t, c, buf, "list")
	assert.Contains(t, out, "Kitchen")
	assert.Contains(t, out, "unknown")

	assert.Contains(t, run(t, c, buf, "on kitchen"), "mesh 4a2c1f is not connected")
	assert.Contains(t, run(t, c, buf, "meshes"), "disconnected")
	assert.Contains(t, run(t, c, buf, "status"), "4a2c1f: mesh: not connected")
}

func TestExecute_ConnectAndControl(t *testing.T) {
	c, buf, sim := newTestConsole(t)

	assert.Contains(t, run(t, c, buf, "connect nowhere"), "Unknown mesh: nowhere")
	assert.Contains(t, run(t, c, buf, "connect"), "4a2c1f: connected")
	assert.Contains(t, run(t, c, buf, "connect 4a2c1f"), "already connected")

	assert.Contains(t, run(t, c, buf, "brightness kitchen 90"), "Kitchen: ok")
	assert.Contains(t, run(t, c, buf, "rgb a4c138000001 255 0 10"), "Kitchen: ok")
	assert.Contains(t, run(t, c, buf, "temp hall 40"), "Hall: ok")
	assert.Contains(t, run(t, c, buf, "off hall"), "Hall: ok")
	assert.Contains(t, run(t, c, buf, "status kitchen"), "Kitchen: ok")
	assert.Contains(t, run(t, c, buf, "status"), "4a2c1f: status requested")

	require.Eventually(t, func() bool {
		k, _ := sim.Light(1)
		h, _ := sim.Light(2)
		return k.Brightness == 90 && k.Mode == mesh.ModeRGB && k.Blue == 10 &&
			h.Temperature == 40 && !h.On
	}, 2*time.Second, 5*time.Millisecond)

	out := run(t, c, buf, "show kitchen")
	assert.Contains(t, out, "a4c138000001")
	assert.Contains(t, out, "connected")
}

func TestExecute_Rejects(t *testing.T) {
	c, buf, sim := newTestConsole(t)
	run(t, c, buf, "connect")

	tests := []struct {
		line string
		want string
	}{
		{"on", "Usage: on|off <device>"},
		{"on garage", "Unknown device: garage"},
		{"brightness kitchen", "Usage: brightness"},
		{"brightness kitchen 256", "Invalid brightness"},
		{"brightness kitchen -3", "Invalid brightness"},
		{"temp kitchen warm", "Invalid temperature"},
		{"rgb kitchen 1 2", "Usage: rgb"},
		{"rgb kitchen 1 2 999", "Invalid colour channel"},
		{"rgb hall 1 2 3", "Hall has no RGB"},
		{"show", "Usage: show <device>"},
		{"show garage", "Unknown device: garage"},
	}
	for _, tt := range tests {
		assert.Contains(t, run(t, c, buf, tt.line), tt.want, tt.line)
	}

	l, _ := sim.Light(1)
	assert.Equal(t, uint8(50), l.Brightness)
}

func TestPublishState(t *testing.T) {
	c, buf, _ := newTestConsole(t)

	c.PublishState(bridge.StateMessage{
		DeviceID: "a4c138000001",
		Name:     "Kitchen",
		State:    bridge.LightState{On: true, Brightness: 80, Mode: "rgb", Red: 1, Green: 2, Blue: 3},
	})
	assert.Equal(t, "[state] Kitchen (a4c138000001): on 80 rgb(1,2,3)\n", buf.String())

	buf.Reset()
	c.PublishState(bridge.StateMessage{DeviceID: "a4c138000002", Name: "Hall"})
	assert.Equal(t, "[state] Hall (a4c138000002): off\n", buf.String())
}

func TestRun_WithoutTerminal(t *testing.T) {
	c, _, _ := newTestConsole(t)
	assert.Error(t, c.Run(context.Background()))
}
