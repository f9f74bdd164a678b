package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/laurel-core/internal/bridge"
	"github.com/nerrad567/laurel-core/internal/mesh"
)

const (
	commandTimeout = 5 * time.Second
	connectTimeout = 60 * time.Second
)

func (c *Console) cmdList() {
	devices := c.network.Devices()
	if len(devices) == 0 {
		c.println("No devices")
		return
	}
	for _, d := range devices {
		c.printf("  %-16s %s  mesh=%s id=%-3d %s\n",
			d.Name(), d.Key(), d.Mesh().Address(), d.ID(), formatSnapshot(d.State()))
	}
}

func (c *Console) cmdMeshes() {
	for _, m := range c.network.Meshes() {
		st := m.Stats()
		c.printf("  %-12s %-12s devices=%d frames=%d sent=%d lost=%d\n",
			m.Address(), m.State(), len(m.Devices()), st.FramesReceived, st.PacketsSent, st.SessionsLost)
	}
}

func (c *Console) cmdConnect(ctx context.Context, args []string) {
	var meshes []*mesh.Mesh
	if len(args) > 0 {
		m, ok := c.network.Mesh(args[0])
		if !ok {
			c.printf("Unknown mesh: %s\n", args[0])
			return
		}
		meshes = append(meshes, m)
	} else {
		meshes = c.network.Meshes()
	}

	for _, m := range meshes {
		if m.IsConnected() {
			c.printf("%s: already connected\n", m.Address())
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := m.Connect(cctx)
		if err == nil {
			err = m.UpdateStatus(cctx)
		}
		cancel()

		if err != nil {
			c.printf("%s: %v\n", m.Address(), err)
			continue
		}
		c.printf("%s: connected\n", m.Address())
	}
}

func (c *Console) cmdPower(ctx context.Context, on bool, args []string) {
	if len(args) != 1 {
		c.println("Usage: on|off <device>")
		return
	}
	c.withDevice(ctx, args[0], func(ctx context.Context, d *mesh.Device) error {
		return d.SetPower(ctx, on)
	})
}

func (c *Console) cmdBrightness(ctx context.Context, args []string) {
	if len(args) != 2 {
		c.println("Usage: brightness <device> <0-255>")
		return
	}
	level, err := mesh.ParseLevel(args[1])
	if err != nil {
		c.printf("Invalid brightness: %v\n", err)
		return
	}
	c.withDevice(ctx, args[0], func(ctx context.Context, d *mesh.Device) error {
		return d.SetBrightness(ctx, level)
	})
}

func (c *Console) cmdTemperature(ctx context.Context, args []string) {
	if len(args) != 2 {
		c.println("Usage: temp <device> <0-255>")
		return
	}
	t, err := mesh.ParseLevel(args[1])
	if err != nil {
		c.printf("Invalid temperature: %v\n", err)
		return
	}
	c.withDevice(ctx, args[0], func(ctx context.Context, d *mesh.Device) error {
		if !d.SupportsTemperature() {
			return fmt.Errorf("%s has no colour temperature", d.Name())
		}
		return d.SetTemperature(ctx, t)
	})
}

func (c *Console) cmdRGB(ctx context.Context, args []string) {
	if len(args) != 4 {
		c.println("Usage: rgb <device> <r> <g> <b>")
		return
	}
	var rgb [3]uint8
	for i, raw := range args[1:] {
		v, err := mesh.ParseLevel(raw)
		if err != nil {
			c.printf("Invalid colour channel: %v\n", err)
			return
		}
		rgb[i] = v
	}
	c.withDevice(ctx, args[0], func(ctx context.Context, d *mesh.Device) error {
		if !d.SupportsRGB() {
			return fmt.Errorf("%s has no RGB", d.Name())
		}
		return d.SetRGB(ctx, rgb[0], rgb[1], rgb[2])
	})
}

func (c *Console) cmdStatus(ctx context.Context, args []string) {
	if len(args) > 0 {
		c.withDevice(ctx, args[0], func(ctx context.Context, d *mesh.Device) error {
			return d.UpdateStatus(ctx)
		})
		return
	}

	for _, m := range c.network.Meshes() {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		err := m.UpdateStatus(cctx)
		cancel()
		if err != nil {
			c.printf("%s: %v\n", m.Address(), err)
			continue
		}
		c.printf("%s: status requested\n", m.Address())
	}
}

func (c *Console) cmdShow(args []string) {
	if len(args) != 1 {
		c.println("Usage: show <device>")
		return
	}
	d, err := c.network.Device(args[0])
	if err != nil {
		c.printf("Unknown device: %s\n", args[0])
		return
	}

	caps := d.Capabilities()
	c.printf("%s\n", d.Name())
	c.printf("  key:          %s\n", d.Key())
	c.printf("  mac:          %s\n", d.MAC())
	c.printf("  mesh:         %s (id %d, %s)\n", d.Mesh().Address(), d.ID(), d.Mesh().State())
	c.printf("  type:         %d %v\n", d.TypeCode(), caps)
	c.printf("  state:        %s\n", formatSnapshot(d.State()))
}

// withDevice resolves ref and runs fn with a command timeout, reporting the
// outcome.
func (c *Console) withDevice(ctx context.Context, ref string, fn func(context.Context, *mesh.Device) error) {
	d, err := c.network.Device(ref)
	if err != nil {
		c.printf("Unknown device: %s\n", ref)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := fn(cctx, d); err != nil {
		if errors.Is(err, mesh.ErrNotConnected) {
			c.printf("%s: mesh %s is not connected (try 'connect')\n", d.Name(), d.Mesh().Address())
			return
		}
		c.printf("%s: %v\n", d.Name(), err)
		return
	}
	c.printf("%s: ok\n", d.Name())
}

func formatSnapshot(snap mesh.Snapshot) string {
	if snap.Source == mesh.SourceUnknown {
		return "unknown"
	}
	return fmt.Sprintf("%s [%s]", formatState(bridge.StateOf(snap)), snap.Source)
}

func formatState(s bridge.LightState) string {
	if !s.On {
		return "off"
	}
	if s.Mode == mesh.ModeRGB.String() {
		return fmt.Sprintf("on %d rgb(%d,%d,%d)", s.Brightness, s.Red, s.Green, s.Blue)
	}
	return fmt.Sprintf("on %d temp %d", s.Brightness, s.Temperature)
}
