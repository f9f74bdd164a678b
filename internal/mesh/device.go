package mesh

import (
	"context"
	"strings"
	"sync"
	"time"
)

// StateSource tells whether cached state was reported by the device or
// assumed by a setter.
type StateSource string

const (
	// SourceUnknown means no command or report has been seen yet.
	SourceUnknown StateSource = ""

	// SourceOptimistic marks values written by a setter before any status
	// frame confirmed them.
	SourceOptimistic StateSource = "optimistic"

	// SourceConfirmed marks values taken from a status frame.
	SourceConfirmed StateSource = "confirmed"
)

// Snapshot is a copy of a device's cached state.
type Snapshot struct {
	Brightness  uint8
	Mode        ColorMode
	Temperature uint8
	Red         uint8
	Green       uint8
	Blue        uint8
	Source      StateSource
	UpdatedAt   time.Time
}

// StateListener is notified after a status frame changed a device's cached
// state. Listeners run on the transport's delivery goroutine and must not block.
type StateListener interface {
	OnStateChanged(d *Device)
}

// ListenerFunc adapts a function to StateListener.
type ListenerFunc func(d *Device)

// OnStateChanged calls f(d).
func (f ListenerFunc) OnStateChanged(d *Device) { f(d) }

// MultiListener fans a notification out to several listeners in order.
type MultiListener []StateListener

// OnStateChanged notifies every non-nil listener.
func (m MultiListener) OnStateChanged(d *Device) {
	for _, l := range m {
		if l != nil {
			l.OnStateChanged(d)
		}
	}
}

// DeviceSpec is the directory description of a device.
type DeviceSpec struct {
	ID       uint16
	MAC      string
	TypeCode TypeCode
	Name     string
}

// Device is one addressable light on a mesh.
//
// Setters send a packet and then update the cache optimistically; the
// confirmed value arrives later in a status frame and overwrites it. The cache
// is therefore not authoritative right after a setter returns.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Device struct {
	id       uint16
	mac      string
	typeCode TypeCode
	name     string
	mesh     *Mesh

	mu       sync.RWMutex
	state    Snapshot
	listener StateListener
}

func newDevice(m *Mesh, spec DeviceSpec) *Device {
	return &Device{
		id:       spec.ID,
		mac:      spec.MAC,
		typeCode: spec.TypeCode,
		name:     spec.Name,
		mesh:     m,
	}
}

// ID returns the mesh address of the device.
func (d *Device) ID() uint16 { return d.id }

// MAC returns the colon-separated radio address.
func (d *Device) MAC() string { return d.mac }

// TypeCode returns the directory type code.
func (d *Device) TypeCode() TypeCode { return d.typeCode }

// Name returns the display name.
func (d *Device) Name() string { return d.name }

// Mesh returns the mesh the device belongs to.
func (d *Device) Mesh() *Mesh { return d.mesh }

// Key returns a stable identifier for topics and URLs: the lower-case MAC
// without separators.
func (d *Device) Key() string {
	return strings.ToLower(strings.ReplaceAll(d.mac, ":", ""))
}

// SupportsRGB is derived from the type code on every call.
func (d *Device) SupportsRGB() bool { return SupportsRGB(d.typeCode) }

// SupportsTemperature is derived from the type code on every call.
func (d *Device) SupportsTemperature() bool { return SupportsTemperature(d.typeCode) }

// Capabilities returns the advertised capability list.
func (d *Device) Capabilities() []Capability { return CapabilitiesOf(d.typeCode) }

// State returns a copy of the cached state.
func (d *Device) State() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetListener registers the state listener, replacing any previous one.
// Pass nil to remove it.
func (d *Device) SetListener(l StateListener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

// SetPower switches the device. Power is not cached.
func (d *Device) SetPower(ctx context.Context, on bool) error {
	return d.mesh.Send(ctx, d.id, PowerCommand(on))
}

// SetBrightness sends a brightness command and caches the requested level.
func (d *Device) SetBrightness(ctx context.Context, level uint8) error {
	if err := d.mesh.Send(ctx, d.id, BrightnessCommand(level)); err != nil {
		return err
	}
	d.update(func(s *Snapshot) {
		s.Brightness = level
	})
	return nil
}

// SetTemperature sends a colour temperature command and caches the device
// as being in temperature mode.
func (d *Device) SetTemperature(ctx context.Context, temperature uint8) error {
	if err := d.mesh.Send(ctx, d.id, TemperatureCommand(temperature)); err != nil {
		return err
	}
	d.update(func(s *Snapshot) {
		s.Mode = ModeTemperature
		s.Temperature = temperature
	})
	return nil
}

// SetRGB sends a colour command and caches the device as being in RGB mode.
func (d *Device) SetRGB(ctx context.Context, red, green, blue uint8) error {
	if err := d.mesh.Send(ctx, d.id, RGBCommand(red, green, blue)); err != nil {
		return err
	}
	d.update(func(s *Snapshot) {
		s.Mode = ModeRGB
		s.Red, s.Green, s.Blue = red, green, blue
	})
	return nil
}

// UpdateStatus asks this device alone to report its state.
func (d *Device) UpdateStatus(ctx context.Context) error {
	return d.mesh.Send(ctx, d.id, StatusRequest())
}

// update applies an optimistic change under the device lock.
func (d *Device) update(fn func(s *Snapshot)) {
	d.mu.Lock()
	fn(&d.state)
	d.state.Source = SourceOptimistic
	d.state.UpdatedAt = time.Now()
	d.mu.Unlock()
}

// applyDelta overwrites the cache with a confirmed report. Fields of the
// inactive mode are left as they were. Returns the listener to notify.
func (d *Device) applyDelta(delta StateDelta) StateListener {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.Brightness = delta.Brightness
	d.state.Mode = delta.Mode
	if delta.Mode == ModeRGB {
		d.state.Red, d.state.Green, d.state.Blue = delta.Red, delta.Green, delta.Blue
	} else {
		d.state.Temperature = delta.Temperature
	}
	d.state.Source = SourceConfirmed
	d.state.UpdatedAt = time.Now()

	return d.listener
}
