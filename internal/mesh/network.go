package mesh

import (
	"fmt"
	"strings"
)

// MeshSpec is the directory description of one mesh and its members.
type MeshSpec struct {
	Address  string
	Password string
	Devices  []DeviceSpec
}

// NetworkOptions applies to every mesh of a Network.
type NetworkOptions struct {
	MeshMode bool
	Vendor   uint16
	Logger   Logger
}

// Network is the Mesh and Device graph built once from directory records.
// The graph is immutable after NewNetwork returns.
type Network struct {
	meshes  []*Mesh
	byAddr  map[string]*Mesh
	devices []*Device
	byKey   map[string]*Device
}

// NewNetwork builds the graph. Every mesh gets its own session over the
// shared transport.
//
// Returns an error when two meshes share an address or when a mesh carries
// two devices with the same ID.
func NewNetwork(specs []MeshSpec, transport Transport, opts NetworkOptions) (*Network, error) {
	n := &Network{
		byAddr: make(map[string]*Mesh, len(specs)),
		byKey:  make(map[string]*Device),
	}

	for _, spec := range specs {
		if _, dup := n.byAddr[spec.Address]; dup {
			return nil, fmt.Errorf("duplicate mesh address %q", spec.Address)
		}

		m := NewMesh(MeshConfig{
			Address:  spec.Address,
			Password: spec.Password,
			MeshMode: opts.MeshMode,
			Vendor:   opts.Vendor,
		}, transport)
		if opts.Logger != nil {
			m.SetLogger(opts.Logger)
		}

		seen := make(map[uint16]bool, len(spec.Devices))
		for _, ds := range spec.Devices {
			if seen[ds.ID] {
				return nil, fmt.Errorf("mesh %s: duplicate device id %d", spec.Address, ds.ID)
			}
			seen[ds.ID] = true

			// Status records carry a one-byte ID.
			if ds.ID > 0xff && opts.Logger != nil {
				opts.Logger.Warn("device id above 255 will never receive status",
					"mesh", spec.Address,
					"device", ds.Name,
					"id", ds.ID)
			}

			d := m.AddDevice(ds)
			n.devices = append(n.devices, d)
			n.byKey[d.Key()] = d
		}

		n.meshes = append(n.meshes, m)
		n.byAddr[spec.Address] = m
	}
	return n, nil
}

// Meshes returns the meshes in directory order.
func (n *Network) Meshes() []*Mesh {
	out := make([]*Mesh, len(n.meshes))
	copy(out, n.meshes)
	return out
}

// Mesh returns the mesh with the given address.
func (n *Network) Mesh(address string) (*Mesh, bool) {
	m, ok := n.byAddr[address]
	return m, ok
}

// Devices returns every device across all meshes in directory order.
func (n *Network) Devices() []*Device {
	out := make([]*Device, len(n.devices))
	copy(out, n.devices)
	return out
}

// Device looks a device up by Key, by MAC in any notation, or by name
// (case-insensitive).
func (n *Network) Device(ref string) (*Device, error) {
	key := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(ref))
	if d, ok := n.byKey[key]; ok {
		return d, nil
	}
	for _, d := range n.devices {
		if strings.EqualFold(d.name, ref) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, ref)
}

// Close ends every mesh session and returns the first error.
func (n *Network) Close() error {
	var first error
	for _, m := range n.meshes {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
