package directory

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/laurel-core/internal/mesh"
)

// Source supplies mesh records once at startup.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// Record describes one mesh as published by the directory.
type Record struct {
	MeshID      string         `yaml:"mesh_id" json:"mesh_id"`
	MeshAddress string         `yaml:"mesh_address" json:"mesh_address"`
	AccessKey   string         `yaml:"access_key" json:"-"`
	Devices     []DeviceRecord `yaml:"devices" json:"devices"`
}

// DeviceRecord describes one light.
type DeviceRecord struct {
	DeviceID int    `yaml:"device_id" json:"device_id"`
	MAC      string `yaml:"mac" json:"mac"`
	TypeCode int    `yaml:"type" json:"type"`
	Name     string `yaml:"name" json:"name"`
}

// MeshSpec validates the record and converts it for mesh.NewNetwork.
func (r Record) MeshSpec() (mesh.MeshSpec, error) {
	if r.MeshAddress == "" {
		return mesh.MeshSpec{}, fmt.Errorf("%w: mesh %q has no address", ErrInvalidRecord, r.MeshID)
	}

	spec := mesh.MeshSpec{
		Address:  r.MeshAddress,
		Password: r.AccessKey,
		Devices:  make([]mesh.DeviceSpec, 0, len(r.Devices)),
	}
	for _, d := range r.Devices {
		if d.DeviceID < 0 || d.DeviceID > 0xffff {
			return mesh.MeshSpec{}, fmt.Errorf("%w: device %q id %d out of range", ErrInvalidRecord, d.Name, d.DeviceID)
		}
		if d.MAC == "" {
			return mesh.MeshSpec{}, fmt.Errorf("%w: device %q has no mac", ErrInvalidRecord, d.Name)
		}
		spec.Devices = append(spec.Devices, mesh.DeviceSpec{
			ID:       uint16(d.DeviceID),
			MAC:      strings.ToUpper(d.MAC),
			TypeCode: mesh.TypeCode(d.TypeCode),
			Name:     d.Name,
		})
	}
	return spec, nil
}

// MeshSpecs converts every record.
func MeshSpecs(records []Record) ([]mesh.MeshSpec, error) {
	specs := make([]mesh.MeshSpec, 0, len(records))
	for _, r := range records {
		spec, err := r.MeshSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ReverseMAC turns the 12 hex digit wire form into a colon-separated MAC with
// the byte order reversed: "0102030405A6" becomes "A6:05:04:03:02:01".
func ReverseMAC(wire string) (string, error) {
	raw, err := hex.DecodeString(wire)
	if err != nil || len(raw) != 6 {
		return "", fmt.Errorf("%w: mac %q is not 12 hex digits", ErrInvalidRecord, wire)
	}

	parts := make([]string, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		parts = append(parts, strings.ToUpper(hex.EncodeToString(raw[i:i+1])))
	}
	return strings.Join(parts, ":"), nil
}

// MeshIDFromSerial extracts the mesh address of a device from its cloud
// serial: the decimal value of the last three characters.
func MeshIDFromSerial(serial string) (int, error) {
	if len(serial) < 3 {
		return 0, fmt.Errorf("%w: device serial %q too short", ErrInvalidRecord, serial)
	}
	id, err := strconv.Atoi(serial[len(serial)-3:])
	if err != nil {
		return 0, fmt.Errorf("%w: device serial %q: %w", ErrInvalidRecord, serial, err)
	}
	return id, nil
}
