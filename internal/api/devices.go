package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/laurel-core/internal/bridge"
	"github.com/nerrad567/laurel-core/internal/mesh"
)

// DeviceView is the JSON form of a device and its cached state.
type DeviceView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	MAC          string            `json:"mac"`
	Mesh         string            `json:"mesh"`
	MeshID       uint16            `json:"mesh_id"`
	TypeCode     int               `json:"type_code"`
	Capabilities []string          `json:"capabilities"`
	Connected    bool              `json:"connected"`
	State        bridge.LightState `json:"state"`
	Source       string            `json:"source,omitempty"`
	UpdatedAt    *time.Time        `json:"updated_at,omitempty"`
}

// StateRequest is the body of PUT /devices/{id}/state. Every field is
// optional but at least one must be set. Levels are 0-255; values outside
// that range are rejected.
type StateRequest struct {
	On          *bool `json:"on,omitempty"`
	Brightness  any   `json:"brightness,omitempty"`
	Temperature any   `json:"temperature,omitempty"`
	RGB         []any `json:"rgb,omitempty"`
}

// stateChange is a validated StateRequest.
type stateChange struct {
	on          *bool
	brightness  *uint8
	temperature *uint8
	rgb         *[3]uint8
}

func newDeviceView(d *mesh.Device) DeviceView {
	snap := d.State()
	caps := d.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}

	v := DeviceView{
		ID:           d.Key(),
		Name:         d.Name(),
		MAC:          d.MAC(),
		Mesh:         d.Mesh().Address(),
		MeshID:       d.ID(),
		TypeCode:     int(d.TypeCode()),
		Capabilities: names,
		Connected:    d.Mesh().IsConnected(),
		State:        bridge.StateOf(snap),
		Source:       string(snap.Source),
	}
	if !snap.UpdatedAt.IsZero() {
		t := snap.UpdatedAt.UTC()
		v.UpdatedAt = &t
	}
	return v
}

// lookupDevice resolves the {id} URL parameter or writes a 404.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*mesh.Device, bool) {
	id := chi.URLParam(r, "id")
	d, err := s.network.Device(id)
	if err != nil {
		writeNotFound(w, "device not found: "+id)
		return nil, false
	}
	return d, true
}

// handleListDevices lists every device. The optional mesh query parameter
// filters by mesh address.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.network.Devices()

	if addr := r.URL.Query().Get("mesh"); addr != "" {
		m, ok := s.network.Mesh(addr)
		if !ok {
			writeNotFound(w, "mesh not found: "+addr)
			return
		}
		devices = m.Devices()
	}

	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, newDeviceView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(d))
}

// handleSetDeviceState applies a state change through the device setters.
// The response carries the cached state after the sends, which is
// optimistic until the device reports back.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req StateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	change, err := validateStateRequest(d, req)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	applied, err := applyStateChange(ctx, d, change)
	if err != nil {
		s.logger.Warn("device command failed",
			"device", d.Key(),
			"applied", applied,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeMeshError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"device":  newDeviceView(d),
	})
}

// handleRefreshDevice asks one device to report its status.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := d.UpdateStatus(ctx); err != nil {
		writeMeshError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"device_id": d.Key(), "status": "requested"})
}

// validateStateRequest checks ranges and capabilities before anything is
// sent, so a bad request never leaves a partial change behind.
func validateStateRequest(d *mesh.Device, req StateRequest) (stateChange, error) {
	var c stateChange

	if req.On == nil && req.Brightness == nil && req.Temperature == nil && req.RGB == nil {
		return c, errors.New("at least one of on, brightness, temperature or rgb is required")
	}

	c.on = req.On

	if req.Brightness != nil {
		v, err := mesh.ParseLevel(req.Brightness)
		if err != nil {
			return c, fmt.Errorf("brightness: %w", err)
		}
		c.brightness = &v
	}

	if req.Temperature != nil {
		if !d.SupportsTemperature() {
			return c, fmt.Errorf("device %s has no colour temperature", d.Key())
		}
		v, err := mesh.ParseLevel(req.Temperature)
		if err != nil {
			return c, fmt.Errorf("temperature: %w", err)
		}
		c.temperature = &v
	}

	if req.RGB != nil {
		if !d.SupportsRGB() {
			return c, fmt.Errorf("device %s has no RGB", d.Key())
		}
		if req.Temperature != nil {
			return c, errors.New("temperature and rgb are mutually exclusive")
		}
		if len(req.RGB) != 3 {
			return c, fmt.Errorf("rgb: want 3 channels, got %d", len(req.RGB))
		}
		var rgb [3]uint8
		for i, raw := range req.RGB {
			v, err := mesh.ParseLevel(raw)
			if err != nil {
				return c, fmt.Errorf("rgb[%d]: %w", i, err)
			}
			rgb[i] = v
		}
		c.rgb = &rgb
	}

	return c, nil
}

// applyStateChange sends the change in a fixed order: power, brightness,
// colour. It stops at the first failure and returns what was applied.
func applyStateChange(ctx context.Context, d *mesh.Device, c stateChange) ([]string, error) {
	applied := []string{}

	if c.on != nil {
		if err := d.SetPower(ctx, *c.on); err != nil {
			return applied, err
		}
		applied = append(applied, "on")
	}
	if c.brightness != nil {
		if err := d.SetBrightness(ctx, *c.brightness); err != nil {
			return applied, err
		}
		applied = append(applied, "brightness")
	}
	if c.temperature != nil {
		if err := d.SetTemperature(ctx, *c.temperature); err != nil {
			return applied, err
		}
		applied = append(applied, "temperature")
	}
	if c.rgb != nil {
		if err := d.SetRGB(ctx, c.rgb[0], c.rgb[1], c.rgb[2]); err != nil {
			return applied, err
		}
		applied = append(applied, "rgb")
	}
	return applied, nil
}
