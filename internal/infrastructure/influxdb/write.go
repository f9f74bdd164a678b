package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementLightState = "light_state"
	measurementConnection = "mesh_connection"
	measurementMeshStats  = "mesh_stats"
)

// LightSample is one observation of a light's state.
type LightSample struct {
	MeshAddress string
	DeviceKey   string
	Name        string
	On          bool
	Brightness  int
	Mode        string
	Temperature int
	Red         int
	Green       int
	Blue        int
	Time        time.Time
}

// WriteLightState records a light state observation.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Colour fields are written only for the mode they belong to.
func (c *Client) WriteLightState(s LightSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lightStatePoint(s))
}

func lightStatePoint(s LightSample) *write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{
		"on":         s.On,
		"brightness": int64(s.Brightness),
	}
	if s.Mode == "rgb" {
		fields["red"] = int64(s.Red)
		fields["green"] = int64(s.Green)
		fields["blue"] = int64(s.Blue)
	} else {
		fields["temperature"] = int64(s.Temperature)
	}

	return write.NewPoint(
		measurementLightState,
		map[string]string{
			"mesh":   s.MeshAddress,
			"device": s.DeviceKey,
			"name":   s.Name,
			"mode":   s.Mode,
		},
		fields,
		ts,
	)
}

// WriteConnectionEvent records a mesh connection state change.
//
// Parameters:
//   - meshAddress: Mesh the event belongs to
//   - state: New connection state (e.g., "connected", "disconnected")
//   - deviceKey: Device that carried the session, empty when none did
func (c *Client) WriteConnectionEvent(meshAddress, state, deviceKey string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(meshAddress, state, deviceKey, time.Now()))
}

func connectionPoint(meshAddress, state, deviceKey string, ts time.Time) *write.Point {
	connected := int64(0)
	if state == "connected" {
		connected = 1
	}
	return write.NewPoint(
		measurementConnection,
		map[string]string{
			"mesh":  meshAddress,
			"state": state,
		},
		map[string]interface{}{
			"connected": connected,
			"device":    deviceKey,
		},
		ts,
	)
}

// MeshSample is a snapshot of one mesh's session counters. Counters are
// cumulative since process start.
type MeshSample struct {
	MeshAddress     string
	Connected       bool
	FramesReceived  uint64
	StatusFrames    uint64
	RecordsApplied  uint64
	RecordsDropped  uint64
	PacketsSent     uint64
	ConnectAttempts uint64
	SessionsLost    uint64
	Time            time.Time
}

// WriteMeshStats records a counter snapshot for one mesh.
func (c *Client) WriteMeshStats(s MeshSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(meshStatsPoint(s))
}

func meshStatsPoint(s MeshSample) *write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		measurementMeshStats,
		map[string]string{"mesh": s.MeshAddress},
		map[string]interface{}{
			"connected":        s.Connected,
			"frames_received":  s.FramesReceived,
			"status_frames":    s.StatusFrames,
			"records_applied":  s.RecordsApplied,
			"records_dropped":  s.RecordsDropped,
			"packets_sent":     s.PacketsSent,
			"connect_attempts": s.ConnectAttempts,
			"sessions_lost":    s.SessionsLost,
		},
		ts,
	)
}
