package bridge

import (
	"time"

	"github.com/nerrad567/laurel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/laurel-core/internal/mesh"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = mqtt.Protocol

// CommandMessage asks the bridge to drive one device.
// Topic: laurel/command/mesh/{device}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the device key or name. When empty the last topic segment
	// is used.
	DeviceID string `json:"device_id"`

	// Command is one of "on", "off", "brightness", "temperature", "rgb",
	// "refresh".
	Command string `json:"command"`

	// Parameters contains command-specific values:
	//   {"level": 80} for brightness
	//   {"temperature": 40} for temperature
	//   {"red": 255, "green": 0, "blue": 64} for rgb
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the packet was handed to the mesh session.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command and request failures.
const (
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeTransportError    = "TRANSPORT_ERROR"
	ErrCodeMeshUnreachable   = "MESH_UNREACHABLE"
)

// AckMessage acknowledges a command.
// Topic: laurel/ack/mesh/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LightState is the published state of a light. Fields of the inactive colour
// mode are zero.
type LightState struct {
	On          bool   `json:"on"`
	Brightness  int    `json:"brightness"`
	Mode        string `json:"mode"`
	Temperature int    `json:"temperature"`
	Red         int    `json:"red"`
	Green       int    `json:"green"`
	Blue        int    `json:"blue"`
}

// StateMessage is published when a device's confirmed state changes.
// Topic: laurel/state/mesh/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string     `json:"device_id"`
	Name      string     `json:"name"`
	Mesh      string     `json:"mesh"`
	MeshID    uint16     `json:"mesh_id"`
	Timestamp time.Time  `json:"timestamp"`
	State     LightState `json:"state"`
	Source    string     `json:"source"`
	Protocol  string     `json:"protocol"`
}

// StateOf converts a device snapshot to its published form.
func StateOf(snap mesh.Snapshot) LightState {
	s := LightState{
		On:         snap.Brightness > 0,
		Brightness: int(snap.Brightness),
		Mode:       snap.Mode.String(),
	}
	if snap.Mode == mesh.ModeRGB {
		s.Red, s.Green, s.Blue = int(snap.Red), int(snap.Green), int(snap.Blue)
	} else {
		s.Temperature = int(snap.Temperature)
	}
	return s
}

// NewStateMessage builds the state message for a device from its cache.
func NewStateMessage(d *mesh.Device) StateMessage {
	snap := d.State()
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return StateMessage{
		DeviceID:  d.Key(),
		Name:      d.Name(),
		Mesh:      d.Mesh().Address(),
		MeshID:    d.ID(),
		Timestamp: ts.UTC(),
		State:     StateOf(snap),
		Source:    string(snap.Source),
		Protocol:  Protocol,
	}
}

// RequestMessage asks the bridge for a request/response operation.
// Topic: laurel/request/mesh/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of "read_state", "read_all", "refresh", "connect".
	Action string `json:"action"`

	// DeviceID is required by read_state.
	DeviceID string `json:"device_id,omitempty"`

	// Mesh restricts refresh and connect to one mesh address.
	Mesh string `json:"mesh,omitempty"`
}

// ResponseMessage answers a request.
// Topic: laurel/response/mesh/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: laurel/health/mesh
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version,omitempty"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	Meshes         []MeshHealth `json:"meshes,omitempty"`
	DevicesManaged int          `json:"devices_managed"`
	Reason         string       `json:"reason,omitempty"`
}

// MeshHealth is the per-mesh section of a health message.
type MeshHealth struct {
	Address        string     `json:"address"`
	Status         string     `json:"status"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	Devices        int        `json:"devices"`
	FramesReceived uint64     `json:"frames_received"`
	PacketsSent    uint64     `json:"packets_sent"`
	RecordsDropped uint64     `json:"records_dropped"`
	SessionsLost   uint64     `json:"sessions_lost"`
}

// DiscoveryMessage announces the devices the bridge manages.
// Topic: laurel/discovery/mesh
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice describes one managed device.
type DiscoveredDevice struct {
	DeviceID     string   `json:"device_id"`
	Name         string   `json:"name"`
	Mesh         string   `json:"mesh"`
	MeshID       uint16   `json:"mesh_id"`
	MAC          string   `json:"mac"`
	TypeCode     int      `json:"type"`
	Capabilities []string `json:"capabilities"`
}

// NewAckMessage creates a successful acknowledgement.
func NewAckMessage(cmd CommandMessage, deviceID string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(cmd CommandMessage, deviceID, code, message string) AckMessage {
	ack := NewAckMessage(cmd, deviceID)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewDiscoveredDevice describes d for discovery payloads.
func NewDiscoveredDevice(d *mesh.Device) DiscoveredDevice {
	caps := d.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return DiscoveredDevice{
		DeviceID:     d.Key(),
		Name:         d.Name(),
		Mesh:         d.Mesh().Address(),
		MeshID:       d.ID(),
		MAC:          d.MAC(),
		TypeCode:     int(d.TypeCode()),
		Capabilities: names,
	}
}

// NewLWTMessage creates the offline message the broker publishes if the
// bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

func successResponse(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}
