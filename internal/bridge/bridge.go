package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/laurel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/laurel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/laurel-core/internal/mesh"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a single command send.
	commandTimeout = 5 * time.Second

	// connectTimeout bounds the fallback connect of one mesh.
	connectTimeout = 60 * time.Second

	// DefaultBridgeID identifies this bridge in health and discovery payloads.
	DefaultBridgeID = "laurel-mesh"

	// DefaultStatsInterval is how often mesh counters are recorded.
	DefaultStatsInterval = time.Minute
)

// MQTTClient is the subset of the MQTT client the bridge uses.
// *mqtt.Client satisfies it; tests use a fake.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// StateRecorder stores light state history. *influxdb.Client satisfies it.
// It is optional.
type StateRecorder interface {
	WriteLightState(sample influxdb.LightSample)
	WriteConnectionEvent(meshAddress, state, deviceKey string)
	WriteMeshStats(sample influxdb.MeshSample)
}

// StateSink receives every published state message, e.g. a WebSocket hub.
// It is optional.
type StateSink interface {
	PublishState(msg StateMessage)
}

// Logger is the structured logger the bridge writes to.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Network is the mesh graph to serve. Required.
	Network *mesh.Network

	// MQTTClient publishes state and receives commands. When nil the bridge
	// still supervises meshes and feeds Recorder and Sink.
	MQTTClient MQTTClient

	// BridgeID defaults to DefaultBridgeID.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	// ReconnectInterval retries disconnected meshes; zero disables retries.
	ReconnectInterval time.Duration

	// PollInterval sends mesh-wide status requests; zero disables polling.
	PollInterval time.Duration

	// StatsInterval records mesh counters in Recorder. Defaults to
	// DefaultStatsInterval; ignored without a Recorder.
	StatsInterval time.Duration

	Recorder StateRecorder
	Sink     StateSink
	Logger   Logger
}

// Bridge connects a mesh network to MQTT.
// It handles:
//   - Commands from MQTT, translated to Device setters, with acks
//   - Confirmed device state changes, published as retained state messages
//   - Mesh connection supervision (initial connect, retries, polling)
//   - Health and discovery reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id       string
	network  *mesh.Network
	mqtt     MQTTClient
	health   *HealthReporter
	recorder StateRecorder
	sink     StateSink
	topics   mqtt.Topics

	reconnectInterval time.Duration
	pollInterval      time.Duration
	statsInterval     time.Duration

	// State cache for change detection, keyed by device key.
	stateCache   map[string]LightState
	stateCacheMu sync.Mutex

	// Last observed connection state per mesh address.
	connState   map[string]bool
	connStateMu sync.Mutex

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex

	commandsRx      atomic.Uint64
	commandsFailed  atomic.Uint64
	statesPublished atomic.Uint64
}

// New creates a bridge and registers it as the state listener of every
// device in the network. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Network == nil {
		return nil, ErrNetworkRequired
	}

	id := opts.BridgeID
	if id == "" {
		id = DefaultBridgeID
	}

	statsInterval := opts.StatsInterval
	if statsInterval <= 0 {
		statsInterval = DefaultStatsInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:                id,
		network:           opts.Network,
		mqtt:              opts.MQTTClient,
		recorder:          opts.Recorder,
		sink:              opts.Sink,
		reconnectInterval: opts.ReconnectInterval,
		pollInterval:      opts.PollInterval,
		statsInterval:     statsInterval,
		stateCache:        make(map[string]LightState),
		connState:         make(map[string]bool),
		ctx:               ctx,
		ctxCancel:         cancel,
		logger:            opts.Logger,
	}

	if opts.MQTTClient != nil {
		b.health = NewHealthReporter(HealthReporterConfig{
			BridgeID:  id,
			Version:   opts.Version,
			Interval:  opts.HealthInterval,
			Publisher: opts.MQTTClient,
			Network:   opts.Network,
		})
		if opts.Logger != nil {
			b.health.SetLogger(opts.Logger)
		}
	}

	for _, d := range opts.Network.Devices() {
		d.SetListener(mesh.ListenerFunc(b.onStateChanged))
	}

	return b, nil
}

// Start subscribes to command and request topics, publishes discovery, and
// starts health reporting and mesh supervision. Meshes are connected in the
// background; Start does not wait for them.
func (b *Bridge) Start(ctx context.Context) error {
	if b.mqtt != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}

		commandTopic := b.topics.Commands()
		if err := b.mqtt.Subscribe(commandTopic, 1, b.HandleMessage); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", commandTopic)

		requestTopic := b.topics.Requests()
		if err := b.mqtt.Subscribe(requestTopic, 1, b.HandleMessage); err != nil {
			return fmt.Errorf("subscribe to requests: %w", err)
		}
		b.logInfo("subscribed to requests", "topic", requestTopic)

		if err := b.PublishDiscovery(); err != nil {
			b.logError("failed to publish discovery", err)
		}

		b.health.Start(ctx)
	}

	b.wg.Add(1)
	go b.supervise(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.id,
		"meshes", len(b.network.Meshes()),
		"devices", len(b.network.Devices()))
	return nil
}

// Stop drops the command and request subscriptions, cancels in-flight work,
// stops health reporting and waits for the supervisor. It does not close the
// meshes.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.mqtt != nil {
			for _, topic := range []string{b.topics.Commands(), b.topics.Requests()} {
				if err := b.mqtt.Unsubscribe(topic); err != nil {
					b.logWarn("failed to unsubscribe", "topic", topic, "error", err)
				}
			}
		}

		b.ctxCancel()

		if b.health != nil {
			b.health.Stop()
		}

		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// HandleMessage routes an incoming MQTT message by its category segment:
// laurel/{command|request}/mesh/{id}.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	category, id, ok := mqtt.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	switch category {
	case mqtt.CategoryCommand:
		return b.handleCommand(id, payload)
	case mqtt.CategoryRequest:
		return b.handleRequest(id, payload)
	default:
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTopic, category)
	}
}

// handleCommand executes one command and publishes exactly one ack.
func (b *Bridge) handleCommand(topicDevice string, payload []byte) error {
	b.commandsRx.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(topicDevice, NewAckError(cmd, topicDevice, ErrCodeInvalidParameters, "payload is not valid JSON"))
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	ref := cmd.DeviceID
	if ref == "" {
		ref = topicDevice
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device", ref,
		"command", cmd.Command)

	d, err := b.network.Device(ref)
	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(topicDevice, NewAckError(cmd, ref, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", ref)))
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if code, err := b.executeCommand(ctx, d, cmd); err != nil {
		b.commandsFailed.Add(1)
		b.logWarn("command failed",
			"command_id", cmd.ID,
			"device", d.Key(),
			"code", code,
			"error", err)
		b.publishAck(d.Key(), NewAckError(cmd, d.Key(), code, err.Error()))
		return nil
	}

	b.publishAck(d.Key(), NewAckMessage(cmd, d.Key()))
	return nil
}

// executeCommand translates a command into a Device call. On failure it
// returns the ack error code with the error.
func (b *Bridge) executeCommand(ctx context.Context, d *mesh.Device, cmd CommandMessage) (string, error) {
	var err error

	switch cmd.Command {
	case "on":
		err = d.SetPower(ctx, true)
	case "off":
		err = d.SetPower(ctx, false)
	case "brightness":
		level, perr := levelParam(cmd.Parameters, "level")
		if perr != nil {
			return ErrCodeInvalidParameters, perr
		}
		err = d.SetBrightness(ctx, level)
	case "temperature":
		if !d.SupportsTemperature() {
			return ErrCodeInvalidCommand, fmt.Errorf("device %s has no colour temperature", d.Key())
		}
		t, perr := levelParam(cmd.Parameters, "temperature")
		if perr != nil {
			return ErrCodeInvalidParameters, perr
		}
		err = d.SetTemperature(ctx, t)
	case "rgb":
		if !d.SupportsRGB() {
			return ErrCodeInvalidCommand, fmt.Errorf("device %s has no RGB", d.Key())
		}
		var rgb [3]uint8
		for i, name := range []string{"red", "green", "blue"} {
			v, perr := levelParam(cmd.Parameters, name)
			if perr != nil {
				return ErrCodeInvalidParameters, perr
			}
			rgb[i] = v
		}
		err = d.SetRGB(ctx, rgb[0], rgb[1], rgb[2])
	case "refresh":
		err = d.UpdateStatus(ctx)
	default:
		return ErrCodeInvalidCommand, fmt.Errorf("unknown command: %q", cmd.Command)
	}

	if err != nil {
		return sendErrorCode(err), err
	}
	return "", nil
}

// levelParam reads and validates one 0-255 parameter.
func levelParam(params map[string]any, name string) (uint8, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing %q parameter", name)
	}
	v, err := mesh.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", name, err)
	}
	return v, nil
}

func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, mesh.ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, mesh.ErrInvalidLevel):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeTransportError
	}
}

func (b *Bridge) publishAck(deviceID string, ack AckMessage) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(deviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest answers one request on the response topic.
func (b *Bridge) handleRequest(topicID string, payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if req.RequestID == "" {
		req.RequestID = topicID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read_state":
		resp = b.handleReadState(req)
	case "read_all":
		resp = b.handleReadAll(req)
	case "refresh":
		resp = b.handleRefresh(req)
	case "connect":
		resp = b.handleConnect(req)
	default:
		resp = errorResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	data, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return nil
	}
	if b.mqtt != nil {
		if err := b.mqtt.Publish(b.topics.Response(req.RequestID), data, 1, false); err != nil {
			b.logError("failed to publish response", err)
		}
	}
	return nil
}

// handleReadState returns the cached state of one device. No radio traffic
// is generated; use refresh for that.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req.RequestID, ErrCodeInvalidParameters, "device_id is required")
	}
	d, err := b.network.Device(req.DeviceID)
	if err != nil {
		return errorResponse(req.RequestID, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", req.DeviceID))
	}
	return successResponse(req.RequestID, map[string]any{"state": NewStateMessage(d)})
}

func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	devices := b.network.Devices()
	states := make([]StateMessage, 0, len(devices))
	for _, d := range devices {
		states = append(states, NewStateMessage(d))
	}
	return successResponse(req.RequestID, map[string]any{"devices": states})
}

// handleRefresh sends a mesh-wide status request to every connected mesh,
// or to req.Mesh only.
func (b *Bridge) handleRefresh(req RequestMessage) ResponseMessage {
	meshes, resp, ok := b.requestMeshes(req)
	if !ok {
		return resp
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	polled := 0
	var lastErr error
	for _, m := range meshes {
		if err := m.UpdateStatus(ctx); err != nil {
			lastErr = err
			continue
		}
		polled++
	}
	if polled == 0 && lastErr != nil {
		return errorResponse(req.RequestID, sendErrorCode(lastErr), lastErr.Error())
	}
	return successResponse(req.RequestID, map[string]any{
		"meshes_polled": polled,
		"message":       "status requested, state updates will follow",
	})
}

// handleConnect connects every disconnected mesh, or req.Mesh only.
func (b *Bridge) handleConnect(req RequestMessage) ResponseMessage {
	meshes, resp, ok := b.requestMeshes(req)
	if !ok {
		return resp
	}

	connected := make([]string, 0, len(meshes))
	failed := make(map[string]string)
	for _, m := range meshes {
		if err := b.connectMesh(b.ctx, m); err != nil {
			failed[m.Address()] = err.Error()
			continue
		}
		connected = append(connected, m.Address())
	}

	if len(connected) == 0 && len(failed) > 0 {
		return errorResponse(req.RequestID, ErrCodeMeshUnreachable,
			fmt.Sprintf("%d mesh(es) unreachable", len(failed)))
	}
	data := map[string]any{"connected": connected}
	if len(failed) > 0 {
		data["failed"] = failed
	}
	return successResponse(req.RequestID, data)
}

func (b *Bridge) requestMeshes(req RequestMessage) ([]*mesh.Mesh, ResponseMessage, bool) {
	if req.Mesh == "" {
		return b.network.Meshes(), ResponseMessage{}, true
	}
	m, ok := b.network.Mesh(req.Mesh)
	if !ok {
		return nil, errorResponse(req.RequestID, ErrCodeNotConfigured,
			fmt.Sprintf("mesh %s not configured", req.Mesh)), false
	}
	return []*mesh.Mesh{m}, ResponseMessage{}, true
}

// onStateChanged runs on a transport delivery goroutine after a status frame
// changed d. Unchanged states are not republished.
func (b *Bridge) onStateChanged(d *mesh.Device) {
	msg := NewStateMessage(d)

	if b.stateUnchanged(msg.DeviceID, msg.State) {
		return
	}
	b.statesPublished.Add(1)

	if b.mqtt != nil {
		payload, err := json.Marshal(msg)
		if err != nil {
			b.logError("failed to marshal state", err)
		} else if err := b.mqtt.Publish(b.topics.State(msg.DeviceID), payload, 1, true); err != nil {
			b.logError("failed to publish state", err)
		}
	}

	if b.recorder != nil {
		b.recorder.WriteLightState(influxdb.LightSample{
			MeshAddress: msg.Mesh,
			DeviceKey:   msg.DeviceID,
			Name:        msg.Name,
			On:          msg.State.On,
			Brightness:  msg.State.Brightness,
			Mode:        msg.State.Mode,
			Temperature: msg.State.Temperature,
			Red:         msg.State.Red,
			Green:       msg.State.Green,
			Blue:        msg.State.Blue,
			Time:        msg.Timestamp,
		})
	}

	if b.sink != nil {
		b.sink.PublishState(msg)
	}
}

// stateUnchanged records state and reports whether it equals the last
// published state of the device.
func (b *Bridge) stateUnchanged(deviceID string, state LightState) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	prev, ok := b.stateCache[deviceID]
	if ok && prev == state {
		return true
	}
	b.stateCache[deviceID] = state
	return false
}

// ClearStateCache forgets published states so the next report of every
// device is republished.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	b.stateCache = make(map[string]LightState)
}

// PublishDiscovery publishes the retained list of managed devices.
func (b *Bridge) PublishDiscovery() error {
	if b.mqtt == nil {
		return nil
	}

	devices := b.network.Devices()
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.id,
		Devices:   make([]DiscoveredDevice, 0, len(devices)),
	}
	for _, d := range devices {
		msg.Devices = append(msg.Devices, NewDiscoveredDevice(d))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.mqtt.Publish(b.topics.Discovery(), payload, 1, true)
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// Metrics contains bridge counters for the API.
type Metrics struct {
	MQTTConnected   bool   `json:"mqtt_connected"`
	MeshesConnected int    `json:"meshes_connected"`
	MeshesTotal     int    `json:"meshes_total"`
	DevicesManaged  int    `json:"devices_managed"`
	CommandsRx      uint64 `json:"commands_received"`
	CommandsFailed  uint64 `json:"commands_failed"`
	StatesPublished uint64 `json:"states_published"`
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() Metrics {
	meshes := b.network.Meshes()
	connected := 0
	for _, m := range meshes {
		if m.IsConnected() {
			connected++
		}
	}
	return Metrics{
		MQTTConnected:   b.mqtt != nil && b.mqtt.IsConnected(),
		MeshesConnected: connected,
		MeshesTotal:     len(meshes),
		DevicesManaged:  len(b.network.Devices()),
		CommandsRx:      b.commandsRx.Load(),
		CommandsFailed:  b.commandsFailed.Load(),
		StatesPublished: b.statesPublished.Load(),
	}
}
