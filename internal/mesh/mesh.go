package mesh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the connection state of a Mesh.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MeshConfig describes a mesh network.
type MeshConfig struct {
	// Address is the mesh network identifier.
	Address string

	// Password is the shared secret (access key).
	Password string

	// MeshMode is passed to every session attempt.
	MeshMode bool

	// Vendor defaults to DefaultVendor.
	Vendor uint16
}

// Stats holds mesh counters.
type Stats struct {
	FramesReceived  uint64
	StatusFrames    uint64
	RecordsApplied  uint64
	RecordsDropped  uint64
	PacketsSent     uint64
	ConnectAttempts uint64
	SessionsLost    uint64
	ConnectedSince  time.Time
}

// Mesh owns the single transport session shared by all its devices.
//
// Connect tries the devices in directory order until one accepts a session.
// A lost session returns the mesh to Disconnected; the mesh never reconnects
// by itself.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Connect calls are serialized, so at most one session exists.
type Mesh struct {
	cfg       MeshConfig
	transport Transport

	// devices is append-only; index maps wire IDs to devices.
	devMu   sync.RWMutex
	devices []*Device
	index   map[uint16]*Device

	connectMu sync.Mutex

	sessMu         sync.RWMutex
	session        Session
	generation     uint64
	state          ConnState
	connectedSince time.Time

	logger   Logger
	loggerMu sync.RWMutex

	framesReceived  atomic.Uint64
	statusFrames    atomic.Uint64
	recordsApplied  atomic.Uint64
	recordsDropped  atomic.Uint64
	packetsSent     atomic.Uint64
	connectAttempts atomic.Uint64
	sessionsLost    atomic.Uint64
}

// NewMesh creates a disconnected mesh with no devices.
func NewMesh(cfg MeshConfig, transport Transport) *Mesh {
	if cfg.Vendor == 0 {
		cfg.Vendor = DefaultVendor
	}
	return &Mesh{
		cfg:       cfg,
		transport: transport,
		index:     make(map[uint16]*Device),
	}
}

// Address returns the mesh network identifier.
func (m *Mesh) Address() string { return m.cfg.Address }

// AddDevice appends a device. Devices cannot be removed.
func (m *Mesh) AddDevice(spec DeviceSpec) *Device {
	d := newDevice(m, spec)

	m.devMu.Lock()
	m.devices = append(m.devices, d)
	if _, dup := m.index[spec.ID]; !dup {
		m.index[spec.ID] = d
	}
	m.devMu.Unlock()

	return d
}

// Devices returns the devices in directory order.
func (m *Mesh) Devices() []*Device {
	m.devMu.RLock()
	defer m.devMu.RUnlock()
	out := make([]*Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// DeviceByID returns the device with the given mesh address.
func (m *Mesh) DeviceByID(id uint16) (*Device, bool) {
	m.devMu.RLock()
	defer m.devMu.RUnlock()
	d, ok := m.index[id]
	return d, ok
}

// State returns the current connection state.
func (m *Mesh) State() ConnState {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	return m.state
}

// IsConnected reports whether a session is live.
func (m *Mesh) IsConnected() bool {
	return m.State() == Connected
}

// Connect opens a session through the first device that accepts one.
//
// It is a no-op when already connected. Failed attempts are logged and the
// next device is tried; the loop always runs to the first success or to the
// end of the device list. When every attempt fails the mesh stays
// disconnected and an *UnreachableError is returned.
func (m *Mesh) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.sessMu.Lock()
	if m.state == Connected {
		m.sessMu.Unlock()
		return nil
	}
	m.state = Connecting
	m.sessMu.Unlock()

	var attempts []AttemptError
	for _, d := range m.Devices() {
		m.connectAttempts.Add(1)

		sess, handler, err := m.attempt(ctx, d)
		if err == nil {
			err = m.install(sess, handler)
		}
		if err != nil {
			m.logWarn("failed to connect through device",
				"mesh", m.cfg.Address,
				"device", d.name,
				"mac", d.mac,
				"error", err)
			attempts = append(attempts, AttemptError{MAC: d.mac, Err: err})
			continue
		}

		m.logInfo("mesh connected",
			"mesh", m.cfg.Address,
			"device", d.name,
			"mac", d.mac,
			"attempts", len(attempts)+1)
		return nil
	}

	m.sessMu.Lock()
	m.state = Disconnected
	m.sessMu.Unlock()

	return &UnreachableError{Address: m.cfg.Address, Attempts: attempts}
}

// attempt opens one session through d.
func (m *Mesh) attempt(ctx context.Context, d *Device) (Session, *sessionHandler, error) {
	m.sessMu.Lock()
	m.generation++
	handler := &sessionHandler{mesh: m, generation: m.generation}
	m.sessMu.Unlock()

	params := ConnectParams{
		MeshAddress: m.cfg.Address,
		DeviceMAC:   d.mac,
		Password:    m.cfg.Password,
		MeshMode:    m.cfg.MeshMode,
		Vendor:      m.cfg.Vendor,
	}

	sess, err := m.transport.Connect(ctx, params, handler)
	if err != nil {
		return nil, nil, err
	}
	return sess, handler, nil
}

// install makes sess the active session. The loss check and the install
// share one critical section: a loss reported before it is seen here, and
// one reported after it finds the session installed and tears it down.
func (m *Mesh) install(sess Session, handler *sessionHandler) error {
	m.sessMu.Lock()
	if lostErr := handler.lostError(); lostErr != nil {
		m.sessMu.Unlock()
		sess.Close() //nolint:errcheck // session is already dead
		return lostErr
	}
	m.session = sess
	m.generation = handler.generation
	m.state = Connected
	m.connectedSince = time.Now()
	m.sessMu.Unlock()
	return nil
}

// SendPacket forwards a packet verbatim to the session.
func (m *Mesh) SendPacket(ctx context.Context, target uint16, opcode byte, params []byte) error {
	m.sessMu.RLock()
	sess := m.session
	m.sessMu.RUnlock()

	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.SendPacket(ctx, target, opcode, params); err != nil {
		return err
	}
	m.packetsSent.Add(1)
	return nil
}

// Send forwards an encoded command to target.
func (m *Mesh) Send(ctx context.Context, target uint16, cmd Command) error {
	return m.SendPacket(ctx, target, cmd.Opcode, cmd.Params)
}

// UpdateStatus asks every device on the mesh to report its state.
func (m *Mesh) UpdateStatus(ctx context.Context) error {
	return m.Send(ctx, BroadcastID, StatusRequest())
}

// HandleFrame decodes an inbound frame and updates the matching devices.
// Listeners are notified after every record of the frame has been applied.
func (m *Mesh) HandleFrame(frame []byte) {
	m.framesReceived.Add(1)

	deltas := DecodeStatus(frame)
	if len(deltas) == 0 {
		return
	}
	m.statusFrames.Add(1)

	type notification struct {
		device   *Device
		listener StateListener
	}
	var pending []notification

	for _, delta := range deltas {
		d, ok := m.DeviceByID(uint16(delta.DeviceID))
		if !ok {
			m.recordsDropped.Add(1)
			continue
		}
		listener := d.applyDelta(delta)
		m.recordsApplied.Add(1)

		if listener == nil {
			continue
		}
		seen := false
		for _, p := range pending {
			if p.device == d {
				seen = true
				break
			}
		}
		if !seen {
			pending = append(pending, notification{device: d, listener: listener})
		}
	}

	for _, p := range pending {
		p.listener.OnStateChanged(p.device)
	}
}

// HandleSessionLost satisfies SessionHandler for callers driving a Mesh
// directly. Transports receive a per-session handler from Connect instead.
func (m *Mesh) HandleSessionLost(err error) {
	m.sessMu.RLock()
	gen := m.generation
	m.sessMu.RUnlock()
	m.sessionLost(gen, err)
}

func (m *Mesh) sessionLost(generation uint64, err error) {
	m.sessMu.Lock()
	if generation != m.generation || m.session == nil {
		m.sessMu.Unlock()
		return
	}
	m.session = nil
	m.state = Disconnected
	m.connectedSince = time.Time{}
	m.sessMu.Unlock()

	m.sessionsLost.Add(1)
	m.logWarn("mesh session lost", "mesh", m.cfg.Address, "error", err)
}

// Close ends the session, if any. The mesh can be connected again afterwards.
func (m *Mesh) Close() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.sessMu.Lock()
	sess := m.session
	m.session = nil
	m.generation++
	m.state = Disconnected
	m.connectedSince = time.Time{}
	m.sessMu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Stats returns a snapshot of the mesh counters.
func (m *Mesh) Stats() Stats {
	m.sessMu.RLock()
	since := m.connectedSince
	m.sessMu.RUnlock()

	return Stats{
		FramesReceived:  m.framesReceived.Load(),
		StatusFrames:    m.statusFrames.Load(),
		RecordsApplied:  m.recordsApplied.Load(),
		RecordsDropped:  m.recordsDropped.Load(),
		PacketsSent:     m.packetsSent.Load(),
		ConnectAttempts: m.connectAttempts.Load(),
		SessionsLost:    m.sessionsLost.Load(),
		ConnectedSince:  since,
	}
}

// SetLogger sets the logger for this mesh.
func (m *Mesh) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Mesh) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Mesh) logInfo(msg string, keysAndValues ...any) {
	if l := m.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (m *Mesh) logWarn(msg string, keysAndValues ...any) {
	if l := m.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

// sessionHandler binds inbound traffic to one session attempt so that a late
// failure report from an old session cannot tear down a newer one.
type sessionHandler struct {
	mesh       *Mesh
	generation uint64

	mu   sync.Mutex
	lost error
}

func (h *sessionHandler) HandleFrame(frame []byte) {
	h.mesh.HandleFrame(frame)
}

func (h *sessionHandler) HandleSessionLost(err error) {
	h.mu.Lock()
	if h.lost == nil {
		h.lost = err
		if h.lost == nil {
			h.lost = ErrNotConnected
		}
	}
	h.mu.Unlock()
	h.mesh.sessionLost(h.generation, err)
}

func (h *sessionHandler) lostError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lost
}
