package bridge

import (
	"context"
	"time"

	"github.com/nerrad567/laurel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/laurel-core/internal/mesh"
)

// supervise connects every mesh once, then retries disconnected meshes every
// reconnectInterval and polls connected meshes every pollInterval. A zero
// interval disables the corresponding loop. With a recorder, mesh counters
// are written every statsInterval.
func (b *Bridge) supervise(ctx context.Context) {
	defer b.wg.Done()

	b.connectAll(ctx)

	var reconnectC, pollC, statsC <-chan time.Time
	if b.reconnectInterval > 0 {
		t := time.NewTicker(b.reconnectInterval)
		defer t.Stop()
		reconnectC = t.C
	}
	if b.pollInterval > 0 {
		t := time.NewTicker(b.pollInterval)
		defer t.Stop()
		pollC = t.C
	}
	if b.recorder != nil {
		t := time.NewTicker(b.statsInterval)
		defer t.Stop()
		statsC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		case <-reconnectC:
			b.connectAll(ctx)
		case <-pollC:
			b.pollAll(ctx)
		case <-statsC:
			b.recordStats()
		}
	}
}

// connectAll connects every disconnected mesh. Failures are logged; the
// next tick retries them.
func (b *Bridge) connectAll(ctx context.Context) {
	for _, m := range b.network.Meshes() {
		if ctx.Err() != nil || b.ctx.Err() != nil {
			return
		}
		if m.IsConnected() {
			b.observeConnection(m)
			continue
		}
		if err := b.connectMesh(ctx, m); err != nil {
			b.logWarn("mesh connect failed", "mesh", m.Address(), "error", err)
		}
	}
}

// connectMesh connects m and asks it for a full status report so the state
// cache fills in.
func (b *Bridge) connectMesh(ctx context.Context, m *mesh.Mesh) error {
	if m.IsConnected() {
		return nil
	}
	// Record a loss that happened since the last look.
	b.observeConnection(m)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	err := m.Connect(connectCtx)
	b.observeConnection(m)
	if err != nil {
		return err
	}

	if err := m.UpdateStatus(connectCtx); err != nil {
		b.logWarn("initial status request failed", "mesh", m.Address(), "error", err)
	}
	return nil
}

// pollAll sends a mesh-wide status request to every connected mesh and
// records meshes that dropped since the last look.
func (b *Bridge) pollAll(ctx context.Context) {
	for _, m := range b.network.Meshes() {
		if !m.IsConnected() {
			b.observeConnection(m)
			continue
		}
		pollCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		if err := m.UpdateStatus(pollCtx); err != nil {
			b.logWarn("status poll failed", "mesh", m.Address(), "error", err)
		}
		cancel()
	}
}

// observeConnection records a connect or disconnect of m once per change,
// in the recorder and in a fresh health message.
func (b *Bridge) observeConnection(m *mesh.Mesh) {
	connected := m.IsConnected()

	b.connStateMu.Lock()
	prev, seen := b.connState[m.Address()]
	b.connState[m.Address()] = connected
	b.connStateMu.Unlock()

	if seen && prev == connected {
		return
	}
	if !seen && !connected {
		// First observation of a mesh that never connected.
		return
	}

	state := "disconnected"
	if connected {
		state = "connected"
	}
	b.logInfo("mesh connection changed", "mesh", m.Address(), "state", state)

	if b.recorder != nil {
		b.recorder.WriteConnectionEvent(m.Address(), state, "")
	}
	if b.health != nil {
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	}
}

// recordStats writes one counter snapshot per mesh.
func (b *Bridge) recordStats() {
	now := time.Now()
	for _, m := range b.network.Meshes() {
		st := m.Stats()
		b.recorder.WriteMeshStats(influxdb.MeshSample{
			MeshAddress:     m.Address(),
			Connected:       m.IsConnected(),
			FramesReceived:  st.FramesReceived,
			StatusFrames:    st.StatusFrames,
			RecordsApplied:  st.RecordsApplied,
			RecordsDropped:  st.RecordsDropped,
			PacketsSent:     st.PacketsSent,
			ConnectAttempts: st.ConnectAttempts,
			SessionsLost:    st.SessionsLost,
			Time:            now,
		})
	}
}
