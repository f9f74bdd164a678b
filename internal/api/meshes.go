package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/laurel-core/internal/mesh"
)

// MeshView is the JSON form of a mesh.
type MeshView struct {
	Address        string     `json:"address"`
	State          string     `json:"state"`
	Devices        int        `json:"devices"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	FramesReceived uint64     `json:"frames_received"`
	RecordsApplied uint64     `json:"records_applied"`
	RecordsDropped uint64     `json:"records_dropped"`
	PacketsSent    uint64     `json:"packets_sent"`
	SessionsLost   uint64     `json:"sessions_lost"`
}

func newMeshView(m *mesh.Mesh) MeshView {
	st := m.Stats()
	v := MeshView{
		Address:        m.Address(),
		State:          m.State().String(),
		Devices:        len(m.Devices()),
		FramesReceived: st.FramesReceived,
		RecordsApplied: st.RecordsApplied,
		RecordsDropped: st.RecordsDropped,
		PacketsSent:    st.PacketsSent,
		SessionsLost:   st.SessionsLost,
	}
	if !st.ConnectedSince.IsZero() {
		t := st.ConnectedSince.UTC()
		v.ConnectedSince = &t
	}
	return v
}

// lookupMesh resolves the {address} URL parameter or writes a 404.
func (s *Server) lookupMesh(w http.ResponseWriter, r *http.Request) (*mesh.Mesh, bool) {
	addr := chi.URLParam(r, "address")
	m, ok := s.network.Mesh(addr)
	if !ok {
		writeNotFound(w, "mesh not found: "+addr)
		return nil, false
	}
	return m, true
}

// handleListMeshes lists every mesh with its connection state.
func (s *Server) handleListMeshes(w http.ResponseWriter, _ *http.Request) {
	meshes := s.network.Meshes()
	views := make([]MeshView, 0, len(meshes))
	for _, m := range meshes {
		views = append(views, newMeshView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"meshes": views, "count": len(views)})
}

// handleConnectMesh runs the fallback connect. An already connected mesh
// is reported as is.
func (s *Server) handleConnectMesh(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMesh(w, r)
	if !ok {
		return
	}

	if !m.IsConnected() {
		ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
		defer cancel()

		if err := m.Connect(ctx); err != nil {
			s.logger.Warn("mesh connect failed", "mesh", m.Address(), "error", err)
			writeMeshError(w, err)
			return
		}
		// Ask every device for its state; replies arrive as confirmed frames.
		if err := m.UpdateStatus(ctx); err != nil {
			s.logger.Debug("initial status request failed", "mesh", m.Address(), "error", err)
		}
	}

	writeJSON(w, http.StatusOK, newMeshView(m))
}

// handleRefreshMesh sends a mesh-wide status request.
func (s *Server) handleRefreshMesh(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMesh(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := m.UpdateStatus(ctx); err != nil {
		writeMeshError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"mesh": m.Address(), "status": "requested"})
}
