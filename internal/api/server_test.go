package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/laurel-core/internal/auth"
	"github.com/nerrad567/laurel-core/internal/bridge"
	"github.com/nerrad567/laurel-core/internal/infrastructure/config"
	"github.com/nerrad567/laurel-core/internal/infrastructure/logging"
	"github.com/nerrad567/laurel-core/internal/mesh"
	"github.com/nerrad567/laurel-core/internal/transport/simulator"
)

const (
	testMesh   = "4a2c1f"
	kitchenKey = "a4c138000001" // RGB
	hallKey    = "a4c138000002" // tunable white
	testSecret = "test-secret-key-at-least-32-characters-long"
)

type testEnv struct {
	srv     *Server
	sim     *simulator.Simulator
	network *mesh.Network
	handler http.Handler
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	sim := simulator.New(simulator.Config{
		Lights: []simulator.Light{
			{ID: 1, On: true, Brightness: 50, Mode: mesh.ModeTemperature, Temperature: 30},
			{ID: 2, On: true, Brightness: 100, Mode: mesh.ModeTemperature, Temperature: 60},
		},
	})
	network, err := mesh.NewNetwork([]mesh.MeshSpec{{
		Address:  testMesh,
		Password: "secret",
		Devices: []mesh.DeviceSpec{
			{ID: 1, MAC: "A4:C1:38:00:00:01", TypeCode: 6, Name: "Kitchen"},
			{ID: 2, MAC: "A4:C1:38:00:00:02", TypeCode: 80, Name: "Hall"},
		},
	}}, sim, mesh.NetworkOptions{})
	if err != nil {
		t.Fatalf("NewNetwork() error = %v", err)
	}
	t.Cleanup(func() { network.Close() })

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			Panel:    config.PanelConfig{Enabled: true},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, AccessTokenTTL: 15},
		},
		Logger:  log,
		Network: network,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return &testEnv{srv: srv, sim: sim, network: network, handler: srv.buildRouter()}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	m, _ := e.network.Mesh(testMesh)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return v
}

func mustToken(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, "test", role, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Default()
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without network should fail")
	}
	if _, err := New(Deps{Network: &mesh.Network{}}); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["status"] != "degraded" || body["version"] != "test" {
		t.Errorf("health before connect = %v", body)
	}

	env.connect(t)
	body = decode[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/health", "", ""))
	if body["status"] != "ok" || body["meshes_connected"] != float64(1) {
		t.Errorf("health after connect = %v", body)
	}
}

func TestPanel(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rr := env.do(t, http.MethodGet, "/", "", "")
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/panel/" {
		t.Errorf("GET / = %d %q, want redirect to /panel/", rr.Code, rr.Header().Get("Location"))
	}

	rr = env.do(t, http.MethodGet, "/panel/", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "<!DOCTYPE html>") {
		t.Errorf("GET /panel/ = %d, want the panel page without a token", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/panel/app.js", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("GET /panel/app.js = %d, want 200", rr.Code)
	}
}

func TestListAndGetDevices(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodGet, "/api/v1/devices", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	list := decode[struct {
		Devices []DeviceView `json:"devices"`
		Count   int          `json:"count"`
	}](t, rr)
	if list.Count != 2 || list.Devices[0].ID != kitchenKey || list.Devices[0].Mesh != testMesh {
		t.Errorf("devices = %+v", list)
	}
	if caps := list.Devices[1].Capabilities; len(caps) != 3 || caps[2] != "color_temperature" {
		t.Errorf("hall capabilities = %v", caps)
	}

	for _, ref := range []string{kitchenKey, "A4:C1:38:00:00:01", "kitchen"} {
		rr := env.do(t, http.MethodGet, "/api/v1/devices/"+ref, "", "")
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", ref, rr.Code)
			continue
		}
		if v := decode[DeviceView](t, rr); v.Name != "Kitchen" || v.UpdatedAt != nil {
			t.Errorf("GET %s = %+v", ref, v)
		}
	}

	if rr := env.do(t, http.MethodGet, "/api/v1/devices/garage", "", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/devices?mesh=nope", "", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown mesh filter status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/devices?mesh="+testMesh, "", ""); rr.Code != http.StatusOK {
		t.Errorf("mesh filter status = %d, want 200", rr.Code)
	}
}

func TestMeshes(t *testing.T) {
	env := newTestEnv(t, "")

	list := decode[struct {
		Meshes []MeshView `json:"meshes"`
	}](t, env.do(t, http.MethodGet, "/api/v1/meshes", "", ""))
	if len(list.Meshes) != 1 || list.Meshes[0].State != "disconnected" || list.Meshes[0].Devices != 2 {
		t.Errorf("meshes = %+v", list.Meshes)
	}

	if rr := env.do(t, http.MethodPost, "/api/v1/meshes/"+testMesh+"/refresh", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("refresh before connect status = %d, want 503", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/meshes/"+testMesh+"/connect", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("connect status = %d: %s", rr.Code, rr.Body.String())
	}
	if v := decode[MeshView](t, rr); v.State != "connected" || v.ConnectedSince == nil {
		t.Errorf("connect response = %+v", v)
	}

	// The initial status request fills the cache with confirmed state.
	d, _ := env.network.Device(hallKey)
	waitFor(t, "confirmed hall state", func() bool {
		return d.State().Source == mesh.SourceConfirmed
	})

	if rr := env.do(t, http.MethodPost, "/api/v1/meshes/"+testMesh+"/refresh", "", ""); rr.Code != http.StatusAccepted {
		t.Errorf("refresh status = %d, want 202", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/v1/meshes/other/connect", "", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown mesh status = %d, want 404", rr.Code)
	}
}

func TestConnectMesh_Unreachable(t *testing.T) {
	env := newTestEnv(t, "")
	env.sim.SetReachable("A4:C1:38:00:00:01", false)
	env.sim.SetReachable("A4:C1:38:00:00:02", false)

	rr := env.do(t, http.MethodPost, "/api/v1/meshes/"+testMesh+"/connect", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if e := decode[Error](t, rr); e.Code != ErrCodeMeshUnreachable {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeMeshUnreachable)
	}
}

func TestSetDeviceState(t *testing.T) {
	env := newTestEnv(t, "")
	path := "/api/v1/devices/" + kitchenKey + "/state"

	rr := env.do(t, http.MethodPut, path, `{"brightness":80}`, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("before connect status = %d, want 503", rr.Code)
	}
	if e := decode[Error](t, rr); e.Code != ErrCodeNotConnected {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotConnected)
	}

	env.connect(t)

	rr = env.do(t, http.MethodPut, path, `{"on":true,"brightness":80,"rgb":[255,0,"128"]}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[struct {
		Applied []string   `json:"applied"`
		Device  DeviceView `json:"device"`
	}](t, rr)
	if strings.Join(resp.Applied, ",") != "on,brightness,rgb" {
		t.Errorf("applied = %v", resp.Applied)
	}
	if resp.Device.State.Brightness != 80 || resp.Device.State.Mode != "rgb" {
		t.Errorf("state = %+v", resp.Device.State)
	}

	waitFor(t, "simulated light", func() bool {
		l, _ := env.sim.Light(1)
		return l.Brightness == 80 && l.Mode == mesh.ModeRGB && l.Blue == 128
	})
}

func TestSetDeviceState_Rejected(t *testing.T) {
	env := newTestEnv(t, "")
	env.connect(t)

	tests := []struct {
		name   string
		device string
		body   string
		want   int
	}{
		{"invalid json", kitchenKey, `{`, http.StatusBadRequest},
		{"unknown field", kitchenKey, `{"level":3}`, http.StatusBadRequest},
		{"empty", kitchenKey, `{}`, http.StatusUnprocessableEntity},
		{"brightness too high", kitchenKey, `{"brightness":256}`, http.StatusUnprocessableEntity},
		{"negative brightness", kitchenKey, `{"brightness":-1}`, http.StatusUnprocessableEntity},
		{"fractional brightness", kitchenKey, `{"brightness":1.5}`, http.StatusUnprocessableEntity},
		{"rgb wrong length", kitchenKey, `{"rgb":[1,2]}`, http.StatusUnprocessableEntity},
		{"rgb out of range", kitchenKey, `{"rgb":[1,2,300]}`, http.StatusUnprocessableEntity},
		{"rgb and temperature", kitchenKey, `{"rgb":[1,2,3],"temperature":4}`, http.StatusUnprocessableEntity},
		{"rgb unsupported", hallKey, `{"rgb":[1,2,3]}`, http.StatusUnprocessableEntity},
		{"unknown device", "garage", `{"on":true}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPut, "/api/v1/devices/"+tt.device+"/state", tt.body, "")
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	// Nothing was sent: the simulated light keeps its seed state.
	if l, _ := env.sim.Light(1); l.Brightness != 50 || l.Mode != mesh.ModeTemperature {
		t.Errorf("light changed by rejected requests: %+v", l)
	}
}

func TestRefreshDevice(t *testing.T) {
	env := newTestEnv(t, "")

	if rr := env.do(t, http.MethodPost, "/api/v1/devices/hall/refresh", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("before connect status = %d, want 503", rr.Code)
	}

	env.connect(t)
	if rr := env.do(t, http.MethodPost, "/api/v1/devices/hall/refresh", "", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}

	d, _ := env.network.Device(hallKey)
	waitFor(t, "hall report", func() bool {
		s := d.State()
		return s.Source == mesh.SourceConfirmed && s.Brightness == 100
	})
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.connect(t)

	viewer := mustToken(t, auth.RoleViewer)
	operator := mustToken(t, auth.RoleOperator)
	admin := mustToken(t, auth.RoleAdmin)
	state := "/api/v1/devices/" + kitchenKey + "/state"
	connect := "/api/v1/meshes/" + testMesh + "/connect"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
		{"no token", http.MethodGet, "/api/v1/devices", "", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/devices", "", "abc", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/devices", "", viewer, http.StatusOK},
		{"viewer cannot operate", http.MethodPut, state, `{"on":true}`, viewer, http.StatusForbidden},
		{"operator operates", http.MethodPut, state, `{"on":true}`, operator, http.StatusOK},
		{"operator cannot connect", http.MethodPost, connect, "", operator, http.StatusForbidden},
		{"admin connects", http.MethodPost, connect, "", admin, http.StatusOK},
		{"viewer reads metrics", http.MethodGet, "/api/v1/metrics", "", viewer, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.body, tt.token)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	other, err := auth.IssueToken("another-secret-of-sufficient-length!", "x", auth.RoleAdmin, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/devices", "", other); rr.Code != http.StatusUnauthorized {
		t.Errorf("foreign token status = %d, want 401", rr.Code)
	}
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want echoed", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://panel.local")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	s := &Server{cfg: config.APIConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"http://a"}}}}
	if !s.isAllowedOrigin("http://a") || s.isAllowedOrigin("http://b") {
		t.Error("explicit origin list not honoured")
	}
	s.cfg.CORS.AllowedOrigins = nil
	if !s.isAllowedOrigin("http://b") {
		t.Error("empty origin list should allow all")
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, "")
	env.connect(t)

	rr := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	m := decode[SystemMetrics](t, rr)
	if m.Version != "test" || len(m.Meshes) != 1 || m.Devices.Total != 2 || m.Bridge != nil {
		t.Errorf("metrics = %+v", m)
	}
}

func TestTicketStore(t *testing.T) {
	ts := newTicketStore()
	ticket := ts.issue("panel", auth.RoleViewer)

	entry, ok := ts.consume(ticket)
	if !ok || entry.subject != "panel" || entry.role != auth.RoleViewer {
		t.Fatalf("consume = %+v, %v", entry, ok)
	}
	if _, ok := ts.consume(ticket); ok {
		t.Error("ticket accepted twice")
	}

	expired := ts.issue("panel", auth.RoleViewer)
	ts.mu.Lock()
	e := ts.tickets[expired]
	e.expiresAt = time.Now().Add(-time.Second)
	ts.tickets[expired] = e
	ts.mu.Unlock()

	ts.clean()
	if _, ok := ts.consume(expired); ok {
		t.Error("expired ticket accepted")
	}
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebSocket_StateStream(t *testing.T) {
	env := newTestEnv(t, "")
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn := dialWS(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws")

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{EventDeviceStateChanged}},
	}); err != nil {
		t.Fatal(err)
	}
	if resp := readWS(t, conn); resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "2"}); err != nil {
		t.Fatal(err)
	}
	if resp := readWS(t, conn); resp.Type != WSTypePong || resp.ID != "2" {
		t.Fatalf("ping response = %+v", resp)
	}

	d, _ := env.network.Device(kitchenKey)
	env.srv.Hub().PublishState(bridge.NewStateMessage(d))

	event := readWS(t, conn)
	if event.Type != WSTypeEvent || event.EventType != EventDeviceStateChanged {
		t.Fatalf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["device_id"] != kitchenKey {
		t.Errorf("payload = %v", event.Payload)
	}

	if err := conn.WriteJSON(WSMessage{Type: "shout", ID: "3"}); err != nil {
		t.Fatal(err)
	}
	if resp := readWS(t, conn); resp.Type != WSTypeError {
		t.Errorf("unknown type response = %+v", resp)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	env := newTestEnv(t, testSecret)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	if rr := env.do(t, http.MethodGet, "/api/v1/ws", "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no ticket status = %d, want 401", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/ws?ticket=bogus", "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("bogus ticket status = %d, want 401", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", mustToken(t, auth.RoleViewer))
	if rr.Code != http.StatusOK {
		t.Fatalf("ticket status = %d", rr.Code)
	}
	ticket := decode[map[string]any](t, rr)["ticket"].(string)

	dialWS(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws?ticket="+ticket)
	waitFor(t, "registered client", func() bool { return env.srv.Hub().ClientCount() == 1 })
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t, "")

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
