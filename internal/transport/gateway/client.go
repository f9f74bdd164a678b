package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/laurel-core/internal/mesh"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

const (
	// defaultConnectTimeout bounds one session attempt, handshake included.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is how often the receive loop wakes to check for
	// shutdown. A timeout is not an error.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout bounds a single write.
	defaultWriteTimeout = 5 * time.Second

	// readBufferSize is the largest message accepted from the gateway.
	readBufferSize = 512

	// defaultQueueSize is the buffer of the frame delivery queue.
	defaultQueueSize = 100
)

// Config holds gateway connection configuration.
type Config struct {
	// Connection is the gateway URL.
	// Supported formats:
	//   - "unix:///run/meshd" (Unix socket)
	//   - "tcp://localhost:7420" (TCP)
	Connection string

	// ConnectTimeout bounds each session attempt.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the read deadline of the receive loop.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// QueueSize is the number of inbound frames buffered for delivery.
	// Default: 100.
	QueueSize int
}

// Stats holds operational statistics across all sessions.
type Stats struct {
	PacketsTx        uint64
	FramesRx         uint64
	FramesDropped    uint64 // dropped because the delivery queue was full
	ErrorsTotal      uint64
	SessionsOpened   uint64
	SessionsRejected uint64
	ActiveSessions   int64
	LastActivity     time.Time
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Ensure the gateway types implement the mesh contracts.
var (
	_ mesh.Transport = (*Transport)(nil)
	_ mesh.Session   = (*Session)(nil)
)

// Transport opens mesh sessions through a local radio gateway daemon.
// Each session uses its own stream connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Transport struct {
	cfg     Config
	network string
	address string

	logger   Logger
	loggerMu sync.RWMutex

	packetsTx        atomic.Uint64
	framesRx         atomic.Uint64
	framesDropped    atomic.Uint64
	errorsTotal      atomic.Uint64
	sessionsOpened   atomic.Uint64
	sessionsRejected atomic.Uint64
	activeSessions   atomic.Int64
	lastActivity     atomic.Int64
}

// New validates the configuration and returns a Transport. No connection is
// made until Connect.
func New(cfg Config) (*Transport, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Transport{cfg: cfg, network: network, address: address}, nil
}

// parseConnectionURL parses a gateway URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:7420"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// Connect opens a session to the device named in params.
//
// The attempt, handshake included, is bounded by ConnectTimeout. On success
// a receive loop and a single delivery goroutine are started; frames are
// handed to handler.HandleFrame in arrival order and a read failure is
// reported once through handler.HandleSessionLost.
//
// Parameters:
//   - ctx: Context for cancellation of this attempt
//   - params: Mesh and device to open the session to
//   - handler: Receiver of inbound frames and session loss
//
// Returns:
//   - mesh.Session: Live session
//   - error: ErrConnectionFailed or ErrSessionRejected (wrapped)
func (t *Transport) Connect(ctx context.Context, params mesh.ConnectParams, handler mesh.SessionHandler) (mesh.Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	payload, err := encodeOpenSession(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, t.network, t.address)
	if err != nil {
		t.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	s := &Session{
		transport: t,
		conn:      conn,
		handler:   handler,
		mac:       params.DeviceMAC,
		queue:     make(chan []byte, t.cfg.QueueSize),
		done:      newCloseOnce(),
	}

	if err := s.openSession(connectCtx, payload); err != nil {
		conn.Close()
		if errors.Is(err, ErrSessionRejected) {
			t.sessionsRejected.Add(1)
			return nil, err
		}
		t.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	t.sessionsOpened.Add(1)
	t.activeSessions.Add(1)
	t.touch()

	s.wg.Add(2)
	go s.deliveryLoop()
	go s.receiveLoop()

	t.logInfo("gateway session opened", "mesh", params.MeshAddress, "mac", params.DeviceMAC)
	return s, nil
}

// Probe checks that the gateway daemon accepts connections. It dials and
// closes without opening a session.
func (t *Transport) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(probeCtx, t.network, t.address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return conn.Close()
}

// Stats returns current operational statistics.
func (t *Transport) Stats() Stats {
	var last time.Time
	if ts := t.lastActivity.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}
	return Stats{
		PacketsTx:        t.packetsTx.Load(),
		FramesRx:         t.framesRx.Load(),
		FramesDropped:    t.framesDropped.Load(),
		ErrorsTotal:      t.errorsTotal.Load(),
		SessionsOpened:   t.sessionsOpened.Load(),
		SessionsRejected: t.sessionsRejected.Load(),
		ActiveSessions:   t.activeSessions.Load(),
		LastActivity:     last,
	}
}

// SetLogger sets the logger for this transport and its sessions.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Transport) touch() {
	t.lastActivity.Store(time.Now().Unix())
}

func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

func (t *Transport) logInfo(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (t *Transport) logDebug(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (t *Transport) logError(msg string, err error, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// Session is one open link through the gateway.
type Session struct {
	transport *Transport
	conn      net.Conn
	handler   mesh.SessionHandler
	mac       string

	writeMu sync.Mutex

	// queue feeds the single delivery goroutine.
	queue chan []byte

	done     *closeOnce
	lostOnce sync.Once
	wg       sync.WaitGroup
}

// openSession performs the OpenSession handshake within the context deadline.
func (s *Session) openSession(ctx context.Context, payload []byte) error {
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if _, err := s.conn.Write(EncodeMessage(MsgOpenSession, payload)); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, readBufferSize)
	msgType, reply, err := readMessage(s.conn, buf)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Clear the handshake deadline; the receive loop sets its own.
	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear deadline: %w", err)
	}

	switch msgType {
	case MsgSessionOpened:
		return nil
	case MsgSessionRejected:
		reason := string(reply)
		if reason == "" {
			reason = "no reason given"
		}
		return fmt.Errorf("%w: %s", ErrSessionRejected, reason)
	default:
		return fmt.Errorf("unexpected response type: 0x%04X", msgType)
	}
}

// readMessage reads one framed message into buf. An oversized message
// returns ErrProtocolDesync because the stream cannot be resynchronised.
func readMessage(r io.Reader, buf []byte) (uint16, []byte, error) {
	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	size := binary.BigEndian.Uint16(buf[:2])
	if size < 2 {
		return 0, nil, fmt.Errorf("%w: invalid message size %d", ErrProtocolDesync, size)
	}

	total := 2 + int(size)
	if total > len(buf) {
		return 0, nil, fmt.Errorf("%w: size %d exceeds buffer %d", ErrProtocolDesync, total, len(buf))
	}

	if _, err := io.ReadFull(r, buf[2:total]); err != nil {
		return 0, nil, fmt.Errorf("read message: %w", err)
	}

	return ParseMessage(buf[:total])
}

// receiveLoop reads messages until the session is closed or the link fails.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	t := s.transport
	buf := make([]byte, readBufferSize)

	for {
		if s.isClosed() {
			return
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout)); err != nil {
			s.lost(fmt.Errorf("set read deadline: %w", err))
			return
		}

		msgType, payload, err := readMessage(s.conn, buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.isClosed() {
				return
			}
			t.errorsTotal.Add(1)
			s.lost(err)
			return
		}

		switch msgType {
		case MsgNotify:
			s.enqueue(payload)
		case MsgClose:
			s.lost(fmt.Errorf("%w: closed by gateway", ErrSessionClosed))
			return
		default:
			t.logDebug("ignoring gateway message", "type", fmt.Sprintf("0x%04X", msgType))
		}
	}
}

// enqueue copies a frame onto the delivery queue, dropping it when full.
func (s *Session) enqueue(payload []byte) {
	t := s.transport
	t.framesRx.Add(1)
	t.touch()

	frame := make([]byte, len(payload))
	copy(frame, payload)

	select {
	case s.queue <- frame:
	default:
		t.framesDropped.Add(1)
		t.logError("delivery queue full, dropping frame", nil, "mac", s.mac)
	}
}

// deliveryLoop hands frames to the handler one at a time.
func (s *Session) deliveryLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		case frame := <-s.queue:
			s.deliver(frame)
		}
	}
}

func (s *Session) deliver(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.transport.logError("frame handler panic", fmt.Errorf("%v", r), "mac", s.mac)
		}
	}()
	s.handler.HandleFrame(frame)
}

// lost tears the session down after a link failure and reports it once.
func (s *Session) lost(err error) {
	s.lostOnce.Do(func() {
		s.transport.logError("gateway session lost", err, "mac", s.mac)
		s.shutdown()
		s.handler.HandleSessionLost(err)
	})
}

// shutdown stops both goroutines and releases the connection. It does not
// wait for them.
func (s *Session) shutdown() {
	select {
	case <-s.done.Done():
		return
	default:
	}
	s.done.Close()
	s.conn.Close()
	s.transport.activeSessions.Add(-1)
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// SendPacket writes one packet to the mesh.
//
// Parameters:
//   - ctx: Context for cancellation; its deadline bounds the write
//   - target: Device mesh address, or mesh.BroadcastID
//   - opcode: Command opcode
//   - params: Command parameters
//
// Returns:
//   - error: ErrSessionClosed after Close or loss, ErrSendFailed on write failure
func (s *Session) SendPacket(ctx context.Context, target uint16, opcode byte, params []byte) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	msg := EncodeMessage(MsgSendPacket, encodeSendPacket(target, opcode, params))
	if err := s.write(ctx, msg); err != nil {
		s.transport.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.transport.packetsTx.Add(1)
	s.transport.touch()
	return nil
}

func (s *Session) write(ctx context.Context, msg []byte) error {
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close ends the session. The gateway is told to drop the radio link on a
// best-effort basis. Safe to call multiple times; HandleSessionLost is not
// called for a deliberate Close.
func (s *Session) Close() error {
	s.lostOnce.Do(func() {
		if !s.isClosed() {
			_ = s.write(context.Background(), EncodeMessage(MsgClose, nil))
		}
		s.shutdown()
	})
	s.wg.Wait()
	return nil
}
