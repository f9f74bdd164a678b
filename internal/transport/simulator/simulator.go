package simulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/laurel-core/internal/mesh"
)

// ErrOutOfRange is returned by Connect for a device marked unreachable.
var ErrOutOfRange = errors.New("simulator: device out of range")

// ErrClosed is returned when writing to a closed session.
var ErrClosed = errors.New("simulator: session closed")

// maxReportedBrightness is the highest brightness a status record can carry.
const maxReportedBrightness = 0x7f

// Light is the simulated state of one device.
type Light struct {
	ID          uint8
	On          bool
	Brightness  uint8
	Mode        mesh.ColorMode
	Temperature uint8
	Red         uint8
	Green       uint8
	Blue        uint8
}

// Config configures a Simulator.
type Config struct {
	// Lights seeds the simulated devices. Packets addressed to other IDs are
	// accepted and ignored.
	Lights []Light

	// Unreachable lists device MACs that refuse sessions.
	Unreachable []string

	// Latency delays every inbound frame.
	Latency time.Duration
}

// Simulator implements mesh.Transport without a radio.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Simulator struct {
	cfg Config

	mu          sync.Mutex
	lights      map[uint8]*Light
	unreachable map[string]bool
	sessions    map[*session]struct{}
	opened      []mesh.ConnectParams
}

var _ mesh.Transport = (*Simulator)(nil)

// New creates a simulator.
func New(cfg Config) *Simulator {
	s := &Simulator{
		cfg:         cfg,
		lights:      make(map[uint8]*Light, len(cfg.Lights)),
		unreachable: make(map[string]bool, len(cfg.Unreachable)),
		sessions:    make(map[*session]struct{}),
	}
	for i := range cfg.Lights {
		l := cfg.Lights[i]
		s.lights[l.ID] = &l
	}
	for _, mac := range cfg.Unreachable {
		s.unreachable[strings.ToUpper(mac)] = true
	}
	return s
}

// SetReachable marks a device as in or out of range. Existing sessions are
// not affected; use DropSessions to simulate a link loss.
func (s *Simulator) SetReachable(mac string, reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reachable {
		delete(s.unreachable, strings.ToUpper(mac))
	} else {
		s.unreachable[strings.ToUpper(mac)] = true
	}
}

// Light returns a copy of the simulated state of a device.
func (s *Simulator) Light(id uint8) (Light, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lights[id]
	if !ok {
		return Light{}, false
	}
	return *l, true
}

// Opened returns the parameters of every successful Connect, in order.
func (s *Simulator) Opened() []mesh.ConnectParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mesh.ConnectParams(nil), s.opened...)
}

// Connect opens a simulated session.
func (s *Simulator) Connect(ctx context.Context, params mesh.ConnectParams, handler mesh.SessionHandler) (mesh.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unreachable[strings.ToUpper(params.DeviceMAC)] {
		return nil, fmt.Errorf("%w: %s", ErrOutOfRange, params.DeviceMAC)
	}

	sess := &session{
		sim:     s,
		handler: handler,
		frames:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	s.sessions[sess] = struct{}{}
	s.opened = append(s.opened, params)

	sess.wg.Add(1)
	go sess.deliver()
	return sess, nil
}

// DropSessions ends every open session as if the radio link failed.
func (s *Simulator) DropSessions() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.drop(errors.New("simulator: link dropped"))
	}
}

// apply runs one packet against the simulated lights and returns the
// status frames the mesh would emit in reply.
func (s *Simulator) apply(target uint16, opcode byte, params []byte) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []*Light
	if target == mesh.BroadcastID {
		for _, l := range s.lights {
			targets = append(targets, l)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	} else if target <= 0xff {
		if l, ok := s.lights[uint8(target)]; ok {
			targets = append(targets, l)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	for _, l := range targets {
		applyCommand(l, opcode, params)
	}
	return statusFrames(targets)
}

func applyCommand(l *Light, opcode byte, params []byte) {
	switch opcode {
	case mesh.OpPower:
		if len(params) >= 1 {
			l.On = params[0] != 0
		}
	case mesh.OpBrightness:
		if len(params) >= 1 {
			l.Brightness = params[0]
			l.On = params[0] > 0
		}
	case mesh.OpColor:
		switch {
		case len(params) >= 4 && params[0] == 0x04:
			l.Mode = mesh.ModeRGB
			l.Red, l.Green, l.Blue = params[1], params[2], params[3]
		case len(params) >= 2 && params[0] == 0x05:
			l.Mode = mesh.ModeTemperature
			l.Temperature = params[1]
		}
	}
}

// statusFrames packs lights two per frame.
func statusFrames(lights []*Light) [][]byte {
	var frames [][]byte
	for i := 0; i < len(lights); i += 2 {
		records := []mesh.StatusRecord{record(lights[i])}
		if i+1 < len(lights) {
			records = append(records, record(lights[i+1]))
		}
		frames = append(frames, mesh.EncodeStatusFrame(records...))
	}
	return frames
}

func record(l *Light) mesh.StatusRecord {
	brightness := l.Brightness
	if brightness > maxReportedBrightness {
		brightness = maxReportedBrightness
	}
	if !l.On {
		brightness = 0
	}
	return mesh.StatusRecord{
		DeviceID:    l.ID,
		Brightness:  brightness,
		Mode:        l.Mode,
		Temperature: l.Temperature,
		Red:         l.Red,
		Green:       l.Green,
		Blue:        l.Blue,
	}
}

type session struct {
	sim     *Simulator
	handler mesh.SessionHandler
	frames  chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ mesh.Session = (*session)(nil)

func (s *session) SendPacket(ctx context.Context, target uint16, opcode byte, params []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, f := range s.sim.apply(target, opcode, params) {
		select {
		case s.frames <- f:
		default:
			// Radio congestion: the frame is lost.
		}
	}
	return nil
}

// deliver is the single delivery goroutine of the session.
func (s *session) deliver() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			if d := s.sim.cfg.Latency; d > 0 {
				select {
				case <-time.After(d):
				case <-s.done:
					return
				}
			}
			s.handler.HandleFrame(f)
		}
	}
}

// stop marks the session closed. It reports whether this call closed it.
func (s *session) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)

	s.sim.mu.Lock()
	delete(s.sim.sessions, s)
	s.sim.mu.Unlock()
	return true
}

func (s *session) drop(err error) {
	if s.stop() {
		s.wg.Wait()
		s.handler.HandleSessionLost(err)
	}
}

func (s *session) Close() error {
	s.stop()
	s.wg.Wait()
	return nil
}
