package mesh

import "context"

// DefaultVendor is the vendor code announced when opening a session.
const DefaultVendor uint16 = 0x0211

// ConnectParams addresses one session attempt.
type ConnectParams struct {
	// MeshAddress is the mesh network identifier.
	MeshAddress string

	// DeviceMAC is the member device the radio link is opened to.
	DeviceMAC string

	// Password is the mesh shared secret. Never log it.
	Password string

	// MeshMode selects mesh relaying on the link.
	MeshMode bool

	// Vendor is the vendor code of the mesh.
	Vendor uint16
}

// SessionHandler receives inbound traffic for a session.
//
// Transports call HandleFrame from a single delivery goroutine, and call
// HandleSessionLost at most once when the link fails.
type SessionHandler interface {
	HandleFrame(frame []byte)
	HandleSessionLost(err error)
}

// Session is a live link to one mesh member. Writes must be serialized by the
// implementation.
type Session interface {
	SendPacket(ctx context.Context, target uint16, opcode byte, params []byte) error
	Close() error
}

// Transport opens radio sessions. Implementations enforce their own
// per-attempt timeout.
type Transport interface {
	Connect(ctx context.Context, params ConnectParams, handler SessionHandler) (Session, error)
}

// Logger is the optional logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
