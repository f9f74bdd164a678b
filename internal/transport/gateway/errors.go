package gateway

import "errors"

// Domain errors for the gateway transport.
var (
	// ErrConnectionFailed is returned when the gateway cannot be reached or
	// the session handshake fails.
	ErrConnectionFailed = errors.New("gateway: connection failed")

	// ErrSessionRejected is returned when the gateway answers the handshake
	// with a rejection, for example because the device is out of range or the
	// mesh password is wrong.
	ErrSessionRejected = errors.New("gateway: session rejected")

	// ErrSessionClosed is returned when writing to a closed session.
	ErrSessionClosed = errors.New("gateway: session closed")

	// ErrProtocolDesync is returned when the stream can no longer be framed.
	ErrProtocolDesync = errors.New("gateway: protocol desync")

	// ErrInvalidMessage is returned for malformed or unencodable messages.
	ErrInvalidMessage = errors.New("gateway: invalid message")

	// ErrSendFailed is returned when a packet cannot be written.
	ErrSendFailed = errors.New("gateway: send failed")
)
