// Package gateway implements the mesh transport over a local radio gateway
// daemon.
//
// The daemon owns the radio and the link-layer encryption. This package
// speaks its stream protocol over a Unix or TCP socket: one socket per
// session, opened with an OpenSession handshake and then carrying outbound
// SendPacket messages and inbound Notify frames.
//
// Inbound frames are handed to the session handler from a single delivery
// goroutine in arrival order. A read failure ends the session and is reported
// once; the transport never reconnects on its own.
package gateway
