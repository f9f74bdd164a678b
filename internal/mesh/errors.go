package mesh

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the mesh package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, mesh.ErrMeshUnreachable) {
//	    // every candidate device refused a session
//	}
var (
	// ErrMeshUnreachable is returned by Connect when no device in the mesh
	// accepted a session. The mesh stays disconnected; Connect may be retried.
	ErrMeshUnreachable = errors.New("mesh: unreachable")

	// ErrNotConnected is returned when a packet is sent before a session exists.
	ErrNotConnected = errors.New("mesh: not connected")

	// ErrUnknownDevice is returned when a device lookup fails.
	ErrUnknownDevice = errors.New("mesh: unknown device")

	// ErrInvalidLevel is returned when a brightness, temperature or colour
	// channel value is outside 0-255.
	ErrInvalidLevel = errors.New("mesh: invalid level")
)

// AttemptError records why a single candidate device refused a session.
type AttemptError struct {
	MAC string
	Err error
}

// UnreachableError is returned by Mesh.Connect after every candidate failed.
// It wraps ErrMeshUnreachable.
type UnreachableError struct {
	Address  string
	Attempts []AttemptError
}

func (e *UnreachableError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%v: %s has no devices to connect through", ErrMeshUnreachable, e.Address)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.MAC, a.Err))
	}
	return fmt.Sprintf("%v: %s (%s)", ErrMeshUnreachable, e.Address, strings.Join(parts, "; "))
}

func (e *UnreachableError) Unwrap() error {
	return ErrMeshUnreachable
}
