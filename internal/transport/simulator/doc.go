// Package simulator provides an in-memory mesh transport for development
// and tests. It keeps per-device light state, answers commands and status
// requests with status frames, and can mark devices as out of radio range.
//
// Thread Safety: all Simulator methods are safe for concurrent use.
package simulator
