// Package console provides the interactive command-line interface for
// controlling a mesh network by hand.
//
// Lines are read with editing and history, then dispatched against the
// devices of a mesh.Network. Type help at the prompt for the command list.
// A device is named by key, MAC or name.
//
// Console implements bridge.StateSink, so state changes are printed as they
// arrive.
package console
