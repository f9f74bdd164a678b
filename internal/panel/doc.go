// Package panel serves the browser control panel: a single page that lists
// the lights, switches and dims them through the REST API, and follows
// confirmed state over the WebSocket stream.
//
// The assets are embedded with go:embed, so the binary has no runtime file
// dependency. The API server mounts the handler at /panel/ when
// api.panel.enabled is set.
package panel
