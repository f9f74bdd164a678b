package bridge

import "errors"

// Bridge errors.
var (
	// ErrNetworkRequired is returned by New without a mesh network.
	ErrNetworkRequired = errors.New("bridge: network is required")

	// ErrInvalidTopic is returned for a topic outside the bridge's scheme.
	ErrInvalidTopic = errors.New("bridge: invalid topic")

	// ErrInvalidPayload is returned for a payload that is not valid JSON.
	ErrInvalidPayload = errors.New("bridge: invalid payload")
)
