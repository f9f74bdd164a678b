// Package bridge connects a mesh network to MQTT.
//
// It subscribes to command and request topics, drives devices through the
// mesh package, and publishes every confirmed state change as a retained
// message. It also supervises mesh connections: the mesh core never
// reconnects on its own, so the bridge retries disconnected meshes and polls
// connected ones on configurable intervals.
//
// # Topics
//
//	laurel/command/mesh/{device}       in   CommandMessage
//	laurel/ack/mesh/{device}           out  AckMessage
//	laurel/state/mesh/{device}         out  StateMessage (retained)
//	laurel/request/mesh/{request_id}   in   RequestMessage
//	laurel/response/mesh/{request_id}  out  ResponseMessage
//	laurel/health/mesh                 out  HealthMessage (retained)
//	laurel/discovery/mesh              out  DiscoveryMessage (retained)
//
// {device} is the device key (lower-case MAC without separators) or its name.
//
// # State
//
// State messages reflect confirmed reports only. Setters update the device
// cache optimistically, but nothing is published until the mesh reports the
// new state. Repeated identical reports are published once.
package bridge
