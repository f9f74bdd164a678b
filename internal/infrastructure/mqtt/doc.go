// Package mqtt provides MQTT client connectivity for Laurel.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The mesh bridge publishes light state and accepts commands over MQTT so
// home automation systems can drive the lights without speaking the mesh
// protocol.
//
//	Home automation ↔ MQTT Broker ↔ Laurel bridge ↔ Gateway ↔ Mesh
//
// Topics follow laurel/{category}/mesh/{device or request id}; see Topics.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Commands(), 1, b.HandleMessage)
//
// Incoming topics are split with ParseTopic.
package mqtt
