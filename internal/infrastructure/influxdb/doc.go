// Package influxdb records light state history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes, and health monitoring.
//
// # Measurements
//
//   - light_state: one point per observed state change, tagged by mesh,
//     device, name and mode
//   - mesh_connection: connect and disconnect events per mesh
//   - mesh_stats: periodic session counters per mesh
//
// Every point carries a service=laurel tag.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLightState(influxdb.LightSample{
//	    MeshAddress: "4a2c1f",
//	    DeviceKey:   "a4c138000001",
//	    On:          true,
//	    Brightness:  80,
//	    Mode:        "temperature",
//	    Temperature: 50,
//	})
//
// # Error Handling
//
// Writes are non-blocking. Batch errors are delivered to the callback set
// with SetOnError. Connection and health check errors are returned directly.
package influxdb
