// Package mesh implements the session layer for mesh-connected lights.
//
// A Mesh owns one radio session to any one of its member devices; that member
// relays traffic to and from every other device on the mesh. Connect tries the
// members in directory order until one accepts a session.
//
// Outbound commands are encoded by the Command constructors and written
// fire-and-forget. Inbound status frames carry two device records each and are
// demultiplexed by device ID into each Device's cached state.
//
// # Optimistic state
//
// Device setters update the cache right after the packet is written. The value
// reported by the device arrives later in a status frame and overwrites it.
// Snapshot.Source tells the two apart.
//
// # Usage
//
//	net, err := mesh.NewNetwork(specs, transport, mesh.NetworkOptions{Logger: log})
//	if err != nil {
//	    return err
//	}
//	for _, m := range net.Meshes() {
//	    if err := m.Connect(ctx); errors.Is(err, mesh.ErrMeshUnreachable) {
//	        log.Warn("mesh offline", "mesh", m.Address())
//	    }
//	}
//	light, _ := net.Device("kitchen")
//	_ = light.SetBrightness(ctx, 80)
package mesh
