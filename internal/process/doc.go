// Package process supervises a helper daemon that Laurel depends on,
// typically the radio gateway daemon behind the gateway transport.
//
// The supervised process runs in its own process group. Its output is logged
// line by line, it is restarted with exponential backoff when it exits, and
// an optional probe acts as a watchdog that kills a daemon which is still
// running but no longer answering.
//
//	mgr := process.NewManager(process.Config{
//	    Name:   "meshd",
//	    Binary: "/usr/bin/meshd",
//	    Args:   []string{"--listen", "/run/meshd"},
//	    Probe:  transport.Probe,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
