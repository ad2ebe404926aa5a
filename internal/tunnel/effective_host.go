package tunnel

import (
	"net"
	"os"
)

// EffectiveHost resolves the address database clients should dial when a
// tunnel is active. Clients running inside a container cannot reach the
// tunnel's loopback listener, so the container gateway is substituted.
func EffectiveHost(tunnelActive bool) string {
	if !tunnelActive {
		return ""
	}
	if !insideContainer() {
		return "127.0.0.1"
	}
	// Docker Desktop and recent engines resolve host.docker.internal;
	// fall back to the default bridge gateway otherwise.
	if _, err := net.LookupHost("host.docker.internal"); err == nil {
		return "host.docker.internal"
	}
	return "172.17.0.1"
}

func insideContainer() bool {
	if os.Getenv("TUNNELDUMP_IN_CONTAINER") == "1" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
