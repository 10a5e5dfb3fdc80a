// Package discovery centralizes node address conventions.
package discovery

import (
	"net"
	"os"
	"strconv"
	"strings"
)

// ServiceIM is the IM relay service identity.
const ServiceIM = "im"

const (
	// PortPublic is the default client-facing HTTP port.
	PortPublic = 8086
	// PortInternal is the default cross-node route and admin port.
	PortInternal = 8096
	// PortGRPC is the default node health gRPC port.
	PortGRPC = 8097
)

var hostname = os.Hostname

// ListenAddr returns ":<port>".
func ListenAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// AdvertiseAddr returns the host:port peers should use to reach a listener.
// An explicit value wins. Otherwise the listen address is used, filling an
// empty or unspecified host with the machine hostname.
func AdvertiseAddr(value, listenAddr string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	host, port, err := net.SplitHostPort(strings.TrimSpace(listenAddr))
	if err != nil || port == "" {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		name, err := hostname()
		if err != nil || name == "" {
			name = "localhost"
		}
		host = name
	}
	return net.JoinHostPort(host, port)
}
