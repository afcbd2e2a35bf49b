package sandbox

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// NetworkMode selects what a sandboxed worker can reach.
type NetworkMode string

const (
	// NetworkIsolated puts the worker in a fresh network namespace with
	// only loopback. Nothing outside the sandbox is reachable.
	NetworkIsolated NetworkMode = "isolated"
	// NetworkRestricted puts the worker in a fresh network namespace and
	// gates outbound dials against an allow-list. The allow-list check
	// lives in the worker's dialer, on top of the namespace boundary.
	NetworkRestricted NetworkMode = "restricted"
	// NetworkUnrestricted keeps the host network ungated.
	NetworkUnrestricted NetworkMode = "unrestricted"
)

// ParseNetworkMode validates a mode string from configuration.
func ParseNetworkMode(s string) (NetworkMode, error) {
	switch NetworkMode(s) {
	case NetworkIsolated, NetworkRestricted, NetworkUnrestricted:
		return NetworkMode(s), nil
	default:
		return "", fmt.Errorf("sandbox: unknown network mode %q", s)
	}
}

// Policy is the runtime form of a network mode, handed to plugins through
// the host context so their outbound dials respect the sandbox.
type Policy struct {
	Mode         NetworkMode
	AllowedHosts []string

	dialer net.Dialer
}

// NewPolicy builds a dialing policy for the given mode.
func NewPolicy(mode NetworkMode, allowed []string) *Policy {
	return &Policy{Mode: mode, AllowedHosts: allowed}
}

// DialContext dials when the policy permits the address.
func (p *Policy) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch p.Mode {
	case NetworkIsolated:
		if !isLoopbackAddress(address) {
			return nil, fmt.Errorf("sandbox: network isolated, refusing dial to %s", address)
		}
	case NetworkRestricted:
		if !HostAllowed(p.AllowedHosts, address) {
			return nil, fmt.Errorf("sandbox: %s is not on the allowed host list", address)
		}
	}
	return p.dialer.DialContext(ctx, network, address)
}

// HostAllowed reports whether address matches the allow-list. Entries match
// an exact host, an exact host:port, or subdomains via a leading "*.".
func HostAllowed(allowed []string, address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, ""
	}
	for _, entry := range allowed {
		entryHost, entryPort, err := net.SplitHostPort(entry)
		if err != nil {
			entryHost, entryPort = entry, ""
		}
		if entryPort != "" && entryPort != port {
			continue
		}
		if matchHost(entryHost, host) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:]) && len(host) > len(pattern[1:])
	}
	return strings.EqualFold(pattern, host)
}

func isLoopbackAddress(address string) bool {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
