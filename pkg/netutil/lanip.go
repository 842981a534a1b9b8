// Package netutil discovers the address other machines on the LAN can use
// to reach the relay.
package netutil

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// AdvertiseAddr picks the host:port other machines should dial for a given
// bind address. A concrete non-loopback bind address is advertised as-is;
// a wildcard bind is resolved to the machine's LAN IP. Returns "" when no
// usable address exists, in which case the relay is loopback-only.
func AdvertiseAddr(bindAddr string, port int) string {
	ip := net.ParseIP(bindAddr)
	if ip != nil && !ip.IsLoopback() && !ip.IsUnspecified() {
		return joinHostPort(ip, port)
	}
	if ip != nil && ip.IsLoopback() {
		return ""
	}

	lan := PickLocalIP()
	if lan == nil {
		slog.Warn("could not detect a LAN address; relay reachable on this machine only")
		return ""
	}
	addr := joinHostPort(lan, port)
	slog.Info("detected LAN address", "addr", addr)
	return addr
}

// PickLocalIP returns the machine's best LAN-facing IP: the first usable
// IPv4 on a physical interface, falling back to a usable IPv6. Virtual
// interfaces (containers, VPNs, tunnels) are skipped so the advertised
// address is one other machines can actually reach.
func PickLocalIP() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var v6Candidate net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || isVirtualIface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || !isUsableIP(ipNet.IP) {
				continue
			}
			if ipNet.IP.To4() != nil {
				return ipNet.IP
			}
			if v6Candidate == nil {
				v6Candidate = ipNet.IP
			}
		}
	}
	return v6Candidate
}

// virtualIfacePrefixes match container, VM, and VPN interfaces whose
// addresses are not reachable from the rest of the LAN.
var virtualIfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "vmnet",
	"tailscale", "wg", "tun", "tap", "zt",
}

func isVirtualIface(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "lo", "localhost", "loopback":
		return true
	}
	for _, prefix := range virtualIfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isUsableIP rejects loopback, unspecified, and link-local addresses.
// IPv6 unique local addresses pass, like private IPv4 ranges do.
func isUsableIP(ip net.IP) bool {
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return false
	}
	return true
}

func joinHostPort(ip net.IP, port int) string {
	return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port))
}
