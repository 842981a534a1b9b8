package netutil

import (
	"net"
	"testing"
)

func TestIsVirtualIface(t *testing.T) {
	tests := []struct {
		name    string
		virtual bool
	}{
		{"lo", true},
		{"docker0", true},
		{"br-8ad01f3e9a91", true},
		{"veth12ab", true},
		{"tailscale0", true},
		{"wg0", true},
		{"tun0", true},
		{"utun3", false},
		{"eth0", false},
		{"en0", false},
		{"wlan0", false},
	}
	for _, tt := range tests {
		if got := isVirtualIface(tt.name); got != tt.virtual {
			t.Errorf("isVirtualIface(%q) = %v, want %v", tt.name, got, tt.virtual)
		}
	}
}

func TestIsUsableIP(t *testing.T) {
	tests := []struct {
		ip     string
		usable bool
	}{
		{"192.168.1.10", true},
		{"10.0.0.5", true},
		{"127.0.0.1", false},
		{"0.0.0.0", false},
		{"169.254.1.1", false},
		{"fd00::1", true},
		{"fe80::1", false},
		{"::1", false},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("bad test IP %q", tt.ip)
		}
		if got := isUsableIP(ip); got != tt.usable {
			t.Errorf("isUsableIP(%s) = %v, want %v", tt.ip, got, tt.usable)
		}
	}
}

func TestAdvertiseAddr_ConcreteBind(t *testing.T) {
	if got := AdvertiseAddr("192.168.1.5", 8080); got != "192.168.1.5:8080" {
		t.Errorf("AdvertiseAddr(192.168.1.5) = %q", got)
	}
}

func TestAdvertiseAddr_LoopbackBind(t *testing.T) {
	if got := AdvertiseAddr("127.0.0.1", 8080); got != "" {
		t.Errorf("AdvertiseAddr(127.0.0.1) = %q, want empty", got)
	}
}
