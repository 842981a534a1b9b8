package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/routing"
)

// StatusResponse is the JSON body of the status endpoint.
type StatusResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	PID           int             `json:"pid"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Listen        string          `json:"listen"`
	LANURL        string          `json:"lan_url,omitempty"`
	Services      []ServiceStatus `json:"services"`
}

// ServiceStatus is one service's routing state in the status response.
type ServiceStatus struct {
	Service          string   `json:"service"`
	Providers        []string `json:"providers"`
	PinnedIndex      int      `json:"pinned_index"`
	PinnedProvider   string   `json:"pinned_provider,omitempty"`
	RemainingSeconds int64    `json:"sticky_remaining_seconds,omitempty"`
}

// Status serves routing state to local tooling. It answers loopback
// callers only: the response names providers, which LAN clients sharing
// the relay have no business seeing.
type Status struct {
	reg       *registry.Registry
	router    *routing.Router
	version   string
	listen    string
	lanURL    string
	startedAt time.Time
}

// NewStatus builds the status handler. lanURL may be empty when no LAN
// address was discovered.
func NewStatus(reg *registry.Registry, router *routing.Router, version, listen, lanURL string) *Status {
	return &Status{
		reg:       reg,
		router:    router,
		version:   version,
		listen:    listen,
		lanURL:    lanURL,
		startedAt: time.Now(),
	}
}

func (s *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "status is only served on loopback", http.StatusForbidden)
		return
	}

	resp := StatusResponse{
		Status:        "running",
		Version:       s.version,
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Listen:        s.listen,
		LANURL:        s.lanURL,
	}

	for _, snap := range s.router.Snapshots() {
		svc := ServiceStatus{
			Service:     string(snap.Service),
			PinnedIndex: snap.Pinned,
		}
		for _, p := range s.reg.Providers(snap.Service) {
			svc.Providers = append(svc.Providers, p.Label())
		}
		if snap.Pinned >= 0 {
			svc.PinnedProvider = snap.PinnedLabel
			svc.RemainingSeconds = int64(snap.Remaining.Seconds())
		}
		resp.Services = append(resp.Services, svc)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// isLoopback reports whether a RemoteAddr belongs to the local host.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
