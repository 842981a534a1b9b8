package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ccrelay/ccrelay/pkg/config"
	"github.com/ccrelay/ccrelay/pkg/proxy"
	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/routing"
	"github.com/ccrelay/ccrelay/pkg/telemetry/metrics"
	"github.com/ccrelay/ccrelay/pkg/upstream"
)

func newTestServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Telemetry.Metrics.Enabled = true

	reg, err := registry.New(map[registry.Service][]registry.Provider{
		registry.ServiceClaude: {{Name: "primary", APIURL: upstreamURL, APIKey: "k"}},
		registry.ServiceCodex:  {{Name: "primary", APIURL: upstreamURL, APIKey: "k"}},
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	router := routing.NewRouter(reg)
	exec := proxy.NewExecutor(reg, router, upstream.NewClient())
	return NewServer(cfg, reg, router, exec, metrics.NewRelayMetrics(), "test", "")
}

func TestHandler_Routes(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer up.Close()

	srv := httptest.NewServer(newTestServer(t, up.URL).Handler())
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"claude messages", http.MethodPost, "/v1/messages", http.StatusOK},
		{"codex responses", http.MethodPost, "/responses", http.StatusOK},
		{"codex v1 responses", http.MethodPost, "/v1/responses", http.StatusOK},
		{"health", http.MethodGet, "/healthz", http.StatusOK},
		{"status from loopback", http.MethodGet, "/status", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"unknown path", http.MethodPost, "/v1/chat/completions", http.StatusNotFound},
		{"claude messages GET", http.MethodGet, "/v1/messages", http.StatusMethodNotAllowed},
		{"codex responses DELETE", http.MethodDelete, "/responses", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(`{}`))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request error: %v", err)
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandler_NonPostNeverReachesUpstream(t *testing.T) {
	var hits int
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	srv := httptest.NewServer(newTestServer(t, up.URL).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/messages")
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET forward route = %d, want 405", resp.StatusCode)
	}
	if hits != 0 {
		t.Errorf("upstream received %d requests, want 0", hits)
	}
}

func TestHandler_RequestIDAdded(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	srv := httptest.NewServer(newTestServer(t, up.URL).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID header")
	}
}

func TestHandler_ServiceWithoutProvidersNotRouted(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	reg, err := registry.New(map[registry.Service][]registry.Provider{
		registry.ServiceClaude: {{Name: "primary", APIURL: up.URL, APIKey: "k"}},
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	router := routing.NewRouter(reg)
	exec := proxy.NewExecutor(reg, router, upstream.NewClient())
	s := NewServer(cfg, reg, router, exec, nil, "test", "")

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/responses", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unconfigured codex route = %d, want 404", resp.StatusCode)
	}
}
